package version

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/liangyou/devkit/internal/lock"
	"github.com/liangyou/devkit/internal/storage"
	"github.com/liangyou/devkit/pkg/models"
)

// Uninstaller 删除本地已安装的版本。
type Uninstaller struct {
	storage storage.LocalStorage
	logger  *slog.Logger
}

// NewUninstaller 创建卸载器。
func NewUninstaller(store storage.LocalStorage, logger *slog.Logger) *Uninstaller {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Uninstaller{storage: store, logger: logger}
}

// Uninstall 删除指定版本并返回被删除的记录。版本是全局默认时需要 force。
// 先注销再删除目录，读者不会看到指向已删除目录的记录；本地路径安装只注销不删除。
func (u *Uninstaller) Uninstall(ctx context.Context, candidate, version string, force bool) (models.InstalledVersion, error) {
	candidate = strings.TrimSpace(candidate)
	version = strings.TrimSpace(version)
	if candidate == "" || version == "" {
		return models.InstalledVersion{}, errors.New("uninstaller: candidate and version are required")
	}
	if u.storage == nil {
		return models.InstalledVersion{}, errors.New("uninstaller: storage is required")
	}

	// 与同一版本的安装互斥，避免安装者把新目录提升到正在删除的路径上。
	layout := u.storage.Layout()
	l, err := lock.Acquire(ctx, layout.InstallLockPath(candidate, version), 0)
	if err != nil {
		return models.InstalledVersion{}, models.NewError("", "uninstall", candidate, version,
			fmt.Errorf("install lock: %w", err))
	}
	defer l.Release()

	removed, err := u.storage.Unregister(ctx, candidate, version, force)
	if err != nil {
		return models.InstalledVersion{}, err
	}

	if !removed.Owned() {
		u.logger.Info("unregistered local installation, directory kept", "path", removed.InstallPath)
		return removed, nil
	}
	if err := removeOwnedDir(layout, removed.InstallPath); err != nil {
		return removed, models.NewError("", "uninstall", candidate, version,
			fmt.Errorf("version unregistered but directory remains: %w", err)).WithPath(removed.InstallPath)
	}

	u.logger.Info("uninstalled", "candidate", candidate, "version", version)
	return removed, nil
}
