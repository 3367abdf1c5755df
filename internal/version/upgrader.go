package version

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/liangyou/devkit/internal/storage"
	"github.com/liangyou/devkit/pkg/models"
)

// Outdated 描述一个全局默认版本落后于目录最新稳定版的 candidate。
type Outdated struct {
	Candidate string `json:"candidate"`
	Current   string `json:"current"`
	Latest    string `json:"latest"`
}

// Upgrader 把全局默认版本升级到目录中的最新稳定版。
// 升级总是安装新目录，从不原地修改已注册的版本。
type Upgrader struct {
	storage   storage.LocalStorage
	catalog   CatalogSource
	installer *Installer
	switcher  *Switcher
	scope     models.UpgradeScope
	logger    *slog.Logger
}

// NewUpgrader 创建升级服务。scope 为 session 时还会移动调用会话的覆盖。
func NewUpgrader(store storage.LocalStorage, catalog CatalogSource, installer *Installer, switcher *Switcher, scope models.UpgradeScope, logger *slog.Logger) *Upgrader {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if scope == "" {
		scope = models.UpgradeGlobal
	}
	return &Upgrader{storage: store, catalog: catalog, installer: installer, switcher: switcher, scope: scope, logger: logger}
}

// Outdated 返回需要升级的 candidate；candidate 为空时检查所有已配置的 candidate。
func (u *Upgrader) Outdated(ctx context.Context, candidate string) ([]Outdated, error) {
	names := []string{candidate}
	if candidate == "" {
		var err error
		if names, err = u.storage.Candidates(); err != nil {
			return nil, err
		}
	}

	var out []Outdated
	for _, name := range names {
		def, err := u.storage.GlobalDefault(name)
		if err != nil {
			return nil, err
		}
		if def == "" {
			if candidate != "" {
				return nil, models.NewError(models.ErrNoneInstalled, "upgrade", name, "", nil)
			}
			continue
		}
		latest, err := u.catalog.LatestStable(ctx, name)
		if err != nil {
			// 只存在于本地的 candidate 在目录中没有条目，批量检查时跳过。
			if candidate == "" && (errors.Is(err, models.ErrNoSuchCandidate) || errors.Is(err, models.ErrNoVersionsAvailable)) {
				u.logger.Debug("skipping candidate without catalog versions", "candidate", name)
				continue
			}
			return nil, err
		}
		if models.CompareVersions(latest.Version, def) > 0 {
			out = append(out, Outdated{Candidate: name, Current: def, Latest: latest.Version})
		}
	}
	return out, nil
}

// Upgrade 安装最新稳定版并移动全局默认；其他会话的覆盖保持不变。
func (u *Upgrader) Upgrade(ctx context.Context, candidate string, session models.SessionID) ([]Outdated, error) {
	pending, err := u.Outdated(ctx, candidate)
	if err != nil {
		return nil, err
	}

	for _, item := range pending {
		_, err := u.installer.Install(ctx, InstallRequest{Candidate: item.Candidate, Version: item.Latest})
		if err != nil && !errors.Is(err, models.ErrAlreadyInstalled) {
			return nil, err
		}
		if _, err := u.switcher.Switch(ctx, item.Candidate, item.Latest, models.ScopeGlobal, ""); err != nil {
			return nil, err
		}
		if u.scope == models.UpgradeSession && session != "" {
			if _, err := u.switcher.Switch(ctx, item.Candidate, item.Latest, models.ScopeSession, session); err != nil {
				return nil, err
			}
		}
		u.logger.Info("upgraded", "candidate", item.Candidate, "from", item.Current, "to", item.Latest)
	}
	return pending, nil
}
