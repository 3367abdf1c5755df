package version

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"path/filepath"
	"strings"

	"github.com/liangyou/devkit/internal/storage"
	"github.com/liangyou/devkit/pkg/models"
)

// Switcher 负责切换 candidate 的当前版本。
// 全局切换写注册表默认值；会话切换只写该会话的覆盖文件，不影响其他会话。
type Switcher struct {
	storage storage.LocalStorage
	logger  *slog.Logger
}

// NewSwitcher 创建 Switcher。
func NewSwitcher(store storage.LocalStorage, logger *slog.Logger) *Switcher {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Switcher{storage: store, logger: logger}
}

// Switch 把 candidate 切换到 version，返回 shell 集成层需要应用的环境描述。
func (s *Switcher) Switch(ctx context.Context, candidate, version string, scope models.Scope, session models.SessionID) (*models.EnvExport, error) {
	candidate = strings.TrimSpace(candidate)
	version = strings.TrimSpace(version)
	if candidate == "" || version == "" {
		return nil, errors.New("switcher: candidate and version are required")
	}
	if s.storage == nil {
		return nil, errors.New("switcher: missing dependencies")
	}

	target, err := s.storage.Get(candidate, version)
	if err != nil {
		return nil, err
	}
	if err := checkEntrypoint(target.InstallPath, target.CandidateInfo().EntrypointPath()); err != nil {
		return nil, models.NewError(models.ErrNotInstalled, "use", candidate, version,
			fmt.Errorf("broken installation at %s: %w", target.InstallPath, err))
	}

	switch scope {
	case models.ScopeGlobal:
		if err := s.storage.SetGlobalDefault(ctx, candidate, version); err != nil {
			return nil, err
		}
	case models.ScopeSession:
		if err := s.storage.SetSessionOverride(session, candidate, version); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("switcher: unknown scope %d", scope)
	}

	s.logger.Debug("switched", "candidate", candidate, "version", version, "scope", scope.String(), "session", session)
	return ExportFor(target), nil
}

// Resolve 返回 candidate 当前版本（会话覆盖优先）的环境描述。
func (s *Switcher) Resolve(candidate string, session models.SessionID) (*models.EnvExport, error) {
	current, err := s.storage.Current(candidate, session)
	if err != nil {
		return nil, err
	}
	return ExportFor(current), nil
}

// ResolveAll 返回所有已配置 candidate 的当前环境描述，未配置的 candidate 被跳过。
func (s *Switcher) ResolveAll(session models.SessionID) ([]models.EnvExport, error) {
	names, err := s.storage.Candidates()
	if err != nil {
		return nil, err
	}
	var out []models.EnvExport
	for _, name := range names {
		exp, err := s.Resolve(name, session)
		if err != nil {
			if errors.Is(err, models.ErrNoneInstalled) {
				continue
			}
			return nil, err
		}
		out = append(out, *exp)
	}
	return out, nil
}

// ExportFor 根据安装记录计算需要导出的 *_HOME 与 PATH 目录。
func ExportFor(v models.InstalledVersion) *models.EnvExport {
	info := v.CandidateInfo()
	binDir := v.InstallPath
	if dir := path.Dir(info.EntrypointPath()); dir != "." {
		binDir = filepath.Join(v.InstallPath, filepath.FromSlash(dir))
	}
	return &models.EnvExport{
		Candidate: v.Candidate,
		Version:   v.Version,
		HomeVar:   info.HomeVariable(),
		Home:      v.InstallPath,
		BinDir:    binDir,
	}
}
