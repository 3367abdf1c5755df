package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/liangyou/devkit/internal/lock"
	"github.com/liangyou/devkit/pkg/models"
)

const defaultLockTimeout = 10 * time.Second

// LocalStorage 定义安装注册表的读写接口。
type LocalStorage interface {
	Register(ctx context.Context, v models.InstalledVersion) (models.InstalledVersion, error)
	Unregister(ctx context.Context, candidate, version string, force bool) (models.InstalledVersion, error)
	List(candidate string) ([]models.InstalledVersion, error)
	Get(candidate, version string) (models.InstalledVersion, error)
	Current(candidate string, session models.SessionID) (models.InstalledVersion, error)
	GlobalDefault(candidate string) (string, error)
	SetGlobalDefault(ctx context.Context, candidate, version string) error
	SetSessionOverride(session models.SessionID, candidate, version string) error
	SessionOverrides(session models.SessionID) (map[string]string, error)
	ClearSession(session models.SessionID, candidate string) error
	Candidates() ([]string, error)
	Layout() models.Layout
}

// indexFile 表示 registry.json 的结构。
type indexFile struct {
	Versions []models.InstalledVersion `json:"versions"`
	Defaults map[string]string         `json:"defaults"`
}

// Registry 通过文件系统持久化安装记录与全局默认版本。
// 所有修改在注册表锁内完成读-改-写，并用原子 rename 替换索引文件。
type Registry struct {
	layout      models.Layout
	lockTimeout time.Duration
	policy      models.UninstallPolicy
	logger      *slog.Logger
}

// Option 用于配置 Registry。
type Option func(*Registry)

// WithLockTimeout 设置获取注册表锁的超时时间。
func WithLockTimeout(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.lockTimeout = d
		}
	}
}

// WithUninstallPolicy 设置强制卸载全局默认版本时的策略。
func WithUninstallPolicy(p models.UninstallPolicy) Option {
	return func(r *Registry) {
		if p != "" {
			r.policy = p
		}
	}
}

// WithLogger 设置日志输出。
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewRegistry 构造一个文件系统注册表实例。
func NewRegistry(cfg models.Config, opts ...Option) *Registry {
	r := &Registry{
		layout:      models.NewLayout(cfg.RootDir),
		lockTimeout: defaultLockTimeout,
		policy:      models.UninstallClear,
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	if cfg.LockTimeout > 0 {
		r.lockTimeout = cfg.LockTimeout
	}
	if cfg.UninstallPolicy != "" {
		r.policy = cfg.UninstallPolicy
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Layout 返回注册表使用的目录布局。
func (r *Registry) Layout() models.Layout { return r.layout }

// Register 记录一个已完成提升的安装。同一 (candidate, version) 重复注册返回 ErrAlreadyInstalled。
func (r *Registry) Register(ctx context.Context, v models.InstalledVersion) (models.InstalledVersion, error) {
	v.Candidate = strings.TrimSpace(v.Candidate)
	v.Version = strings.TrimSpace(v.Version)
	if v.Candidate == "" || v.Version == "" {
		return models.InstalledVersion{}, errors.New("storage: candidate and version are required")
	}
	if v.InstallPath == "" {
		return models.InstalledVersion{}, errors.New("storage: install path is required")
	}
	if v.Source == "" {
		v.Source = models.SourceRemote
	}
	if v.Integrity == "" {
		v.Integrity = models.IntegrityUnverified
	}
	if v.InstalledAt.IsZero() {
		v.InstalledAt = time.Now().UTC()
	}

	err := r.mutate(ctx, "register", v.Candidate, v.Version, func(idx *indexFile) error {
		if _, ok := idx.find(v.Candidate, v.Version); ok {
			return models.NewError(models.ErrAlreadyInstalled, "register", v.Candidate, v.Version, nil)
		}
		idx.Versions = append(idx.Versions, v)
		return nil
	}, nil)
	if err != nil {
		return models.InstalledVersion{}, err
	}
	r.logger.Debug("registered version", "candidate", v.Candidate, "version", v.Version, "source", v.Source)
	return v, nil
}

// Unregister 删除一条安装记录并返回被删除的记录，调用方负责清理其拥有的目录。
// 目标是全局默认版本时，除非 force，否则返回 ErrIsCurrent。
func (r *Registry) Unregister(ctx context.Context, candidate, version string, force bool) (models.InstalledVersion, error) {
	var removed models.InstalledVersion
	var newDefault string
	defaultChanged := false
	relink := func(idx *indexFile) error {
		if !defaultChanged {
			return nil
		}
		return r.syncCurrentLink(idx, candidate, newDefault)
	}

	err := r.mutate(ctx, "uninstall", candidate, version, func(idx *indexFile) error {
		i, ok := idx.find(candidate, version)
		if !ok {
			return models.NewError(models.ErrNotInstalled, "uninstall", candidate, version, models.ErrNotFound)
		}
		isDefault := idx.Defaults[candidate] == version
		if isDefault && !force {
			return models.NewError(models.ErrIsCurrent, "uninstall", candidate, version,
				errors.New("version is the global default, pass force to remove"))
		}

		removed = idx.Versions[i]
		idx.Versions = append(idx.Versions[:i], idx.Versions[i+1:]...)

		if isDefault {
			defaultChanged = true
			delete(idx.Defaults, candidate)
			if r.policy == models.UninstallPromoteLatest {
				if remaining := idx.versionsOf(candidate); len(remaining) > 0 {
					newDefault = remaining[0].Version
					idx.Defaults[candidate] = newDefault
				}
			}
		}
		return nil
	}, relink)
	if err != nil {
		return models.InstalledVersion{}, err
	}

	if defaultChanged {
		r.logger.Info("global default changed by uninstall", "candidate", candidate, "removed", version, "default", newDefault)
	}
	return removed, nil
}

// List 返回已安装版本，candidate 为空时返回全部；按 candidate 升序、版本降序排列。
func (r *Registry) List(candidate string) ([]models.InstalledVersion, error) {
	idx, err := r.read()
	if err != nil {
		return nil, err
	}
	var out []models.InstalledVersion
	if candidate == "" {
		out = append(out, idx.Versions...)
	} else {
		out = idx.versionsOf(candidate)
	}
	sortInstalled(out)
	return out, nil
}

// Get 返回指定版本的安装记录。
func (r *Registry) Get(candidate, version string) (models.InstalledVersion, error) {
	idx, err := r.read()
	if err != nil {
		return models.InstalledVersion{}, err
	}
	i, ok := idx.find(candidate, version)
	if !ok {
		return models.InstalledVersion{}, models.NewError(models.ErrNotInstalled, "lookup", candidate, version, nil)
	}
	return idx.Versions[i], nil
}

// GlobalDefault 返回全局默认版本，未配置时返回空串。
func (r *Registry) GlobalDefault(candidate string) (string, error) {
	idx, err := r.read()
	if err != nil {
		return "", err
	}
	return idx.Defaults[candidate], nil
}

// Current 解析当前版本：仍然有效的会话覆盖优先，其次是全局默认。
func (r *Registry) Current(candidate string, session models.SessionID) (models.InstalledVersion, error) {
	idx, err := r.read()
	if err != nil {
		return models.InstalledVersion{}, err
	}

	if session != "" {
		overrides, err := r.SessionOverrides(session)
		if err != nil {
			return models.InstalledVersion{}, err
		}
		if v, ok := overrides[candidate]; ok {
			if i, ok := idx.find(candidate, v); ok {
				return idx.Versions[i], nil
			}
			r.logger.Debug("ignoring stale session override", "session", session, "candidate", candidate, "version", v)
		}
	}

	if v, ok := idx.Defaults[candidate]; ok {
		if i, ok := idx.find(candidate, v); ok {
			return idx.Versions[i], nil
		}
	}
	return models.InstalledVersion{}, models.NewError(models.ErrNoneInstalled, "current", candidate, "", nil)
}

// SetGlobalDefault 持久化全局默认版本并原子地切换 current 链接。
func (r *Registry) SetGlobalDefault(ctx context.Context, candidate, version string) error {
	return r.mutate(ctx, "default", candidate, version, func(idx *indexFile) error {
		if _, ok := idx.find(candidate, version); !ok {
			return models.NewError(models.ErrNotInstalled, "default", candidate, version, nil)
		}
		idx.Defaults[candidate] = version
		return nil
	}, func(idx *indexFile) error {
		return r.syncCurrentLink(idx, candidate, version)
	})
}

// Candidates 返回有安装记录的 candidate 名称。
func (r *Registry) Candidates() ([]string, error) {
	idx, err := r.read()
	if err != nil {
		return nil, err
	}
	seen := map[string]struct{}{}
	var names []string
	for _, v := range idx.Versions {
		if _, ok := seen[v.Candidate]; ok {
			continue
		}
		seen[v.Candidate] = struct{}{}
		names = append(names, v.Candidate)
	}
	sort.Strings(names)
	return names, nil
}

// syncCurrentLink 让 candidates/<c>/current 指向 version 的安装目录，version 为空时删除链接。
// 在注册表锁内调用，保证链接与索引一致。
func (r *Registry) syncCurrentLink(idx *indexFile, candidate, version string) error {
	link := r.layout.CurrentLink(candidate)
	i, ok := idx.find(candidate, version)
	if version == "" || !ok {
		if err := os.Remove(link); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("storage: remove current link: %w", err)
		}
		return nil
	}
	return replaceSymlink(idx.Versions[i].InstallPath, link)
}

// mutate 在注册表锁内完成读-改-写；after 在新索引提交后、释放锁之前执行。
func (r *Registry) mutate(ctx context.Context, op, candidate, version string, fn, after func(*indexFile) error) error {
	l, err := lock.Acquire(ctx, r.layout.LockPath(), r.lockTimeout)
	if err != nil {
		if errors.Is(err, lock.ErrTimeout) {
			return models.NewError(models.ErrRegistryLocked, op, candidate, version, err)
		}
		return fmt.Errorf("storage: acquire lock: %w", err)
	}
	defer l.Release()

	idx, err := r.read()
	if err != nil {
		return err
	}
	if err := fn(idx); err != nil {
		return err
	}
	if err := r.write(idx); err != nil {
		return err
	}
	if after != nil {
		return after(idx)
	}
	return nil
}

func (r *Registry) read() (*indexFile, error) {
	data, err := os.ReadFile(r.layout.IndexPath())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &indexFile{Defaults: map[string]string{}}, nil
		}
		return nil, fmt.Errorf("storage: read index: %w", err)
	}

	idx := &indexFile{}
	if len(data) > 0 {
		if err := json.Unmarshal(data, idx); err != nil {
			return nil, fmt.Errorf("storage: decode index: %w", err)
		}
	}
	if idx.Defaults == nil {
		idx.Defaults = map[string]string{}
	}
	return idx, nil
}

func (r *Registry) write(idx *indexFile) error {
	sortInstalled(idx.Versions)
	data, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return fmt.Errorf("storage: encode index: %w", err)
	}
	return WriteFileAtomic(r.layout.IndexPath(), data, 0o644)
}

func (idx *indexFile) find(candidate, version string) (int, bool) {
	for i := range idx.Versions {
		if idx.Versions[i].Candidate == candidate && idx.Versions[i].Version == version {
			return i, true
		}
	}
	return -1, false
}

func (idx *indexFile) versionsOf(candidate string) []models.InstalledVersion {
	var out []models.InstalledVersion
	for _, v := range idx.Versions {
		if v.Candidate == candidate {
			out = append(out, v)
		}
	}
	sortInstalled(out)
	return out
}

func sortInstalled(versions []models.InstalledVersion) {
	sort.SliceStable(versions, func(i, j int) bool {
		if versions[i].Candidate != versions[j].Candidate {
			return versions[i].Candidate < versions[j].Candidate
		}
		return models.CompareVersions(versions[i].Version, versions[j].Version) > 0
	})
}
