package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/liangyou/devkit/internal/remote"
	"github.com/liangyou/devkit/internal/storage"
	"github.com/liangyou/devkit/pkg/models"
)

const defaultTTL = 24 * time.Hour

// Store 缓存远程目录并提供离线回退。
// 缓存文件 var/catalog.json 每次刷新整体替换。
type Store struct {
	layout  models.Layout
	remote  remote.RemoteClient
	ttl     time.Duration
	offline bool
	logger  *slog.Logger
	now     func() time.Time

	mu   sync.Mutex
	snap *models.CatalogSnapshot
}

// Option 用于配置 Store。
type Option func(*Store)

// WithTTL 设置缓存过期时间。
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithOffline 打开或关闭离线模式。
func WithOffline(offline bool) Option {
	return func(s *Store) { s.offline = offline }
}

// WithLogger 设置日志输出。
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewStore 创建目录缓存。client 可以为 nil，此时只能读取已有缓存。
func NewStore(cfg models.Config, client remote.RemoteClient, opts ...Option) *Store {
	s := &Store{
		layout:  models.NewLayout(cfg.RootDir),
		remote:  client,
		ttl:     defaultTTL,
		offline: cfg.Offline,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:     time.Now,
	}
	if cfg.CatalogTTL > 0 {
		s.ttl = cfg.CatalogTTL
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Offline 报告是否处于离线模式。
func (s *Store) Offline() bool { return s.offline }

// Refresh 从远端拉取目录并整体替换缓存。离线模式下什么也不做。
func (s *Store) Refresh(ctx context.Context) error {
	if s.offline {
		s.logger.Debug("offline mode, skipping catalog refresh")
		return nil
	}
	if s.remote == nil {
		return models.NewError(models.ErrNetworkUnavailable, "refresh", "", "", errors.New("no remote catalog configured"))
	}

	snap, err := s.remote.FetchCatalog(ctx)
	if err != nil {
		return err
	}
	snap.FetchedAt = s.now().UTC()

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("catalog: encode cache: %w", err)
	}
	if err := storage.WriteFileAtomic(s.layout.CatalogPath(), data, 0o644); err != nil {
		return err
	}
	s.writeSideFiles(snap)

	s.mu.Lock()
	s.snap = &snap
	s.mu.Unlock()

	s.logger.Debug("catalog refreshed", "candidates", len(snap.Candidates), "entries", len(snap.Entries))
	return nil
}

// writeSideFiles 把公告和最新 devkit 版本单独落盘，flush 可以分别清理。
func (s *Store) writeSideFiles(snap models.CatalogSnapshot) {
	if snap.Broadcast != "" {
		if err := storage.WriteFileAtomic(s.layout.BroadcastPath(), []byte(snap.Broadcast+"\n"), 0o644); err != nil {
			s.logger.Warn("write broadcast", "error", err)
		}
	}
	if snap.DevkitVersion != "" {
		if err := storage.WriteFileAtomic(s.layout.VersionFile(), []byte(snap.DevkitVersion+"\n"), 0o644); err != nil {
			s.logger.Warn("write version file", "error", err)
		}
	}
}

// Snapshot 返回可用的目录快照。缓存缺失或过期时按需刷新；
// 刷新遇到网络不可用且已有缓存时，继续使用旧缓存。
func (s *Store) Snapshot(ctx context.Context) (models.CatalogSnapshot, error) {
	cached, err := s.load()
	if err != nil {
		return models.CatalogSnapshot{}, err
	}

	if s.offline {
		if cached == nil {
			return models.CatalogSnapshot{}, models.NewError(models.ErrNotFound, "catalog", "", "",
				errors.New("offline mode and no cached catalog, run `devkit offline disable` and `devkit update`"))
		}
		return *cached, nil
	}

	if cached != nil && s.now().Sub(cached.FetchedAt) < s.ttl {
		return *cached, nil
	}

	if err := s.Refresh(ctx); err != nil {
		if cached != nil && errors.Is(err, models.ErrNetworkUnavailable) {
			s.logger.Warn("catalog refresh failed, using cached copy", "fetched_at", cached.FetchedAt, "error", err)
			return *cached, nil
		}
		return models.CatalogSnapshot{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.snap, nil
}

// List 返回目录条目，candidate 为空时返回全部。
func (s *Store) List(ctx context.Context, candidate string) ([]models.CatalogEntry, error) {
	snap, err := s.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	candidate = strings.TrimSpace(candidate)
	if candidate != "" {
		if _, ok := snap.Candidate(candidate); !ok {
			return nil, models.NewError(models.ErrNoSuchCandidate, "list", candidate, "", models.ErrNotFound)
		}
	}
	return snap.EntriesOf(candidate), nil
}

// Candidate 返回 candidate 描述。
func (s *Store) Candidate(ctx context.Context, name string) (models.Candidate, error) {
	snap, err := s.Snapshot(ctx)
	if err != nil {
		return models.Candidate{}, err
	}
	c, ok := snap.Candidate(name)
	if !ok {
		return models.Candidate{}, models.NewError(models.ErrNoSuchCandidate, "lookup", name, "", models.ErrNotFound)
	}
	return c, nil
}

// Entry 返回指定版本的目录条目。
func (s *Store) Entry(ctx context.Context, candidate, version string) (models.CatalogEntry, error) {
	entries, err := s.List(ctx, candidate)
	if err != nil {
		return models.CatalogEntry{}, err
	}
	for _, e := range entries {
		if e.Version == version {
			return e, nil
		}
	}
	return models.CatalogEntry{}, models.NewError(models.ErrNotFound, "lookup", candidate, version,
		errors.New("version is not in the catalog"))
}

// LatestStable 返回 candidate 的最新稳定版本：优先取标记为 latest 的稳定条目，
// 否则取稳定条目中版本号最高的。错误同时匹配 models.ErrNotFound。
func (s *Store) LatestStable(ctx context.Context, candidate string) (models.CatalogEntry, error) {
	entries, err := s.List(ctx, candidate)
	if err != nil {
		return models.CatalogEntry{}, err
	}
	return latestStable(candidate, entries)
}

func latestStable(candidate string, entries []models.CatalogEntry) (models.CatalogEntry, error) {
	var best *models.CatalogEntry
	for i := range entries {
		e := &entries[i]
		if !e.Stable {
			continue
		}
		if e.Latest {
			return *e, nil
		}
		if best == nil || models.CompareVersions(e.Version, best.Version) > 0 {
			best = e
		}
	}
	if best == nil {
		return models.CatalogEntry{}, models.NewError(models.ErrNoVersionsAvailable, "latest", candidate, "", models.ErrNotFound)
	}
	return *best, nil
}

// Broadcast 返回最近一次刷新得到的公告，从不访问网络。
func (s *Store) Broadcast() (string, error) {
	data, err := os.ReadFile(s.layout.BroadcastPath())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("catalog: read broadcast: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// LatestDevkitVersion 返回缓存中记录的最新 devkit 版本，未知时返回空串。
func (s *Store) LatestDevkitVersion() string {
	data, err := os.ReadFile(s.layout.VersionFile())
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// load 读取缓存；内存中已有时直接返回。缓存不存在时返回 nil。
func (s *Store) load() (*models.CatalogSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.snap != nil {
		snap := *s.snap
		return &snap, nil
	}

	data, err := os.ReadFile(s.layout.CatalogPath())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("catalog: read cache: %w", err)
	}
	var snap models.CatalogSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		s.logger.Warn("discarding unreadable catalog cache", "path", s.layout.CatalogPath(), "error", err)
		return nil, nil
	}
	s.snap = &snap
	copied := snap
	return &copied, nil
}
