package flush

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"

	"github.com/liangyou/devkit/internal/lock"
	"github.com/liangyou/devkit/pkg/models"
)

// defaultTmpGrace 内修改过的 tmp 条目视为仍在使用。
const defaultTmpGrace = time.Hour

// inFlightPrefixes 是安装与卸载过程在 tmp/ 下创建的条目前缀。
var inFlightPrefixes = []string{"staging-", "download-", "removing-"}

// Target 是 flush 可清理的对象。
type Target string

const (
	TargetArchives  Target = "archives"
	TargetTmp       Target = "tmp"
	TargetBroadcast Target = "broadcast"
	TargetVersion   Target = "version"
)

// Targets 返回所有可清理对象，顺序即 flush 不带参数时的执行顺序。
func Targets() []Target {
	return []Target{TargetArchives, TargetTmp, TargetBroadcast, TargetVersion}
}

// ParseTarget 解析命令行参数。
func ParseTarget(s string) (Target, error) {
	t := Target(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Targets() {
		if t == known {
			return t, nil
		}
	}
	return "", fmt.Errorf("flush: unknown target %q", s)
}

// Flusher 清理缓存目录与过期的会话文件。安装目录与注册表从不被触碰。
type Flusher struct {
	fs         afero.Fs
	layout     models.Layout
	sessionTTL time.Duration
	tmpGrace   time.Duration
	installing func() bool
	now        func() time.Time
	logger     *slog.Logger
}

// Option 配置 Flusher。
type Option func(*Flusher)

// WithFs 替换底层文件系统，测试中使用内存文件系统。
func WithFs(fs afero.Fs) Option {
	return func(f *Flusher) {
		if fs != nil {
			f.fs = fs
		}
	}
}

// WithClock 替换时间来源。
func WithClock(now func() time.Time) Option {
	return func(f *Flusher) {
		if now != nil {
			f.now = now
		}
	}
}

// WithTmpGrace 设置 tmp 条目的保护期，d<=0 表示不按时间保护。
func WithTmpGrace(d time.Duration) Option {
	return func(f *Flusher) {
		f.tmpGrace = d
	}
}

// WithInstallCheck 替换"是否有安装正在进行"的判断。
func WithInstallCheck(installing func() bool) Option {
	return func(f *Flusher) {
		if installing != nil {
			f.installing = installing
		}
	}
}

// WithLogger 设置日志。
func WithLogger(logger *slog.Logger) Option {
	return func(f *Flusher) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// NewFlusher 根据配置创建 Flusher。
func NewFlusher(cfg models.Config, opts ...Option) *Flusher {
	layout := models.NewLayout(cfg.RootDir)
	f := &Flusher{
		fs:         afero.NewOsFs(),
		layout:     layout,
		sessionTTL: cfg.SessionTTL,
		tmpGrace:   defaultTmpGrace,
		installing: func() bool { return installsActive(layout.LocksDir()) },
		now:        time.Now,
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Flush 清理一个对象并返回删除的条目数。
func (f *Flusher) Flush(target Target) (int, error) {
	switch target {
	case TargetArchives:
		return f.emptyDir(f.layout.ArchivesDir(), nil)
	case TargetTmp:
		return f.flushTmp()
	case TargetBroadcast:
		return f.removeFile(f.layout.BroadcastPath())
	case TargetVersion:
		return f.removeFile(f.layout.VersionFile())
	default:
		return 0, fmt.Errorf("flush: unknown target %q", target)
	}
}

// FlushAll 依次清理所有对象。
func (f *Flusher) FlushAll() (map[Target]int, error) {
	out := make(map[Target]int, len(Targets()))
	for _, t := range Targets() {
		n, err := f.Flush(t)
		if err != nil {
			return out, err
		}
		out[t] = n
	}
	return out, nil
}

// PruneSessions 删除超过 session_ttl 未修改的会话文件，keep 指定的会话始终保留。
// ttl 不大于零时不清理。
func (f *Flusher) PruneSessions(keep models.SessionID) (int, error) {
	if f.sessionTTL <= 0 {
		return 0, nil
	}
	dir := f.layout.SessionsDir()
	entries, err := afero.ReadDir(f.fs, dir)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("flush: read sessions: %w", err)
	}

	cutoff := f.now().Add(-f.sessionTTL)
	removed := 0
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || filepath.Ext(name) != ".json" {
			continue
		}
		if keep != "" && name == string(keep)+".json" {
			continue
		}
		if !entry.ModTime().Before(cutoff) {
			continue
		}
		if err := f.fs.Remove(filepath.Join(dir, name)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return removed, fmt.Errorf("flush: remove session %s: %w", name, err)
		}
		removed++
	}
	if removed > 0 {
		f.logger.Debug("pruned stale sessions", "count", removed)
	}
	return removed, nil
}

// flushTmp 清空 tmp/，但保留保护期内修改过的条目；
// 有安装持有 var/locks/ 下的锁时，也保留 staging、download 与 removing 条目。
func (f *Flusher) flushTmp() (int, error) {
	cutoff := f.now().Add(-f.tmpGrace)
	var active *bool
	return f.emptyDir(f.layout.TmpDir(), func(entry os.FileInfo) bool {
		if f.tmpGrace > 0 && entry.ModTime().After(cutoff) {
			return true
		}
		if !inFlight(entry.Name()) {
			return false
		}
		if active == nil {
			busy := f.installing()
			active = &busy
		}
		return *active
	})
}

// emptyDir 删除 dir 下的条目，keep 返回 true 的条目保留。
func (f *Flusher) emptyDir(dir string, keep func(os.FileInfo) bool) (int, error) {
	entries, err := afero.ReadDir(f.fs, dir)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("flush: read %s: %w", dir, err)
	}
	removed, kept := 0, 0
	for _, entry := range entries {
		if keep != nil && keep(entry) {
			kept++
			continue
		}
		if err := f.fs.RemoveAll(filepath.Join(dir, entry.Name())); err != nil {
			return removed, fmt.Errorf("flush: remove %s: %w", entry.Name(), err)
		}
		removed++
	}
	f.logger.Debug("flushed directory", "dir", dir, "count", removed, "kept", kept)
	return removed, nil
}

func inFlight(name string) bool {
	for _, prefix := range inFlightPrefixes {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

// installsActive 报告 locksDir 下是否有安装锁正被持有。
func installsActive(locksDir string) bool {
	entries, err := os.ReadDir(locksDir)
	if err != nil {
		return false
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".lock" {
			continue
		}
		l, err := lock.TryAcquire(filepath.Join(locksDir, entry.Name()))
		if errors.Is(err, lock.ErrBusy) {
			return true
		}
		if err == nil {
			l.Release()
		}
	}
	return false
}

func (f *Flusher) removeFile(path string) (int, error) {
	err := f.fs.Remove(path)
	switch {
	case err == nil:
		return 1, nil
	case errors.Is(err, os.ErrNotExist):
		return 0, nil
	default:
		return 0, fmt.Errorf("flush: remove %s: %w", filepath.Base(path), err)
	}
}
