package version

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/liangyou/devkit/internal/archive"
	"github.com/liangyou/devkit/internal/lock"
	"github.com/liangyou/devkit/internal/storage"
	"github.com/liangyou/devkit/pkg/models"
)

// CatalogSource 是安装与升级所需的目录查询能力。
type CatalogSource interface {
	LatestStable(ctx context.Context, candidate string) (models.CatalogEntry, error)
	Entry(ctx context.Context, candidate, version string) (models.CatalogEntry, error)
	Candidate(ctx context.Context, name string) (models.Candidate, error)
}

// PlatformTagger 返回当前平台在目录中的标签。
type PlatformTagger interface {
	Tag() string
}

// InstallRequest 描述一次安装。Version 为空时安装最新稳定版，
// LocalPath 非空时按引用注册本地目录。
type InstallRequest struct {
	Candidate string
	Version   string
	LocalPath string
}

// Installer 负责下载、校验、解压、提升并注册版本。
// 昂贵的 I/O 都在私有 staging 目录中完成，只在注册时短暂持有注册表锁。
type Installer struct {
	registry     storage.LocalStorage
	catalog      CatalogSource
	fetcher      Fetcher
	extractor    archive.Extractor
	platform     PlatformTagger
	layout       models.Layout
	strict       bool
	keepArchives bool
	offline      bool
	logger       *slog.Logger
	now          func() time.Time
	rename       func(oldpath, newpath string) error
}

// InstallerOption 配置 Installer。
type InstallerOption func(*Installer)

// WithStrictInstall 打开后，同一版本正在安装时立即返回 ErrAlreadyInstalling 而不是等待。
func WithStrictInstall(strict bool) InstallerOption {
	return func(i *Installer) { i.strict = strict }
}

// WithKeepArchives 保留下载的压缩包到 archives/，重装时复用。
func WithKeepArchives(keep bool) InstallerOption {
	return func(i *Installer) { i.keepArchives = keep }
}

// WithOffline 打开后不再下载，只能复用 archives/ 中已保留的压缩包。
func WithOffline(offline bool) InstallerOption {
	return func(i *Installer) { i.offline = offline }
}

// WithInstallerLogger 设置日志输出。
func WithInstallerLogger(l *slog.Logger) InstallerOption {
	return func(i *Installer) {
		if l != nil {
			i.logger = l
		}
	}
}

// NewInstaller 创建 Installer。
func NewInstaller(store storage.LocalStorage, catalog CatalogSource, fetcher Fetcher, extractor archive.Extractor, tagger PlatformTagger, opts ...InstallerOption) *Installer {
	i := &Installer{
		registry:  store,
		catalog:   catalog,
		fetcher:   fetcher,
		extractor: extractor,
		platform:  tagger,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:       time.Now,
		rename:    os.Rename,
	}
	if store != nil {
		i.layout = store.Layout()
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Install 执行完整的安装流程并返回新注册的版本。
// 目标版本已安装时返回 ErrAlreadyInstalled；等待他人完成同一安装的调用方拿到已注册版本且不报错。
func (i *Installer) Install(ctx context.Context, req InstallRequest) (models.InstalledVersion, error) {
	if i.registry == nil {
		return models.InstalledVersion{}, errors.New("installer: missing registry")
	}
	req.Candidate = strings.TrimSpace(req.Candidate)
	req.Version = strings.TrimSpace(req.Version)
	if req.Candidate == "" {
		return models.InstalledVersion{}, errors.New("installer: candidate is required")
	}

	if req.LocalPath != "" {
		return i.installLocal(ctx, req)
	}
	return i.installRemote(ctx, req)
}

func (i *Installer) installLocal(ctx context.Context, req InstallRequest) (models.InstalledVersion, error) {
	if req.Version == "" {
		return models.InstalledVersion{}, errors.New("installer: version is required for a local installation")
	}
	dir, err := filepath.Abs(req.LocalPath)
	if err != nil {
		return models.InstalledVersion{}, fmt.Errorf("installer: resolve path: %w", err)
	}
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return models.InstalledVersion{}, models.NewError(models.ErrNotFound, "install", req.Candidate, req.Version,
			fmt.Errorf("%s is not a directory", dir))
	}

	cand := i.candidateInfo(ctx, req.Candidate)
	if err := checkEntrypoint(dir, cand.EntrypointPath()); err != nil {
		return models.InstalledVersion{}, models.NewError(models.ErrNotFound, "install", req.Candidate, req.Version, err)
	}

	return i.registry.Register(ctx, models.InstalledVersion{
		Candidate:   req.Candidate,
		Version:     req.Version,
		InstallPath: dir,
		Source:      models.SourceLocalPath,
		InstalledAt: i.now().UTC(),
		Integrity:   models.IntegrityUnverified,
		Entrypoint:  cand.Entrypoint,
		HomeVar:     cand.HomeVar,
	})
}

func (i *Installer) installRemote(ctx context.Context, req InstallRequest) (models.InstalledVersion, error) {
	if req.Version != "" {
		if _, err := i.registry.Get(req.Candidate, req.Version); err == nil {
			return models.InstalledVersion{}, models.NewError(models.ErrAlreadyInstalled, "install", req.Candidate, req.Version, nil)
		}
	}
	if i.catalog == nil || i.fetcher == nil || i.extractor == nil || i.platform == nil {
		return models.InstalledVersion{}, errors.New("installer: missing dependencies")
	}

	entry, err := i.resolveEntry(ctx, req)
	if err != nil {
		return models.InstalledVersion{}, err
	}
	version := entry.Version
	cand := i.candidateInfo(ctx, req.Candidate)

	l, err := i.acquireInstallLock(ctx, req.Candidate, version)
	if err != nil {
		return models.InstalledVersion{}, annotate(err, "install", req.Candidate, version)
	}
	defer l.Release()

	// 拿到锁后重新检查：等待期间可能已由其他会话装好。
	if existing, err := i.registry.Get(req.Candidate, version); err == nil {
		i.logger.Info("version installed by a concurrent session", "candidate", req.Candidate, "version", version)
		return existing, nil
	}

	archivePath, cleanupArchive, err := i.obtainArchive(ctx, entry)
	if err != nil {
		return models.InstalledVersion{}, annotate(err, "install", req.Candidate, version)
	}
	defer cleanupArchive()

	integrity, err := verifyChecksum(archivePath, entry.Checksum(i.platform.Tag()))
	if err != nil {
		i.discardArchive(archivePath)
		return models.InstalledVersion{}, annotate(err, "install", req.Candidate, version)
	}
	if integrity == models.IntegrityUnverified {
		i.logger.Warn("no checksum in catalog, installing unverified", "candidate", req.Candidate, "version", version)
	}

	finalPath, err := i.promote(ctx, archivePath, cand, version)
	if err != nil {
		return models.InstalledVersion{}, annotate(err, "install", req.Candidate, version)
	}

	installed, err := i.registry.Register(ctx, models.InstalledVersion{
		Candidate:   req.Candidate,
		Version:     version,
		InstallPath: finalPath,
		Source:      models.SourceRemote,
		InstalledAt: i.now().UTC(),
		Integrity:   integrity,
		Entrypoint:  cand.Entrypoint,
		HomeVar:     cand.HomeVar,
	})
	if err != nil {
		if rmErr := os.RemoveAll(finalPath); rmErr != nil {
			i.logger.Error("rollback of promoted directory failed", "path", finalPath, "error", rmErr)
		}
		return models.InstalledVersion{}, annotate(err, "install", req.Candidate, version)
	}

	i.logger.Info("installed", "candidate", installed.Candidate, "version", installed.Version, "integrity", installed.Integrity)
	return installed, nil
}

func (i *Installer) resolveEntry(ctx context.Context, req InstallRequest) (models.CatalogEntry, error) {
	if req.Version == "" {
		return i.catalog.LatestStable(ctx, req.Candidate)
	}
	return i.catalog.Entry(ctx, req.Candidate, req.Version)
}

// candidateInfo 查询 candidate 元数据，目录不可用时退回默认值。
func (i *Installer) candidateInfo(ctx context.Context, name string) models.Candidate {
	if i.catalog != nil {
		if c, err := i.catalog.Candidate(ctx, name); err == nil {
			return c
		}
	}
	return models.Candidate{Name: name}
}

func (i *Installer) acquireInstallLock(ctx context.Context, candidate, version string) (*lock.FileLock, error) {
	lockPath := i.layout.InstallLockPath(candidate, version)
	l, err := lock.TryAcquire(lockPath)
	if err == nil {
		return l, nil
	}
	if !errors.Is(err, lock.ErrBusy) {
		return nil, fmt.Errorf("installer: install lock: %w", err)
	}
	if i.strict {
		return nil, models.NewError(models.ErrAlreadyInstalling, "install", candidate, version,
			errors.New("another session is installing this version"))
	}

	i.logger.Info("waiting for a concurrent installation", "candidate", candidate, "version", version)
	l, err = lock.Acquire(ctx, lockPath, 0)
	if err != nil {
		return nil, fmt.Errorf("installer: wait for install lock: %w", err)
	}
	return l, nil
}

// obtainArchive 返回压缩包路径与清理函数。开启 keep_archives 或离线时优先复用 archives/ 中的文件，
// 离线且没有可复用的文件时返回 ErrNetworkUnavailable。
func (i *Installer) obtainArchive(ctx context.Context, entry models.CatalogEntry) (string, func(), error) {
	downloadURL := entry.DownloadURL(i.platform.Tag())
	kept := filepath.Join(i.layout.ArchivesDir(), archiveName(entry, downloadURL))

	if i.keepArchives || i.offline {
		if info, err := os.Stat(kept); err == nil && info.Mode().IsRegular() {
			i.logger.Debug("reusing kept archive", "path", kept)
			return kept, func() {}, nil
		}
	}
	if i.offline {
		return "", nil, models.NewError(models.ErrNetworkUnavailable, "install", entry.Candidate, entry.Version,
			errors.New("offline mode and no kept archive, run `devkit offline disable`"))
	}

	tmp, err := i.fetcher.Fetch(ctx, downloadURL)
	if err != nil {
		return "", nil, err
	}
	if !i.keepArchives {
		return tmp, func() { os.Remove(tmp) }, nil
	}

	if err := os.MkdirAll(i.layout.ArchivesDir(), 0o755); err != nil {
		return tmp, func() { os.Remove(tmp) }, nil
	}
	if err := os.Rename(tmp, kept); err != nil {
		i.logger.Warn("could not keep archive", "error", err)
		return tmp, func() { os.Remove(tmp) }, nil
	}
	return kept, func() {}, nil
}

// discardArchive 删除校验失败的压缩包，避免 keep_archives 下反复复用坏文件。
func (i *Installer) discardArchive(p string) {
	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		i.logger.Warn("remove corrupt archive", "path", p, "error", err)
	}
}

// promote 解压到 tmp/staging-*，检查入口文件，再用 rename 提升到最终目录。
// rename 之前的任何失败都会删除 staging；rename 失败时保留 staging 并返回 ErrInstallIncomplete。
func (i *Installer) promote(ctx context.Context, archivePath string, cand models.Candidate, version string) (string, error) {
	if err := os.MkdirAll(i.layout.TmpDir(), 0o755); err != nil {
		return "", fmt.Errorf("installer: prepare tmp dir: %w", err)
	}
	staging, err := os.MkdirTemp(i.layout.TmpDir(), "staging-*")
	if err != nil {
		return "", fmt.Errorf("installer: create staging dir: %w", err)
	}
	keepStaging := false
	defer func() {
		if !keepStaging {
			os.RemoveAll(staging)
		}
	}()

	if err := i.extractor.Extract(ctx, archivePath, staging); err != nil {
		return "", err
	}
	root, err := archive.SingleRoot(staging)
	if err != nil {
		return "", err
	}
	if err := checkEntrypoint(root, cand.EntrypointPath()); err != nil {
		return "", models.NewError(models.ErrCorruptArchive, "install", cand.Name, version, err)
	}

	finalPath := i.layout.VersionDir(cand.Name, version)
	if err := os.MkdirAll(filepath.Dir(finalPath), 0o755); err != nil {
		return "", fmt.Errorf("installer: prepare parent dir: %w", err)
	}
	if err := i.clearOrphan(finalPath); err != nil {
		return "", err
	}

	if err := i.rename(root, finalPath); err != nil {
		keepStaging = true
		return "", models.NewError(models.ErrInstallIncomplete, "install", cand.Name, version,
			fmt.Errorf("move into place: %w", err)).WithPath(staging)
	}
	return finalPath, nil
}

// clearOrphan 移走一个未注册却占据最终路径的目录（通常是崩溃遗留）。
// 调用方持有安装锁且注册表中没有这个版本，因此它不属于任何人。
func (i *Installer) clearOrphan(finalPath string) error {
	if _, err := os.Lstat(finalPath); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	i.logger.Warn("removing unregistered directory at install path", "path", finalPath)
	return removeOwnedDir(i.layout, finalPath)
}

// removeOwnedDir 先把目录 rename 到 tmp/removing-*，再删除，避免在最终路径上留下半删除状态。
func removeOwnedDir(layout models.Layout, dir string) error {
	if err := os.MkdirAll(layout.TmpDir(), 0o755); err != nil {
		return fmt.Errorf("installer: prepare tmp dir: %w", err)
	}
	trash, err := os.MkdirTemp(layout.TmpDir(), "removing-*")
	if err != nil {
		return fmt.Errorf("installer: create removal dir: %w", err)
	}
	moved := filepath.Join(trash, filepath.Base(dir))
	if err := os.Rename(dir, moved); err != nil {
		os.Remove(trash)
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("installer: move %s aside: %w", dir, err)
	}
	if err := os.RemoveAll(trash); err != nil {
		return fmt.Errorf("installer: delete %s: %w", trash, err)
	}
	return nil
}

func checkEntrypoint(root, rel string) error {
	candidates := []string{filepath.Join(root, filepath.FromSlash(rel))}
	if runtime.GOOS == "windows" {
		for _, ext := range []string{".exe", ".cmd", ".bat"} {
			candidates = append(candidates, candidates[0]+ext)
		}
	}
	for _, p := range candidates {
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return nil
		}
	}
	return fmt.Errorf("entrypoint %s missing", rel)
}

func archiveName(entry models.CatalogEntry, downloadURL string) string {
	ext := ".archive"
	if u, err := url.Parse(downloadURL); err == nil {
		base := path.Base(u.Path)
		switch {
		case strings.HasSuffix(base, ".tar.gz"):
			ext = ".tar.gz"
		case strings.HasSuffix(base, ".tgz"):
			ext = ".tgz"
		case strings.HasSuffix(base, ".zip"):
			ext = ".zip"
		}
	}
	return fmt.Sprintf("%s-%s%s", entry.Candidate, entry.Version, ext)
}

// annotate 为下层错误补全操作与 candidate/version。不是 Error 的错误被包进一个不带类别的 Error。
func annotate(err error, op, candidate, version string) error {
	if err == nil {
		return nil
	}
	var e *models.Error
	if !errors.As(err, &e) {
		return models.NewError("", op, candidate, version, err)
	}
	if e.Candidate == "" {
		e.Candidate = candidate
		e.Version = version
	}
	if e.Op == "" || e.Op == "download" || e.Op == "extract" || e.Op == "verify" {
		e.Op = op
	}
	return err
}
