package version

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/liangyou/devkit/internal/archive"
	"github.com/liangyou/devkit/internal/storage"
	"github.com/liangyou/devkit/pkg/models"
)

const testPlatform = "linuxx64"

type fakeTagger struct{}

func (fakeTagger) Tag() string { return testPlatform }

// fakeCatalog 是内存中的目录，实现 CatalogSource 与 CatalogLister。
type fakeCatalog struct {
	candidates []models.Candidate
	entries    []models.CatalogEntry
}

func (c *fakeCatalog) Candidate(ctx context.Context, name string) (models.Candidate, error) {
	for _, cand := range c.candidates {
		if cand.Name == name {
			return cand, nil
		}
	}
	return models.Candidate{}, models.NewError(models.ErrNoSuchCandidate, "lookup", name, "", models.ErrNotFound)
}

func (c *fakeCatalog) List(ctx context.Context, candidate string) ([]models.CatalogEntry, error) {
	if candidate == "" {
		return c.entries, nil
	}
	if _, err := c.Candidate(ctx, candidate); err != nil {
		return nil, err
	}
	var out []models.CatalogEntry
	for _, e := range c.entries {
		if e.Candidate == candidate {
			out = append(out, e)
		}
	}
	return out, nil
}

func (c *fakeCatalog) Entry(ctx context.Context, candidate, version string) (models.CatalogEntry, error) {
	entries, err := c.List(ctx, candidate)
	if err != nil {
		return models.CatalogEntry{}, err
	}
	for _, e := range entries {
		if e.Version == version {
			return e, nil
		}
	}
	return models.CatalogEntry{}, models.NewError(models.ErrNotFound, "lookup", candidate, version, nil)
}

func (c *fakeCatalog) LatestStable(ctx context.Context, candidate string) (models.CatalogEntry, error) {
	entries, err := c.List(ctx, candidate)
	if err != nil {
		return models.CatalogEntry{}, err
	}
	var best *models.CatalogEntry
	for i := range entries {
		if entries[i].Stable && (best == nil || models.CompareVersions(entries[i].Version, best.Version) > 0) {
			best = &entries[i]
		}
	}
	if best == nil {
		return models.CatalogEntry{}, models.NewError(models.ErrNoVersionsAvailable, "latest", candidate, "", models.ErrNotFound)
	}
	return *best, nil
}

// fakeFetcher 每次调用都把 payload 写入新的临时文件，并记录调用次数。
type fakeFetcher struct {
	dir      string
	payloads map[string][]byte // url -> body
	delay    time.Duration
	calls    int32
	mu       sync.Mutex
	urls     []string
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string) (string, error) {
	atomic.AddInt32(&f.calls, 1)
	f.mu.Lock()
	f.urls = append(f.urls, url)
	body, ok := f.payloads[url]
	f.mu.Unlock()
	if !ok {
		return "", models.NewError(models.ErrNotFound, "download", "", "", nil)
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	tmp, err := os.CreateTemp(f.dir, "download-*.tmp")
	if err != nil {
		return "", err
	}
	defer tmp.Close()
	if _, err := tmp.Write(body); err != nil {
		return "", err
	}
	return tmp.Name(), nil
}

func (f *fakeFetcher) Calls() int { return int(atomic.LoadInt32(&f.calls)) }

// buildSDK 生成带 <name>-<version>/ 包装目录的 tar.gz。
func buildSDK(t *testing.T, wrapper string, files map[string]string) []byte {
	t.Helper()

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	require.NoError(t, tw.WriteHeader(&tar.Header{Name: wrapper + "/", Mode: 0o755, Typeflag: tar.TypeDir}))
	for name, body := range files {
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name:     path.Join(wrapper, name),
			Mode:     0o755,
			Size:     int64(len(body)),
			Typeflag: tar.TypeReg,
		}))
		_, err := tw.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	return buf.Bytes()
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// testEnv 把真实的注册表、解压器与内存目录/下载器组装在一起。
type testEnv struct {
	root     string
	catalog  *fakeCatalog
	fetcher  *fakeFetcher
	registry *storage.Registry
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	root := t.TempDir()
	env := &testEnv{
		root: root,
		catalog: &fakeCatalog{
			candidates: []models.Candidate{
				{Name: "java", Entrypoint: "bin/java", HomeVar: "JAVA_HOME"},
				{Name: "gradle"},
				{Name: "scala"},
			},
		},
		fetcher:  &fakeFetcher{dir: t.TempDir(), payloads: map[string][]byte{}},
		registry: storage.NewRegistry(models.Config{RootDir: root}),
	}
	return env
}

// publish 向目录添加一个版本并让下载器能提供它。
func (e *testEnv) publish(t *testing.T, candidate, version string, stable bool, body []byte, checksum string) {
	t.Helper()

	url := "https://dl.example/" + candidate + "/" + version + "/{platform}.tar.gz"
	entry := models.CatalogEntry{Candidate: candidate, Version: version, URLTemplate: url, Stable: stable}
	if checksum != "" {
		entry.Checksums = map[string]string{testPlatform: checksum}
	}
	e.catalog.entries = append(e.catalog.entries, entry)
	e.fetcher.payloads[entry.DownloadURL(testPlatform)] = body
}

// publishSDK 发布一个带正确校验值、包含入口文件的版本。
func (e *testEnv) publishSDK(t *testing.T, candidate, version string) {
	t.Helper()
	entry := "bin/" + candidate
	body := buildSDK(t, candidate+"-"+version, map[string]string{entry: "#!/bin/sh\necho " + version + "\n"})
	e.publish(t, candidate, version, true, body, sha256Hex(body))
}

// installer 为每次调用创建独立实例，模拟不同的进程。
func (e *testEnv) installer(opts ...InstallerOption) *Installer {
	reg := storage.NewRegistry(models.Config{RootDir: e.root})
	return NewInstaller(reg, e.catalog, e.fetcher, archive.NewUnpacker(), fakeTagger{}, opts...)
}

func (e *testEnv) install(t *testing.T, candidate, version string) models.InstalledVersion {
	t.Helper()
	v, err := e.installer().Install(context.Background(), InstallRequest{Candidate: candidate, Version: version})
	require.NoError(t, err)
	return v
}

func writeEntrypoint(t *testing.T, dir, rel string) {
	t.Helper()
	p := filepath.Join(dir, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte("#!/bin/sh\n"), 0o755))
}

// extractorFunc 让测试用函数替换解压步骤。
type extractorFunc func(ctx context.Context, archivePath, dest string) error

func (f extractorFunc) Extract(ctx context.Context, archivePath, dest string) error {
	return f(ctx, archivePath, dest)
}
