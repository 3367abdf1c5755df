package version

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/liangyou/devkit/pkg/models"
)

// ProgressFunc 在下载过程中回调当前已完成的字节数以及总字节数（未知时为 -1）。
type ProgressFunc func(downloaded, total int64)

// Fetcher 把 URL 下载为本地临时文件。
type Fetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}

// HTTPClient 定义 Downloader 所需的 HTTP 客户端能力。
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Downloader 把压缩包下载到 tmp/ 下的私有临时文件，不持有任何锁。
type Downloader struct {
	httpClient   HTTPClient
	tmpDir       string
	progressFunc ProgressFunc
}

// DownloaderOption 配置 Downloader。
type DownloaderOption func(*Downloader)

// WithHTTPClient 指定自定义 HTTP 客户端。
func WithHTTPClient(client HTTPClient) DownloaderOption {
	return func(d *Downloader) {
		if client != nil {
			d.httpClient = client
		}
	}
}

// WithTmpDir 指定下载使用的临时目录。
func WithTmpDir(dir string) DownloaderOption {
	return func(d *Downloader) {
		if dir != "" {
			d.tmpDir = dir
		}
	}
}

// WithProgressFunc 指定进度回调。
func WithProgressFunc(fn ProgressFunc) DownloaderOption {
	return func(d *Downloader) {
		d.progressFunc = fn
	}
}

// NewDownloader 创建 Downloader，默认下载到 <root>/tmp。
func NewDownloader(cfg models.Config, opts ...DownloaderOption) *Downloader {
	d := &Downloader{
		httpClient: http.DefaultClient,
		tmpDir:     models.NewLayout(cfg.RootDir).TmpDir(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Fetch 下载 url 并返回临时文件路径，调用方负责删除。
// 404 返回 models.ErrNotFound，连接失败或 5xx 返回 models.ErrNetworkUnavailable。
func (d *Downloader) Fetch(ctx context.Context, url string) (string, error) {
	if err := os.MkdirAll(d.tmpDir, 0o755); err != nil {
		return "", fmt.Errorf("downloader: create dir: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return "", fmt.Errorf("downloader: build request: %w", err)
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", models.NewError(models.ErrNetworkUnavailable, "download", "", "", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return "", models.NewError(models.ErrNotFound, "download", "", "", fmt.Errorf("%s returned 404", url))
	case resp.StatusCode >= 500:
		return "", models.NewError(models.ErrNetworkUnavailable, "download", "", "", fmt.Errorf("unexpected status %d", resp.StatusCode))
	case resp.StatusCode != http.StatusOK:
		return "", fmt.Errorf("downloader: unexpected status %d", resp.StatusCode)
	}

	tempFile, err := os.CreateTemp(d.tmpDir, "download-*.tmp")
	if err != nil {
		return "", fmt.Errorf("downloader: temp file: %w", err)
	}
	tempPath := tempFile.Name()
	keep := false
	defer func() {
		if !keep {
			tempFile.Close()
			os.Remove(tempPath)
		}
	}()

	reader := d.wrapProgress(resp.Body, resp.ContentLength)
	if _, err := io.Copy(tempFile, reader); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", models.NewError(models.ErrNetworkUnavailable, "download", "", "", fmt.Errorf("write file: %w", err))
	}
	if err := tempFile.Sync(); err != nil {
		return "", fmt.Errorf("downloader: sync file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return "", fmt.Errorf("downloader: close file: %w", err)
	}

	keep = true
	return tempPath, nil
}

func (d *Downloader) wrapProgress(reader io.Reader, total int64) io.Reader {
	if d.progressFunc == nil {
		return reader
	}
	return &progressReader{r: reader, total: total, report: d.progressFunc}
}

// fileSHA256 返回文件内容的十六进制 sha256。
func fileSHA256(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("downloader: open file: %w", err)
	}
	defer file.Close()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, file); err != nil {
		return "", fmt.Errorf("downloader: hash file: %w", err)
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// verifyChecksum 校验下载内容。expected 为空时返回 unverified 标记。
func verifyChecksum(path, expected string) (string, error) {
	expected = strings.TrimPrefix(strings.TrimSpace(expected), "sha256:")
	if expected == "" {
		return models.IntegrityUnverified, nil
	}
	actual, err := fileSHA256(path)
	if err != nil {
		return "", err
	}
	if !strings.EqualFold(actual, expected) {
		return "", models.NewError(models.ErrCorruptArchive, "verify", "", "",
			errors.New("checksum mismatch, got "+actual+" want "+strings.ToLower(expected)))
	}
	return "sha256:" + actual, nil
}

type progressReader struct {
	r      io.Reader
	total  int64
	read   int64
	report ProgressFunc
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.read += int64(n)
		p.report(p.read, p.total)
	}
	return n, err
}
