package region

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const (
	defaultEndpoint = "https://ipinfo.io/country"
	defaultFallback = "https://ipapi.co/json"
	defaultTimeout  = 3 * time.Second
	defaultFileTTL  = 7 * 24 * time.Hour
)

var errEmptyCountry = errors.New("region: empty country code")

type responseParser func([]byte) (string, error)

// HTTPClient 最小化 HTTP 客户端接口，便于测试替换。
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Detector 探测公网 IP 所在国家，用于 mirror: auto 时选择目录镜像。
// 每次 CLI 调用都是新进程，因此结果除了进程内缓存，还可以落盘。
type Detector struct {
	endpoint         string
	fallbackEndpoint string
	client           HTTPClient
	timeout          time.Duration

	cacheFile string
	fileTTL   time.Duration
	now       func() time.Time

	parsePrimary  responseParser
	parseFallback responseParser

	mu    sync.Mutex
	cache string
}

// Option 用于配置 Detector。
type Option func(*Detector)

// WithEndpoint 设置自定义探测接口地址。
func WithEndpoint(endpoint string) Option {
	return func(d *Detector) {
		if endpoint != "" {
			d.endpoint = endpoint
		}
	}
}

// WithFallbackEndpoint 设置自定义备选接口地址，传空串关闭备选。
func WithFallbackEndpoint(endpoint string) Option {
	return func(d *Detector) {
		d.fallbackEndpoint = endpoint
	}
}

// WithHTTPClient 设置自定义 HTTP 客户端。
func WithHTTPClient(client HTTPClient) Option {
	return func(d *Detector) {
		if client != nil {
			d.client = client
		}
	}
}

// WithTimeout 设置探测请求超时时间。
func WithTimeout(timeout time.Duration) Option {
	return func(d *Detector) {
		if timeout > 0 {
			d.timeout = timeout
		}
	}
}

// WithCacheFile 把探测结果保存到 path，ttl 内的后续进程直接复用。
func WithCacheFile(path string, ttl time.Duration) Option {
	return func(d *Detector) {
		d.cacheFile = path
		if ttl > 0 {
			d.fileTTL = ttl
		}
	}
}

// NewDetector 创建 Detector 实例。
func NewDetector(opts ...Option) *Detector {
	detector := &Detector{
		endpoint:         defaultEndpoint,
		fallbackEndpoint: defaultFallback,
		client:           http.DefaultClient,
		timeout:          defaultTimeout,
		fileTTL:          defaultFileTTL,
		now:              time.Now,
		parsePrimary:     parsePlainCountry,
		parseFallback:    parseJSONCountry,
	}
	for _, opt := range opts {
		opt(detector)
	}
	return detector
}

// CountryCode 返回 ISO 国家代码（如 CN、US）。
func (d *Detector) CountryCode(ctx context.Context) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.cache != "" {
		return d.cache, nil
	}
	if code, ok := d.readCacheFile(); ok {
		d.cache = code
		return code, nil
	}

	code, err := d.lookup(ctx)
	if err != nil {
		return "", err
	}
	d.cache = code
	d.writeCacheFile(code)
	return code, nil
}

func (d *Detector) readCacheFile() (string, bool) {
	if d.cacheFile == "" {
		return "", false
	}
	info, err := os.Stat(d.cacheFile)
	if err != nil || d.now().Sub(info.ModTime()) > d.fileTTL {
		return "", false
	}
	data, err := os.ReadFile(d.cacheFile)
	if err != nil {
		return "", false
	}
	code, err := parsePlainCountry(data)
	if err != nil {
		return "", false
	}
	return code, true
}

// writeCacheFile 尽力写入，失败只意味着下次重新探测。
func (d *Detector) writeCacheFile(code string) {
	if d.cacheFile == "" {
		return
	}
	if err := os.MkdirAll(filepath.Dir(d.cacheFile), 0o755); err != nil {
		return
	}
	_ = os.WriteFile(d.cacheFile, []byte(code+"\n"), 0o644)
}

func (d *Detector) lookup(ctx context.Context) (string, error) {
	if d.client == nil {
		return "", errors.New("region: http client is nil")
	}

	code, err := d.fetchCountry(ctx, d.endpoint, d.parsePrimary)
	if err == nil {
		return code, nil
	}
	if d.fallbackEndpoint == "" {
		return "", err
	}
	fallbackCode, fbErr := d.fetchCountry(ctx, d.fallbackEndpoint, d.parseFallback)
	if fbErr != nil {
		return "", fmt.Errorf("%w (fallback: %v)", err, fbErr)
	}
	return fallbackCode, nil
}

func (d *Detector) fetchCountry(ctx context.Context, endpoint string, parser responseParser) (string, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return "", fmt.Errorf("region: build request: %w", err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("region: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("region: unexpected status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("region: read body: %w", err)
	}
	return parser(data)
}

func parsePlainCountry(data []byte) (string, error) {
	code := strings.ToUpper(strings.TrimSpace(string(data)))
	if code == "" {
		return "", errEmptyCountry
	}
	return code, nil
}

func parseJSONCountry(data []byte) (string, error) {
	var payload struct {
		CountryCode string `json:"country_code"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return "", fmt.Errorf("region: decode response: %w", err)
	}
	return parsePlainCountry([]byte(payload.CountryCode))
}
