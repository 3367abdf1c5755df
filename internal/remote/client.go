package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/liangyou/devkit/pkg/models"
)

const (
	defaultBaseURL  = "https://api.devkit.io/2/catalog.json"
	defaultCacheTTL = 5 * time.Minute
	defaultAttempts = 3
)

// RemoteClient 定义远程目录源应具备的能力。
type RemoteClient interface {
	FetchCatalog(ctx context.Context) (models.CatalogSnapshot, error)
}

// HTTPClient 描述最小化的 HTTP 客户端接口，方便测试时替换。
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Option 用于配置 Client。
type Option func(*Client)

// WithBaseURL 设置自定义目录地址。
func WithBaseURL(base string) Option {
	return func(c *Client) {
		if base != "" {
			c.baseURL = base
		}
	}
}

// WithHTTPClient 设置 HTTP 客户端。
func WithHTTPClient(h HTTPClient) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// WithCacheTTL 设置进程内缓存时间。
func WithCacheTTL(ttl time.Duration) Option {
	return func(c *Client) {
		if ttl > 0 {
			c.cacheTTL = ttl
		}
	}
}

// WithAttempts 设置网络错误时的最大尝试次数。
func WithAttempts(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.attempts = n
		}
	}
}

// Client 实现 RemoteClient 接口。
type Client struct {
	baseURL    string
	httpClient HTTPClient
	cacheTTL   time.Duration
	attempts   int
	backoff    func(attempt int) time.Duration

	sf       singleflight.Group
	mu       sync.Mutex
	cached   *models.CatalogSnapshot
	cachedAt time.Time
}

// NewClient 创建远程目录客户端。
func NewClient(opts ...Option) *Client {
	c := &Client{
		baseURL:    defaultBaseURL,
		httpClient: http.DefaultClient,
		cacheTTL:   defaultCacheTTL,
		attempts:   defaultAttempts,
		backoff: func(attempt int) time.Duration {
			return time.Duration(100*(1<<attempt)) * time.Millisecond
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL 返回当前使用的目录地址。
func (c *Client) BaseURL() string { return c.baseURL }

// FetchCatalog 获取远程目录；并发调用合并为一次请求。
// 网络不可达时返回的错误匹配 models.ErrNetworkUnavailable。
func (c *Client) FetchCatalog(ctx context.Context) (models.CatalogSnapshot, error) {
	if snap, ok := c.getCached(); ok {
		return snap, nil
	}

	v, err, _ := c.sf.Do("catalog", func() (any, error) {
		if snap, ok := c.getCached(); ok {
			return snap, nil
		}
		body, err := c.get(ctx)
		if err != nil {
			return nil, err
		}
		snap, err := parseCatalog(body)
		if err != nil {
			return nil, err
		}
		c.setCache(snap)
		return snap, nil
	})
	if err != nil {
		return models.CatalogSnapshot{}, err
	}
	return v.(models.CatalogSnapshot), nil
}

func (c *Client) get(ctx context.Context) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt < c.attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.backoff(attempt - 1)):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL, http.NoBody)
		if err != nil {
			return nil, fmt.Errorf("remote: build request: %w", err)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			continue
		}

		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusNotFound:
			return nil, models.NewError(models.ErrNotFound, "refresh", "", "", fmt.Errorf("remote: %s returned 404", c.baseURL))
		case resp.StatusCode >= 500:
			lastErr = fmt.Errorf("remote: unexpected status %d", resp.StatusCode)
			continue
		case resp.StatusCode != http.StatusOK:
			return nil, fmt.Errorf("remote: unexpected status %d", resp.StatusCode)
		}
		if readErr != nil {
			lastErr = fmt.Errorf("remote: read body: %w", readErr)
			continue
		}
		return body, nil
	}
	return nil, models.NewError(models.ErrNetworkUnavailable, "refresh", "", "", lastErr)
}

// catalogDocument 是远程目录的 JSON 结构。
type catalogDocument struct {
	Broadcast     string              `json:"broadcast"`
	DevkitVersion string              `json:"devkit_version"`
	Candidates    []candidateDocument `json:"candidates"`
}

type candidateDocument struct {
	Name        string            `json:"name"`
	DisplayName string            `json:"display_name"`
	Entrypoint  string            `json:"entrypoint"`
	HomeVar     string            `json:"home_var"`
	Versions    []versionDocument `json:"versions"`
}

type versionDocument struct {
	Version   string            `json:"version"`
	URL       string            `json:"url"`
	Stable    *bool             `json:"stable"`
	Latest    bool              `json:"latest"`
	Checksums map[string]string `json:"checksums"`
}

func parseCatalog(data []byte) (models.CatalogSnapshot, error) {
	var doc catalogDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return models.CatalogSnapshot{}, fmt.Errorf("remote: decode catalog: %w", err)
	}

	snap := models.CatalogSnapshot{
		Broadcast:     strings.TrimSpace(doc.Broadcast),
		DevkitVersion: strings.TrimSpace(doc.DevkitVersion),
	}
	for _, cd := range doc.Candidates {
		name := strings.TrimSpace(cd.Name)
		if name == "" {
			continue
		}
		snap.Candidates = append(snap.Candidates, models.Candidate{
			Name:        name,
			DisplayName: cd.DisplayName,
			Entrypoint:  cd.Entrypoint,
			HomeVar:     cd.HomeVar,
		})
		for _, vd := range cd.Versions {
			if strings.TrimSpace(vd.Version) == "" || vd.URL == "" {
				continue
			}
			stable := vd.Stable == nil || *vd.Stable
			snap.Entries = append(snap.Entries, models.CatalogEntry{
				Candidate:   name,
				Version:     strings.TrimSpace(vd.Version),
				URLTemplate: vd.URL,
				Latest:      vd.Latest,
				Stable:      stable,
				Checksums:   vd.Checksums,
			})
		}
	}
	if len(snap.Candidates) == 0 && len(doc.Candidates) > 0 {
		return models.CatalogSnapshot{}, errors.New("remote: catalog has no valid candidates")
	}

	sort.Slice(snap.Candidates, func(i, j int) bool { return snap.Candidates[i].Name < snap.Candidates[j].Name })
	sort.SliceStable(snap.Entries, func(i, j int) bool {
		if snap.Entries[i].Candidate != snap.Entries[j].Candidate {
			return snap.Entries[i].Candidate < snap.Entries[j].Candidate
		}
		return models.CompareVersions(snap.Entries[i].Version, snap.Entries[j].Version) > 0
	})
	return snap, nil
}

func (c *Client) getCached() (models.CatalogSnapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cached == nil {
		return models.CatalogSnapshot{}, false
	}
	if c.cacheTTL > 0 && time.Since(c.cachedAt) > c.cacheTTL {
		c.cached = nil
		return models.CatalogSnapshot{}, false
	}
	return *c.cached, true
}

func (c *Client) setCache(snap models.CatalogSnapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cached = &snap
	c.cachedAt = time.Now()
}
