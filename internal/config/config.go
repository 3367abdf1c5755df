// Package config 读取并维护 etc/config.yaml。
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/liangyou/devkit/internal/storage"
	"github.com/liangyou/devkit/pkg/models"
)

// 环境变量覆盖。
const (
	EnvDir        = "DEVKIT_DIR"
	EnvOffline    = "DEVKIT_OFFLINE"
	EnvCatalogURL = "DEVKIT_CATALOG_URL"
)

// Default 返回内置默认配置。
func Default() models.Config {
	return models.Config{
		Mirror:          "default",
		CatalogTTL:      24 * time.Hour,
		LockTimeout:     10 * time.Second,
		UninstallPolicy: models.UninstallClear,
		UpgradeScope:    models.UpgradeGlobal,
		SessionTTL:      7 * 24 * time.Hour,
		LogLevel:        "warn",
	}
}

// Loader 定位配置文件并合并默认值、文件内容与环境变量。
type Loader struct {
	root   string
	getenv func(string) string
}

// NewLoader 创建 Loader。根目录取 DEVKIT_DIR，未设置时为 ~/.devkit。
func NewLoader(getenv func(string) string) *Loader {
	if getenv == nil {
		getenv = os.Getenv
	}
	return &Loader{
		root:   models.NewLayout(strings.TrimSpace(getenv(EnvDir))).Root,
		getenv: getenv,
	}
}

// Path 返回配置文件路径。
func (l *Loader) Path() string {
	return models.NewLayout(l.root).ConfigPath()
}

// Load 返回生效配置：默认值 < 配置文件 < 环境变量。
func (l *Loader) Load() (models.Config, error) {
	cfg, err := l.loadFile()
	if err != nil {
		return models.Config{}, err
	}

	if v := strings.TrimSpace(l.getenv(EnvOffline)); v != "" {
		offline, err := strconv.ParseBool(v)
		if err != nil {
			return models.Config{}, fmt.Errorf("config: %s: %w", EnvOffline, err)
		}
		cfg.Offline = offline
	}
	if v := strings.TrimSpace(l.getenv(EnvCatalogURL)); v != "" {
		cfg.CatalogURL = v
	}
	return cfg, nil
}

// loadFile 只合并默认值与配置文件，不含环境变量覆盖，用于回写。
func (l *Loader) loadFile() (models.Config, error) {
	cfg := Default()
	data, err := os.ReadFile(l.Path())
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return models.Config{}, fmt.Errorf("config: read %s: %w", l.Path(), err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return models.Config{}, fmt.Errorf("config: decode %s: %w", l.Path(), err)
		}
	}
	if cfg.RootDir == "" {
		cfg.RootDir = l.root
	}
	if err := Validate(cfg); err != nil {
		return models.Config{}, err
	}
	return cfg, nil
}

// Save 原子地写回配置文件。
func (l *Loader) Save(cfg models.Config) error {
	if err := Validate(cfg); err != nil {
		return err
	}
	if cfg.RootDir == l.root {
		cfg.RootDir = ""
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("config: encode: %w", err)
	}
	return storage.WriteFileAtomic(l.Path(), data, 0o644)
}

// SetOffline 打开或关闭离线模式并持久化。
func (l *Loader) SetOffline(enabled bool) error {
	cfg, err := l.loadFile()
	if err != nil {
		return err
	}
	cfg.Offline = enabled
	return l.Save(cfg)
}

// Set 按 yaml 键名修改一项配置并持久化，值按 yaml 语法解析。
func (l *Loader) Set(key, value string) error {
	cfg, err := l.loadFile()
	if err != nil {
		return err
	}

	raw, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("config: encode: %w", err)
	}
	fields := map[string]any{}
	if err := yaml.Unmarshal(raw, &fields); err != nil {
		return fmt.Errorf("config: decode: %w", err)
	}
	if !knownKey(key) {
		return fmt.Errorf("config: unknown key %q", key)
	}
	var parsed any
	if err := yaml.Unmarshal([]byte(value), &parsed); err != nil {
		return fmt.Errorf("config: value for %s: %w", key, err)
	}
	fields[key] = parsed

	raw, err = yaml.Marshal(fields)
	if err != nil {
		return fmt.Errorf("config: encode: %w", err)
	}
	updated := Default()
	if err := yaml.Unmarshal(raw, &updated); err != nil {
		return fmt.Errorf("config: value for %s: %w", key, err)
	}
	if updated.RootDir == "" {
		updated.RootDir = l.root
	}
	return l.Save(updated)
}

// Keys 返回支持的配置键。
func Keys() []string {
	return []string{
		"root_dir", "catalog_url", "mirror", "catalog_ttl", "offline", "strict_install",
		"keep_archives", "lock_timeout", "uninstall_policy", "upgrade_scope", "session_ttl", "log_level",
	}
}

func knownKey(key string) bool {
	for _, k := range Keys() {
		if k == key {
			return true
		}
	}
	return false
}

// Validate 检查枚举类配置的取值。
func Validate(cfg models.Config) error {
	switch cfg.UninstallPolicy {
	case "", models.UninstallClear, models.UninstallPromoteLatest:
	default:
		return fmt.Errorf("config: uninstall_policy must be %q or %q, got %q", models.UninstallClear, models.UninstallPromoteLatest, cfg.UninstallPolicy)
	}
	switch cfg.UpgradeScope {
	case "", models.UpgradeGlobal, models.UpgradeSession:
	default:
		return fmt.Errorf("config: upgrade_scope must be %q or %q, got %q", models.UpgradeGlobal, models.UpgradeSession, cfg.UpgradeScope)
	}
	switch cfg.Mirror {
	case "", "default", "auto", "cn":
	default:
		return fmt.Errorf("config: mirror must be default, auto or cn, got %q", cfg.Mirror)
	}
	switch strings.ToLower(cfg.LogLevel) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unknown log_level %q", cfg.LogLevel)
	}
	return nil
}
