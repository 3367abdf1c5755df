package models

import "time"

// UninstallPolicy 决定强制卸载全局默认版本后的行为。
type UninstallPolicy string

const (
	UninstallClear         UninstallPolicy = "clear"
	UninstallPromoteLatest UninstallPolicy = "promote-latest"
)

// UpgradeScope 决定 upgrade 会移动哪些当前指针。
type UpgradeScope string

const (
	UpgradeGlobal  UpgradeScope = "global"
	UpgradeSession UpgradeScope = "session"
)

// Config 保存 devkit 的全局配置，对应 etc/config.yaml。
type Config struct {
	RootDir         string          `yaml:"root_dir,omitempty"`
	CatalogURL      string          `yaml:"catalog_url,omitempty"`
	Mirror          string          `yaml:"mirror,omitempty"` // default | auto | cn
	CatalogTTL      time.Duration   `yaml:"catalog_ttl,omitempty"`
	Offline         bool            `yaml:"offline"`
	StrictInstall   bool            `yaml:"strict_install"`
	KeepArchives    bool            `yaml:"keep_archives"`
	LockTimeout     time.Duration   `yaml:"lock_timeout,omitempty"`
	UninstallPolicy UninstallPolicy `yaml:"uninstall_policy,omitempty"`
	UpgradeScope    UpgradeScope    `yaml:"upgrade_scope,omitempty"`
	SessionTTL      time.Duration   `yaml:"session_ttl,omitempty"`
	LogLevel        string          `yaml:"log_level,omitempty"`
}
