package models

import (
	"os"
	"path/filepath"
)

// Layout 计算 devkit 根目录下各类文件的位置。
type Layout struct {
	Root string
}

// DefaultRoot 返回默认根目录 ~/.devkit，无法获取主目录时退回临时目录。
func DefaultRoot() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".devkit")
	}
	return filepath.Join(os.TempDir(), "devkit")
}

// NewLayout 以 root 构造布局，root 为空时使用默认根目录。
func NewLayout(root string) Layout {
	if root == "" {
		root = DefaultRoot()
	}
	return Layout{Root: root}
}

func (l Layout) CandidatesDir() string { return filepath.Join(l.Root, "candidates") }
func (l Layout) ArchivesDir() string   { return filepath.Join(l.Root, "archives") }
func (l Layout) TmpDir() string        { return filepath.Join(l.Root, "tmp") }
func (l Layout) VarDir() string        { return filepath.Join(l.Root, "var") }
func (l Layout) IndexPath() string     { return filepath.Join(l.VarDir(), "registry.json") }
func (l Layout) LockPath() string      { return filepath.Join(l.VarDir(), "registry.lock") }
func (l Layout) CatalogPath() string   { return filepath.Join(l.VarDir(), "catalog.json") }
func (l Layout) SessionsDir() string   { return filepath.Join(l.VarDir(), "sessions") }
func (l Layout) LocksDir() string      { return filepath.Join(l.VarDir(), "locks") }
func (l Layout) VersionFile() string   { return filepath.Join(l.VarDir(), "version") }
func (l Layout) BroadcastPath() string { return filepath.Join(l.VarDir(), "broadcast") }
func (l Layout) ConfigPath() string    { return filepath.Join(l.Root, "etc", "config.yaml") }

// VersionDir 返回某个版本的安装目录。
func (l Layout) VersionDir(candidate, version string) string {
	return filepath.Join(l.CandidatesDir(), candidate, version)
}

// CurrentLink 返回全局默认版本的符号链接位置。
func (l Layout) CurrentLink(candidate string) string {
	return filepath.Join(l.CandidatesDir(), candidate, "current")
}

// SessionPath 返回会话覆盖文件的位置。
func (l Layout) SessionPath(id SessionID) string {
	return filepath.Join(l.SessionsDir(), string(id)+".json")
}

// InstallLockPath 返回某个 (candidate, version) 安装锁的位置。
func (l Layout) InstallLockPath(candidate, version string) string {
	return filepath.Join(l.LocksDir(), Key(candidate, version)+".lock")
}
