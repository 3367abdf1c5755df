package models

import "time"

// Source 表示安装来源。
type Source string

const (
	SourceRemote    Source = "remote"
	SourceLocalPath Source = "local-path"
)

// IntegrityUnverified 标记未做校验的安装（本地路径或目录中无校验值）。
const IntegrityUnverified = "unverified"

// InstalledVersion 是注册表中的一条安装记录。
// 注册完成后安装目录视为不可变，升级会创建新的记录而不是原地修改。
type InstalledVersion struct {
	Candidate   string    `json:"candidate"`
	Version     string    `json:"version"`
	InstallPath string    `json:"install_path"`
	Source      Source    `json:"source"`
	InstalledAt time.Time `json:"installed_at"`
	Integrity   string    `json:"integrity"`
	Entrypoint  string    `json:"entrypoint,omitempty"`
	HomeVar     string    `json:"home_var,omitempty"`
}

// Key 返回 candidate@version 形式的唯一键。
func (v InstalledVersion) Key() string {
	return Key(v.Candidate, v.Version)
}

// Owned 表示安装目录是否归注册表所有（本地路径安装只是引用）。
func (v InstalledVersion) Owned() bool {
	return v.Source != SourceLocalPath
}

// CandidateInfo 还原安装时记录的 Candidate 元数据。
func (v InstalledVersion) CandidateInfo() Candidate {
	return Candidate{Name: v.Candidate, Entrypoint: v.Entrypoint, HomeVar: v.HomeVar}
}

// Key 组合 candidate 与 version。
func Key(candidate, version string) string {
	return candidate + "@" + version
}
