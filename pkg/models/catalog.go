package models

import (
	"strings"
	"time"
)

// PlatformPlaceholder 是下载地址模板中的平台占位符。
const PlatformPlaceholder = "{platform}"

// CatalogEntry 表示远程可安装的 (candidate, version)。
type CatalogEntry struct {
	Candidate   string            `json:"candidate"`
	Version     string            `json:"version"`
	URLTemplate string            `json:"url"`
	Latest      bool              `json:"latest,omitempty"`
	Stable      bool              `json:"stable"`
	Checksums   map[string]string `json:"checksums,omitempty"` // platform -> sha256
}

// DownloadURL 用平台标签展开下载地址模板。
func (e CatalogEntry) DownloadURL(platform string) string {
	return strings.ReplaceAll(e.URLTemplate, PlatformPlaceholder, platform)
}

// Checksum 返回指定平台的 sha256，不存在时返回空串。
func (e CatalogEntry) Checksum(platform string) string {
	if e.Checksums == nil {
		return ""
	}
	if sum, ok := e.Checksums[platform]; ok {
		return sum
	}
	return e.Checksums["universal"]
}

// CatalogSnapshot 是一次完整刷新得到的目录，整体替换，不做合并。
type CatalogSnapshot struct {
	FetchedAt     time.Time      `json:"fetched_at"`
	Broadcast     string         `json:"broadcast,omitempty"`
	DevkitVersion string         `json:"devkit_version,omitempty"` // 远端发布的最新 devkit 版本
	Candidates    []Candidate    `json:"candidates"`
	Entries       []CatalogEntry `json:"entries"`
}

// Candidate 按名称查找 candidate 描述。
func (s CatalogSnapshot) Candidate(name string) (Candidate, bool) {
	for _, c := range s.Candidates {
		if c.Name == name {
			return c, true
		}
	}
	return Candidate{}, false
}

// EntriesOf 返回某个 candidate 的条目，name 为空时返回全部。
func (s CatalogSnapshot) EntriesOf(name string) []CatalogEntry {
	if name == "" {
		return append([]CatalogEntry(nil), s.Entries...)
	}
	var out []CatalogEntry
	for _, e := range s.Entries {
		if e.Candidate == name {
			out = append(out, e)
		}
	}
	return out
}
