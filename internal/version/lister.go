package version

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/liangyou/devkit/internal/storage"
	"github.com/liangyou/devkit/pkg/models"
)

// CatalogLister 是列表服务需要的目录能力。
type CatalogLister interface {
	List(ctx context.Context, candidate string) ([]models.CatalogEntry, error)
}

// Listing 是一行列表输出：目录条目与本地安装状态的合并。
type Listing struct {
	Candidate   string `json:"candidate"`
	Version     string `json:"version"`
	Stable      bool   `json:"stable"`
	Installed   bool   `json:"installed"`
	Local       bool   `json:"local"`
	Current     bool   `json:"current"`
	Default     bool   `json:"default"`
	InstallPath string `json:"install_path,omitempty"`
}

// Lister 聚合远程与本地版本信息。
type Lister struct {
	catalog CatalogLister
	storage storage.LocalStorage
}

// NewLister 创建版本列表服务。
func NewLister(catalog CatalogLister, store storage.LocalStorage) *Lister {
	return &Lister{catalog: catalog, storage: store}
}

// Available 合并目录中的版本与本地安装，只存在于本地的版本也会列出。
func (l *Lister) Available(ctx context.Context, candidate string, session models.SessionID) ([]Listing, error) {
	if l.catalog == nil {
		return nil, fmt.Errorf("lister: catalog is required")
	}
	entries, err := l.catalog.List(ctx, candidate)
	if err != nil {
		return nil, err
	}
	local, err := l.Installed(candidate, session)
	if err != nil {
		return nil, err
	}

	byKey := make(map[string]Listing, len(local))
	for _, item := range local {
		byKey[models.Key(item.Candidate, item.Version)] = item
	}

	out := make([]Listing, 0, len(entries)+len(local))
	for _, e := range entries {
		key := models.Key(e.Candidate, e.Version)
		item, ok := byKey[key]
		if !ok {
			item = Listing{Candidate: e.Candidate, Version: e.Version}
		}
		item.Stable = e.Stable
		delete(byKey, key)
		out = append(out, item)
	}
	for _, item := range byKey {
		out = append(out, item)
	}
	sortListings(out)
	return out, nil
}

// Installed 返回本地安装的版本，标记当前版本与全局默认版本。
func (l *Lister) Installed(candidate string, session models.SessionID) ([]Listing, error) {
	if l.storage == nil {
		return nil, fmt.Errorf("lister: storage is required")
	}
	versions, err := l.storage.List(candidate)
	if err != nil {
		return nil, err
	}

	current := map[string]string{}
	defaults := map[string]string{}
	for _, v := range versions {
		if _, seen := defaults[v.Candidate]; seen {
			continue
		}
		def, err := l.storage.GlobalDefault(v.Candidate)
		if err != nil {
			return nil, err
		}
		defaults[v.Candidate] = def
		cur, err := l.storage.Current(v.Candidate, session)
		switch {
		case err == nil:
			current[v.Candidate] = cur.Version
		case errors.Is(err, models.ErrNoneInstalled):
		default:
			return nil, err
		}
	}

	out := make([]Listing, 0, len(versions))
	for _, v := range versions {
		out = append(out, Listing{
			Candidate:   v.Candidate,
			Version:     v.Version,
			Stable:      true,
			Installed:   true,
			Local:       !v.Owned(),
			Current:     current[v.Candidate] == v.Version,
			Default:     defaults[v.Candidate] == v.Version,
			InstallPath: v.InstallPath,
		})
	}
	return out, nil
}

func sortListings(items []Listing) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Candidate != items[j].Candidate {
			return items[i].Candidate < items[j].Candidate
		}
		return models.CompareVersions(items[i].Version, items[j].Version) > 0
	})
}

// FormatListing 格式化一行列表输出：> 当前，* 已安装，+ 本地路径安装。
func FormatListing(item Listing) string {
	marker := " "
	switch {
	case item.Current:
		marker = ">"
	case item.Local:
		marker = "+"
	case item.Installed:
		marker = "*"
	}
	suffix := ""
	if !item.Stable {
		suffix = " (pre-release)"
	}
	if item.Default {
		suffix += " (default)"
	}
	return fmt.Sprintf("%s %s%s", marker, item.Version, suffix)
}

// FormatInstalled 格式化本地安装记录，包含安装路径。
func FormatInstalled(v models.InstalledVersion, current bool) string {
	marker := " "
	if current {
		marker = ">"
	}
	pathInfo := v.InstallPath
	if pathInfo == "" {
		pathInfo = "(unknown path)"
	}
	return fmt.Sprintf("%s %s %s - %s", marker, v.Candidate, v.Version, pathInfo)
}
