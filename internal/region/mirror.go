package region

import (
	"context"
	"strings"
)

// MirrorConfig 描述目录地址配置。
type MirrorConfig struct {
	Name       string
	CatalogURL string
}

var (
	// DefaultMirror 表示默认官方源。
	DefaultMirror = MirrorConfig{
		Name:       "default",
		CatalogURL: "https://api.devkit.io/2/catalog.json",
	}
	// ChinaMirror 表示国内镜像源。
	ChinaMirror = MirrorConfig{
		Name:       "cn",
		CatalogURL: "https://mirrors.devkit.cn/2/catalog.json",
	}
)

// CountryCoder 抽象国家代码探测，Detector 实现了它。
type CountryCoder interface {
	CountryCode(ctx context.Context) (string, error)
}

// SelectMirror 根据国家代码返回镜像配置。
func SelectMirror(countryCode string) MirrorConfig {
	if strings.EqualFold(strings.TrimSpace(countryCode), "CN") {
		return ChinaMirror
	}
	return DefaultMirror
}

// Resolve 根据配置项 mirror 选择镜像：cn 固定国内源，auto 按探测结果选择，其他值使用默认源。
// 探测失败时退回默认源。
func Resolve(ctx context.Context, mode string, detector CountryCoder) MirrorConfig {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "cn":
		return ChinaMirror
	case "auto":
		if detector == nil {
			return DefaultMirror
		}
		code, err := detector.CountryCode(ctx)
		if err != nil {
			return DefaultMirror
		}
		return SelectMirror(code)
	default:
		return DefaultMirror
	}
}
