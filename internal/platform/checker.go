package platform

import (
	"fmt"
	"os"
	"runtime"

	"github.com/liangyou/devkit/pkg/models"
)

// Exotic 是不在支持列表中的平台标签，目录中只有 universal 包可用。
const Exotic = "exotic"

var osTags = map[string]string{
	"linux":   "linux",
	"darwin":  "darwin",
	"windows": "windows",
	"freebsd": "freebsd",
}

var archTags = map[string]string{
	"amd64": "x64",
	"arm64": "arm64",
	"386":   "x32",
	"arm":   "arm32hf",
}

// Checker 提供平台标签并校验安装根目录是否可用。
type Checker struct {
	layout models.Layout
	goos   func() string
	goarch func() string
}

// NewChecker 创建平台检测器。
func NewChecker(cfg models.Config) *Checker {
	return &Checker{
		layout: models.NewLayout(cfg.RootDir),
		goos:   func() string { return runtime.GOOS },
		goarch: func() string { return runtime.GOARCH },
	}
}

// Tag 返回目录使用的平台标签，例如 linuxx64、darwinarm64；未知组合返回 exotic。
func (c *Checker) Tag() string {
	osTag, ok := osTags[c.goos()]
	if !ok {
		return Exotic
	}
	archTag, ok := archTags[c.goarch()]
	if !ok {
		return Exotic
	}
	return osTag + archTag
}

// Validate 校验当前平台与安装目录权限。
func (c *Checker) Validate() error {
	if c.Tag() == Exotic {
		return fmt.Errorf("platform: unsupported platform %s/%s", c.goos(), c.goarch())
	}
	for _, dir := range []string{c.layout.CandidatesDir(), c.layout.TmpDir(), c.layout.VarDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("platform: cannot access install directory %s: %w", dir, err)
		}
	}
	return nil
}
