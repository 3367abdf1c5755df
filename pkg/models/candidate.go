package models

import (
	"path"
	"strings"
)

// Candidate 描述一个可安装的 SDK 家族，例如 java、gradle。
type Candidate struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name,omitempty"`
	Entrypoint  string `json:"entrypoint,omitempty"` // 相对于安装目录的可执行文件路径，例如 bin/java
	HomeVar     string `json:"home_var,omitempty"`   // 例如 JAVA_HOME
}

// EntrypointPath 返回可执行文件的相对路径，未配置时默认为 bin/<name>。
func (c Candidate) EntrypointPath() string {
	if c.Entrypoint != "" {
		return path.Clean(c.Entrypoint)
	}
	return path.Join("bin", c.Name)
}

// HomeVariable 返回对应的 *_HOME 环境变量名。
func (c Candidate) HomeVariable() string {
	if c.HomeVar != "" {
		return c.HomeVar
	}
	name := strings.ToUpper(c.Name)
	name = strings.NewReplacer("-", "_", ".", "_").Replace(name)
	return name + "_HOME"
}
