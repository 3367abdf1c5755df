package models

// Scope 表示切换的作用域。
type Scope int

const (
	ScopeGlobal Scope = iota
	ScopeSession
)

func (s Scope) String() string {
	if s == ScopeSession {
		return "session"
	}
	return "global"
}

// SessionID 标识一个 shell 会话，为空表示没有会话。
type SessionID string

// EnvExport 描述 shell 需要导出的环境变化。核心不会直接修改父 shell 的环境，
// 由 shell 集成层负责应用。
type EnvExport struct {
	Candidate string `json:"candidate"`
	Version   string `json:"version"`
	HomeVar   string `json:"home_var"`
	Home      string `json:"home"`
	BinDir    string `json:"bin_dir"`
}

// Pin 是项目文件 .devkitrc 中的一行 candidate=version。
type Pin struct {
	Candidate string `json:"candidate"`
	Version   string `json:"version"`
}
