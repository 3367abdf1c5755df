package env

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/liangyou/devkit/internal/storage"
	"github.com/liangyou/devkit/pkg/models"
)

const (
	blockStart = "# >>> devkit initialize >>>"
	blockEnd   = "# <<< devkit initialize <<<"

	// SessionVar 保存当前 shell 会话的 ID。
	SessionVar = "DEVKIT_SESSION"
	// DirVar 覆盖 devkit 根目录。
	DirVar = "DEVKIT_DIR"
)

// evalVerbs 是输出 shell 代码、需要由 shell 函数 eval 的子命令。
var evalVerbs = []string{"use", "u", "default", "d", "env", "e", "upgrade", "ug"}

// Manager 把版本切换结果翻译成 POSIX shell 代码，并维护 rc 文件中的初始化块。
// 核心从不直接修改父 shell 的环境。
type Manager struct {
	layout     models.Layout
	executable string

	homeFn    func() (string, error)
	envFn     func(string) string
	sessionFn func() string
}

// NewManager 构造 shell 集成服务。executable 为空时使用 "devkit"。
func NewManager(cfg models.Config, executable string) *Manager {
	if executable == "" {
		executable = "devkit"
	}
	return &Manager{
		layout:     models.NewLayout(cfg.RootDir),
		executable: executable,
		homeFn:     os.UserHomeDir,
		envFn:      os.Getenv,
		sessionFn:  uuid.NewString,
	}
}

// NewSessionID 生成新的会话 ID。
func (m *Manager) NewSessionID() models.SessionID {
	return models.SessionID(m.sessionFn())
}

// SessionFromEnv 读取 DEVKIT_SESSION。
func (m *Manager) SessionFromEnv() models.SessionID {
	return models.SessionID(strings.TrimSpace(m.envFn(SessionVar)))
}

// DetectShell 根据 SHELL 环境变量推断当前 shell。
func (m *Manager) DetectShell() (string, error) {
	shellPath := m.envFn("SHELL")
	if shellPath == "" {
		shellPath = "bash"
	}
	shell := filepath.Base(shellPath)
	switch shell {
	case "bash", "zsh":
		return shell, nil
	default:
		return "", fmt.Errorf("env: unsupported shell %q", shell)
	}
}

// InitScript 返回 shell 启动时 eval 的代码：导出新的会话 ID、定义 devkit 包装函数，
// 并应用各 candidate 的全局默认版本。
func (m *Manager) InitScript(session models.SessionID, exports []models.EnvExport) string {
	var b strings.Builder
	fmt.Fprintf(&b, "export %s=%s\n", DirVar, quote(m.layout.Root))
	fmt.Fprintf(&b, "export %s=%s\n", SessionVar, quote(string(session)))
	b.WriteString("devkit() {\n")
	fmt.Fprintf(&b, "  case \"$1\" in\n    %s)\n", strings.Join(evalVerbs, "|"))
	fmt.Fprintf(&b, "      eval \"$(command %s \"$@\")\" ;;\n", quote(m.executable))
	fmt.Fprintf(&b, "    *)\n      command %s \"$@\" ;;\n  esac\n}\n", quote(m.executable))
	b.WriteString(m.RenderExports(exports))
	return b.String()
}

// RenderExports 生成设置 *_HOME 与 PATH 的语句。PATH 中同一 candidate 的旧条目会先被移除。
func (m *Manager) RenderExports(exports []models.EnvExport) string {
	if len(exports) == 0 {
		return ""
	}
	var b strings.Builder
	path := m.envFn("PATH")
	for _, exp := range exports {
		path = prependPath(m.stripCandidate(path, exp.Candidate), exp.BinDir)
		fmt.Fprintf(&b, "export %s=%s\n", exp.HomeVar, quote(exp.Home))
	}
	fmt.Fprintf(&b, "export PATH=%s\n", quote(path))
	return b.String()
}

// RenderClear 生成撤销 exports 的语句：删除 *_HOME 并从 PATH 中移除对应目录。
func (m *Manager) RenderClear(exports []models.EnvExport) string {
	if len(exports) == 0 {
		return ""
	}
	var b strings.Builder
	path := m.envFn("PATH")
	vars := make([]string, 0, len(exports))
	for _, exp := range exports {
		path = removePathEntry(m.stripCandidate(path, exp.Candidate), exp.BinDir)
		vars = append(vars, exp.HomeVar)
	}
	sort.Strings(vars)
	fmt.Fprintf(&b, "unset %s\n", strings.Join(vars, " "))
	fmt.Fprintf(&b, "export PATH=%s\n", quote(path))
	return b.String()
}

// stripCandidate 移除 PATH 中位于 candidates/<candidate>/ 下的条目。
func (m *Manager) stripCandidate(path, candidate string) string {
	prefix := filepath.Join(m.layout.CandidatesDir(), candidate) + string(os.PathSeparator)
	var kept []string
	for _, entry := range filepath.SplitList(path) {
		if strings.HasPrefix(entry+string(os.PathSeparator), prefix) {
			continue
		}
		kept = append(kept, entry)
	}
	return strings.Join(kept, string(os.PathListSeparator))
}

func prependPath(path, dir string) string {
	path = removePathEntry(path, dir)
	if path == "" {
		return dir
	}
	return dir + string(os.PathListSeparator) + path
}

func removePathEntry(path, dir string) string {
	var kept []string
	for _, entry := range filepath.SplitList(path) {
		if entry == "" || filepath.Clean(entry) == filepath.Clean(dir) {
			continue
		}
		kept = append(kept, entry)
	}
	return strings.Join(kept, string(os.PathListSeparator))
}

// quote 用单引号包裹字符串，适用于任意 POSIX shell。
func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// UpdateShellConfig 在 shell 的 rc 文件中写入（或替换）初始化块，返回 rc 文件路径。
func (m *Manager) UpdateShellConfig(shellType string) (string, error) {
	configPath, err := m.configFileForShell(shellType)
	if err != nil {
		return "", err
	}

	var existing []byte
	if data, err := os.ReadFile(configPath); err == nil {
		existing = data
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("env: read config: %w", err)
	}

	merged := mergeConfig(string(existing), m.buildConfigBlock())
	if err := storage.WriteFileAtomic(configPath, []byte(merged), 0o644); err != nil {
		return "", err
	}
	return configPath, nil
}

func (m *Manager) configFileForShell(shellType string) (string, error) {
	home, err := m.homeFn()
	if err != nil {
		return "", fmt.Errorf("env: home dir: %w", err)
	}

	switch shellType {
	case "bash":
		path := filepath.Join(home, ".bashrc")
		if fileExists(path) {
			return path, nil
		}
		return filepath.Join(home, ".bash_profile"), nil
	case "zsh":
		return filepath.Join(home, ".zshrc"), nil
	default:
		return "", fmt.Errorf("env: unsupported shell %q", shellType)
	}
}

func (m *Manager) buildConfigBlock() string {
	lines := []string{
		blockStart,
		fmt.Sprintf("export %s=%s", DirVar, quote(m.layout.Root)),
		fmt.Sprintf("eval \"$(%s env init)\"", quote(m.executable)),
		blockEnd,
	}
	return strings.Join(lines, "\n")
}

func mergeConfig(existing, block string) string {
	cleaned := removeExistingBlock(existing)
	cleaned = strings.TrimRight(cleaned, "\n")
	if strings.TrimSpace(cleaned) == "" {
		return block + "\n"
	}
	return cleaned + "\n\n" + block + "\n"
}

func removeExistingBlock(content string) string {
	var builder strings.Builder
	skipping := false
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == blockStart {
			skipping = true
			continue
		}
		if trimmed == blockEnd {
			skipping = false
			continue
		}
		if skipping {
			continue
		}
		if line == "" && builder.Len() == 0 {
			continue
		}
		if builder.Len() > 0 {
			builder.WriteByte('\n')
		}
		builder.WriteString(line)
	}
	return strings.Trim(builder.String(), "\n")
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
