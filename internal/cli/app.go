package cli

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/liangyou/devkit/internal/flush"
	"github.com/liangyou/devkit/internal/version"
	"github.com/liangyou/devkit/pkg/models"
)

// InstallService 描述安装能力。
type InstallService interface {
	Install(ctx context.Context, req version.InstallRequest) (models.InstalledVersion, error)
}

// UninstallService 描述卸载能力。
type UninstallService interface {
	Uninstall(ctx context.Context, candidate, version string, force bool) (models.InstalledVersion, error)
}

// ListService 描述版本查询能力。
type ListService interface {
	Available(ctx context.Context, candidate string, session models.SessionID) ([]version.Listing, error)
	Installed(candidate string, session models.SessionID) ([]version.Listing, error)
}

// SwitchService 描述版本切换能力。
type SwitchService interface {
	Switch(ctx context.Context, candidate, version string, scope models.Scope, session models.SessionID) (*models.EnvExport, error)
	Resolve(candidate string, session models.SessionID) (*models.EnvExport, error)
	ResolveAll(session models.SessionID) ([]models.EnvExport, error)
}

// UpgradeService 描述升级能力。
type UpgradeService interface {
	Upgrade(ctx context.Context, candidate string, session models.SessionID) ([]version.Outdated, error)
}

// ProjectService 安装 .devkitrc 中固定的版本。
type ProjectService interface {
	Install(ctx context.Context, pins []models.Pin, session models.SessionID) ([]models.EnvExport, error)
}

// RegistryService 是命令直接读取的注册表能力。
type RegistryService interface {
	Get(candidate, version string) (models.InstalledVersion, error)
	GlobalDefault(candidate string) (string, error)
	ClearSession(session models.SessionID, candidate string) error
}

// CatalogService 描述目录刷新与附带信息。
type CatalogService interface {
	Refresh(ctx context.Context) error
	Offline() bool
	Broadcast() (string, error)
	LatestDevkitVersion() string
}

// ShellService 生成 shell 代码并维护 rc 文件。
type ShellService interface {
	NewSessionID() models.SessionID
	SessionFromEnv() models.SessionID
	InitScript(session models.SessionID, exports []models.EnvExport) string
	RenderExports(exports []models.EnvExport) string
	RenderClear(exports []models.EnvExport) string
	DetectShell() (string, error)
	UpdateShellConfig(shell string) (string, error)
}

// ConfigService 读写 etc/config.yaml。
type ConfigService interface {
	Path() string
	Load() (models.Config, error)
	SetOffline(enabled bool) error
	Set(key, value string) error
}

// FlushService 清理缓存与过期会话。
type FlushService interface {
	Flush(target flush.Target) (int, error)
	FlushAll() (map[flush.Target]int, error)
	PruneSessions(keep models.SessionID) (int, error)
}

// Services 汇总 CLI 依赖的全部服务。
type Services struct {
	Installer   InstallService
	Uninstaller UninstallService
	Lister      ListService
	Switcher    SwitchService
	Upgrader    UpgradeService
	Project     ProjectService
	Registry    RegistryService
	Catalog     CatalogService
	Shell       ShellService
	Config      ConfigService
	Flusher     FlushService
}

// App 负责 CLI 命令解析与分发。
// 会话类命令的 shell 代码写到 out，提示信息写到 errOut。
type App struct {
	out     io.Writer
	errOut  io.Writer
	version string
	svc     Services
	workDir func() (string, error)
	styles  styles

	jsonMode bool
	verbose  bool
	session  string
}

// NewApp 创建 CLI 应用实例。
func NewApp(out, errOut io.Writer, svc Services, version string) *App {
	if out == nil {
		out = os.Stdout
	}
	if errOut == nil {
		errOut = os.Stderr
	}
	return &App{
		out:     out,
		errOut:  errOut,
		version: version,
		svc:     svc,
		workDir: os.Getwd,
		styles:  newStyles(lipgloss.NewRenderer(out)),
	}
}

// Run 解析参数并执行命令。
func (a *App) Run(ctx context.Context, args []string) error {
	root := a.rootCommand()
	root.SetArgs(args)
	root.SetOut(a.out)
	root.SetErr(a.errOut)
	return root.ExecuteContext(ctx)
}

// PreParse 只解析全局标志，供 main 在构造服务之前决定日志级别。
func PreParse(args []string) (jsonMode, verbose bool) {
	for _, arg := range args {
		switch arg {
		case "--json":
			jsonMode = true
		case "--verbose":
			verbose = true
		case "--":
			return
		}
	}
	return
}

func (a *App) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "devkit",
		Short:         "devkit - SDK version manager",
		Long:          "Install, switch and manage multiple versions of developer SDKs side by side.",
		Args:          usageArgs(cobra.NoArgs),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageError{err}
	})

	flags := root.PersistentFlags()
	flags.BoolVar(&a.jsonMode, "json", false, "print machine-readable JSON results")
	flags.BoolVar(&a.verbose, "verbose", false, "enable debug logging")
	flags.StringVar(&a.session, "session", "", "session id (defaults to $DEVKIT_SESSION)")

	root.AddCommand(
		a.installCommand(),
		a.uninstallCommand(),
		a.listCommand(),
		a.useCommand(),
		a.defaultCommand(),
		a.currentCommand(),
		a.envCommand(),
		a.upgradeCommand(),
		a.offlineCommand(),
		a.flushCommand(),
		a.homeCommand(),
		a.updateCommand(),
		a.broadcastCommand(),
		a.configCommand(),
		a.versionCommand(),
	)
	return root
}

// currentSession 返回 --session，未指定时读取 DEVKIT_SESSION。
func (a *App) currentSession() models.SessionID {
	if s := strings.TrimSpace(a.session); s != "" {
		return models.SessionID(s)
	}
	if a.svc.Shell != nil {
		return a.svc.Shell.SessionFromEnv()
	}
	return ""
}

// requireSession 返回当前会话，没有会话时返回 ErrNoSession。
func (a *App) requireSession(op string) (models.SessionID, error) {
	session := a.currentSession()
	if session == "" {
		return "", models.NewError(models.ErrNoSession, op, "", "",
			errors.New("DEVKIT_SESSION is not set, add `eval \"$(devkit env init)\"` to your shell rc"))
	}
	return session, nil
}

func (a *App) unavailable(name string) error {
	return errors.New(name + " is unavailable")
}
