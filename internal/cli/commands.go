package cli

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/liangyou/devkit/internal/env"
	"github.com/liangyou/devkit/internal/flush"
	"github.com/liangyou/devkit/internal/version"
	"github.com/liangyou/devkit/pkg/models"
)

type installResult struct {
	Installed models.InstalledVersion `json:"installed"`
	Default   bool                    `json:"default"`
}

func (a *App) installCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "install <candidate> [version] [local-path]",
		Aliases: []string{"i"},
		Short:   "Install a candidate version (latest stable when version is omitted)",
		Args:    usageArgs(cobra.RangeArgs(1, 3)),
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.svc.Installer == nil {
				return a.unavailable("install")
			}
			req := version.InstallRequest{Candidate: args[0]}
			if len(args) > 1 {
				req.Version = args[1]
			}
			if len(args) > 2 {
				req.LocalPath = args[2]
			}
			installed, err := a.svc.Installer.Install(cmd.Context(), req)
			if err != nil {
				return err
			}
			madeDefault, err := a.adoptAsDefault(cmd.Context(), installed)
			if err != nil {
				return err
			}
			a.print(installResult{Installed: installed, Default: madeDefault}, func() {
				fmt.Fprintf(a.out, "Installed %s %s at %s\n", installed.Candidate, installed.Version, installed.InstallPath)
				if madeDefault {
					fmt.Fprintf(a.out, "Set %s %s as the global default\n", installed.Candidate, installed.Version)
				}
			})
			return nil
		},
	}
}

// adoptAsDefault 在 candidate 还没有全局默认版本时把刚安装的版本设为默认。
func (a *App) adoptAsDefault(ctx context.Context, v models.InstalledVersion) (bool, error) {
	if a.svc.Registry == nil || a.svc.Switcher == nil {
		return false, nil
	}
	def, err := a.svc.Registry.GlobalDefault(v.Candidate)
	if err != nil || def != "" {
		return false, err
	}
	if _, err := a.svc.Switcher.Switch(ctx, v.Candidate, v.Version, models.ScopeGlobal, ""); err != nil {
		return false, err
	}
	return true, nil
}

func (a *App) uninstallCommand() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:     "uninstall <candidate> <version>",
		Aliases: []string{"rm"},
		Short:   "Remove an installed version",
		Args:    usageArgs(cobra.ExactArgs(2)),
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.svc.Uninstaller == nil {
				return a.unavailable("uninstall")
			}
			removed, err := a.svc.Uninstaller.Uninstall(cmd.Context(), args[0], args[1], force)
			if err != nil {
				return err
			}
			a.print(removed, func() {
				fmt.Fprintf(a.out, "Uninstalled %s %s\n", removed.Candidate, removed.Version)
				if !removed.Owned() {
					fmt.Fprintf(a.out, "Local installation kept at %s\n", removed.InstallPath)
				}
			})
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "remove even if it is the global default")
	return cmd
}

func (a *App) listCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "list [candidate]",
		Aliases: []string{"ls"},
		Short:   "List available versions of a candidate, or installed versions of all candidates",
		Args:    usageArgs(cobra.MaximumNArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.svc.Lister == nil {
				return a.unavailable("list")
			}
			session := a.currentSession()
			if len(args) == 0 {
				items, err := a.svc.Lister.Installed("", session)
				if err != nil {
					return err
				}
				a.print(items, func() { a.printInstalled(items) })
				return nil
			}

			items, err := a.svc.Lister.Available(cmd.Context(), args[0], session)
			if err != nil {
				return err
			}
			a.print(items, func() {
				if len(items) == 0 {
					fmt.Fprintf(a.out, "No %s versions available.\n", args[0])
					return
				}
				fmt.Fprintf(a.out, "Available %s versions:\n", args[0])
				for _, item := range items {
					fmt.Fprintf(a.out, "  %s\n", a.renderListing(item))
				}
				fmt.Fprintln(a.out, "\n> - current  * - installed  + - local version")
			})
			return nil
		},
	}
}

func (a *App) printInstalled(items []version.Listing) {
	if len(items) == 0 {
		fmt.Fprintln(a.out, "No versions installed.")
		return
	}
	fmt.Fprintln(a.out, "Installed versions:")
	last := ""
	for _, item := range items {
		if item.Candidate != last {
			fmt.Fprintf(a.out, "%s:\n", item.Candidate)
			last = item.Candidate
		}
		fmt.Fprintf(a.out, "  %s\n", a.renderListing(item))
	}
}

func (a *App) useCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "use <candidate> <version>",
		Aliases: []string{"u"},
		Short:   "Use a version in the current shell session only",
		Args:    usageArgs(cobra.ExactArgs(2)),
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.svc.Switcher == nil {
				return a.unavailable("use")
			}
			session, err := a.requireSession("use")
			if err != nil {
				return err
			}
			exp, err := a.svc.Switcher.Switch(cmd.Context(), args[0], args[1], models.ScopeSession, session)
			if err != nil {
				return err
			}
			a.emitExports([]models.EnvExport{*exp})
			a.notice("Using %s %s in this shell.", exp.Candidate, exp.Version)
			return nil
		},
	}
}

func (a *App) defaultCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "default <candidate> [version]",
		Aliases: []string{"d"},
		Short:   "Show or set the global default version",
		Args:    usageArgs(cobra.RangeArgs(1, 2)),
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.svc.Registry == nil || a.svc.Switcher == nil {
				return a.unavailable("default")
			}
			candidate := args[0]
			if len(args) == 1 {
				def, err := a.svc.Registry.GlobalDefault(candidate)
				if err != nil {
					return err
				}
				if def == "" {
					return models.NewError(models.ErrNoneInstalled, "default", candidate, "", errors.New("no global default configured"))
				}
				a.print(map[string]string{"candidate": candidate, "version": def}, func() {
					fmt.Fprintf(a.errOut, "Default %s version: %s\n", candidate, def)
				})
				return nil
			}

			if _, err := a.svc.Switcher.Switch(cmd.Context(), candidate, args[1], models.ScopeGlobal, ""); err != nil {
				return err
			}
			// 当前 shell 没有会话覆盖时新的默认版本立即生效。
			exp, err := a.svc.Switcher.Resolve(candidate, a.currentSession())
			if err != nil {
				return err
			}
			a.emitExports([]models.EnvExport{*exp})
			a.notice("Default %s version set to %s.", candidate, args[1])
			return nil
		},
	}
}

func (a *App) currentCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "current [candidate]",
		Aliases: []string{"c"},
		Short:   "Show the versions in use",
		Args:    usageArgs(cobra.MaximumNArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.svc.Switcher == nil {
				return a.unavailable("current")
			}
			session := a.currentSession()
			var exports []models.EnvExport
			if len(args) == 1 {
				exp, err := a.svc.Switcher.Resolve(args[0], session)
				if err != nil {
					return err
				}
				exports = append(exports, *exp)
			} else {
				all, err := a.svc.Switcher.ResolveAll(session)
				if err != nil {
					return err
				}
				exports = all
			}
			a.print(exports, func() {
				if len(exports) == 0 {
					fmt.Fprintln(a.out, "No candidates in use.")
					return
				}
				for _, exp := range exports {
					fmt.Fprintf(a.out, "Using %s version %s\n", exp.Candidate, exp.Version)
				}
			})
			return nil
		},
	}
}

func (a *App) envCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "env",
		Aliases: []string{"e"},
		Short:   "Apply the versions pinned in ./" + env.RCFileName + " to this shell (same as `env install`)",
		Args:    usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.envInstall(cmd.Context())
		},
	}

	var writeRC bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Print the shell initialization code (eval it from your shell rc)",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			if writeRC {
				return a.writeShellConfig()
			}
			return a.envInit()
		},
	}
	initCmd.Flags().BoolVar(&writeRC, "write-rc", false, "add the initialization block to your shell rc file instead of printing it")

	cmd.AddCommand(
		initCmd,
		&cobra.Command{
			Use:   "install",
			Short: "Install and use the versions pinned in ./" + env.RCFileName,
			Args:  usageArgs(cobra.NoArgs),
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.envInstall(cmd.Context())
			},
		},
		&cobra.Command{
			Use:   "clear",
			Short: "Drop this shell's overrides and return to the global defaults",
			Args:  usageArgs(cobra.NoArgs),
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.envClear()
			},
		},
	)
	return cmd
}

func (a *App) envInit() error {
	if a.svc.Shell == nil || a.svc.Switcher == nil {
		return a.unavailable("env init")
	}
	session := a.svc.Shell.NewSessionID()
	if a.svc.Flusher != nil {
		if _, err := a.svc.Flusher.PruneSessions(session); err != nil {
			a.notice("Warning: %v", err)
		}
	}
	exports, err := a.svc.Switcher.ResolveAll("")
	if err != nil {
		return err
	}
	fmt.Fprint(a.out, a.svc.Shell.InitScript(session, exports))
	return nil
}

func (a *App) writeShellConfig() error {
	if a.svc.Shell == nil {
		return a.unavailable("env init")
	}
	shell, err := a.svc.Shell.DetectShell()
	if err != nil {
		return err
	}
	path, err := a.svc.Shell.UpdateShellConfig(shell)
	if err != nil {
		return err
	}
	a.print(map[string]string{"shell": shell, "rc_file": path}, func() {
		fmt.Fprintf(a.errOut, "Updated %s, open a new shell to start using devkit.\n", path)
	})
	return nil
}

func (a *App) envInstall(ctx context.Context) error {
	if a.svc.Project == nil || a.svc.Shell == nil {
		return a.unavailable("env install")
	}
	session, err := a.requireSession("env install")
	if err != nil {
		return err
	}
	pins, err := a.loadPins()
	if err != nil {
		return err
	}
	exports, err := a.svc.Project.Install(ctx, pins, session)
	if err != nil {
		return err
	}
	a.emitExports(exports)
	for _, exp := range exports {
		a.notice("Using %s %s in this shell.", exp.Candidate, exp.Version)
	}
	return nil
}

func (a *App) loadPins() ([]models.Pin, error) {
	dir, err := a.workDir()
	if err != nil {
		return nil, fmt.Errorf("cli: working directory: %w", err)
	}
	pins, err := env.LoadRC(dir)
	if errors.Is(err, env.ErrNoRCFile) {
		return nil, models.NewError(models.ErrNotFound, "env", "", "", err)
	}
	return pins, err
}

// envClear 删除会话覆盖：有 .devkitrc 时只处理其中的 candidate，否则清空整个会话。
// 仍有全局默认的 candidate 切回默认版本，其余从环境中移除。
func (a *App) envClear() error {
	if a.svc.Registry == nil || a.svc.Switcher == nil || a.svc.Shell == nil {
		return a.unavailable("env clear")
	}
	session, err := a.requireSession("env clear")
	if err != nil {
		return err
	}

	var scope map[string]bool
	pins, err := a.loadPins()
	switch {
	case err == nil:
		scope = map[string]bool{}
		for _, pin := range pins {
			scope[pin.Candidate] = true
		}
	case models.KindOf(err) == models.ErrNotFound:
	default:
		return err
	}

	before, err := a.svc.Switcher.ResolveAll(session)
	if err != nil {
		return err
	}
	if scope == nil {
		if err := a.svc.Registry.ClearSession(session, ""); err != nil {
			return err
		}
	} else {
		candidates := make([]string, 0, len(scope))
		for c := range scope {
			candidates = append(candidates, c)
		}
		sort.Strings(candidates)
		for _, c := range candidates {
			if err := a.svc.Registry.ClearSession(session, c); err != nil {
				return err
			}
		}
	}
	after, err := a.svc.Switcher.ResolveAll(session)
	if err != nil {
		return err
	}

	restored := map[string]bool{}
	var reapply []models.EnvExport
	for _, exp := range after {
		if scope == nil || scope[exp.Candidate] {
			reapply = append(reapply, exp)
			restored[exp.Candidate] = true
		}
	}
	var dropped []models.EnvExport
	for _, exp := range before {
		if (scope == nil || scope[exp.Candidate]) && !restored[exp.Candidate] {
			dropped = append(dropped, exp)
		}
	}

	if a.jsonMode {
		a.print(map[string][]models.EnvExport{"restored": reapply, "cleared": dropped}, nil)
		return nil
	}
	fmt.Fprint(a.out, a.svc.Shell.RenderClear(dropped))
	fmt.Fprint(a.out, a.svc.Shell.RenderExports(reapply))
	a.notice("Session overrides cleared.")
	return nil
}

// emitExports 输出应用 exports 的 shell 代码，JSON 模式下输出结构化描述。
func (a *App) emitExports(exports []models.EnvExport) {
	if a.jsonMode {
		a.print(exports, nil)
		return
	}
	if a.svc.Shell != nil {
		fmt.Fprint(a.out, a.svc.Shell.RenderExports(exports))
	}
}

func (a *App) upgradeCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "upgrade [candidate]",
		Aliases: []string{"ug"},
		Short:   "Upgrade global defaults to the latest stable versions",
		Args:    usageArgs(cobra.MaximumNArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.svc.Upgrader == nil || a.svc.Switcher == nil {
				return a.unavailable("upgrade")
			}
			candidate := ""
			if len(args) == 1 {
				candidate = args[0]
			}
			session := a.currentSession()
			upgraded, err := a.svc.Upgrader.Upgrade(cmd.Context(), candidate, session)
			if err != nil {
				return err
			}
			if a.jsonMode {
				a.print(upgraded, nil)
				return nil
			}
			if len(upgraded) == 0 {
				a.notice("Everything is up to date.")
				return nil
			}
			exports := make([]models.EnvExport, 0, len(upgraded))
			for _, item := range upgraded {
				a.notice("Upgraded %s %s -> %s", item.Candidate, item.Current, item.Latest)
				exp, err := a.svc.Switcher.Resolve(item.Candidate, session)
				if err != nil {
					return err
				}
				exports = append(exports, *exp)
			}
			a.emitExports(exports)
			return nil
		},
	}
}

func (a *App) offlineCommand() *cobra.Command {
	return &cobra.Command{
		Use:       "offline [enable|disable]",
		Short:     "Show or toggle offline mode",
		ValidArgs: []string{"enable", "disable"},
		Args:      usageArgs(cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs)),
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.svc.Config == nil {
				return a.unavailable("offline")
			}
			if len(args) == 0 {
				cfg, err := a.svc.Config.Load()
				if err != nil {
					return err
				}
				a.print(map[string]bool{"offline": cfg.Offline}, func() {
					fmt.Fprintf(a.out, "Offline mode: %s\n", onOff(cfg.Offline))
				})
				return nil
			}
			enabled := args[0] == "enable"
			if err := a.svc.Config.SetOffline(enabled); err != nil {
				return err
			}
			a.print(map[string]bool{"offline": enabled}, func() {
				fmt.Fprintf(a.out, "Offline mode %sd.\n", args[0])
			})
			return nil
		},
	}
}

func onOff(b bool) string {
	if b {
		return "enabled"
	}
	return "disabled"
}

func (a *App) flushCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "flush [archives|tmp|broadcast|version]",
		Short: "Clear cached downloads, temporary files or cached notices",
		Args:  usageArgs(cobra.MaximumNArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.svc.Flusher == nil {
				return a.unavailable("flush")
			}
			counts := map[flush.Target]int{}
			if len(args) == 0 {
				all, err := a.svc.Flusher.FlushAll()
				if err != nil {
					return err
				}
				counts = all
			} else {
				target, err := flush.ParseTarget(args[0])
				if err != nil {
					return usageError{err}
				}
				n, err := a.svc.Flusher.Flush(target)
				if err != nil {
					return err
				}
				counts[target] = n
			}
			a.print(counts, func() {
				for _, target := range flush.Targets() {
					if n, ok := counts[target]; ok {
						fmt.Fprintf(a.out, "Flushed %s: %d removed\n", target, n)
					}
				}
			})
			return nil
		},
	}
}

func (a *App) homeCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "home <candidate> <version>",
		Aliases: []string{"h"},
		Short:   "Print the install directory of a version",
		Args:    usageArgs(cobra.ExactArgs(2)),
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.svc.Registry == nil {
				return a.unavailable("home")
			}
			v, err := a.svc.Registry.Get(args[0], args[1])
			if err != nil {
				return err
			}
			a.print(v, func() { fmt.Fprintln(a.out, v.InstallPath) })
			return nil
		},
	}
}

func (a *App) updateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "update",
		Short: "Refresh the catalog of available versions",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.svc.Catalog == nil {
				return a.unavailable("update")
			}
			if a.svc.Catalog.Offline() {
				a.print(map[string]bool{"refreshed": false}, func() {
					fmt.Fprintln(a.out, "Offline mode enabled, catalog not refreshed.")
				})
				return nil
			}
			if err := a.svc.Catalog.Refresh(cmd.Context()); err != nil {
				return err
			}
			a.print(map[string]bool{"refreshed": true}, func() {
				fmt.Fprintln(a.out, "Catalog refreshed.")
			})
			return nil
		},
	}
}

func (a *App) broadcastCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "broadcast",
		Aliases: []string{"b"},
		Short:   "Show the latest broadcast message",
		Args:    usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.svc.Catalog == nil {
				return a.unavailable("broadcast")
			}
			msg, err := a.svc.Catalog.Broadcast()
			if err != nil {
				return err
			}
			a.print(map[string]string{"broadcast": msg}, func() {
				if strings.TrimSpace(msg) == "" {
					fmt.Fprintln(a.out, "No broadcast message.")
					return
				}
				fmt.Fprintln(a.out, strings.TrimRight(msg, "\n"))
			})
			return nil
		},
	}
}

func (a *App) configCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show the effective configuration",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.svc.Config == nil {
				return a.unavailable("config")
			}
			cfg, err := a.svc.Config.Load()
			if err != nil {
				return err
			}
			if a.jsonMode {
				a.print(cfg, nil)
				return nil
			}
			data, err := yaml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("cli: encode config: %w", err)
			}
			fmt.Fprintf(a.out, "# %s\n%s", a.svc.Config.Path(), data)
			return nil
		},
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "set <key> <value>",
		Short: "Persist a configuration value",
		Args:  usageArgs(cobra.ExactArgs(2)),
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.svc.Config == nil {
				return a.unavailable("config")
			}
			if err := a.svc.Config.Set(args[0], args[1]); err != nil {
				return err
			}
			a.print(map[string]string{args[0]: args[1]}, func() {
				fmt.Fprintf(a.out, "Set %s = %s\n", args[0], args[1])
			})
			return nil
		},
	})
	return cmd
}

type versionInfo struct {
	Version string `json:"version"`
	Latest  string `json:"latest,omitempty"`
}

func (a *App) versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "version",
		Aliases: []string{"v"},
		Short:   "Show the devkit version",
		Args:    usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			info := versionInfo{Version: a.version}
			if a.svc.Catalog != nil {
				info.Latest = a.svc.Catalog.LatestDevkitVersion()
			}
			a.print(info, func() {
				fmt.Fprintf(a.out, "devkit version %s\n", a.version)
				if info.Latest != "" && models.CompareVersions(info.Latest, a.version) > 0 {
					fmt.Fprintf(a.errOut, "A newer devkit is available: %s\n", info.Latest)
				}
			})
			return nil
		},
	}
}
