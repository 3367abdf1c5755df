package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/liangyou/devkit/internal/archive"
	"github.com/liangyou/devkit/internal/catalog"
	"github.com/liangyou/devkit/internal/cli"
	"github.com/liangyou/devkit/internal/config"
	"github.com/liangyou/devkit/internal/env"
	"github.com/liangyou/devkit/internal/flush"
	"github.com/liangyou/devkit/internal/platform"
	"github.com/liangyou/devkit/internal/region"
	"github.com/liangyou/devkit/internal/remote"
	"github.com/liangyou/devkit/internal/storage"
	"github.com/liangyou/devkit/internal/version"
	"github.com/liangyou/devkit/pkg/models"
)

const appVersion = "0.1.0"

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	jsonMode, verbose := cli.PreParse(args)

	loader := config.NewLoader(os.Getenv)
	cfg, err := loader.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	logger := newLogger(cfg.LogLevel, verbose)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	checker := platform.NewChecker(cfg)
	if err := checker.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	layout := models.NewLayout(cfg.RootDir)
	client := remote.NewClient(remote.WithBaseURL(catalogURL(ctx, cfg, layout, logger)))
	store := catalog.NewStore(cfg, client, catalog.WithLogger(logger))
	registry := storage.NewRegistry(cfg, storage.WithLogger(logger))

	var progress version.ProgressFunc
	if !jsonMode {
		progress = cli.Progress(os.Stderr)
	}
	downloader := version.NewDownloader(cfg, version.WithProgressFunc(progress))
	installer := version.NewInstaller(registry, store, downloader, archive.NewUnpacker(), checker,
		version.WithStrictInstall(cfg.StrictInstall),
		version.WithKeepArchives(cfg.KeepArchives),
		version.WithOffline(cfg.Offline),
		version.WithInstallerLogger(logger),
	)
	switcher := version.NewSwitcher(registry, logger)

	executable, err := os.Executable()
	if err != nil {
		executable = "devkit"
	}

	app := cli.NewApp(os.Stdout, os.Stderr, cli.Services{
		Installer:   installer,
		Uninstaller: version.NewUninstaller(registry, logger),
		Lister:      version.NewLister(store, registry),
		Switcher:    switcher,
		Upgrader:    version.NewUpgrader(registry, store, installer, switcher, cfg.UpgradeScope, logger),
		Project:     version.NewProject(installer, switcher),
		Registry:    registry,
		Catalog:     store,
		Shell:       env.NewManager(cfg, executable),
		Config:      loader,
		Flusher:     flush.NewFlusher(cfg, flush.WithLogger(logger)),
	}, appVersion)

	if err := app.Run(ctx, args); err != nil {
		app.ReportError(err)
		return cli.ExitCode(err)
	}
	return 0
}

// catalogURL 返回显式配置的目录地址，否则按 mirror 选择镜像。离线时不做地区探测。
func catalogURL(ctx context.Context, cfg models.Config, layout models.Layout, logger *slog.Logger) string {
	if cfg.CatalogURL != "" {
		return cfg.CatalogURL
	}
	var detector region.CountryCoder
	if !cfg.Offline {
		detector = region.NewDetector(region.WithCacheFile(filepath.Join(layout.VarDir(), "region"), 0))
	}
	mirror := region.Resolve(ctx, cfg.Mirror, detector)
	logger.Debug("using catalog mirror", "mirror", mirror.Name, "url", mirror.CatalogURL)
	return mirror.CatalogURL
}

func newLogger(level string, verbose bool) *slog.Logger {
	lvl := slog.LevelWarn
	if level != "" {
		if err := lvl.UnmarshalText([]byte(strings.ToUpper(level))); err != nil {
			lvl = slog.LevelWarn
		}
	}
	if verbose {
		lvl = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
