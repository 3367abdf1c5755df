package version

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"

	"github.com/liangyou/devkit/pkg/models"
)

const projectInstallConcurrency = 4

// InstallProject 并发安装 .devkitrc 中列出的版本，全部就绪后切换当前会话。
// 任何一个安装失败都不会切换会话。
func InstallProject(ctx context.Context, installer *Installer, switcher *Switcher, pins []models.Pin, session models.SessionID) ([]models.EnvExport, error) {
	if session == "" {
		return nil, models.NewError(models.ErrNoSession, "env install", "", "", errors.New("DEVKIT_SESSION is not set, run `devkit env init`"))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(projectInstallConcurrency)
	for _, pin := range pins {
		g.Go(func() error {
			_, err := installer.Install(gctx, InstallRequest{Candidate: pin.Candidate, Version: pin.Version})
			if err != nil && !errors.Is(err, models.ErrAlreadyInstalled) {
				return err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	exports := make([]models.EnvExport, 0, len(pins))
	for _, pin := range pins {
		exp, err := switcher.Switch(ctx, pin.Candidate, pin.Version, models.ScopeSession, session)
		if err != nil {
			return nil, err
		}
		exports = append(exports, *exp)
	}
	return exports, nil
}

// Project 把安装器与切换器组合成项目文件安装服务。
type Project struct {
	installer *Installer
	switcher  *Switcher
}

// NewProject 创建项目文件安装服务。
func NewProject(installer *Installer, switcher *Switcher) *Project {
	return &Project{installer: installer, switcher: switcher}
}

// Install 安装 pins 并切换 session。
func (p *Project) Install(ctx context.Context, pins []models.Pin, session models.SessionID) ([]models.EnvExport, error) {
	return InstallProject(ctx, p.installer, p.switcher, pins, session)
}
