package app

import (
	"context"
	"fmt"

	"github.com/ZanzyTHEbar/errbuilder-go"

	"partcad/internal/adapters"
	"partcad/internal/core"
	"partcad/internal/ports"
	"partcad/internal/types"
)

type Service struct {
	Config    types.UserConfig
	Manifests ports.ManifestPort
	Templates ports.TemplatePort
	Editor    ports.ManifestEditorPort
	Sources   map[types.SourceType]ports.SourcePort
	Runner    ports.ScriptRunnerPort
	Files     ports.ShapeFilePort
	OpenSCAD  ports.OpenSCADPort
	Generator ports.ScriptGeneratorPort
	State     ports.StatePort
	Reports   ports.BOMReportPort
	// IncludePaths are searched by `{{ include "..." }}` after the
	// manifest's own directory.
	IncludePaths []string
}

func NewService(cfg types.UserConfig) Service {
	templates := adapters.NewTemplateEngine()
	service := Service{
		Config:    cfg,
		Manifests: adapters.NewManifestFileAdapter(templates),
		Templates: templates,
		Editor:    adapters.NewManifestEditor(),
		Sources: map[types.SourceType]ports.SourcePort{
			types.SourceTypeLocal: adapters.NewLocalSource(),
			types.SourceTypeGit:   adapters.NewGitSource(cfg.GitCacheDir(), cfg.ForceUpdate),
			types.SourceTypeTar:   adapters.NewTarSource(cfg.TarCacheDir()),
		},
		Runner:   adapters.NewPythonRuntimePool(cfg),
		Files:    adapters.NewShapeFileAdapter(),
		OpenSCAD: adapters.NewOpenSCADAdapter(cfg.OpenSCADBinary),
		State:    adapters.NewStateInventory(),
		Reports:  adapters.NewBOMReportWriter(),
	}
	if len(cfg.AICommand) > 0 {
		service.Generator = adapters.NewCommandScriptGenerator(cfg.AICommand)
	}
	return service
}

func (s Service) corePorts() core.Ports {
	return core.Ports{
		Manifests: s.Manifests,
		Templates: s.Templates,
		Sources:   s.Sources,
		Runner:    s.Runner,
		Files:     s.Files,
		OpenSCAD:  s.OpenSCAD,
		Generator: s.Generator,
	}
}

// open loads the package tree containing target.Path. The topmost
// directory with a manifest becomes the root package.
func (s Service) open(ctx context.Context, target Target) (*core.Context, error) {
	return core.NewContext(ctx, target.Path, s.Config, s.corePorts(), core.ContextOptions{
		SearchRoot:   true,
		IncludePaths: s.IncludePaths,
	})
}

// selected returns the package a request addresses, relative to the
// package the tree was opened in.
func selected(c *core.Context, target Target) (*core.Package, error) {
	name := core.JoinPackage(c.CurrentName, target.Package)
	pkg := c.Package(name)
	if pkg == nil {
		return nil, errbuilder.New().
			WithCode(errbuilder.CodeNotFound).
			WithMsg(fmt.Sprintf("package %s not found", name))
	}
	return pkg, nil
}
