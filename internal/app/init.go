package app

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/rs/zerolog/log"

	"partcad/internal/types"
)

func (s Service) Init(ctx context.Context, req InitRequest) (InitResult, error) {
	dir := strings.TrimSpace(req.Dir)
	if dir == "" {
		dir = "."
	}
	manifestPath, err := s.Editor.Init(dir, req.Desc, req.Private)
	if err != nil {
		return InitResult{}, err
	}
	log.Ctx(ctx).Info().Str("manifest", manifestPath).Bool("private", req.Private).Msg("package initialized")
	return InitResult{ManifestPath: manifestPath}, nil
}

func (s Service) AddImport(ctx context.Context, req AddImportRequest) (types.ImportEntry, error) {
	location := strings.TrimSpace(req.Location)
	if location == "" {
		return types.ImportEntry{}, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("import location is required")
	}
	manifestPath, err := existingManifest(req.Dir)
	if err != nil {
		return types.ImportEntry{}, err
	}
	entry := classifyImport(location)
	entry.Name = strings.TrimSpace(req.Alias)
	if entry.Name == "" {
		entry.Name = importAlias(location)
	}
	entry.Revision = req.Revision
	entry.RelPath = req.RelPath
	if entry.Type == types.SourceTypeLocal && (entry.Revision != "" || entry.RelPath != "") {
		return types.ImportEntry{}, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("revision and relPath apply to git and tar imports only")
	}
	if err := s.Editor.AddImport(manifestPath, entry); err != nil {
		return types.ImportEntry{}, err
	}
	log.Ctx(ctx).Info().Str("import", entry.Name).Str("type", string(entry.Type)).Msg("import added")
	return entry, nil
}

// classifyImport picks the acquirer from the shape of the location: git
// URLs, tarball URLs, and everything else as a local path.
func classifyImport(location string) types.ImportEntry {
	lower := strings.ToLower(location)
	remote := strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
	switch {
	case strings.HasPrefix(lower, "git@"), strings.HasPrefix(lower, "ssh://"), strings.HasSuffix(lower, ".git"):
		return types.ImportEntry{Type: types.SourceTypeGit, URL: location}
	case remote && (strings.HasSuffix(lower, ".tar.gz") || strings.HasSuffix(lower, ".tgz") || strings.HasSuffix(lower, ".tar")):
		return types.ImportEntry{Type: types.SourceTypeTar, URL: location}
	case remote:
		return types.ImportEntry{Type: types.SourceTypeGit, URL: location}
	default:
		return types.ImportEntry{Type: types.SourceTypeLocal, Path: location}
	}
}

func importAlias(location string) string {
	base := path.Base(strings.TrimRight(filepath.ToSlash(location), "/"))
	if i := strings.LastIndex(base, ":"); i >= 0 {
		base = base[i+1:]
	}
	for _, suffix := range []string{".tar.gz", ".tgz", ".tar", ".git"} {
		base = strings.TrimSuffix(base, suffix)
	}
	return base
}

func (s Service) AddItem(ctx context.Context, req AddItemRequest) (AddItemResult, error) {
	itemPath := strings.TrimSpace(req.Path)
	if itemPath == "" {
		return AddItemResult{}, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg(fmt.Sprintf("%s path is required", req.Kind))
	}
	manifestPath, err := existingManifest(req.Dir)
	if err != nil {
		return AddItemResult{}, err
	}
	typ := req.Type
	if typ == types.FactoryTypeUnknown {
		typ = types.DefaultFactoryType(req.Kind, itemPath)
	}
	if typ.Extension() == "" {
		return AddItemResult{}, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg(fmt.Sprintf("type %q cannot be added from a file", typ))
	}
	if req.Kind == types.ShapeKindAssembly && typ != types.FactoryTypeAssy {
		return AddItemResult{}, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg(fmt.Sprintf("assemblies use type %s, not %s", types.FactoryTypeAssy, typ))
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		base := filepath.Base(itemPath)
		name = strings.TrimSuffix(base, filepath.Ext(base))
	}

	cfg := types.ItemConfig{"type": string(typ)}
	if filepath.ToSlash(itemPath) != name+"."+typ.Extension() {
		cfg["path"] = filepath.ToSlash(itemPath)
	}
	if req.Desc != "" {
		cfg["desc"] = req.Desc
	}
	if err := s.Editor.AddItem(manifestPath, req.Kind, name, cfg); err != nil {
		return AddItemResult{}, err
	}
	log.Ctx(ctx).Info().Str(string(req.Kind), name).Str("type", string(typ)).Msg("item added")
	return AddItemResult{Name: name, Type: typ}, nil
}

func existingManifest(dir string) (string, error) {
	if strings.TrimSpace(dir) == "" {
		dir = "."
	}
	manifestPath := filepath.Join(dir, types.ManifestFileYAML)
	if _, err := os.Stat(manifestPath); err != nil {
		return "", errbuilder.New().
			WithCode(errbuilder.CodeNotFound).
			WithMsg(fmt.Sprintf("no %s in %s; run init first", types.ManifestFileYAML, dir)).
			WithCause(err)
	}
	return manifestPath, nil
}
