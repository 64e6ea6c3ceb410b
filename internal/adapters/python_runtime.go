package adapters

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"partcad/internal/policies"
	"partcad/internal/ports"
	"partcad/internal/shared"
	"partcad/internal/types"
)

//go:embed wrappers/*.py
var wrapperFS embed.FS

const (
	shapeWrapper    = "shape.py"
	providerWrapper = "provider.py"

	installedSentinelPrefix = ".partcad.installed."
	projectSentinelPrefix   = ".partcad.project."
)

// CommandSpec describes one child process started by the runtime pool.
type CommandSpec struct {
	Name  string
	Args  []string
	Dir   string
	Stdin []byte
}

type CommandOutput struct {
	Stdout []byte
	Stderr []byte
}

// CommandRunner starts a process and waits for it. A non-zero exit is an
// error; the captured output is returned either way.
type CommandRunner func(ctx context.Context, spec CommandSpec) (CommandOutput, error)

// ExecCommand runs spec with os/exec.
func ExecCommand(ctx context.Context, spec CommandSpec) (CommandOutput, error) {
	cmd := exec.CommandContext(ctx, spec.Name, spec.Args...)
	cmd.Dir = spec.Dir
	if spec.Stdin != nil {
		cmd.Stdin = bytes.NewReader(spec.Stdin)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return CommandOutput{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}, err
}

// PythonRuntime is one interpreter environment. Package installs are
// serialized per package name.
type PythonRuntime struct {
	Strategy types.SandboxStrategy
	Version  string
	Dir      string
	Python   string

	mu       sync.Mutex
	installs map[string]*sync.Mutex
}

func (r *PythonRuntime) packageLock(name string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.installs == nil {
		r.installs = map[string]*sync.Mutex{}
	}
	lock, ok := r.installs[name]
	if !ok {
		lock = &sync.Mutex{}
		r.installs[name] = lock
	}
	return lock
}

// PythonRuntimePool hands out environments keyed by (strategy, version)
// and bounds the number of scripts running at once.
type PythonRuntimePool struct {
	Config types.UserConfig
	Run    CommandRunner

	codec  SandboxCodec
	slots  *semaphore.Weighted
	create *singleflight.Group

	mu   sync.Mutex
	envs map[string]*PythonRuntime
}

var _ ports.ScriptRunnerPort = (*PythonRuntimePool)(nil)

func NewPythonRuntimePool(cfg types.UserConfig) *PythonRuntimePool {
	threads := cfg.ThreadsMax
	if threads < 1 {
		threads = types.DefaultThreads()
	}
	return &PythonRuntimePool{
		Config: cfg,
		Run:    ExecCommand,
		codec:  NewSandboxCodec(),
		slots:  semaphore.NewWeighted(int64(threads)),
		create: &singleflight.Group{},
		envs:   map[string]*PythonRuntime{},
	}
}

func (p *PythonRuntimePool) RunShapeScript(ctx context.Context, req types.ShapeScriptRequest) (types.ShapeScriptResult, error) {
	input, err := p.codec.EncodeShapeRequest(req)
	if err != nil {
		return types.ShapeScriptResult{}, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg(fmt.Sprintf("%s: failed to encode request", req.Subject)).
			WithCause(err)
	}
	out, err := p.invoke(ctx, req.Runtime, basePackages(req.Kernel), shapeWrapper, req.ScriptPath, req.Cwd, req.Subject, input)
	if err != nil {
		return types.ShapeScriptResult{Stderr: string(out.Stderr)}, err
	}
	result, err := p.codec.DecodeShapeResponse(out.Stdout)
	result.Stderr = string(out.Stderr)
	if err != nil {
		log.Ctx(ctx).Warn().Str("subject", req.Subject).Err(err).Msg("undecodable sandbox response")
		result.Kind = types.ErrResponseDecodeFailed
		result.Exception = err.Error()
		return result, nil
	}
	if !result.Success {
		result.Kind = types.ErrKernelException
	}
	return result, nil
}

func (p *PythonRuntimePool) RunProviderScript(ctx context.Context, req types.ProviderScriptRequest) (types.ProviderScriptResult, error) {
	input, err := p.codec.EncodeProviderRequest(req)
	if err != nil {
		return types.ProviderScriptResult{}, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg(fmt.Sprintf("%s: failed to encode request", req.Subject)).
			WithCause(err)
	}
	out, err := p.invoke(ctx, req.Runtime, basePackages(""), providerWrapper, req.ScriptPath, req.Cwd, req.Subject, input)
	if err != nil {
		return types.ProviderScriptResult{Stderr: string(out.Stderr)}, err
	}
	result, err := p.codec.DecodeProviderResponse(out.Stdout)
	result.Stderr = string(out.Stderr)
	if err != nil {
		result.Kind = types.ErrResponseDecodeFailed
		result.Exception = err.Error()
		return result, nil
	}
	if result.Exception != "" {
		result.Kind = types.ErrKernelException
	}
	return result, nil
}

func (p *PythonRuntimePool) invoke(ctx context.Context, spec types.RuntimeSpec, base []string, wrapper, script, cwd, subject string, input []byte) (CommandOutput, error) {
	env, err := p.Environment(ctx, spec.PythonVersion)
	if err != nil {
		return CommandOutput{}, err
	}
	if err := p.ensurePackages(ctx, env, append(base, spec.Requirements...)); err != nil {
		return CommandOutput{}, err
	}
	if spec.RequirementsFile != "" {
		if err := p.ensureRequirementsFile(ctx, env, spec.RequirementsFile); err != nil {
			return CommandOutput{}, err
		}
	}
	wrapperPath, err := writeWrapper(env.Dir, wrapper)
	if err != nil {
		return CommandOutput{}, err
	}

	if err := p.slots.Acquire(ctx, 1); err != nil {
		return CommandOutput{}, errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg(fmt.Sprintf("%s: cancelled while waiting for a worker", subject)).
			WithCause(err)
	}
	defer p.slots.Release(1)

	if p.Config.ScriptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Config.ScriptTimeout)
		defer cancel()
	}
	started := time.Now()
	out, err := p.Run(ctx, CommandSpec{
		Name:  env.Python,
		Args:  []string{wrapperPath, script, cwd},
		Dir:   cwd,
		Stdin: input,
	})
	log.Ctx(ctx).Debug().
		Str("subject", subject).
		Str("script", script).
		Dur("elapsed", time.Since(started)).
		Msg("sandbox finished")
	if err != nil {
		msg := fmt.Sprintf("%s: sandbox process failed", subject)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			msg = fmt.Sprintf("%s: script timed out after %s", subject, p.Config.ScriptTimeout)
		}
		return out, errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg(msg).
			WithCause(shared.CommandError(out.Stderr, err))
	}
	return out, nil
}

// Environment returns the runtime for the configured strategy and the
// given version, creating it on first use. Concurrent callers share one
// creation.
func (p *PythonRuntimePool) Environment(ctx context.Context, version string) (*PythonRuntime, error) {
	if version == "" {
		version = p.Config.PythonVersion
	}
	if version == "" {
		version = types.DefaultPythonVersion
	}
	if err := policies.ValidatePythonVersion(version); err != nil {
		return nil, err
	}
	strategy := p.Config.Sandbox
	if strategy == "" {
		strategy = types.SandboxNone
	}
	key := fmt.Sprintf("%s-%s", strategy, version)

	p.mu.Lock()
	env, ok := p.envs[key]
	p.mu.Unlock()
	if ok {
		return env, nil
	}

	// The shared creation must not die with whichever caller started it.
	detached := context.WithoutCancel(ctx)
	created := p.create.DoChan(key, func() (any, error) {
		env, err := p.createEnvironment(detached, strategy, version)
		if err != nil {
			return nil, err
		}
		p.mu.Lock()
		p.envs[key] = env
		p.mu.Unlock()
		return env, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-created:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*PythonRuntime), nil
	}
}

func (p *PythonRuntimePool) createEnvironment(ctx context.Context, strategy types.SandboxStrategy, version string) (*PythonRuntime, error) {
	dir := filepath.Join(p.Config.RuntimeDir(), fmt.Sprintf("partcad-python-%s-%s", strategy, version))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to create runtime directory").
			WithCause(err)
	}
	env := &PythonRuntime{Strategy: strategy, Version: version, Dir: dir}

	switch strategy {
	case types.SandboxNone:
		python, err := lookPython(version)
		if err != nil {
			return nil, err
		}
		env.Python = python
	case types.SandboxConda, types.SandboxPyPy:
		env.Python = filepath.Join(dir, "bin", "python")
		if _, err := os.Stat(env.Python); err != nil {
			args := []string{"create", "-y", "-q", "-c", "conda-forge", "-p", dir}
			if strategy == types.SandboxPyPy {
				args = append(args, "pypy")
			}
			args = append(args, "python="+version)
			log.Ctx(ctx).Info().Str("runtime", dir).Msg("creating environment")
			out, err := p.Run(ctx, CommandSpec{Name: "conda", Args: args})
			if err != nil {
				return nil, errbuilder.New().
					WithCode(errbuilder.CodeFailedPrecondition).
					WithMsg(fmt.Sprintf("failed to create %s environment for python %s", strategy, version)).
					WithCause(shared.CommandError(out.Stderr, err))
			}
		}
	default:
		return nil, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg(fmt.Sprintf("unknown sandbox strategy %q", strategy))
	}
	return env, nil
}

func lookPython(version string) (string, error) {
	for _, name := range []string{"python" + version, "python3", "python"} {
		if path, err := exec.LookPath(name); err == nil {
			return path, nil
		}
	}
	return "", errbuilder.New().
		WithCode(errbuilder.CodeFailedPrecondition).
		WithMsg(fmt.Sprintf("no python %s interpreter on PATH", version))
}

// basePackages lists what the wrapper itself needs for a kernel.
func basePackages(kernel types.FactoryType) []string {
	pkgs := []string{"msgpack"}
	switch kernel {
	case types.FactoryTypeCadQuery, types.FactoryTypeBasic, types.FactoryTypeExtrude:
		pkgs = append(pkgs, "cadquery")
	case types.FactoryTypeBuild123d:
		pkgs = append(pkgs, "build123d")
	}
	return pkgs
}

func (p *PythonRuntimePool) ensurePackages(ctx context.Context, env *PythonRuntime, requirements []string) error {
	for _, requirement := range requirements {
		name := shared.RequirementName(requirement)
		if name == "" {
			continue
		}
		if err := p.installOnce(ctx, env, name, requirement); err != nil {
			return err
		}
	}
	return nil
}

func (p *PythonRuntimePool) installOnce(ctx context.Context, env *PythonRuntime, name, requirement string) error {
	lock := env.packageLock(name)
	lock.Lock()
	defer lock.Unlock()

	sentinel := filepath.Join(env.Dir, installedSentinelPrefix+name)
	if _, err := os.Stat(sentinel); err == nil {
		return nil
	}
	log.Ctx(ctx).Info().Str("package", requirement).Str("runtime", env.Dir).Msg("installing python package")
	if err := p.pip(ctx, env, requirement); err != nil {
		return err
	}
	return touch(sentinel)
}

func (p *PythonRuntimePool) ensureRequirementsFile(ctx context.Context, env *PythonRuntime, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return errbuilder.New().
			WithCode(errbuilder.CodeNotFound).
			WithMsg(fmt.Sprintf("requirements file %s not found", path)).
			WithCause(err)
	}
	lock := env.packageLock(path)
	lock.Lock()
	defer lock.Unlock()

	sentinel := filepath.Join(env.Dir, projectSentinelPrefix+shared.HashKey(path))
	if done, err := os.Stat(sentinel); err == nil && !info.ModTime().After(done.ModTime()) {
		return nil
	}
	log.Ctx(ctx).Info().Str("requirements", path).Msg("installing project requirements")
	if err := p.pip(ctx, env, "-r", path); err != nil {
		return err
	}
	return touch(sentinel)
}

func (p *PythonRuntimePool) pip(ctx context.Context, env *PythonRuntime, args ...string) error {
	cmdArgs := append([]string{"-m", "pip", "install", "-q"}, args...)
	if env.Strategy == types.SandboxNone {
		cmdArgs = append(cmdArgs, "--user")
	}
	out, err := p.Run(ctx, CommandSpec{Name: env.Python, Args: cmdArgs})
	if err != nil {
		return errbuilder.New().
			WithCode(errbuilder.CodeFailedPrecondition).
			WithMsg(fmt.Sprintf("pip install %s failed", strings.Join(args, " "))).
			WithCause(shared.CommandError(out.Stderr, err))
	}
	return nil
}

var wrapperMu sync.Mutex

// writeWrapper materializes an embedded wrapper under a content-addressed
// name so that concurrent and repeated runs reuse the same file.
func writeWrapper(dir, name string) (string, error) {
	data, err := wrapperFS.ReadFile("wrappers/" + name)
	if err != nil {
		return "", errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg(fmt.Sprintf("wrapper %s is not embedded", name)).
			WithCause(err)
	}
	path := filepath.Join(dir, fmt.Sprintf("wrapper-%s-%s", shared.HashKey(string(data))[:12], name))

	wrapperMu.Lock()
	defer wrapperMu.Unlock()
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to write sandbox wrapper").
			WithCause(err)
	}
	return path, nil
}

func touch(path string) error {
	if err := shared.TouchSentinel(path, time.Now()); err != nil {
		return errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg(fmt.Sprintf("failed to write %s", filepath.Base(path))).
			WithCause(err)
	}
	return nil
}
