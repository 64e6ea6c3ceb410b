package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"partcad/internal/app"
	"partcad/internal/shared"
	"partcad/internal/types"
)

// version is set at build time via ldflags.
var version = types.ToolVersion

const envPrefix = "PARTCAD"

type RootConfig struct {
	ConfigFile string
	LogLevel   string
	Verbose    bool
	Quiet      bool
	NoANSI     bool
	Package    string
}

// errorCounter sees every error-level event of the process; a run that
// logged one exits non-zero even when the command itself succeeded.
var errorCounter = &shared.ErrorCounter{}

func Execute() {
	root := newRootCommand()
	err := root.Execute()
	if err != nil {
		log.Debug().Err(err).Msg("command failed")
		fmt.Fprintf(os.Stderr, "%s %s\n", color.RedString("error:"), errorMessage(err))
		os.Exit(exitCodeForError(err))
	}
	if errorCounter.Count() > 0 {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := RootConfig{}
	cmd := &cobra.Command{
		Use:           "partcad",
		Short:         "Package manager for CAD models",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := initConfig(cfg.ConfigFile); err != nil {
				return err
			}
			level := viper.GetString("log_level")
			switch {
			case resolveBool(cmd, cfg.Verbose, "verbose", "verbose"):
				level = "debug"
			case resolveBool(cmd, cfg.Quiet, "quiet", "quiet"):
				level = "warn"
			}
			setupLogging(os.Stderr, level, viper.GetBool("no_ansi"))
			cmd.SetContext(log.Logger.WithContext(cmd.Context()))
			return nil
		},
	}
	flags := cmd.PersistentFlags()
	flags.StringVar(&cfg.ConfigFile, "config", "", "Config file path")
	flags.StringVar(&cfg.LogLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	flags.BoolVarP(&cfg.Verbose, "verbose", "v", false, "Log debug output")
	flags.BoolVarP(&cfg.Quiet, "quiet", "q", false, "Log warnings and errors only")
	flags.BoolVar(&cfg.NoANSI, "no-ansi", false, "Disable colors in logs and listings")
	flags.StringVarP(&cfg.Package, "package", "p", "", "Package directory (defaults to the working directory)")
	_ = viper.BindPFlag("log_level", flags.Lookup("log-level"))
	_ = viper.BindPFlag("no_ansi", flags.Lookup("no-ansi"))
	_ = viper.BindPFlag("package", flags.Lookup("package"))

	cmd.AddCommand(newInitCommand())
	cmd.AddCommand(newAddCommand())
	cmd.AddCommand(newAddItemCommand("add-part", types.ShapeKindPart))
	cmd.AddCommand(newAddItemCommand("add-sketch", types.ShapeKindSketch))
	cmd.AddCommand(newAddItemCommand("add-assembly", types.ShapeKindAssembly))
	cmd.AddCommand(newInfoCommand())
	cmd.AddCommand(newInstallCommand("install", false))
	cmd.AddCommand(newInstallCommand("update", true))
	for _, list := range listCommands {
		cmd.AddCommand(newListCommand(list))
	}
	cmd.AddCommand(newListMatesCommand())
	cmd.AddCommand(newInspectCommand())
	cmd.AddCommand(newStatusCommand())
	cmd.AddCommand(newSupplyCommand())
	cmd.AddCommand(newVersionCommand())
	return cmd
}

func initConfig(configFile string) error {
	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	defaults := types.DefaultUserConfig()
	viper.SetDefault("state_dir", defaults.StateDir)
	viper.SetDefault("force_update", false)
	viper.SetDefault("python.sandbox", string(defaults.Sandbox))
	viper.SetDefault("python.version", defaults.PythonVersion)
	viper.SetDefault("threads_max", defaults.ThreadsMax)
	viper.SetDefault("script_timeout", int(defaults.ScriptTimeout/time.Second))
	viper.SetDefault("cache_failures", false)
	viper.SetDefault("openscad", defaults.OpenSCADBinary)

	if configFile != "" {
		viper.SetConfigFile(configFile)
		if err := viper.ReadInConfig(); err != nil {
			return errbuilder.New().
				WithCode(errbuilder.CodeInvalidArgument).
				WithMsg("failed to read config file").
				WithCause(err)
		}
		return nil
	}

	viper.SetConfigName("partcad-config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("$HOME/.partcad")
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("failed to read config file").
			WithCause(err)
	}
	return nil
}

// userConfig reads the resolved configuration. Nothing below the CLI
// layer consults viper.
func userConfig() types.UserConfig {
	cfg := types.DefaultUserConfig()
	cfg.StateDir = viper.GetString("state_dir")
	cfg.ForceUpdate = viper.GetBool("force_update")
	cfg.Sandbox = types.SandboxStrategy(viper.GetString("python.sandbox"))
	cfg.PythonVersion = viper.GetString("python.version")
	cfg.ThreadsMax = max(1, viper.GetInt("threads_max"))
	cfg.ScriptTimeout = time.Duration(viper.GetInt("script_timeout")) * time.Second
	cfg.CacheFailures = viper.GetBool("cache_failures")
	cfg.OpenSCADBinary = viper.GetString("openscad")
	cfg.AICommand = viper.GetStringSlice("ai_command")
	return cfg
}

func newAppService() app.Service {
	return app.NewService(userConfig())
}

func target(packageName string) app.Target {
	return app.Target{Path: viper.GetString("package"), Package: packageName}
}

func setupLogging(out io.Writer, level string, noColor bool) {
	color.NoColor = color.NoColor || noColor
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: out, NoColor: noColor, TimeFormat: time.TimeOnly}).
		With().Timestamp().Logger().
		Hook(errorCounter)
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

func exitCodeForError(err error) int {
	code := errbuilder.CodeOf(err)
	var builder *errbuilder.ErrBuilder
	if errors.As(err, &builder) {
		code = errbuilder.CodeOf(builder)
	}
	switch code {
	case errbuilder.CodeInvalidArgument, errbuilder.CodeAlreadyExists:
		return 2
	case errbuilder.CodeFailedPrecondition:
		return 3
	case errbuilder.CodeNotFound:
		return 4
	case errbuilder.CodeInternal:
		return 5
	default:
		return 1
	}
}

func errorMessage(err error) string {
	var builder *errbuilder.ErrBuilder
	if errors.As(err, &builder) && strings.TrimSpace(builder.Msg) != "" {
		return builder.Msg
	}
	return err.Error()
}
