package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"partcad/internal/app"
	"partcad/internal/types"
)

func newInfoCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "info [package]",
		Short: "Show package details",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			info, err := newAppService().Info(cmd.Context(), target(optionalArg(args, 0)))
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "package: %s\n", info.Name)
			fmt.Fprintf(out, "path: %s\n", info.Dir)
			for _, field := range []struct{ label, value string }{
				{"desc", info.Desc},
				{"url", info.URL},
				{"poc", info.POC},
				{"partcad", info.ToolSpec},
				{"python", info.PythonVersion},
			} {
				if field.value != "" {
					fmt.Fprintf(out, "%s: %s\n", field.label, field.value)
				}
			}
			if len(info.Imports) > 0 {
				fmt.Fprintf(out, "imports: %s\n", strings.Join(info.Imports, ", "))
			}
			fmt.Fprintf(out, "parts: %d, sketches: %d, assemblies: %d, interfaces: %d, providers: %d\n",
				info.Counts[types.ShapeKindPart], info.Counts[types.ShapeKindSketch],
				info.Counts[types.ShapeKindAssembly], info.Interfaces, info.Providers)
			reportProblems(cmd.Context(), info.Problems)
			return nil
		},
	}
}

func newInstallCommand(use string, force bool) *cobra.Command {
	short := "Fetch every imported package"
	if force {
		short = "Refresh every imported package, ignoring cached copies"
	}
	return &cobra.Command{
		Use:   use + " [package]",
		Short: short,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := newAppService().Install(cmd.Context(), app.InstallRequest{
				Target: target(optionalArg(args, 0)),
				Force:  force,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d packages loaded\n", len(result.Packages))
			reportProblems(cmd.Context(), result.Problems)
			return nil
		},
	}
}

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show what the state directory caches",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			status, err := newAppService().Status(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "state directory: %s\n", status.StateDir)
			t := newTable(cmd.OutOrStdout(), "KIND", "NAME", "UPDATED", "PATH")
			for _, entry := range status.Entries {
				t.addRow(entry.Kind, entry.Name, entry.Updated, entry.Path)
			}
			t.render()
			return nil
		},
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			v := newAppService().Version()
			fmt.Fprintf(cmd.OutOrStdout(), "partcad %s (%s, python %s)\n", v.Tool, v.GoVersion, v.Python)
		},
	}
}
