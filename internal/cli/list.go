package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"partcad/internal/app"
)

type listCommand struct {
	use   string
	short string
	kinds []app.ListKind
}

var listCommands = []listCommand{
	{use: "list", short: "List packages", kinds: []app.ListKind{app.ListPackages}},
	{use: "list-parts", short: "List parts", kinds: []app.ListKind{app.ListParts}},
	{use: "list-sketches", short: "List sketches", kinds: []app.ListKind{app.ListSketches}},
	{use: "list-assemblies", short: "List assemblies", kinds: []app.ListKind{app.ListAssemblies}},
	{use: "list-interfaces", short: "List interfaces", kinds: []app.ListKind{app.ListInterfaces}},
	{use: "list-providers", short: "List providers", kinds: []app.ListKind{app.ListProviders}},
	{use: "list-all", short: "List everything a package declares"},
}

type listOptions struct {
	Recursive bool
}

func newListCommand(spec listCommand) *cobra.Command {
	opts := listOptions{}
	cmd := &cobra.Command{
		Use:   spec.use + " [package]",
		Short: spec.short,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			recursive := opts.Recursive || spec.use == "list"
			result, err := newAppService().List(cmd.Context(), app.ListRequest{
				Target:    target(optionalArg(args, 0)),
				Kinds:     spec.kinds,
				Recursive: recursive,
			})
			if err != nil {
				return err
			}
			printEntries(cmd, result.Entries)
			reportProblems(cmd.Context(), result.Problems)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&opts.Recursive, "recursive", "r", false, "Include packages below the selected one")
	return cmd
}

func printEntries(cmd *cobra.Command, entries []app.ListEntry) {
	t := newTable(cmd.OutOrStdout(), "KIND", "PACKAGE", "NAME", "TYPE", "USED", "DESC")
	for _, entry := range entries {
		used := ""
		if entry.Usage > 0 {
			used = strconv.Itoa(entry.Usage)
		}
		t.addRow(string(entry.Kind), entry.Package, entry.Name, entry.Type, used, entry.Desc)
	}
	t.render()
	fmt.Fprintf(cmd.OutOrStdout(), "%d total\n", len(entries))
}

type listMatesOptions struct {
	Interface string
}

func newListMatesCommand() *cobra.Command {
	opts := listMatesOptions{}
	cmd := &cobra.Command{
		Use:   "list-mates [package]",
		Short: "List which interfaces mate with which",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := newAppService().ListMates(cmd.Context(), app.ListMatesRequest{
				Target:    target(optionalArg(args, 0)),
				Interface: opts.Interface,
			})
			if err != nil {
				return err
			}
			t := newTable(cmd.OutOrStdout(), "SOURCE", "TARGET", "PORTS", "DIRECTION", "DESC")
			for _, mate := range result.Mates {
				direction := "declared"
				if mate.Reverse {
					direction = "reverse"
				}
				ports := ""
				if mate.SourcePort != "" || mate.TargetPort != "" {
					ports = mate.SourcePort + " -> " + mate.TargetPort
				}
				t.addRow(mate.Source, mate.Target, ports, direction, mate.Desc)
			}
			t.render()
			reportProblems(cmd.Context(), result.Problems)
			return nil
		},
	}
	cmd.Flags().StringVarP(&opts.Interface, "interface", "i", "", "Only show mates of this interface")
	return cmd
}
