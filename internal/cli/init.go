package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"partcad/internal/app"
	"partcad/internal/types"
)

type initOptions struct {
	Desc    string
	Private bool
}

func newInitCommand() *cobra.Command {
	opts := initOptions{}
	cmd := &cobra.Command{
		Use:   "init [dir]",
		Short: "Create a package manifest",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := newAppService().Init(cmd.Context(), app.InitRequest{
				Dir:     packageDir(args),
				Desc:    opts.Desc,
				Private: opts.Private,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created %s\n", result.ManifestPath)
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.Desc, "desc", "", "Package description")
	cmd.Flags().BoolVar(&opts.Private, "private", false, "Do not import the public package index")
	return cmd
}

type addOptions struct {
	Revision string
	RelPath  string
}

func newAddCommand() *cobra.Command {
	opts := addOptions{}
	cmd := &cobra.Command{
		Use:   "add <alias> <location>",
		Short: "Import another package (local path, git URL or tarball URL)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			entry, err := newAppService().AddImport(cmd.Context(), app.AddImportRequest{
				Dir:      packageDir(nil),
				Alias:    args[0],
				Location: args[1],
				Revision: opts.Revision,
				RelPath:  opts.RelPath,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "added %s import %s\n", entry.Type, entry.Name)
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.Revision, "revision", "", "Git revision to check out")
	cmd.Flags().StringVar(&opts.RelPath, "rel-path", "", "Package directory inside the repository or archive")
	return cmd
}

type addItemOptions struct {
	Type string
	Name string
	Desc string
}

func newAddItemCommand(use string, kind types.ShapeKind) *cobra.Command {
	opts := addItemOptions{}
	cmd := &cobra.Command{
		Use:   use + " <path>",
		Short: fmt.Sprintf("Declare a %s backed by a file", kind),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := newAppService().AddItem(cmd.Context(), app.AddItemRequest{
				Dir:  packageDir(nil),
				Kind: kind,
				Type: types.FactoryType(opts.Type),
				Path: args[0],
				Name: opts.Name,
				Desc: opts.Desc,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "added %s %s (%s)\n", kind, result.Name, result.Type)
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.Type, "type", "", "Factory type (inferred from the file extension when empty)")
	cmd.Flags().StringVar(&opts.Name, "name", "", "Item name (defaults to the file name)")
	cmd.Flags().StringVar(&opts.Desc, "desc", "", "Item description")
	return cmd
}

// packageDir is the first argument, else --package, else the working
// directory.
func packageDir(args []string) string {
	if dir := optionalArg(args, 0); dir != "" {
		return dir
	}
	return target("").Path
}
