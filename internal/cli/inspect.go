package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"partcad/internal/app"
	"partcad/internal/types"
)

type inspectOptions struct {
	Assembly bool
	Sketch   bool
	Params   map[string]string
	BOMOut   string
}

func newInspectCommand() *cobra.Command {
	opts := inspectOptions{}
	cmd := &cobra.Command{
		Use:   "inspect <name> [package]",
		Short: "Build a shape and report its geometry",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind := types.ShapeKindPart
			switch {
			case opts.Assembly:
				kind = types.ShapeKindAssembly
			case opts.Sketch:
				kind = types.ShapeKindSketch
			}
			params := make(map[string]any, len(opts.Params))
			for name, value := range opts.Params {
				params[name] = value
			}
			result, err := newAppService().Inspect(cmd.Context(), app.InspectRequest{
				Target: target(optionalArg(args, 1)),
				Kind:   kind,
				Name:   args[0],
				Params: params,
				BOMOut: opts.BOMOut,
			})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s (%s)\n", result.FullName, result.Type)
			fmt.Fprintf(out, "solids: %d\n", result.Solids)
			if !result.Box.IsEmpty() {
				size := result.Box.Size()
				fmt.Fprintf(out, "size: %g x %g x %g\n", size[0], size[1], size[2])
			}
			for _, child := range result.Children {
				fmt.Fprintf(out, "  - %s\n", child)
			}
			if len(result.BOM) > 0 {
				t := newTable(out, "PART", "COUNT")
				for _, entry := range result.BOM {
					t.addRow(entry.Part, fmt.Sprint(entry.Count))
				}
				t.render()
			}
			if result.BOMPath != "" {
				fmt.Fprintf(out, "bill of materials written to %s\n", result.BOMPath)
			}
			for _, line := range result.Diagnostics {
				fmt.Fprintf(cmd.ErrOrStderr(), "%s\n", line)
			}
			reportProblems(cmd.Context(), result.Problems)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&opts.Assembly, "assembly", "a", false, "Inspect an assembly")
	cmd.Flags().BoolVarP(&opts.Sketch, "sketch", "s", false, "Inspect a sketch")
	cmd.Flags().StringToStringVarP(&opts.Params, "param", "P", nil, "Parameter override name=value")
	cmd.Flags().StringVar(&opts.BOMOut, "bom-out", "", "Write the assembly bill of materials to this file (.json or .csv)")
	cmd.MarkFlagsMutuallyExclusive("assembly", "sketch")
	return cmd
}
