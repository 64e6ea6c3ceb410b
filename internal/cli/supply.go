package cli

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"partcad/internal/app"
	"partcad/internal/types"
)

type supplyOptions struct {
	QoS      string
	Provider string
	Package  string
}

func newSupplyCommand() *cobra.Command {
	opts := supplyOptions{}
	cmd := &cobra.Command{
		Use:   "supply",
		Short: "Find, quote and order parts from providers",
	}
	cmd.PersistentFlags().StringVar(&opts.QoS, "qos", "", "Quality of service requested from providers")
	cmd.PersistentFlags().StringVar(&opts.Provider, "provider", "", "Send the whole cart to this provider")
	cmd.PersistentFlags().StringVar(&opts.Package, "from", "", "Package the objects are relative to")

	request := func(objects []string) app.SupplyRequest {
		return app.SupplyRequest{Target: target(opts.Package), Objects: objects, QoS: opts.QoS, Provider: opts.Provider}
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "find <object>[#count]...",
		Short: "Show which providers can supply each object",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := newAppService().SupplyFind(cmd.Context(), request(args))
			if err != nil {
				return err
			}
			t := newTable(cmd.OutOrStdout(), "PART", "COUNT", "PROVIDERS")
			for _, match := range result.Matches {
				providers := strings.Join(match.Providers, ", ")
				if providers == "" {
					providers = "-"
				}
				t.addRow(match.Item.Part, fmt.Sprint(match.Item.Count), providers)
			}
			t.render()
			reportProblems(cmd.Context(), result.Problems)
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "caps <provider>",
		Short: "Show a provider's capabilities",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := request(nil)
			req.Provider = args[0]
			result, err := newAppService().SupplyCaps(cmd.Context(), req)
			if err != nil {
				return err
			}
			printCaps(cmd.OutOrStdout(), result.Provider, result.Caps)
			reportProblems(cmd.Context(), result.Problems)
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "quote <object>[#count]...",
		Short: "Request quotes for a cart",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := newAppService().SupplyQuote(cmd.Context(), request(args))
			if err != nil {
				return err
			}
			t := newTable(cmd.OutOrStdout(), "PROVIDER", "QUOTE", "PRICE", "ITEMS")
			for _, quote := range result.Quotes {
				price := strings.TrimSpace(fmt.Sprintf("%.2f %s", quote.Price, quote.Currency))
				t.addRow(quote.Provider, quote.QuoteID, price, fmt.Sprint(len(quote.Items)))
			}
			t.render()
			printUnmatched(cmd.ErrOrStderr(), result.Unmatched)
			reportProblems(cmd.Context(), result.Problems)
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "order <object>[#count]...",
		Short: "Place orders for a cart",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := newAppService().SupplyOrder(cmd.Context(), request(args))
			if err != nil {
				return err
			}
			t := newTable(cmd.OutOrStdout(), "PROVIDER", "ORDER")
			for _, order := range result.Orders {
				t.addRow(order.Provider, order.OrderID)
			}
			t.render()
			printUnmatched(cmd.ErrOrStderr(), result.Unmatched)
			reportProblems(cmd.Context(), result.Problems)
			return nil
		},
	})
	return cmd
}

func printCaps(w io.Writer, provider string, caps types.ProviderCaps) {
	fmt.Fprintf(w, "%s\n", provider)
	materials := lo.Keys(caps.Materials)
	sort.Strings(materials)
	for _, name := range materials {
		material := caps.Materials[name]
		fmt.Fprintf(w, "  material %s", name)
		if len(material.Colors) > 0 {
			fmt.Fprintf(w, " colors=%s", strings.Join(material.Colors, ","))
		}
		if len(material.Finishes) > 0 {
			fmt.Fprintf(w, " finishes=%s", strings.Join(material.Finishes, ","))
		}
		fmt.Fprintln(w)
	}
	if len(caps.Vendors) > 0 {
		fmt.Fprintf(w, "  vendors: %s\n", strings.Join(caps.Vendors, ", "))
	}
	for _, sku := range caps.SKUs {
		fmt.Fprintf(w, "  sku %s %s\n", sku.Vendor, sku.SKU)
	}
}

func printUnmatched(w io.Writer, items []types.CartItem) {
	for _, item := range items {
		fmt.Fprintf(w, "no provider for %s x%d\n", item.Part, item.Count)
	}
}
