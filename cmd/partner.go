package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/quote-sourcing/pkg/partnerapi"
)

var partnerCmd = &cobra.Command{
	Use:   "partner",
	Short: "Call the partner parts API directly",
	Long:  "VIN decoding, labor guide listing and order placement against the partner SOAP service.",
}

// partnerSession validates config and logs in.
func partnerSession(cmd *cobra.Command) (partnerapi.Client, string, error) {
	if err := cfg.Validate("partner"); err != nil {
		return nil, "", err
	}
	client := newPartnerClient(cfg.Partner)
	token, err := client.Login(cmd.Context())
	if err != nil {
		return nil, "", eris.Wrap(err, "partner login")
	}
	return client, token, nil
}

var partnerVINCmd = &cobra.Command{
	Use:   "vin <vin>",
	Short: "Decode a VIN into year, make and model",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, token, err := partnerSession(cmd)
		if err != nil {
			return err
		}
		res, err := client.DecodeVIN(cmd.Context(), token, strings.ToUpper(strings.TrimSpace(args[0])))
		if err != nil {
			return eris.Wrap(err, "partner vin")
		}
		return printJSON(os.Stdout, res)
	},
}

var partnerLaborOpsCmd = &cobra.Command{
	Use:   "labor-ops",
	Short: "List labor guide operations for a vehicle",
	RunE: func(cmd *cobra.Command, _ []string) error {
		client, token, err := partnerSession(cmd)
		if err != nil {
			return err
		}
		year, _ := cmd.Flags().GetInt("year")
		mk, _ := cmd.Flags().GetString("make")
		mdl, _ := cmd.Flags().GetString("model")

		res, err := client.ListLaborOperations(cmd.Context(), token, partnerapi.Vehicle{Year: year, Make: mk, Model: mdl})
		if err != nil {
			return eris.Wrap(err, "partner labor-ops")
		}
		if len(res.Operations) == 0 {
			fmt.Fprintln(os.Stderr, "No labor operations found.")
			return nil
		}
		formatLaborOps(os.Stdout, res.Operations)
		return nil
	},
}

var partnerOrderCmd = &cobra.Command{
	Use:   "order",
	Short: "Place a parts order",
	RunE: func(cmd *cobra.Command, _ []string) error {
		po, _ := cmd.Flags().GetString("po")
		specs, _ := cmd.Flags().GetStringSlice("line")
		lines, err := parseOrderLines(specs)
		if err != nil {
			return err
		}

		client, token, err := partnerSession(cmd)
		if err != nil {
			return err
		}
		res, err := client.PlaceOrder(cmd.Context(), token, partnerapi.OrderRequest{PONumber: po, Lines: lines})
		if err != nil {
			return eris.Wrap(err, "partner order")
		}
		return printJSON(os.Stdout, res)
	},
}

var partnerOrderStatusCmd = &cobra.Command{
	Use:   "order-status <order-id>",
	Short: "Show the status of a placed order",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, token, err := partnerSession(cmd)
		if err != nil {
			return err
		}
		res, err := client.OrderStatus(cmd.Context(), token, args[0])
		if err != nil {
			return eris.Wrap(err, "partner order-status")
		}
		return printJSON(os.Stdout, res)
	},
}

// parseOrderLines parses PART[:QTY] specs. Quantity defaults to 1.
func parseOrderLines(specs []string) ([]partnerapi.OrderLine, error) {
	if len(specs) == 0 {
		return nil, eris.New("at least one --line is required")
	}
	lines := make([]partnerapi.OrderLine, 0, len(specs))
	for _, raw := range specs {
		pn, qtyStr, hasQty := strings.Cut(strings.TrimSpace(raw), ":")
		if pn == "" {
			return nil, eris.Errorf("order line %q: missing part number", raw)
		}
		qty := 1
		if hasQty {
			n, err := strconv.Atoi(qtyStr)
			if err != nil || n < 1 {
				return nil, eris.Errorf("order line %q: quantity must be a positive integer", raw)
			}
			qty = n
		}
		lines = append(lines, partnerapi.OrderLine{PartNumber: pn, Quantity: qty})
	}
	return lines, nil
}

func formatLaborOps(w io.Writer, ops []partnerapi.LaborOperation) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "CODE\tHOURS\tDESCRIPTION")
	for _, op := range ops {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", op.Code, op.Hours.StringFixed(1), op.Description)
	}
	_ = tw.Flush()
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	partnerLaborOpsCmd.Flags().Int("year", 0, "vehicle model year")
	partnerLaborOpsCmd.Flags().String("make", "", "vehicle make")
	partnerLaborOpsCmd.Flags().String("model", "", "vehicle model")
	_ = partnerLaborOpsCmd.MarkFlagRequired("make")
	_ = partnerLaborOpsCmd.MarkFlagRequired("model")

	partnerOrderCmd.Flags().String("po", "", "purchase order number")
	partnerOrderCmd.Flags().StringSlice("line", nil, "order line as PART[:QTY], repeatable")

	partnerCmd.AddCommand(partnerVINCmd)
	partnerCmd.AddCommand(partnerLaborOpsCmd)
	partnerCmd.AddCommand(partnerOrderCmd)
	partnerCmd.AddCommand(partnerOrderStatusCmd)
	rootCmd.AddCommand(partnerCmd)
}
