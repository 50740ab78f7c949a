package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/quote-sourcing/internal/model"
	"github.com/sells-group/quote-sourcing/internal/store"
)

var callsCmd = &cobra.Command{
	Use:   "calls",
	Short: "Place and inspect vendor phone calls",
	Long:  "Calls vendors for a price when automated sources come up empty. Call events arrive through the voice webhook, which these commands serve while waiting.",
}

// addItemFlags registers the vehicle and item flags shared by place and batch.
func addItemFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.Int("year", 0, "vehicle model year")
	f.String("make", "", "vehicle make")
	f.String("model", "", "vehicle model")
	f.String("kind", "part", "item kind: part or labor")
	f.String("desc", "", "part or labor operation description")
	f.String("part-number", "", "part number")
}

func itemFromFlags(cmd *cobra.Command) (model.VehicleDescriptor, model.ItemRequest, error) {
	f := cmd.Flags()
	year, _ := f.GetInt("year")
	mk, _ := f.GetString("make")
	mdl, _ := f.GetString("model")
	kind, _ := f.GetString("kind")
	desc, _ := f.GetString("desc")
	pn, _ := f.GetString("part-number")

	if kind == "labor" {
		kind = string(model.ItemKindLabor)
	}
	item := model.ItemRequest{Kind: model.ItemKind(kind), Description: desc, PartNumber: pn}
	if !item.Valid() {
		return model.VehicleDescriptor{}, item, eris.New("--kind must be part or labor and one of --desc or --part-number is required")
	}
	return model.VehicleDescriptor{Year: year, Make: mk, Model: mdl}, item, nil
}

var callsPlaceCmd = &cobra.Command{
	Use:   "place <vendor-id>",
	Short: "Call one vendor and wait for the result",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		vehicle, item, err := itemFromFlags(cmd)
		if err != nil {
			return err
		}
		return runCalls(cmd, []string{args[0]}, vehicle, item)
	},
}

var callsBatchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Call several vendors in parallel and wait for all of them",
	RunE: func(cmd *cobra.Command, _ []string) error {
		vehicle, item, err := itemFromFlags(cmd)
		if err != nil {
			return err
		}
		ids, _ := cmd.Flags().GetStringSlice("vendors")
		return runCalls(cmd, ids, vehicle, item)
	},
}

// runCalls places a batch, serves the webhook until every call is terminal
// and prints the batch result. With no vendor IDs every callable vendor is
// called.
func runCalls(cmd *cobra.Command, vendorIDs []string, vehicle model.VehicleDescriptor, item model.ItemRequest) error {
	ctx := cmd.Context()
	env, err := initApp(ctx, "calls")
	if err != nil {
		return err
	}
	defer env.Close()

	if len(vendorIDs) == 0 {
		for _, v := range env.Vendors.Callable() {
			vendorIDs = append(vendorIDs, v.ID)
		}
	}

	stop, err := startWebhookListener(env)
	if err != nil {
		return err
	}
	defer stop()

	batchID, sessions, err := env.Calls.StartBatch(ctx, vendorIDs, item, vehicle)
	if err != nil {
		return eris.Wrap(err, "calls: start batch")
	}
	zap.L().Info("calls placed", zap.String("batch_id", batchID), zap.Int("calls", len(sessions)))

	res, err := env.Calls.WaitBatch(ctx, batchID)
	if err != nil {
		if n, cerr := env.Calls.CancelBatch(ctx, batchID); cerr == nil && n > 0 {
			zap.L().Warn("calls: cancelled unfinished calls", zap.String("batch_id", batchID), zap.Int("cancelled", n))
		}
		return eris.Wrap(err, "calls: wait for batch")
	}

	if quotes := res.Quotes(); len(quotes) > 0 {
		rec, err := env.Engine.Select(quotes, model.SelectionContext{Urgency: model.UrgencyNormal})
		if err != nil {
			return eris.Wrap(err, "calls: select")
		}
		return printJSON(os.Stdout, struct {
			model.BatchResult
			Recommendation model.Recommendation `json:"recommendation"`
		}{res, rec})
	}
	return printJSON(os.Stdout, res)
}

var callsCancelCmd = &cobra.Command{
	Use:   "cancel <call-id>",
	Short: "Ask the voice platform to hang up a call",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initApp(ctx, "calls")
		if err != nil {
			return err
		}
		defer env.Close()

		// Calls from another process are only known to the archive, so the
		// platform is told directly and the archived record is closed out.
		s, err := env.Store.GetCall(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "calls cancel")
		}
		if s == nil {
			return eris.Errorf("calls cancel: unknown call %s", args[0])
		}
		if s.State.Terminal() {
			return eris.Errorf("calls cancel: call %s is already %s", s.CallID, s.State)
		}
		if err := env.Calls.CancelRemote(ctx, s.CallID); err != nil {
			return eris.Wrap(err, "calls cancel")
		}
		now := time.Now().UTC()
		s.State = model.CallCancelled
		s.EndedAt = &now
		if err := env.Store.SaveCall(ctx, *s); err != nil {
			return eris.Wrap(err, "calls cancel: archive")
		}
		fmt.Fprintf(os.Stdout, "Cancelled call %s to %s.\n", s.CallID, s.VendorID)
		return nil
	},
}

var callsHistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "List archived vendor calls",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("lookup"); err != nil {
			return err
		}
		st, err := store.Open(ctx, cfg.Store)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		vendorID, _ := cmd.Flags().GetString("vendor")
		batchID, _ := cmd.Flags().GetString("batch")
		state, _ := cmd.Flags().GetString("state")
		limit, _ := cmd.Flags().GetInt("limit")

		sessions, err := st.ListCalls(ctx, store.CallFilter{
			VendorID: vendorID,
			BatchID:  batchID,
			State:    model.CallState(state),
			Limit:    limit,
		})
		if err != nil {
			return eris.Wrap(err, "calls history")
		}
		if len(sessions) == 0 {
			fmt.Fprintln(os.Stderr, "No calls found.")
			return nil
		}
		formatCallHistory(os.Stdout, sessions)
		return nil
	},
}

func formatCallHistory(w io.Writer, sessions []model.CallSession) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "CALL\tVENDOR\tSTATE\tSTARTED\tPRICE\tREASON")
	for _, s := range sessions {
		price := "-"
		if s.ResultQuote != nil && s.ResultQuote.HasPrice() {
			price = "$" + s.ResultQuote.Price.Decimal.StringFixed(2)
		}
		reason := string(s.FailureReason)
		if reason == "" {
			reason = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			s.CallID, s.VendorID, s.State, s.StartedAt.Format("2006-01-02 15:04"), price, reason)
	}
	_ = tw.Flush()
}

func init() {
	addItemFlags(callsPlaceCmd)
	addItemFlags(callsBatchCmd)
	callsBatchCmd.Flags().StringSlice("vendors", nil, "vendor IDs to call (default: every callable vendor)")

	callsHistoryCmd.Flags().String("vendor", "", "filter by vendor ID")
	callsHistoryCmd.Flags().String("batch", "", "filter by batch ID")
	callsHistoryCmd.Flags().String("state", "", "filter by state (pending, in_progress, completed, cancelled, failed)")
	callsHistoryCmd.Flags().Int("limit", 50, "max number of calls to display")

	callsCmd.AddCommand(callsPlaceCmd)
	callsCmd.AddCommand(callsBatchCmd)
	callsCmd.AddCommand(callsCancelCmd)
	callsCmd.AddCommand(callsHistoryCmd)
	rootCmd.AddCommand(callsCmd)
}
