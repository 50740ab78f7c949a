package main

import (
	"context"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/quote-sourcing/internal/model"
	"github.com/sells-group/quote-sourcing/internal/settings"
	"github.com/sells-group/quote-sourcing/internal/sourcing"
)

// lookupOutput is a lookup result priced for the customer.
type lookupOutput struct {
	sourcing.Result
	CustomerCost settings.Cost `json:"customer_cost"`
}

func newLookupOutput(ctx context.Context, p settings.Provider, res sourcing.Result) (lookupOutput, error) {
	s, err := p.Current(ctx)
	if err != nil {
		return lookupOutput{}, eris.Wrap(err, "load shop settings")
	}
	return lookupOutput{
		Result:       res,
		CustomerCost: settings.CustomerCost(res.Recommendation.Best.Quote, s),
	}, nil
}

var (
	lookupYear         int
	lookupMake         string
	lookupModel        string
	lookupKind         string
	lookupDesc         string
	lookupPartNumber   string
	lookupUrgent       bool
	lookupBudget       bool
	lookupQualityPref  string
	lookupVehicleClass string
	lookupWait         bool
)

var lookupCmd = &cobra.Command{
	Use:   "lookup",
	Short: "Source and recommend a quote for one part or labor operation",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		req, err := lookupRequestFromFlags(time.Now().Year())
		if err != nil {
			return err
		}

		env, err := initApp(ctx, "lookup")
		if err != nil {
			return err
		}
		defer env.Close()

		// Vendor calls report back through the webhook, so keep a listener up
		// for as long as an escalation might be waited on.
		if lookupWait && env.Calls != nil {
			stop, err := startWebhookListener(env)
			if err != nil {
				return err
			}
			defer stop()
		}

		res, err := env.Coordinator.Lookup(ctx, req)
		if err != nil {
			sf, ok := sourcing.AsSourcingFailure(err)
			if !ok || !sf.PendingCallback || !lookupWait {
				return eris.Wrap(err, "lookup")
			}
			zap.L().Info("waiting on vendor callbacks", zap.String("batch_id", sf.BatchID))
			res, err = env.Coordinator.ResolveEscalation(ctx, sf.BatchID)
			if err != nil {
				return eris.Wrap(err, "lookup: vendor calls")
			}
		}

		out, err := newLookupOutput(ctx, env.Settings, res)
		if err != nil {
			return err
		}

		zap.L().Info("lookup complete",
			zap.String("vehicle", req.Vehicle.String()),
			zap.String("source", string(res.Recommendation.Best.Quote.SourceKind)),
			zap.Bool("from_cache", res.FromCache),
			zap.Float64("score", res.Recommendation.Best.OverallScore),
		)

		return printJSON(os.Stdout, out)
	},
}

// lookupRequestFromFlags builds the request and its selection context. The
// vehicle age is derived from the model year against currentYear.
func lookupRequestFromFlags(currentYear int) (sourcing.Request, error) {
	kind := model.ItemKind(lookupKind)
	if kind == "labor" {
		kind = model.ItemKindLabor
	}
	req := sourcing.Request{
		Vehicle: model.VehicleDescriptor{Year: lookupYear, Make: lookupMake, Model: lookupModel},
		Item: model.ItemRequest{
			Kind:        kind,
			Description: lookupDesc,
			PartNumber:  lookupPartNumber,
		},
		Context: model.SelectionContext{
			Urgency:           model.UrgencyNormal,
			BudgetSensitive:   lookupBudget,
			VehicleClass:      model.VehicleClass(lookupVehicleClass),
			QualityPreference: lookupQualityPref,
		},
	}
	if lookupUrgent {
		req.Context.Urgency = model.UrgencyUrgent
	}
	if lookupYear > 0 {
		age := req.Vehicle.AgeYears(currentYear)
		req.Context.VehicleAgeYears = &age
	}
	if !req.Item.Valid() {
		return req, eris.New("--kind must be part or labor and one of --desc or --part-number is required")
	}
	return req, nil
}

func init() {
	f := lookupCmd.Flags()
	f.IntVar(&lookupYear, "year", 0, "vehicle model year")
	f.StringVar(&lookupMake, "make", "", "vehicle make (required)")
	f.StringVar(&lookupModel, "model", "", "vehicle model (required)")
	f.StringVar(&lookupKind, "kind", "part", "item kind: part or labor")
	f.StringVar(&lookupDesc, "desc", "", "part or labor operation description")
	f.StringVar(&lookupPartNumber, "part-number", "", "part number, preferred over --desc for matching")
	f.BoolVar(&lookupUrgent, "urgent", false, "favor availability and delivery over price")
	f.BoolVar(&lookupBudget, "budget", false, "customer is price sensitive")
	f.StringVar(&lookupQualityPref, "quality-pref", "", "preferred quality grade (oem, premium, economy, ...)")
	f.StringVar(&lookupVehicleClass, "vehicle-class", "", "vehicle class: standard, luxury or performance")
	f.BoolVar(&lookupWait, "wait", false, "when vendor calls are placed, wait for them and print their result")
	_ = lookupCmd.MarkFlagRequired("make")
	_ = lookupCmd.MarkFlagRequired("model")
	rootCmd.AddCommand(lookupCmd)
}
