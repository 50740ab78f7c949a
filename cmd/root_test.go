package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/quote-sourcing/internal/config"
	"github.com/sells-group/quote-sourcing/internal/model"
	"github.com/sells-group/quote-sourcing/pkg/partnerapi"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, name := range []string{"lookup", "serve", "cache", "calls", "partner"} {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "quote-cli", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag, "serve command should have --port flag")
	assert.Equal(t, "0", flag.DefValue)
}

func TestLookupCommand_Flags(t *testing.T) {
	for _, name := range []string{"year", "make", "model", "kind", "desc", "part-number", "urgent", "budget", "quality-pref", "vehicle-class", "wait"} {
		assert.NotNil(t, lookupCmd.Flags().Lookup(name), "lookup should have --%s flag", name)
	}
	assert.Equal(t, "part", lookupCmd.Flags().Lookup("kind").DefValue)
}

func TestCallsCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range callsCmd.Commands() {
		names[c.Name()] = true
	}
	for _, name := range []string{"place", "batch", "cancel", "history"} {
		assert.True(t, names[name], "calls should have subcommand %q", name)
	}
	assert.NotNil(t, callsBatchCmd.Flags().Lookup("vendors"))
	assert.Equal(t, "50", callsHistoryCmd.Flags().Lookup("limit").DefValue)
}

func TestPartnerCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range partnerCmd.Commands() {
		names[c.Name()] = true
	}
	for _, name := range []string{"vin", "labor-ops", "order", "order-status"} {
		assert.True(t, names[name], "partner should have subcommand %q", name)
	}
}

func TestLookupRequestFromFlags(t *testing.T) {
	t.Cleanup(func() {
		lookupYear, lookupMake, lookupModel = 0, "", ""
		lookupKind, lookupDesc, lookupPartNumber = "part", "", ""
		lookupUrgent, lookupBudget = false, false
	})
	lookupYear, lookupMake, lookupModel = 2012, "Ford", "F-150"
	lookupKind, lookupDesc = "labor", "Alternator replacement"
	lookupUrgent, lookupBudget = true, true

	req, err := lookupRequestFromFlags(2026)
	require.NoError(t, err)
	assert.Equal(t, model.ItemKindLabor, req.Item.Kind)
	assert.Equal(t, model.UrgencyUrgent, req.Context.Urgency)
	assert.True(t, req.Context.BudgetSensitive)
	require.NotNil(t, req.Context.VehicleAgeYears)
	assert.Equal(t, 14, *req.Context.VehicleAgeYears)

	lookupDesc = ""
	_, err = lookupRequestFromFlags(2026)
	assert.Error(t, err)
}

func TestParseOrderLines(t *testing.T) {
	lines, err := parseOrderLines([]string{"BP-1234:2", "OF-77"})
	require.NoError(t, err)
	assert.Equal(t, []partnerapi.OrderLine{
		{PartNumber: "BP-1234", Quantity: 2},
		{PartNumber: "OF-77", Quantity: 1},
	}, lines)

	for _, bad := range [][]string{nil, {":3"}, {"BP-1:0"}, {"BP-1:two"}} {
		_, err := parseOrderLines(bad)
		assert.Error(t, err, "%v", bad)
	}
}

func TestFormatCacheStats(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	oldest := now.Add(-2 * time.Hour)
	var buf bytes.Buffer
	formatCacheStats(&buf, model.CacheStats{TotalEntries: 3, TotalHits: 7, OldestEntry: &oldest}, now)

	out := buf.String()
	assert.Contains(t, out, "Entries: 3")
	assert.Contains(t, out, "Hits:    7")
	assert.Contains(t, out, "(2h0m0s ago)")
	assert.NotContains(t, out, "Newest")
}

func TestFormatCallHistory(t *testing.T) {
	q := model.Quote{Price: model.NewPrice(decimal.RequireFromString("42.5"))}
	var buf bytes.Buffer
	formatCallHistory(&buf, []model.CallSession{
		{CallID: "c1", VendorID: "napa", State: model.CallCompleted, ResultQuote: &q},
		{CallID: "c2", VendorID: "autozone", State: model.CallFailed, FailureReason: model.CallFailureTimeout},
	})

	out := buf.String()
	assert.Contains(t, out, "CALL")
	assert.Contains(t, out, "$42.50")
	assert.Contains(t, out, "timeout")
}

func TestInitRegistry_DisabledAdapters(t *testing.T) {
	c := &config.Config{Sourcing: config.SourcingConfig{DisabledAdapters: []string{"catalog"}}}
	reg, err := initRegistry(c)
	require.NoError(t, err)
	assert.Equal(t, []string{"catalog"}, reg.List())
	assert.Empty(t, reg.Enabled())
}

func TestInitRegistry_SitesNeedBrowser(t *testing.T) {
	c := &config.Config{Browser: config.BrowserConfig{SitesPath: "sites.yaml"}}
	_, err := initRegistry(c)
	assert.Error(t, err)
}
