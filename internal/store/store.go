// Package store archives terminal call sessions for audit.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/quote-sourcing/internal/config"
	"github.com/sells-group/quote-sourcing/internal/model"
)

// CallFilter specifies criteria for listing archived calls.
type CallFilter struct {
	VendorID     string          `json:"vendor_id,omitempty"`
	BatchID      string          `json:"batch_id,omitempty"`
	State        model.CallState `json:"state,omitempty"`
	StartedAfter time.Time       `json:"started_after,omitempty"`
	Limit        int             `json:"limit,omitempty"`
}

// CallStore persists the call-history archive.
type CallStore interface {
	// SaveCall inserts or replaces a session by call ID.
	SaveCall(ctx context.Context, s model.CallSession) error
	// GetCall returns nil, nil when the call is unknown.
	GetCall(ctx context.Context, callID string) (*model.CallSession, error)
	// ListCalls returns sessions newest first.
	ListCalls(ctx context.Context, filter CallFilter) ([]model.CallSession, error)

	Migrate(ctx context.Context) error
	Close() error
}

const defaultListLimit = 100

// Open connects to the configured backend and runs migrations.
func Open(ctx context.Context, cfg config.StoreConfig) (CallStore, error) {
	var (
		st  CallStore
		err error
	)
	switch cfg.Driver {
	case "postgres":
		st, err = NewPostgres(ctx, cfg.DatabaseURL, nil)
	case "sqlite", "":
		st, err = NewSQLite(cfg.DatabaseURL)
	default:
		return nil, eris.Errorf("store: unknown driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close() //nolint:errcheck
		return nil, err
	}
	return st, nil
}

func limitOrDefault(n int) int {
	if n <= 0 {
		return defaultListLimit
	}
	return n
}
