// Package adapter defines the source adapter contract and its implementations:
// scraped vendor storefronts, the partner remote-procedure API, and the
// shop-curated static catalog.
package adapter

import (
	"context"
	"errors"
	"fmt"

	"github.com/sells-group/quote-sourcing/internal/model"
)

// Adapter attempts to produce a quote from one external channel.
type Adapter interface {
	// Name returns the adapter identifier used in config and logs.
	Name() string
	// Attempt returns a quote or a *Failure. Business "not found" is a
	// Failure with KindNotFound, never a panic or a bare error.
	Attempt(ctx context.Context, vehicle model.VehicleDescriptor, item model.ItemRequest) (model.Quote, error)
}

// FailureKind classifies adapter failures.
type FailureKind string

const (
	KindTimeout              FailureKind = "timeout"
	KindAuthenticationFailed FailureKind = "authentication_failed"
	KindFieldNotFound        FailureKind = "field_not_found"
	KindNotFound             FailureKind = "not_found"
	KindTransportError       FailureKind = "transport_error"
)

// Failure is the typed error every adapter returns.
type Failure struct {
	Adapter string      `json:"adapter"`
	Kind    FailureKind `json:"kind"`
	Message string      `json:"message,omitempty"`
	Err     error       `json:"-"`
}

func (f *Failure) Error() string {
	if f.Message == "" {
		return fmt.Sprintf("adapter %s: %s", f.Adapter, f.Kind)
	}
	return fmt.Sprintf("adapter %s: %s: %s", f.Adapter, f.Kind, f.Message)
}

func (f *Failure) Unwrap() error { return f.Err }

// Fail builds a Failure for the named adapter.
func Fail(adapter string, kind FailureKind, msg string, err error) *Failure {
	return &Failure{Adapter: adapter, Kind: kind, Message: msg, Err: err}
}

// KindOf returns the failure kind carried by err. Errors that are not adapter
// failures classify as transport errors, and context deadline errors as
// timeouts.
func KindOf(err error) FailureKind {
	if err == nil {
		return ""
	}
	var f *Failure
	if errors.As(err, &f) {
		return f.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindTransportError
}
