package sourcing

import (
	"errors"
	"fmt"
	"strings"

	"github.com/sells-group/quote-sourcing/internal/adapter"
)

// FailureKind classifies a sourcing failure.
type FailureKind string

// AllSourcesExhausted means the cache missed and no adapter produced a quote.
const AllSourcesExhausted FailureKind = "all_sources_exhausted"

// SourcingFailure is returned when no source produced a quote. When
// PendingCallback is set, vendor calls were started under BatchID and the
// caller should show the request as waiting on a vendor callback.
type SourcingFailure struct {
	Kind            FailureKind        `json:"kind"`
	Failures        []*adapter.Failure `json:"failures"`
	PendingCallback bool               `json:"pending_callback"`
	BatchID         string             `json:"batch_id,omitempty"`
}

func (e *SourcingFailure) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("%s=%s", f.Adapter, f.Kind))
	}
	msg := fmt.Sprintf("sourcing: %s [%s]", e.Kind, strings.Join(parts, ", "))
	if e.PendingCallback {
		msg += " (pending vendor callback, batch " + e.BatchID + ")"
	}
	return msg
}

// AsSourcingFailure extracts a SourcingFailure from err.
func AsSourcingFailure(err error) (*SourcingFailure, bool) {
	var sf *SourcingFailure
	if errors.As(err, &sf) {
		return sf, true
	}
	return nil, false
}
