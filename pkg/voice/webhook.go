package voice

import (
	"crypto/subtle"
	"encoding/json"
	"io"
	"time"

	"github.com/rotisserie/eris"
)

// SecretHeader carries the shared webhook secret.
const SecretHeader = "X-Voice-Secret"

// EventType names a webhook event.
type EventType string

const (
	EventCallStarted    EventType = "call.started"
	EventCallTranscript EventType = "call.transcript"
	EventCallFailed     EventType = "call.failed"
)

// Failure reasons reported with call.failed.
const (
	ReasonNoAnswer = "no_answer"
	ReasonBusy     = "busy"
	ReasonTimeout  = "timeout"
)

// Event is one webhook delivery from the platform.
type Event struct {
	Type       EventType `json:"type"`
	CallID     string    `json:"call_id"`
	Transcript string    `json:"transcript,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// ParseEvent decodes and validates a webhook body.
func ParseEvent(r io.Reader) (Event, error) {
	var ev Event
	if err := json.NewDecoder(io.LimitReader(r, 1<<20)).Decode(&ev); err != nil {
		return Event{}, eris.Wrap(err, "voice: decode event")
	}
	if ev.CallID == "" {
		return Event{}, eris.New("voice: event missing call_id")
	}
	switch ev.Type {
	case EventCallStarted, EventCallFailed:
	case EventCallTranscript:
		if ev.Transcript == "" {
			return Event{}, eris.New("voice: transcript event has empty transcript")
		}
	default:
		return Event{}, eris.Errorf("voice: unknown event type %q", ev.Type)
	}
	return ev, nil
}

// VerifySecret compares a received header value to the configured secret.
// An empty configured secret rejects every request.
func VerifySecret(configured, received string) bool {
	if configured == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(configured), []byte(received)) == 1
}
