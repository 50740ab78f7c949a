package model

import "time"

// CallState is the lifecycle state of an outbound vendor call.
type CallState string

const (
	CallPending    CallState = "pending"
	CallInProgress CallState = "in_progress"
	CallCompleted  CallState = "completed"
	CallCancelled  CallState = "cancelled"
	CallFailed     CallState = "failed"
)

// Terminal reports whether no further transitions are allowed.
func (s CallState) Terminal() bool {
	return s == CallCompleted || s == CallCancelled || s == CallFailed
}

// CallFailureReason records why a call ended in CallFailed.
type CallFailureReason string

const (
	CallFailureNone          CallFailureReason = ""
	CallFailureConnectFailed CallFailureReason = "connect_failed"
	CallFailureTimeout       CallFailureReason = "timeout"
)

// CallSession tracks one outbound call to a vendor.
type CallSession struct {
	CallID        string            `json:"call_id"`
	BatchID       string            `json:"batch_id,omitempty"`
	VendorID      string            `json:"vendor_id"`
	Request       ItemRequest       `json:"request"`
	Vehicle       VehicleDescriptor `json:"vehicle"`
	State         CallState         `json:"state"`
	StartedAt     time.Time         `json:"started_at"`
	EndedAt       *time.Time        `json:"ended_at,omitempty"`
	Transcript    string            `json:"transcript,omitempty"`
	ResultQuote   *Quote            `json:"result_quote,omitempty"`
	FailureReason CallFailureReason `json:"failure_reason,omitempty"`
	FailureDetail string            `json:"failure_detail,omitempty"`
}

// BatchResult aggregates the outcome of calling several vendors for one request.
type BatchResult struct {
	BatchID         string        `json:"batch_id"`
	SuccessfulCalls []CallSession `json:"successful_calls"`
	FailedCalls     []CallSession `json:"failed_calls"`
}

// Quotes returns the result quotes of the successful calls.
func (b BatchResult) Quotes() []Quote {
	quotes := make([]Quote, 0, len(b.SuccessfulCalls))
	for _, s := range b.SuccessfulCalls {
		if s.ResultQuote != nil {
			quotes = append(quotes, *s.ResultQuote)
		}
	}
	return quotes
}
