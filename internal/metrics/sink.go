package metrics

import "time"

// Sink defines the interface for recording metrics.
// All methods are fire-and-forget: implementations MUST NOT block or propagate errors.
// If the metrics backend is unavailable, implementations log warnings and continue.
type Sink interface {
	// Workflow metrics
	SubmissionAccepted(stage string)
	SubmissionRejected(stage string, reason string)

	// Ledger metrics
	LedgerWriteCompleted(duration time.Duration, err error)
	LedgerRecordsUpdate(count int)

	// Dispatcher metrics
	NotificationStepCompleted(step string, duration time.Duration)
	NotificationOutcome(outcome string)
	NotificationsInFlightIncr()
	NotificationsInFlightDecr()

	// EventBus metrics
	BufferSizeUpdate(size int)
	BufferCapacitySet(capacity int)
	BufferSaturationUpdate(saturation float64)
	EmitError()

	// Background task metrics
	DigestCompleted(duration time.Duration, err error)
	StaleRegistrationsUpdate(count int)
}

// Outcome constants for NotificationOutcome.
const (
	OutcomeSuccess = "success"
	OutcomeFailed  = "failed"
	OutcomeSkipped = "skipped"
)

// Step constants for NotificationStepCompleted.
const (
	StepVerify         = "verify"
	StepAdminSend      = "admin_send"
	StepRegistrantSend = "registrant_send"
)

// Rejection reason constants for SubmissionRejected.
const (
	ReasonMissingIdentity = "missing_identity"
	ReasonUnknownIdentity = "unknown_identity"
	ReasonStoreWrite      = "store_write"
)
