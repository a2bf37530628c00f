package metrics

import "time"

// NoopSink is a no-op implementation of Sink.
// Used when metrics are disabled to avoid nil checks.
type NoopSink struct{}

// NewNoopSink returns a no-op metrics sink.
func NewNoopSink() *NoopSink {
	return &NoopSink{}
}

func (n *NoopSink) SubmissionAccepted(stage string)                                {}
func (n *NoopSink) SubmissionRejected(stage string, reason string)                 {}
func (n *NoopSink) LedgerWriteCompleted(duration time.Duration, err error)         {}
func (n *NoopSink) LedgerRecordsUpdate(count int)                                  {}
func (n *NoopSink) NotificationStepCompleted(step string, duration time.Duration)  {}
func (n *NoopSink) NotificationOutcome(outcome string)                             {}
func (n *NoopSink) NotificationsInFlightIncr()                                     {}
func (n *NoopSink) NotificationsInFlightDecr()                                     {}
func (n *NoopSink) BufferSizeUpdate(size int)                                      {}
func (n *NoopSink) BufferCapacitySet(capacity int)                                 {}
func (n *NoopSink) BufferSaturationUpdate(saturation float64)                      {}
func (n *NoopSink) EmitError()                                                     {}
func (n *NoopSink) DigestCompleted(duration time.Duration, err error)              {}
func (n *NoopSink) StaleRegistrationsUpdate(count int)                             {}
