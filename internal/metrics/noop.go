package metrics

import "time"

// NoopSink is used when metrics are disabled to avoid nil checks.
type NoopSink struct{}

func NewNoopSink() *NoopSink {
	return &NoopSink{}
}

func (n *NoopSink) JobEnqueued(outcome string)                                     {}
func (n *NoopSink) TransitionRecorded(target, outcome string)                      {}
func (n *NoopSink) DispatchCompleted(transport string, err error, d time.Duration) {}
func (n *NoopSink) OrphansRedispatched(count int)                                  {}
func (n *NoopSink) CallbackAttempt(kind, statusClass string)                       {}
func (n *NoopSink) WorkerJobFinished(outcome string)                               {}
