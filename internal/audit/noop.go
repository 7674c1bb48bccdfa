package audit

import "context"

// NoopSink is a no-op implementation used when auditing is disabled.
type NoopSink struct{}

func NewNoopSink() *NoopSink { return &NoopSink{} }

func (n *NoopSink) Record(_ context.Context, _ Event) error { return nil }
func (n *NoopSink) Close() error                            { return nil }
