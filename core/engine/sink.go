package engine

import (
	"bundle-pricing/core/types"
)

// StepSink receives progress envelopes while a calculation runs.
// Emit must not block the runner.
type StepSink interface {
	Emit(envelope types.StepEnvelope)
}

// SinkFunc adapts a function to a StepSink
type SinkFunc func(envelope types.StepEnvelope)

// Emit calls f
func (f SinkFunc) Emit(envelope types.StepEnvelope) {
	f(envelope)
}

// MultiSink fans one envelope out to several sinks in order
type MultiSink []StepSink

// Emit implements StepSink
func (m MultiSink) Emit(envelope types.StepEnvelope) {
	for _, s := range m {
		if s != nil {
			s.Emit(envelope)
		}
	}
}

type discardSink struct{}

func (discardSink) Emit(types.StepEnvelope) {}
