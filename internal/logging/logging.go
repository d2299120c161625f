// Package logging wires every sequencer component to a single zap
// configuration. It replaces the teacher's per-component
// log.New(os.Stdout, "MEMPOOL: ", ...) convention with zap's
// structured SugaredLogger while keeping the same idea: each
// component gets its own named logger.
package logging

import (
	"go.uber.org/zap"
)

// New builds a SugaredLogger scoped to component, e.g. "mempool",
// "batcher", "stream_handler". Mirrors the teacher's per-instance
// logger prefix, but through zap's "component" field instead of a
// string prefix.
func New(component string) *zap.SugaredLogger {
	cfg := zap.NewProductionConfig()
	cfg.DisableStacktrace = true
	base, err := cfg.Build()
	if err != nil {
		return zap.NewNop().Sugar()
	}
	return base.Sugar().Named(component)
}

// NopIfNil returns l, or a no-op sugared logger when l is nil, so
// constructors can accept an optional logger without a nil-check at
// every call site.
func NopIfNil(l *zap.SugaredLogger) *zap.SugaredLogger {
	if l == nil {
		return zap.NewNop().Sugar()
	}
	return l
}
