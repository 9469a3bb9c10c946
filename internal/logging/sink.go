package logging

import (
	"context"
	"log/slog"
)

// Sink receives errors and security events that must not interrupt the caller.
type Sink interface {
	RecordError(ctx context.Context, err error, attrs ...any)
	RecordSecurityEvent(ctx context.Context, event string, attrs ...any)
}

// SlogSink writes sink events to a structured logger.
type SlogSink struct {
	logger *slog.Logger
}

// NewSink returns a Sink backed by logger.
func NewSink(logger *slog.Logger) *SlogSink {
	if logger == nil {
		logger = Nop()
	}
	return &SlogSink{logger: logger}
}

func (s *SlogSink) RecordError(ctx context.Context, err error, attrs ...any) {
	if err == nil {
		return
	}
	s.logger.ErrorContext(ctx, err.Error(), append([]any{"error", err}, attrs...)...)
}

func (s *SlogSink) RecordSecurityEvent(ctx context.Context, event string, attrs ...any) {
	s.logger.WarnContext(ctx, event, append([]any{"security", true}, attrs...)...)
}

type discardSink struct{}

func (discardSink) RecordError(context.Context, error, ...any)          {}
func (discardSink) RecordSecurityEvent(context.Context, string, ...any) {}

// Discard is a Sink that drops everything.
var Discard Sink = discardSink{}
