package reliability

import (
	"context"
	"log/slog"
)

// Sink appends failure records to the ledger. Record never returns an error:
// a failure to record a failure must not crash the consumption loop, so
// ledger errors are logged and swallowed here.
type Sink struct {
	ledger Ledger
	logger *slog.Logger
}

// NewSink creates a sink over the given ledger.
func NewSink(ledger Ledger, logger *slog.Logger) *Sink {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sink{ledger: ledger, logger: logger}
}

// Record persists one immutable failure record for the original payload.
func (s *Sink) Record(ctx context.Context, queue string, payload []byte, cause error, errorType string, status FailureStatus, retries int) {
	record := NewFailureRecord(queue, payload, cause, errorType, status, retries)

	if err := s.ledger.Append(ctx, record); err != nil {
		s.logger.Error("failed to record failure",
			"error", err,
			"messageId", record.MessageID,
			"queue", queue,
			"status", status)
		return
	}

	s.logger.Warn("message routed to failure ledger",
		"messageId", record.MessageID,
		"queue", queue,
		"status", status,
		"cause", record.Error)
}
