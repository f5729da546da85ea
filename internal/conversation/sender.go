package conversation

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// LogSender writes outbound replies to the log instead of a messaging
// gateway. Used in development and as the fallback when no gateway is
// configured; the webhook response already carries the replies, so nothing
// is lost.
type LogSender struct {
	logger zerolog.Logger
}

func NewLogSender(logger zerolog.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(_ context.Context, clinicID uuid.UUID, to, body string) error {
	s.logger.Info().
		Str("clinic_id", clinicID.String()).
		Str("to", to).
		Str("body", body).
		Msg("outbound message")
	return nil
}
