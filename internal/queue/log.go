package queue

import (
	"context"

	"github.com/rs/zerolog"
)

type logSubmitter struct {
	logger zerolog.Logger
}

// NewLogSubmitter returns a Submitter that only logs jobs. It is the
// development default when no broker is configured.
func NewLogSubmitter(logger zerolog.Logger) Submitter {
	return &logSubmitter{logger: logger}
}

func (s *logSubmitter) Submit(ctx context.Context, job Job) error {
	l := zerolog.Ctx(ctx)
	if l.GetLevel() == zerolog.Disabled {
		l = &s.logger
	}
	l.Info().
		Str("job_id", job.ID).
		Str("job_type", job.Type).
		RawJSON("payload", job.Payload).
		Msg("job submitted (log backend)")
	return nil
}

func (s *logSubmitter) Close() error { return nil }
