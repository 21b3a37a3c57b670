package services

import (
	"context"
	"slices"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/wamcp-ingest/internal/config"
	"github.com/tbourn/wamcp-ingest/internal/observability"
	"github.com/tbourn/wamcp-ingest/internal/queue"
	"github.com/tbourn/wamcp-ingest/internal/whatsapp"
)

// groupSuffix marks WhatsApp group ids.
const groupSuffix = "@g.us"

// Dispatcher submits post-commit jobs. It is offered every newly inserted
// inbound message and every staged document; nothing it does can fail the
// ingestion that produced them.
type Dispatcher struct {
	Submitter queue.Submitter
	Cooldown  queue.Cooldown
	Echo      config.EchoConfig
}

// NewDispatcher returns a Dispatcher; a nil cooldown means no rate limit.
func NewDispatcher(sub queue.Submitter, cd queue.Cooldown, echo config.EchoConfig) *Dispatcher {
	return &Dispatcher{Submitter: sub, Cooldown: cd, Echo: echo}
}

// Submit hands job to the backend, logging and counting a failure.
func (d *Dispatcher) Submit(ctx context.Context, job queue.Job) bool {
	if d == nil || d.Submitter == nil {
		return false
	}
	if err := d.Submitter.Submit(ctx, job); err != nil {
		observability.SubmitFailures.WithLabelValues(job.Type).Inc()
		logger(ctx).Error().Err(err).
			Str("job_id", job.ID).
			Str("job_type", job.Type).
			Msg("job submission failed")
		return false
	}
	return true
}

// Offer runs the debug echo gate for a newly inserted inbound message and
// submits the echo job when it passes. It reports whether a job was submitted.
func (d *Dispatcher) Offer(ctx context.Context, ev whatsapp.Event) bool {
	if d == nil || !d.Echo.Enabled || ev.Direction != whatsapp.DirectionInbound {
		return false
	}
	to := d.recipient(ev)
	if to == "" {
		return false
	}
	l := logger(ctx).With().Str("message_id", ev.MessageID).Str("to", to).Logger()

	if !d.allowed(to) {
		l.Info().Msg("debug echo skipped: recipient not allowlisted")
		return false
	}
	if d.Cooldown != nil {
		ok, err := d.Cooldown.Acquire(ctx, to)
		if err != nil {
			l.Warn().Err(err).Msg("debug echo skipped: cooldown unavailable")
			return false
		}
		if !ok {
			l.Info().Msg("debug echo skipped: rate limited")
			return false
		}
	}

	job, err := queue.DebugEchoJob(queue.DebugEchoPayload{
		BusinessPhoneNumberID: ev.BusinessPhoneNumberID,
		MessageID:             ev.MessageID,
		To:                    to,
		Body:                  "DEBUG ECHO: Received " + ev.MessageID,
	})
	if err != nil {
		l.Error().Err(err).Msg("debug echo job encode failed")
		return false
	}
	return d.Submit(ctx, job)
}

func (d *Dispatcher) recipient(ev whatsapp.Event) string {
	if ev.IsGroup() && ev.GroupID != "" && !d.Echo.GroupFallback {
		return ev.GroupID
	}
	return ev.SenderID
}

// allowed applies the allowlists. With both lists empty everyone is allowed;
// once either is set, a recipient must appear in the list for its kind.
func (d *Dispatcher) allowed(to string) bool {
	nums, groups := d.Echo.AllowNumbers, d.Echo.AllowGroupIDs
	if len(nums) == 0 && len(groups) == 0 {
		return true
	}
	if strings.Contains(to, groupSuffix) {
		return slices.Contains(groups, to)
	}
	return slices.Contains(nums, to) || slices.Contains(nums, phoneE164(to))
}

func logger(ctx context.Context) *zerolog.Logger {
	if l := zerolog.Ctx(ctx); l.GetLevel() != zerolog.Disabled {
		return l
	}
	return &log.Logger
}
