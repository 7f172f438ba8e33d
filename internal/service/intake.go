package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/webitel/im-support-bot/internal/service/dto"
)

// AckDecision tells the webhook handler what to answer.
// Every decision is a success acknowledgment; only Challenge changes the body.
type AckDecision struct {
	// Challenge is echoed back verbatim for verification requests.
	Challenge string
	EventID   string
	Accepted  bool
	Duplicate bool
	Dropped   bool
	// Done is closed when background processing finishes; nil when nothing was scheduled.
	Done <-chan struct{}
}

// Intake classifies, deduplicates and schedules inbound events without waiting on them.
type Intake struct {
	dedup             EventDeduper
	scheduler         Scheduler
	verificationToken string
	logger            *slog.Logger
}

func NewIntake(dedup EventDeduper, scheduler Scheduler, verificationToken string, logger *slog.Logger) *Intake {
	return &Intake{
		dedup:             dedup,
		scheduler:         scheduler,
		verificationToken: verificationToken,
		logger:            logger,
	}
}

// Receive never blocks on downstream work and never surfaces an error:
// malformed and duplicate events are swallowed so the platform does not redeliver them.
func (i *Intake) Receive(ctx context.Context, raw []byte) AckDecision {
	ev, err := dto.DecodeEnvelope(raw, i.verificationToken)
	if err != nil {
		msg := "EVENT_MALFORMED"
		if errors.Is(err, dto.ErrIgnored) {
			msg = "EVENT_IGNORED"
		}
		i.logger.DebugContext(ctx, msg, "err", err, "size", len(raw))
		return AckDecision{Dropped: true}
	}

	// [SHORT_CIRCUIT] The acknowledgment is the whole answer.
	if ev.IsTerminal() {
		return AckDecision{Challenge: ev.Challenge}
	}

	if !i.dedup.MarkSeen(ev.ID) {
		i.logger.DebugContext(ctx, "EVENT_DUPLICATE",
			"event_id", ev.ID,
			"conversation_id", ev.ConversationID,
		)
		return AckDecision{EventID: ev.ID, Duplicate: true}
	}

	done, err := i.scheduler.Dispatch(ev)
	if err != nil {
		// [REDELIVERY] Forget the id so the platform's retry gets processed.
		i.dedup.Forget(ev.ID)
		i.logger.WarnContext(ctx, "EVENT_DISPATCH_REJECTED",
			"event_id", ev.ID,
			"conversation_id", ev.ConversationID,
			"err", err,
		)
		return AckDecision{EventID: ev.ID, Dropped: true}
	}

	i.logger.DebugContext(ctx, "EVENT_ACCEPTED",
		"event_id", ev.ID,
		"event_type", ev.Type.String(),
		"conversation_id", ev.ConversationID,
	)
	return AckDecision{EventID: ev.ID, Accepted: true, Done: done}
}
