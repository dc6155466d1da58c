package meeting

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/meetrelay/internal/core"
	"github.com/dkeye/meetrelay/internal/domain"
)

// NonCriticalError is a failed write nobody waits on. These only reach
// observability, never the caller.
type NonCriticalError struct {
	Op    string
	Token domain.Token
	Err   error
}

// Report queues a non-critical failure. If the queue is full the error is
// logged inline rather than blocking.
func (r *Repository) Report(op string, token domain.Token, err error) {
	if err == nil {
		return
	}
	select {
	case r.errs <- NonCriticalError{Op: op, Token: token, Err: err}:
	default:
		log.Warn().Err(err).Str("module", "meeting.repo").Str("op", op).Str("token", string(token)).Msg("non-critical write failed (queue full)")
	}
}

func (r *Repository) Errors() <-chan NonCriticalError { return r.errs }

// DrainErrors logs queued non-critical failures until ctx is done.
func (r *Repository) DrainErrors(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case e := <-r.errs:
			log.Warn().Err(e.Err).Str("module", "meeting.repo").Str("op", e.Op).Str("token", string(e.Token)).Msg("non-critical write failed")
		}
	}
}

// LogAssistantInteraction appends to the capped interaction log. Fire and
// forget.
func (r *Repository) LogAssistantInteraction(ctx context.Context, token domain.Token, rec domain.InteractionRecord) {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = r.now().UTC()
	}
	r.appendLog(ctx, "log_interaction", domain.EntityInteraction, token, core.InteractionsKey(token), rec)
}

// LogConnectionEvent appends to the capped connection log. Fire and forget.
func (r *Repository) LogConnectionEvent(ctx context.Context, token domain.Token, ev domain.ConnectionEvent) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = r.now().UTC()
	}
	r.appendLog(ctx, "log_connection", domain.EntityConnLog, token, core.ConnLogKey(token), ev)
}

func (r *Repository) appendLog(ctx context.Context, op, entity string, token domain.Token, key string, v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		r.Report(op, token, err)
		return
	}
	if err := r.writeAppend(ctx, entity, key, string(raw)); err != nil {
		r.Report(op, token, err)
		return
	}
	r.expire(ctx, token, key)
}

// ConnectionEvents returns up to limit events, newest first.
func (r *Repository) ConnectionEvents(ctx context.Context, token domain.Token, limit int) ([]domain.ConnectionEvent, error) {
	raw, err := r.store.LRange(ctx, core.ConnLogKey(token), 0, int64(limit)-1)
	if err != nil {
		return nil, err
	}
	out := make([]domain.ConnectionEvent, 0, len(raw))
	for _, v := range raw {
		var ev domain.ConnectionEvent
		if err := json.Unmarshal([]byte(v), &ev); err == nil {
			out = append(out, ev)
		}
	}
	return out, nil
}

// AssistantInteractions returns up to limit interaction records, newest first.
func (r *Repository) AssistantInteractions(ctx context.Context, token domain.Token, limit int) ([]domain.InteractionRecord, error) {
	raw, err := r.store.LRange(ctx, core.InteractionsKey(token), 0, int64(limit)-1)
	if err != nil {
		return nil, err
	}
	out := make([]domain.InteractionRecord, 0, len(raw))
	for _, v := range raw {
		var rec domain.InteractionRecord
		if err := json.Unmarshal([]byte(v), &rec); err == nil {
			out = append(out, rec)
		}
	}
	return out, nil
}
