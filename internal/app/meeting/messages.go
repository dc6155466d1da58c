package meeting

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/meetrelay/internal/core"
	"github.com/dkeye/meetrelay/internal/domain"
)

// AddMessage stamps msg with an id and server time, then appends it. The
// returned message is stamped even when the write fails, so callers can still
// deliver it.
func (r *Repository) AddMessage(ctx context.Context, token domain.Token, msg domain.Message) (domain.Message, error) {
	msg.Stamp(r.now())
	raw, err := json.Marshal(msg)
	if err != nil {
		return msg, err
	}
	if err := r.writeAppend(ctx, domain.EntityMessage, core.MessagesKey(token), string(raw)); err != nil {
		return msg, fmt.Errorf("append message: %w", err)
	}
	r.expire(ctx, token, core.MessagesKey(token))
	return msg, nil
}

// GetMessages returns the latest limit messages oldest first. limit <= 0
// returns the whole retained history.
func (r *Repository) GetMessages(ctx context.Context, token domain.Token, limit int) ([]domain.Message, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}
	raw, err := r.store.LRange(ctx, core.MessagesKey(token), 0, stop)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Message, 0, len(raw))
	for i := len(raw) - 1; i >= 0; i-- {
		var m domain.Message
		if err := json.Unmarshal([]byte(raw[i]), &m); err != nil {
			log.Warn().Err(err).Str("module", "meeting.repo").Str("token", string(token)).Msg("skipping undecodable message")
			continue
		}
		out = append(out, m)
	}
	return out, nil
}
