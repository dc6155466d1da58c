package meeting

import (
	"context"
	"fmt"

	"github.com/dkeye/meetrelay/internal/core"
	"github.com/dkeye/meetrelay/internal/domain"
)

// UpdateSessionMetadata merges fields into the session bag for token.
func (r *Repository) UpdateSessionMetadata(ctx context.Context, token domain.Token, fields domain.SessionMetadata) error {
	if len(fields) == 0 {
		return nil
	}
	if err := r.writeKeyed(ctx, domain.EntityMetadata, core.SessionKey(token), fields); err != nil {
		return fmt.Errorf("write session metadata: %w", err)
	}
	r.expire(ctx, token, core.SessionKey(token))
	return nil
}

func (r *Repository) GetSessionMetadata(ctx context.Context, token domain.Token) (domain.SessionMetadata, error) {
	h, err := r.store.HGetAll(ctx, core.SessionKey(token))
	if err != nil {
		return nil, err
	}
	return domain.SessionMetadata(h), nil
}
