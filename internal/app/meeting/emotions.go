package meeting

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dkeye/meetrelay/internal/core"
	"github.com/dkeye/meetrelay/internal/domain"
)

// AddEmotion replaces the participant's current emotion and returns the
// recomputed climate, which is persisted alongside.
func (r *Repository) AddEmotion(ctx context.Context, token domain.Token, participant, emotion string) (domain.EmotionalClimate, error) {
	now := r.now()
	rec := domain.EmotionRecord{Participant: participant, Emotion: emotion, UpdatedAt: now.UTC()}
	raw, err := json.Marshal(rec)
	if err != nil {
		return domain.EmotionalClimate{}, err
	}
	key := core.EmotionsKey(token)
	if err := r.writeKeyed(ctx, domain.EntityEmotion, key, map[string]string{participant: string(raw)}); err != nil {
		return domain.EmotionalClimate{}, fmt.Errorf("write emotion: %w", err)
	}
	r.expire(ctx, token, key)
	return r.UpdateEmotionalClimate(ctx, token)
}

// UpdateEmotionalClimate recomputes the aggregate from the stored emotions.
func (r *Repository) UpdateEmotionalClimate(ctx context.Context, token domain.Token) (domain.EmotionalClimate, error) {
	records, err := r.emotions(ctx, token)
	if err != nil {
		return domain.EmotionalClimate{}, err
	}
	climate := domain.ComputeClimate(records, r.now())
	raw, err := json.Marshal(climate)
	if err != nil {
		return climate, err
	}
	if err := r.store.Set(ctx, core.ClimateKey(token), string(raw), r.ttl); err != nil {
		return climate, fmt.Errorf("write climate: %w", err)
	}
	return climate, nil
}

func (r *Repository) GetEmotionalClimate(ctx context.Context, token domain.Token) (domain.EmotionalClimate, error) {
	raw, err := r.store.Get(ctx, core.ClimateKey(token))
	if errors.Is(err, core.ErrNotFound) {
		return domain.ComputeClimate(nil, r.now()), nil
	}
	if err != nil {
		return domain.EmotionalClimate{}, err
	}
	var c domain.EmotionalClimate
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		return domain.EmotionalClimate{}, fmt.Errorf("decode climate: %w", err)
	}
	return c, nil
}

func (r *Repository) emotions(ctx context.Context, token domain.Token) ([]domain.EmotionRecord, error) {
	h, err := r.store.HGetAll(ctx, core.EmotionsKey(token))
	if err != nil {
		return nil, err
	}
	out := make([]domain.EmotionRecord, 0, len(h))
	for _, v := range h {
		var rec domain.EmotionRecord
		if err := json.Unmarshal([]byte(v), &rec); err == nil {
			out = append(out, rec)
		}
	}
	return out, nil
}

// RemoveEmotion drops a participant's emotion, e.g. when they leave.
func (r *Repository) RemoveEmotion(ctx context.Context, token domain.Token, participant string) (domain.EmotionalClimate, error) {
	if err := r.store.HDel(ctx, core.EmotionsKey(token), participant); err != nil {
		return domain.EmotionalClimate{}, err
	}
	return r.UpdateEmotionalClimate(ctx, token)
}
