package meeting

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/dkeye/meetrelay/internal/core"
	"github.com/dkeye/meetrelay/internal/domain"
)

type NewTest struct {
	CreatedBy string
	Questions []domain.SociometricQuestion
	Targets   []string
	Duration  time.Duration
}

// CreateSociometricTest starts a test. Only one test may be open per meeting;
// ErrTestActive is returned while another one is.
func (r *Repository) CreateSociometricTest(ctx context.Context, token domain.Token, in NewTest) (domain.SociometricTest, error) {
	if active, ok, err := r.ActiveSociometricTest(ctx, token); err != nil {
		return domain.SociometricTest{}, err
	} else if ok {
		return active, ErrTestActive
	}

	for i := range in.Questions {
		if in.Questions[i].ID == "" {
			in.Questions[i].ID = fmt.Sprintf("q%d", i+1)
		}
	}
	t := domain.SociometricTest{
		ID:        uuid.NewString(),
		CreatedBy: in.CreatedBy,
		Questions: in.Questions,
		Targets:   in.Targets,
		Status:    domain.TestActive,
		CreatedAt: r.now().UTC(),
		Duration:  in.Duration,
	}
	if err := r.putTest(ctx, token, t); err != nil {
		return domain.SociometricTest{}, err
	}
	if err := r.store.SAdd(ctx, core.PollsKey(token), t.ID); err != nil {
		return domain.SociometricTest{}, fmt.Errorf("register test: %w", err)
	}
	r.expire(ctx, token, core.PollsKey(token))
	return t, nil
}

func (r *Repository) putTest(ctx context.Context, token domain.Token, t domain.SociometricTest) error {
	raw, err := json.Marshal(t)
	if err != nil {
		return err
	}
	if err := r.store.Set(ctx, core.PollKey(token, t.ID), string(raw), r.ttl); err != nil {
		return fmt.Errorf("write test: %w", err)
	}
	return nil
}

func (r *Repository) GetSociometricTest(ctx context.Context, token domain.Token, id string) (domain.SociometricTest, error) {
	raw, err := r.store.Get(ctx, core.PollKey(token, id))
	if errors.Is(err, core.ErrNotFound) {
		return domain.SociometricTest{}, ErrTestNotFound
	}
	if err != nil {
		return domain.SociometricTest{}, err
	}
	var t domain.SociometricTest
	if err := json.Unmarshal([]byte(raw), &t); err != nil {
		return domain.SociometricTest{}, fmt.Errorf("decode test: %w", err)
	}
	return t, nil
}

// ActiveSociometricTest returns the open test, if any. A test whose duration
// has elapsed is closed on the way.
func (r *Repository) ActiveSociometricTest(ctx context.Context, token domain.Token) (domain.SociometricTest, bool, error) {
	ids, err := r.store.SMembers(ctx, core.PollsKey(token))
	if err != nil {
		return domain.SociometricTest{}, false, err
	}
	now := r.now()
	for _, id := range ids {
		t, err := r.GetSociometricTest(ctx, token, id)
		if errors.Is(err, ErrTestNotFound) {
			continue
		}
		if err != nil {
			return domain.SociometricTest{}, false, err
		}
		if t.Status != domain.TestActive {
			continue
		}
		if t.Open(now) {
			return t, true, nil
		}
		t.Status = domain.TestClosed
		if err := r.putTest(ctx, token, t); err != nil {
			r.Report("close_expired_test", token, err)
		}
	}
	return domain.SociometricTest{}, false, nil
}

func (r *Repository) CloseSociometricTest(ctx context.Context, token domain.Token, id string) (domain.SociometricTest, error) {
	t, err := r.GetSociometricTest(ctx, token, id)
	if err != nil {
		return t, err
	}
	t.Status = domain.TestClosed
	return t, r.putTest(ctx, token, t)
}

// AddSociometricResponse stores one answer set per participant. A second
// submission by the same participant replaces the first.
func (r *Repository) AddSociometricResponse(ctx context.Context, token domain.Token, testID, participant string, answers map[string]string) (domain.SociometricResponse, error) {
	t, err := r.GetSociometricTest(ctx, token, testID)
	if err != nil {
		return domain.SociometricResponse{}, err
	}
	if !t.Open(r.now()) {
		return domain.SociometricResponse{}, ErrTestClosed
	}
	resp := domain.SociometricResponse{
		TestID:      testID,
		Participant: participant,
		Answers:     answers,
		SubmittedAt: r.now().UTC(),
	}
	raw, err := json.Marshal(resp)
	if err != nil {
		return resp, err
	}
	key := core.ResponsesKey(token, testID)
	if err := r.writeKeyed(ctx, domain.EntityResponse, key, map[string]string{participant: string(raw)}); err != nil {
		return resp, fmt.Errorf("write response: %w", err)
	}
	r.expire(ctx, token, key)
	return resp, nil
}

// GetSociometricResponses returns responses ordered by submission time.
func (r *Repository) GetSociometricResponses(ctx context.Context, token domain.Token, testID string) ([]domain.SociometricResponse, error) {
	h, err := r.store.HGetAll(ctx, core.ResponsesKey(token, testID))
	if err != nil {
		return nil, err
	}
	out := make([]domain.SociometricResponse, 0, len(h))
	for _, v := range h {
		var resp domain.SociometricResponse
		if err := json.Unmarshal([]byte(v), &resp); err == nil {
			out = append(out, resp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].SubmittedAt.Equal(out[j].SubmittedAt) {
			return out[i].SubmittedAt.Before(out[j].SubmittedAt)
		}
		return out[i].Participant < out[j].Participant
	})
	return out, nil
}
