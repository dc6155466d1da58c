// Package meeting is the session repository: domain operations for meetings,
// participants, chat, emotions, sociometric tests and logs, composed from
// core.Store calls. It is the only package that knows the key layout.
package meeting

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/meetrelay/internal/core"
	"github.com/dkeye/meetrelay/internal/domain"
)

const DefaultTTL = 24 * time.Hour

var (
	ErrMeetingNotFound = errors.New("meeting not found")
	ErrTestActive      = errors.New("a sociometric test is already active")
	ErrTestNotFound    = errors.New("sociometric test not found")
	ErrTestClosed      = errors.New("sociometric test is closed")
)

type Repository struct {
	store core.Store
	ttl   time.Duration
	now   func() time.Time
	errs  chan NonCriticalError
}

type Option func(*Repository)

func WithTTL(ttl time.Duration) Option {
	return func(r *Repository) {
		if ttl > 0 {
			r.ttl = ttl
		}
	}
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Repository) { r.now = now }
}

func NewRepository(store core.Store, opts ...Option) *Repository {
	r := &Repository{
		store: store,
		ttl:   DefaultTTL,
		now:   time.Now,
		errs:  make(chan NonCriticalError, 256),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

func (r *Repository) TTL() time.Duration { return r.ttl }

// expire refreshes the TTL on keys. Failures only matter to the durable
// store, so they are reported, not returned.
func (r *Repository) expire(ctx context.Context, token domain.Token, keys ...string) {
	for _, k := range keys {
		if err := r.store.Expire(ctx, k, r.ttl); err != nil {
			r.Report("expire", token, err)
		}
	}
}

// CreateMeeting writes the meeting, registers its token and host. Calling it
// again for the same token overwrites.
func (r *Repository) CreateMeeting(ctx context.Context, token domain.Token, host string, maxParticipants int, settings []byte) (*domain.Meeting, error) {
	now := r.now().UTC()
	m := &domain.Meeting{
		Token:           token,
		HostName:        host,
		Status:          domain.MeetingActive,
		MaxParticipants: maxParticipants,
		CreatedAt:       now,
		ExpiresAt:       now.Add(r.ttl),
		Settings:        settings,
	}
	if err := r.store.Del(ctx, core.MeetingKey(token)); err != nil {
		return nil, fmt.Errorf("reset meeting: %w", err)
	}
	if err := r.store.HSet(ctx, core.MeetingKey(token), m.ToHash()); err != nil {
		return nil, fmt.Errorf("write meeting: %w", err)
	}
	if err := r.store.SAdd(ctx, core.ActiveRoomsKey, string(token)); err != nil {
		return nil, fmt.Errorf("register room: %w", err)
	}
	if err := r.store.Set(ctx, core.HostKey(token), host, r.ttl); err != nil {
		return nil, fmt.Errorf("write host: %w", err)
	}
	r.expire(ctx, token, core.MeetingKey(token))

	log.Info().Str("module", "meeting.repo").Str("token", string(token)).Str("host", host).Int("max", maxParticipants).Msg("meeting created")
	return m, nil
}

// GetMeeting returns ErrMeetingNotFound for an absent or empty hash.
func (r *Repository) GetMeeting(ctx context.Context, token domain.Token) (*domain.Meeting, error) {
	h, err := r.store.HGetAll(ctx, core.MeetingKey(token))
	if err != nil {
		return nil, fmt.Errorf("read meeting: %w", err)
	}
	if len(h) == 0 {
		return nil, ErrMeetingNotFound
	}
	return domain.MeetingFromHash(h), nil
}

func (r *Repository) HostOf(ctx context.Context, token domain.Token) (string, error) {
	host, err := r.store.Get(ctx, core.HostKey(token))
	if errors.Is(err, core.ErrNotFound) {
		return "", ErrMeetingNotFound
	}
	return host, err
}

// ActiveMeetings lists the registered meeting tokens.
func (r *Repository) ActiveMeetings(ctx context.Context) ([]domain.Token, error) {
	raw, err := r.store.SMembers(ctx, core.ActiveRoomsKey)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Token, 0, len(raw))
	for _, t := range raw {
		out = append(out, domain.Token(t))
	}
	return out, nil
}

// DeleteMeeting removes every key scoped to token. Each key is deleted
// independently, so a retry after a partial failure converges.
func (r *Repository) DeleteMeeting(ctx context.Context, token domain.Token) error {
	keys := []string{
		core.MeetingKey(token),
		core.HostKey(token),
		core.ParticipantsKey(token),
		core.MessagesKey(token),
		core.EmotionsKey(token),
		core.ClimateKey(token),
		core.PollsKey(token),
		core.InteractionsKey(token),
		core.ConnLogKey(token),
		core.SessionKey(token),
	}
	if names, err := r.store.SMembers(ctx, core.ParticipantsKey(token)); err == nil {
		for _, n := range names {
			keys = append(keys, core.ParticipantKey(token, n))
		}
	}
	if ids, err := r.store.SMembers(ctx, core.PollsKey(token)); err == nil {
		for _, id := range ids {
			keys = append(keys, core.PollKey(token, id), core.ResponsesKey(token, id))
		}
	}

	var errs []error
	for _, k := range keys {
		if err := r.store.Del(ctx, k); err != nil {
			errs = append(errs, err)
		}
	}
	if err := r.store.SRem(ctx, core.ActiveRoomsKey, string(token)); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("delete meeting %s: %w", token, err)
	}
	log.Info().Str("module", "meeting.repo").Str("token", string(token)).Msg("meeting deleted")
	return nil
}

// AddParticipant upserts the participant by name.
func (r *Repository) AddParticipant(ctx context.Context, token domain.Token, p domain.Participant) error {
	if p.JoinedAt.IsZero() {
		p.JoinedAt = r.now().UTC()
	}
	if p.Status == "" {
		p.Status = domain.PresenceOnline
	}
	if err := r.writeKeyed(ctx, domain.EntityParticipant, core.ParticipantKey(token, p.Name), p.ToHash()); err != nil {
		return fmt.Errorf("write participant: %w", err)
	}
	if err := r.store.SAdd(ctx, core.ParticipantsKey(token), p.Name); err != nil {
		return fmt.Errorf("register participant: %w", err)
	}
	r.expire(ctx, token, core.ParticipantKey(token, p.Name), core.ParticipantsKey(token))
	return nil
}

func (r *Repository) RemoveParticipant(ctx context.Context, token domain.Token, name string) error {
	if err := r.store.SRem(ctx, core.ParticipantsKey(token), name); err != nil {
		return err
	}
	return r.store.Del(ctx, core.ParticipantKey(token, name))
}

func (r *Repository) GetParticipant(ctx context.Context, token domain.Token, name string) (domain.Participant, bool, error) {
	h, err := r.store.HGetAll(ctx, core.ParticipantKey(token, name))
	if err != nil || len(h) == 0 {
		return domain.Participant{}, false, err
	}
	return domain.ParticipantFromHash(h), true, nil
}

// GetParticipants resolves the membership set and skips names whose hash has
// already expired or been removed. Ordered by join time.
func (r *Repository) GetParticipants(ctx context.Context, token domain.Token) ([]domain.Participant, error) {
	names, err := r.store.SMembers(ctx, core.ParticipantsKey(token))
	if err != nil {
		return nil, err
	}
	out := make([]domain.Participant, 0, len(names))
	for _, n := range names {
		p, ok, err := r.GetParticipant(ctx, token, n)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].JoinedAt.Before(out[j].JoinedAt)
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

func (r *Repository) ParticipantCount(ctx context.Context, token domain.Token) (int, error) {
	n, err := r.store.SCard(ctx, core.ParticipantsKey(token))
	return int(n), err
}

func (r *Repository) SetParticipantMedia(ctx context.Context, token domain.Token, name string, muted, video bool) error {
	if _, ok, err := r.GetParticipant(ctx, token, name); err != nil || !ok {
		if err == nil {
			err = fmt.Errorf("participant %q not in meeting", name)
		}
		return err
	}
	return r.writeKeyed(ctx, domain.EntityParticipant, core.ParticipantKey(token, name), map[string]string{
		"muted":         strconv.FormatBool(muted),
		"video_enabled": strconv.FormatBool(video),
	})
}

// writeKeyed applies an overwrite-policy entity write: every given field
// replaces the previous value.
func (r *Repository) writeKeyed(ctx context.Context, entity, key string, fields map[string]string) error {
	if p := domain.Policies[entity]; p.Merge != domain.Overwrite {
		return fmt.Errorf("entity %s is not keyed", entity)
	}
	return r.store.HSet(ctx, key, fields)
}

// writeAppend applies an append-policy entity write: push to the head and
// trim to the entity cap.
func (r *Repository) writeAppend(ctx context.Context, entity, key, value string) error {
	p := domain.Policies[entity]
	if p.Merge != domain.Append {
		return fmt.Errorf("entity %s is not append-only", entity)
	}
	if err := r.store.LPush(ctx, key, value); err != nil {
		return err
	}
	if p.Cap > 0 {
		return r.store.LTrim(ctx, key, 0, p.Cap-1)
	}
	return nil
}
