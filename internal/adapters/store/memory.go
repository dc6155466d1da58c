package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/meetrelay/internal/core"
	"github.com/dkeye/meetrelay/internal/domain"
)

// DefaultMaxItems bounds each entity mapping of the fallback store.
const DefaultMaxItems = 1000

// Entity mappings of the fallback store.
const (
	BucketMeetings     = "meetings"
	BucketParticipants = "participants"
	BucketMessages     = "messages"
	BucketSessions     = "sessions"
	BucketPolls        = "polls"
	BucketEmotions     = "emotions"
	BucketLogs         = "logs"
	BucketMisc         = "misc"
)

var bucketOfKind = map[string]string{
	core.KindMeeting:   BucketMeetings,
	core.KindHost:      BucketMeetings,
	core.KindMembers:   BucketParticipants,
	core.KindMember:    BucketParticipants,
	core.KindMessages:  BucketMessages,
	core.KindSession:   BucketSessions,
	core.KindPolls:     BucketPolls,
	core.KindPoll:      BucketPolls,
	core.KindResponses: BucketPolls,
	core.KindEmotions:  BucketEmotions,
	core.KindClimate:   BucketEmotions,
	core.KindAssistant: BucketLogs,
	core.KindConnLog:   BucketLogs,
}

// entry holds whichever shape the key was written as. Lists are stored
// tail first so a push to the head is an append.
type entry struct {
	hash map[string]string
	str  string
	set  map[string]struct{}
	list []string
	seq  uint64
}

// MemoryStore is the in-process fallback used while the durable store is
// unreachable. Expire is accepted and ignored: memory is reclaimed only by
// Evict.
type MemoryStore struct {
	mu       sync.Mutex
	buckets  map[string]map[string]*entry
	rooms    map[string]struct{}
	seq      uint64
	maxItems int
}

var _ core.Store = (*MemoryStore)(nil)

func NewMemoryStore(maxItems int) *MemoryStore {
	if maxItems <= 0 {
		maxItems = DefaultMaxItems
	}
	m := &MemoryStore{maxItems: maxItems}
	m.reset()
	return m
}

func (m *MemoryStore) reset() {
	m.buckets = make(map[string]map[string]*entry)
	for _, b := range []string{
		BucketMeetings, BucketParticipants, BucketMessages, BucketSessions,
		BucketPolls, BucketEmotions, BucketLogs, BucketMisc,
	} {
		m.buckets[b] = make(map[string]*entry)
	}
	m.rooms = make(map[string]struct{})
}

// Clear drops everything. Used on shutdown.
func (m *MemoryStore) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reset()
}

// Stats reports the item count per mapping, plus the active room set.
func (m *MemoryStore) Stats() map[string]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]int, len(m.buckets)+1)
	for name, b := range m.buckets {
		out[name] = len(b)
	}
	out[core.KindRooms] = len(m.rooms)
	return out
}

func bucketFor(key string) string {
	kind, _, ok := core.ParseKey(key)
	if !ok {
		return BucketMisc
	}
	if b, ok := bucketOfKind[kind]; ok {
		return b
	}
	return BucketMisc
}

func (m *MemoryStore) lookup(key string) *entry {
	return m.buckets[bucketFor(key)][key]
}

func (m *MemoryStore) ensure(key string) *entry {
	b := m.buckets[bucketFor(key)]
	if e, ok := b[key]; ok {
		return e
	}
	m.seq++
	e := &entry{seq: m.seq}
	b[key] = e
	return e
}

func (m *MemoryStore) drop(key string) {
	if key == core.ActiveRoomsKey {
		m.rooms = make(map[string]struct{})
		return
	}
	delete(m.buckets[bucketFor(key)], key)
}

func (m *MemoryStore) HSet(_ context.Context, key string, fields map[string]string) error {
	if len(fields) == 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.ensure(key)
	if e.hash == nil {
		e.hash = make(map[string]string, len(fields))
	}
	for k, v := range fields {
		e.hash[k] = v
	}
	return nil
}

func (m *MemoryStore) HGetAll(_ context.Context, key string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string)
	if e := m.lookup(key); e != nil {
		for k, v := range e.hash {
			out[k] = v
		}
	}
	return out, nil
}

func (m *MemoryStore) HDel(_ context.Context, key string, fields ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.lookup(key)
	if e == nil {
		return nil
	}
	for _, f := range fields {
		delete(e.hash, f)
	}
	if len(e.hash) == 0 {
		m.drop(key)
	}
	return nil
}

func (m *MemoryStore) Set(_ context.Context, key, value string, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ensure(key).str = value
	return nil
}

func (m *MemoryStore) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.lookup(key)
	if e == nil {
		return "", core.ErrNotFound
	}
	return e.str, nil
}

func (m *MemoryStore) SAdd(_ context.Context, key string, members ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if key == core.ActiveRoomsKey {
		for _, v := range members {
			m.rooms[v] = struct{}{}
		}
		return nil
	}
	if len(members) == 0 {
		return nil
	}
	e := m.ensure(key)
	if e.set == nil {
		e.set = make(map[string]struct{}, len(members))
	}
	for _, v := range members {
		e.set[v] = struct{}{}
	}
	return nil
}

func (m *MemoryStore) SRem(_ context.Context, key string, members ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if key == core.ActiveRoomsKey {
		for _, v := range members {
			delete(m.rooms, v)
		}
		return nil
	}
	e := m.lookup(key)
	if e == nil {
		return nil
	}
	for _, v := range members {
		delete(e.set, v)
	}
	if len(e.set) == 0 {
		m.drop(key)
	}
	return nil
}

func (m *MemoryStore) SMembers(_ context.Context, key string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set := m.rooms
	if key != core.ActiveRoomsKey {
		e := m.lookup(key)
		if e == nil {
			return []string{}, nil
		}
		set = e.set
	}
	out := make([]string, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	sort.Strings(out)
	return out, nil
}

func (m *MemoryStore) SCard(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if key == core.ActiveRoomsKey {
		return int64(len(m.rooms)), nil
	}
	if e := m.lookup(key); e != nil {
		return int64(len(e.set)), nil
	}
	return 0, nil
}

func (m *MemoryStore) LPush(_ context.Context, key string, values ...string) error {
	if len(values) == 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.ensure(key)
	e.list = append(e.list, values...)
	return nil
}

// span clamps redis-style list indices to [0,n).
func span(n, start, stop int64) (int64, int64, bool) {
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if start > stop || start >= n {
		return 0, 0, false
	}
	return start, stop, true
}

func (m *MemoryStore) LRange(_ context.Context, key string, start, stop int64) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.lookup(key)
	if e == nil {
		return []string{}, nil
	}
	n := int64(len(e.list))
	from, to, ok := span(n, start, stop)
	if !ok {
		return []string{}, nil
	}
	out := make([]string, 0, to-from+1)
	for i := from; i <= to; i++ {
		out = append(out, e.list[n-1-i])
	}
	return out, nil
}

func (m *MemoryStore) LTrim(_ context.Context, key string, start, stop int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.lookup(key)
	if e == nil {
		return nil
	}
	n := int64(len(e.list))
	from, to, ok := span(n, start, stop)
	if !ok {
		m.drop(key)
		return nil
	}
	kept := make([]string, to-from+1)
	copy(kept, e.list[n-1-to:n-from])
	e.list = kept
	return nil
}

func (m *MemoryStore) LLen(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e := m.lookup(key); e != nil {
		return int64(len(e.list)), nil
	}
	return 0, nil
}

func (m *MemoryStore) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		m.drop(k)
	}
	return nil
}

// Expire is a no-op on the fallback store.
func (m *MemoryStore) Expire(context.Context, string, time.Duration) error {
	return nil
}

// Evict removes expired meetings with everything scoped to their token, then
// trims every mapping back to maxItems by insertion order.
func (m *MemoryStore) Evict(now time.Time) core.EvictStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	var stats core.EvictStats
	for key, e := range m.buckets[BucketMeetings] {
		kind, token, ok := core.ParseKey(key)
		if !ok || kind != core.KindMeeting {
			continue
		}
		exp := domain.UnixField(e.hash["expires_at"])
		if !exp.IsZero() && now.After(exp) {
			stats.Expired = append(stats.Expired, token)
		}
	}
	for _, token := range stats.Expired {
		m.cascade(token)
	}

	for name, b := range m.buckets {
		over := len(b) - m.maxItems
		if over <= 0 {
			continue
		}
		keys := make([]string, 0, len(b))
		for k := range b {
			keys = append(keys, k)
		}
		sort.Slice(keys, func(i, j int) bool { return b[keys[i]].seq < b[keys[j]].seq })
		for _, k := range keys[:over] {
			delete(b, k)
		}
		stats.Trimmed += over
		log.Debug().Str("module", "store.memory").Str("bucket", name).Int("trimmed", over).Msg("size bound eviction")
	}
	return stats
}

func (m *MemoryStore) cascade(token domain.Token) {
	for _, b := range m.buckets {
		for k := range b {
			if _, t, ok := core.ParseKey(k); ok && t == token {
				delete(b, k)
			}
		}
	}
	delete(m.rooms, string(token))
}
