package domain

import (
	"encoding/json"
	"strconv"
	"time"
)

// Token names one meeting session and scopes every persisted key.
type Token string

type MeetingStatus string

const (
	MeetingActive MeetingStatus = "active"
	MeetingEnded  MeetingStatus = "ended"
)

type Meeting struct {
	Token           Token           `json:"token"`
	HostName        string          `json:"host_name"`
	Status          MeetingStatus   `json:"status"`
	MaxParticipants int             `json:"max_participants"`
	CreatedAt       time.Time       `json:"created_at"`
	ExpiresAt       time.Time       `json:"expires_at"`
	Settings        json.RawMessage `json:"settings,omitempty"`
}

func (m *Meeting) Expired(now time.Time) bool {
	return !m.ExpiresAt.IsZero() && now.After(m.ExpiresAt)
}

// ToHash flattens the meeting into hash fields. Timestamps are unix seconds so
// the fallback store can read the expiry without knowing the full layout.
func (m *Meeting) ToHash() map[string]string {
	h := map[string]string{
		"token":            string(m.Token),
		"host_name":        m.HostName,
		"status":           string(m.Status),
		"max_participants": strconv.Itoa(m.MaxParticipants),
		"created_at":       strconv.FormatInt(m.CreatedAt.Unix(), 10),
		"expires_at":       strconv.FormatInt(m.ExpiresAt.Unix(), 10),
	}
	if len(m.Settings) > 0 {
		h["settings"] = string(m.Settings)
	}
	return h
}

func MeetingFromHash(h map[string]string) *Meeting {
	m := &Meeting{
		Token:    Token(h["token"]),
		HostName: h["host_name"],
		Status:   MeetingStatus(h["status"]),
	}
	m.MaxParticipants, _ = strconv.Atoi(h["max_participants"])
	m.CreatedAt = UnixField(h["created_at"])
	m.ExpiresAt = UnixField(h["expires_at"])
	if s := h["settings"]; s != "" {
		m.Settings = json.RawMessage(s)
	}
	if m.Status == "" {
		m.Status = MeetingActive
	}
	return m
}

// UnixField parses a unix-seconds hash field; garbage reads as the zero time.
func UnixField(v string) time.Time {
	sec, err := strconv.ParseInt(v, 10, 64)
	if err != nil || sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}
