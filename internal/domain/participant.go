// Package domain contains entity without logic, just meta-data
package domain

import (
	"errors"
	"strconv"
	"strings"
	"time"
)

const MaxNameLen = 36

var (
	ErrNameTooLong = errors.New("name too long")
	ErrNameEmpty   = errors.New("name empty")
)

type PresenceStatus string

const (
	PresenceOnline  PresenceStatus = "online"
	PresenceOffline PresenceStatus = "offline"
)

// Participant is the persisted view of someone in a meeting. Name is the
// identity: a reconnect under the same name updates the same record.
type Participant struct {
	Name         string         `json:"name"`
	SocketID     string         `json:"socket_id"`
	JoinedAt     time.Time      `json:"joined_at"`
	Status       PresenceStatus `json:"status"`
	Muted        bool           `json:"muted"`
	VideoEnabled bool           `json:"video_enabled"`
}

// NormalizeName trims the display name and checks its bounds.
func NormalizeName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if len(name) == 0 {
		return "", ErrNameEmpty
	}
	if len(name) > MaxNameLen {
		return "", ErrNameTooLong
	}
	return name, nil
}

func (p *Participant) ToHash() map[string]string {
	return map[string]string{
		"name":          p.Name,
		"socket_id":     p.SocketID,
		"joined_at":     strconv.FormatInt(p.JoinedAt.Unix(), 10),
		"status":        string(p.Status),
		"muted":         strconv.FormatBool(p.Muted),
		"video_enabled": strconv.FormatBool(p.VideoEnabled),
	}
}

func ParticipantFromHash(h map[string]string) Participant {
	p := Participant{
		Name:     h["name"],
		SocketID: h["socket_id"],
		JoinedAt: UnixField(h["joined_at"]),
		Status:   PresenceStatus(h["status"]),
	}
	p.Muted, _ = strconv.ParseBool(h["muted"])
	p.VideoEnabled, _ = strconv.ParseBool(h["video_enabled"])
	return p
}
