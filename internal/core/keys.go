package core

import (
	"strings"

	"github.com/dkeye/meetrelay/internal/domain"
)

// Keyspace. Every per-meeting key is "meet:<kind>:<token>[:<suffix>]", which
// lets the fallback store classify keys and cascade deletes by token.
const (
	KeyPrefix      = "meet"
	KindMeeting    = "meeting"
	KindHost       = "host"
	KindRooms      = "rooms"
	KindMembers    = "participants"
	KindMember     = "participant"
	KindMessages   = "messages"
	KindEmotions   = "emotions"
	KindClimate    = "climate"
	KindPolls      = "polls"
	KindPoll       = "poll"
	KindResponses  = "responses"
	KindAssistant  = "interactions"
	KindConnLog    = "connlog"
	KindSession    = "session"
	keySep         = ":"
	ActiveRoomsKey = KeyPrefix + keySep + KindRooms
)

func key(kind string, token domain.Token, suffix ...string) string {
	parts := append([]string{KeyPrefix, kind, string(token)}, suffix...)
	return strings.Join(parts, keySep)
}

func MeetingKey(t domain.Token) string      { return key(KindMeeting, t) }
func HostKey(t domain.Token) string         { return key(KindHost, t) }
func ParticipantsKey(t domain.Token) string { return key(KindMembers, t) }
func ParticipantKey(t domain.Token, name string) string {
	return key(KindMember, t, name)
}
func MessagesKey(t domain.Token) string { return key(KindMessages, t) }
func EmotionsKey(t domain.Token) string { return key(KindEmotions, t) }
func ClimateKey(t domain.Token) string  { return key(KindClimate, t) }
func PollsKey(t domain.Token) string    { return key(KindPolls, t) }
func PollKey(t domain.Token, id string) string {
	return key(KindPoll, t, id)
}
func ResponsesKey(t domain.Token, id string) string {
	return key(KindResponses, t, id)
}
func InteractionsKey(t domain.Token) string { return key(KindAssistant, t) }
func ConnLogKey(t domain.Token) string      { return key(KindConnLog, t) }
func SessionKey(t domain.Token) string      { return key(KindSession, t) }

// ParseKey splits a key into its kind and token. ok is false for keys outside
// the keyspace; the active room set has a kind and an empty token.
func ParseKey(k string) (kind string, token domain.Token, ok bool) {
	parts := strings.SplitN(k, keySep, 4)
	if len(parts) < 2 || parts[0] != KeyPrefix {
		return "", "", false
	}
	if len(parts) == 2 {
		return parts[1], "", true
	}
	return parts[1], domain.Token(parts[2]), true
}
