package domain

import "time"

type TestStatus string

const (
	TestActive TestStatus = "active"
	TestClosed TestStatus = "closed"
)

type SociometricQuestion struct {
	ID   string `json:"id"`
	Text string `json:"text"`
	// Kind is "choice" (pick participants) or "text".
	Kind string `json:"kind,omitempty"`
}

type SociometricTest struct {
	ID        string                `json:"id"`
	CreatedBy string                `json:"created_by"`
	Questions []SociometricQuestion `json:"questions"`
	Targets   []string              `json:"targets"`
	Status    TestStatus            `json:"status"`
	CreatedAt time.Time             `json:"created_at"`
	Duration  time.Duration         `json:"duration"`
}

// Open reports whether the test still accepts answers at now.
// A zero Duration never times out.
func (t *SociometricTest) Open(now time.Time) bool {
	if t.Status != TestActive {
		return false
	}
	return t.Duration <= 0 || now.Before(t.CreatedAt.Add(t.Duration))
}

type SociometricResponse struct {
	TestID      string            `json:"test_id"`
	Participant string            `json:"participant"`
	Answers     map[string]string `json:"answers"`
	SubmittedAt time.Time         `json:"submitted_at"`
}

// SessionMetadata is the free-form bag of cross-cutting facts for a token.
type SessionMetadata map[string]string

const (
	MetaCreator       = "creator"
	MetaCreatorHash   = "creator_hash"
	MetaCapacity      = "capacity"
	MetaPaymentStatus = "payment_status"
	MetaPaymentAt     = "payment_updated_at"
	MetaUserAgent     = "user_agent"
)
