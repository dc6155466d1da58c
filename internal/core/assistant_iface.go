package core

import "context"

// AssistantQuery is what the relay hands to the external answer generator.
type AssistantQuery struct {
	Prompt         string
	WebSearch      bool
	MeetingContext string
}

type AssistantAnswer struct {
	Text    string   `json:"text"`
	Sources []string `json:"sources"`
}

// Assistant produces a text answer and optional sources for a prompt.
type Assistant interface {
	Ask(ctx context.Context, q AssistantQuery) (AssistantAnswer, error)
}
