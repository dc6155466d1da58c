package domain

// MergePolicy states what a second write for the same logical key does.
type MergePolicy string

const (
	// Overwrite keeps only the latest value per field (participant name, metadata key).
	Overwrite MergePolicy = "overwrite"
	// Append keeps every value newest first, trimmed to Cap entries.
	Append MergePolicy = "append"
)

type EntityPolicy struct {
	Merge MergePolicy
	Cap   int64
}

const (
	EntityParticipant = "participant"
	EntityEmotion     = "emotion"
	EntityResponse    = "sociometric_response"
	EntityMetadata    = "metadata"
	EntityMessage     = "message"
	EntityInteraction = "interaction"
	EntityConnLog     = "connection_event"
)

// Policies is the merge policy table every keyed write goes through.
var Policies = map[string]EntityPolicy{
	EntityParticipant: {Merge: Overwrite},
	EntityEmotion:     {Merge: Overwrite},
	EntityResponse:    {Merge: Overwrite},
	EntityMetadata:    {Merge: Overwrite},
	EntityMessage:     {Merge: Append, Cap: 1000},
	EntityInteraction: {Merge: Append, Cap: 100},
	EntityConnLog:     {Merge: Append, Cap: 1000},
}
