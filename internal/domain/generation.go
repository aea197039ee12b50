package domain

import "time"

// GenerationStatus enumerates the persisted lifecycle states of a generation.
type GenerationStatus string

const (
	GenerationStatusProcessing GenerationStatus = "processing"
	GenerationStatusCompleted  GenerationStatus = "completed"
	GenerationStatusFailed     GenerationStatus = "failed"
	GenerationStatusCancelled  GenerationStatus = "cancelled"
)

// IsTerminal reports whether no further transition is allowed from s.
func (s GenerationStatus) IsTerminal() bool {
	switch s {
	case GenerationStatusCompleted, GenerationStatusFailed, GenerationStatusCancelled:
		return true
	default:
		return false
	}
}

// CanTransition reports whether moving from s to next is a legal state change.
// Only processing may move, and only toward a terminal state.
func (s GenerationStatus) CanTransition(next GenerationStatus) bool {
	return s == GenerationStatusProcessing && next.IsTerminal()
}

// MediaKind enumerates produced media categories.
type MediaKind string

const (
	MediaKindImage MediaKind = "image"
	MediaKindVideo MediaKind = "video"
)

// Generation is one user request to produce one or more media outputs.
type Generation struct {
	ID             string
	OwnerID        string
	SessionID      string
	ModelID        string
	Prompt         string
	NegativePrompt string
	Status         GenerationStatus
	Cost           *float64
	Parameters     Parameters
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Output is one durable media artifact belonging to a generation.
type Output struct {
	ID              string
	GenerationID    string
	OwnerID         string
	Index           int
	URL             string
	Kind            MediaKind
	MimeType        string
	Width           int
	Height          int
	DurationSeconds float64
	StoragePath     string
	SourceURL       string
	Fallback        bool
	CreatedAt       time.Time
}
