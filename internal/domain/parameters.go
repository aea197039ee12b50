package domain

import "time"

// MaxDebugLogEntries bounds the ring buffer kept on every generation.
const MaxDebugLogEntries = 100

// Parameters is the typed replacement of the free-form parameters bag. Each
// section is owned by one writer and merged independently.
type Parameters struct {
	AspectRatio     string           `json:"aspect_ratio,omitempty"`
	NumOutputs      int              `json:"num_outputs,omitempty"`
	DurationSeconds int              `json:"duration_seconds,omitempty"`
	Seed            *int64           `json:"seed,omitempty"`
	Extra           map[string]any   `json:"extra,omitempty"`
	ReferenceImages []ReferenceImage `json:"reference_images,omitempty"`

	Provider *ProviderHandle `json:"provider,omitempty"`
	Lock     *LockState      `json:"lock,omitempty"`
	DebugLog []DebugLogEntry `json:"debug_log,omitempty"`
	Error    *ErrorContext   `json:"error,omitempty"`
}

// ReferenceImage is the durable pointer an inline or remote reference image is
// converted to before a generation is dispatched.
type ReferenceImage struct {
	ReferenceImageID string `json:"referenceImageId"`
	Bucket           string `json:"bucket"`
	Path             string `json:"path"`
	URL              string `json:"url"`
	Checksum         string `json:"checksum"`
	MimeType         string `json:"mimeType"`
}

// DispatchMode records how a generation was handed to its provider.
type DispatchMode string

const (
	DispatchModeWebhook DispatchMode = "webhook"
	DispatchModeTrigger DispatchMode = "trigger"
	DispatchModeQueue   DispatchMode = "queue"
)

// ProviderHandle identifies an asynchronous provider job.
type ProviderHandle struct {
	Provider     string       `json:"provider"`
	PredictionID string       `json:"prediction_id"`
	Mode         DispatchMode `json:"mode"`
	SubmittedAt  time.Time    `json:"submitted_at"`
}

// LockState is the advisory processing lock stored on the record.
type LockState struct {
	ProcessingStartedAt time.Time `json:"processing_started_at"`
	Holder              string    `json:"holder,omitempty"`
}

// Held reports whether the lock is still live at now for the given window.
func (l *LockState) Held(now time.Time, window time.Duration) bool {
	if l == nil || l.ProcessingStartedAt.IsZero() {
		return false
	}
	return now.Sub(l.ProcessingStartedAt) < window
}

// DebugLogEntry is a heartbeat or diagnostic line kept for operators.
type DebugLogEntry struct {
	At      time.Time         `json:"at"`
	Level   string            `json:"level"`
	Event   string            `json:"event"`
	Message string            `json:"message,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// ErrorContext is the terminal failure context of a generation.
type ErrorContext struct {
	Message string    `json:"message"`
	Kind    string    `json:"kind"`
	At      time.Time `json:"at"`
	UserID  string    `json:"user_id"`
	Detail  string    `json:"detail,omitempty"`
}

// AppendDebugLog appends entries and drops the oldest ones beyond MaxDebugLogEntries.
func AppendDebugLog(log []DebugLogEntry, entries ...DebugLogEntry) []DebugLogEntry {
	out := append(log, entries...)
	if over := len(out) - MaxDebugLogEntries; over > 0 {
		out = append([]DebugLogEntry(nil), out[over:]...)
	}
	return out
}
