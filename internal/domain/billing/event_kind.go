package billing

// EventKind represents the category of a billable event
type EventKind string

const (
	// EventKindInference tracks language-model inference calls
	EventKindInference EventKind = "inference"

	// EventKindSearch tracks web search queries
	EventKindSearch EventKind = "search"

	// EventKindBrowser tracks managed browser sessions
	EventKindBrowser EventKind = "browser"

	// EventKindCall tracks outbound voice calls
	EventKindCall EventKind = "call"

	// EventKindEmail tracks email dispatches
	EventKindEmail EventKind = "email"

	// EventKindEmbedding tracks embedding generation calls
	EventKindEmbedding EventKind = "embedding"
)

// String returns the string representation of EventKind
func (k EventKind) String() string {
	return string(k)
}

// IsValid returns true if the event kind is known
func (k EventKind) IsValid() bool {
	switch k {
	case EventKindInference, EventKindSearch, EventKindBrowser,
		EventKindCall, EventKindEmail, EventKindEmbedding:
		return true
	}
	return false
}

// AllEventKinds returns every known event kind, in display order
func AllEventKinds() []EventKind {
	return []EventKind{
		EventKindInference,
		EventKindSearch,
		EventKindBrowser,
		EventKindCall,
		EventKindEmail,
		EventKindEmbedding,
	}
}
