package assembly

// Status is the pipeline lifecycle state.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusValidating Status = "validating"
	StatusBuilding   Status = "building"
	StatusStreaming  Status = "streaming"
	StatusReady      Status = "ready"
	StatusError      Status = "error"
)

// ValidTransitions defines allowed state transitions. Streaming is a
// sub-state of building; a failed stream drops back to building for the
// batch fallback.
var ValidTransitions = map[Status][]Status{
	StatusIdle:       {StatusValidating},
	StatusValidating: {StatusBuilding, StatusIdle, StatusReady, StatusError},
	StatusBuilding:   {StatusStreaming, StatusReady, StatusError, StatusIdle},
	StatusStreaming:  {StatusBuilding, StatusReady, StatusError, StatusIdle},
	StatusReady:      {StatusValidating, StatusIdle},
	StatusError:      {StatusValidating, StatusIdle},
}

// CanTransitionTo checks if a transition from current status to target is valid.
func (s Status) CanTransitionTo(target Status) bool {
	for _, t := range ValidTransitions[s] {
		if t == target {
			return true
		}
	}
	return false
}

// IsActive reports whether a build is in flight in this state.
func (s Status) IsActive() bool {
	return s == StatusValidating || s == StatusBuilding || s == StatusStreaming
}
