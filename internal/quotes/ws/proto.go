package ws

// ControlMsg is the only frame a subscriber sends: {"frequency_ms": 100}.
// Anything that does not carry an integer frequency_ms is ignored.
type ControlMsg struct {
	FrequencyMs *int64 `json:"frequency_ms"`
}

// FrequencyDTO is the body of GET /api/v1/frequency.
type FrequencyDTO struct {
	FrequencyMs int64 `json:"frequency_ms"`
	MinMs       int64 `json:"min_ms"`
	MaxMs       int64 `json:"max_ms"`
}
