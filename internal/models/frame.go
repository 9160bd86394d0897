package models

// SentinelContent is the payload content that marks the end of a streamed response.
const SentinelContent = "[DONE]"

// Frame is one decoded unit of the assistant's incremental response protocol. A frame either carries a text
// delta in Content or, when Done is set, marks the end of the logical message.
type Frame struct {
	Content string
	Done    bool
}

// Health is the status reported by the assistant's health endpoint.
type Health struct {
	Status             string `json:"status"`
	AssistantAvailable bool   `json:"assistant_available"`
	Message            string `json:"message,omitempty"`
}

// Healthy reports whether the assistant declared itself ready to answer.
func (h Health) Healthy() bool {
	return h.Status == "healthy" && h.AssistantAvailable
}
