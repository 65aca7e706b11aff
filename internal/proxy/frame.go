package proxy

// Frame types exchanged over /ws/privileged.
const (
	frameHello    = "hello"
	frameActivity = "activity"
	frameRequest  = "request"
	frameResponse = "response"
	frameError    = "error"
)

type frame struct {
	Type     string    `json:"type"`
	Name     string    `json:"name,omitempty"`
	Message  string    `json:"message,omitempty"`
	Request  *Envelope `json:"request,omitempty"`
	Response *Reply    `json:"response,omitempty"`
}
