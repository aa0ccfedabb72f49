package ws

import "encoding/json"

// MessageType identifies the kind of WebSocket message.
type MessageType string

const (
	MsgJobEvent   MessageType = "job_event"
	MsgQueueStats MessageType = "queue_stats"
	MsgError      MessageType = "error"
	MsgSync       MessageType = "sync"
	MsgFullState  MessageType = "full_state"
)

// Message is the envelope for all WebSocket messages.
type Message struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// JobEvent is the payload broadcast on every job lifecycle transition.
type JobEvent struct {
	JobID     string `json:"jobId"`
	Type      string `json:"jobType"`
	ProjectID string `json:"projectId"`
	Phase     string `json:"phase"` // leased, done, retry, failed
	Attempts  int    `json:"attempts"`
	Error     string `json:"error,omitempty"`
}

// NewMessage creates a new Message with the given type and payload.
func NewMessage(typ MessageType, payload any) ([]byte, error) {
	var p json.RawMessage
	if payload != nil {
		var err error
		p, err = json.Marshal(payload)
		if err != nil {
			return nil, err
		}
	}
	return json.Marshal(Message{Type: typ, Payload: p})
}
