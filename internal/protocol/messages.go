package protocol

import "time"

// ChatMessage is the JSON form of a chat line accepted by the NATS, exec and
// websocket sources.
type ChatMessage struct {
	Sender    string    `json:"sender"`
	Text      string    `json:"text"`
	Channel   string    `json:"channel,omitempty"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// SpeechDispatched is published on the bus after each dispatch attempt settles.
type SpeechDispatched struct {
	RunID     string    `json:"run_id"`
	Sender    string    `json:"sender"`
	Text      string    `json:"text"`
	TalkText  string    `json:"talktext"`
	VoiceID   int       `json:"voice_id"`
	Status    int       `json:"status,omitempty"`
	Attempts  int       `json:"attempts"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// InstanceAnnounce introduces a running relay to its peers on the bus.
type InstanceAnnounce struct {
	RunID     string    `json:"run_id"`
	Name      string    `json:"name"`
	Source    string    `json:"source"`
	Target    string    `json:"target"`
	Timestamp time.Time `json:"timestamp"`
}

// InstanceHeartbeat keeps an announced relay marked healthy.
type InstanceHeartbeat struct {
	RunID      string    `json:"run_id"`
	QueueDepth int       `json:"queue_depth"`
	Timestamp  time.Time `json:"timestamp"`
}

const (
	SubjectChatMessage       = "chat.message"
	SubjectSpeechDispatched  = "chatsay.speech.dispatched"
	SubjectInstanceAnnounce  = "chatsay.instance.announce"
	SubjectInstanceHeartbeat = "chatsay.instance.heartbeat"
)
