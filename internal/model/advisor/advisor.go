package advisor

import "time"

// Speaker identifies who produced a transcript entry.
type Speaker string

const (
	SpeakerUser    Speaker = "user"
	SpeakerAdvisor Speaker = "advisor"
)

// TranscriptEntry is one line of the live conversation log.
type TranscriptEntry struct {
	ID        string    `json:"id"`
	Speaker   Speaker   `json:"speaker"`
	Text      string    `json:"text"`
	Final     bool      `json:"final"`
	CreatedAt time.Time `json:"createdAt"`
}

// State is the lifecycle position of a voice session.
type State string

const (
	StateIdle        State = "idle"
	StateConnecting  State = "connecting"
	StateOpen        State = "open"
	StateInterrupted State = "interrupted"
	StateClosing     State = "closing"
)

// SessionConfig is sent to the remote endpoint when a session opens.
type SessionConfig struct {
	Model               string `json:"model"`
	Voice               string `json:"voice"`
	SystemInstruction   string `json:"systemInstruction"`
	InputTranscription  bool   `json:"inputTranscription"`
	OutputTranscription bool   `json:"outputTranscription"`
}
