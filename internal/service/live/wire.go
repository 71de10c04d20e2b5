package live

import (
	"strings"

	"github.com/zhouzirui/global-compliance/backend/internal/audio"
	"github.com/zhouzirui/global-compliance/backend/internal/service/advisor"
)

// Outgoing frames of the BidiGenerateContent protocol.
type setupMessage struct {
	Setup setupConfig `json:"setup"`
}

type setupConfig struct {
	Model                    string           `json:"model"`
	GenerationConfig         generationConfig `json:"generationConfig"`
	SystemInstruction        *content         `json:"systemInstruction,omitempty"`
	InputAudioTranscription  *struct{}        `json:"inputAudioTranscription,omitempty"`
	OutputAudioTranscription *struct{}        `json:"outputAudioTranscription,omitempty"`
}

type generationConfig struct {
	ResponseModalities []string      `json:"responseModalities"`
	SpeechConfig       *speechConfig `json:"speechConfig,omitempty"`
}

type speechConfig struct {
	VoiceConfig voiceConfig `json:"voiceConfig"`
}

type voiceConfig struct {
	PrebuiltVoiceConfig prebuiltVoiceConfig `json:"prebuiltVoiceConfig"`
}

type prebuiltVoiceConfig struct {
	VoiceName string `json:"voiceName"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type inlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type realtimeInputMessage struct {
	RealtimeInput realtimeInput `json:"realtimeInput"`
}

type realtimeInput struct {
	MediaChunks []inlineData `json:"mediaChunks"`
}

// Incoming frames.
type serverMessage struct {
	SetupComplete *struct{}      `json:"setupComplete,omitempty"`
	ServerContent *serverContent `json:"serverContent,omitempty"`
	GoAway        *goAway        `json:"goAway,omitempty"`
}

type serverContent struct {
	ModelTurn           *content       `json:"modelTurn,omitempty"`
	InputTranscription  *transcription `json:"inputTranscription,omitempty"`
	OutputTranscription *transcription `json:"outputTranscription,omitempty"`
	Interrupted         bool           `json:"interrupted,omitempty"`
	TurnComplete        bool           `json:"turnComplete,omitempty"`
}

type transcription struct {
	Text string `json:"text"`
}

type goAway struct {
	TimeLeft string `json:"timeLeft,omitempty"`
}

func newSetup(model, voice, instruction string, inputTranscription, outputTranscription bool) setupMessage {
	if model != "" && !strings.HasPrefix(model, "models/") {
		model = "models/" + model
	}
	cfg := setupConfig{
		Model: model,
		GenerationConfig: generationConfig{
			ResponseModalities: []string{"AUDIO"},
		},
	}
	if voice != "" {
		cfg.GenerationConfig.SpeechConfig = &speechConfig{
			VoiceConfig: voiceConfig{PrebuiltVoiceConfig: prebuiltVoiceConfig{VoiceName: voice}},
		}
	}
	if instruction != "" {
		cfg.SystemInstruction = &content{Parts: []part{{Text: instruction}}}
	}
	if inputTranscription {
		cfg.InputAudioTranscription = &struct{}{}
	}
	if outputTranscription {
		cfg.OutputAudioTranscription = &struct{}{}
	}
	return setupMessage{Setup: cfg}
}

func newRealtimeInput(blob audio.Blob) realtimeInputMessage {
	return realtimeInputMessage{RealtimeInput: realtimeInput{
		MediaChunks: []inlineData{{MimeType: blob.MIMEType, Data: blob.Data}},
	}}
}

// toServerMessage flattens a wire frame; ok is false for frames carrying nothing the session uses.
func (m *serverMessage) toServerMessage() (msg *advisor.ServerMessage, ok bool) {
	msg = &advisor.ServerMessage{SetupComplete: m.SetupComplete != nil}
	if sc := m.ServerContent; sc != nil {
		if sc.InputTranscription != nil {
			msg.InputTranscript = sc.InputTranscription.Text
		}
		if sc.OutputTranscription != nil {
			msg.OutputTranscript = sc.OutputTranscription.Text
		}
		if sc.ModelTurn != nil {
			for _, p := range sc.ModelTurn.Parts {
				if p.InlineData != nil && p.InlineData.Data != "" && strings.HasPrefix(p.InlineData.MimeType, "audio/") {
					msg.Audio = append(msg.Audio, p.InlineData.Data)
				}
			}
		}
		msg.Interrupted = sc.Interrupted
		msg.TurnComplete = sc.TurnComplete
	}

	ok = msg.SetupComplete || msg.InputTranscript != "" || msg.OutputTranscript != "" ||
		len(msg.Audio) > 0 || msg.Interrupted || msg.TurnComplete
	return msg, ok
}
