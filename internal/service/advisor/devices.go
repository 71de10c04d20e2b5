package advisor

import (
	"context"
	"time"

	"github.com/zhouzirui/global-compliance/backend/internal/audio"
	advisormodel "github.com/zhouzirui/global-compliance/backend/internal/model/advisor"
)

// MediaDevices opens the local microphone and the two audio pipelines.
type MediaDevices interface {
	GetUserMedia(ctx context.Context) (MediaTrack, error)
	NewCaptureContext(track MediaTrack, sampleRate, blockSize int) (CaptureContext, error)
	NewPlaybackContext(sampleRate int) (PlaybackContext, error)
}

// MediaTrack is an acquired microphone.
type MediaTrack interface {
	Stop() error
}

// CaptureContext delivers fixed-size float blocks from the microphone.
// Frames is closed when the capture pipeline ends.
type CaptureContext interface {
	Frames() <-chan []float32
	Close() error
}

// PlaybackContext schedules decoded buffers on its own clock, which starts at zero.
type PlaybackContext interface {
	CurrentTime() time.Duration
	Start(buf *audio.Buffer, at time.Duration) (PlaybackSource, error)
	Close() error
}

// PlaybackSource is one scheduled buffer. Done is closed once it finished or was stopped.
type PlaybackSource interface {
	Stop() error
	Done() <-chan struct{}
}

// Dialer opens the remote streaming voice connection.
type Dialer interface {
	Dial(ctx context.Context, cfg advisormodel.SessionConfig) (Conn, error)
}

// Conn is a single remote voice stream. Recv returns io.EOF after a clean remote close.
type Conn interface {
	SendAudio(blob audio.Blob) error
	Recv(ctx context.Context) (*ServerMessage, error)
	Close() error
}

// ServerMessage is one inbound frame; any combination of fields may be set.
type ServerMessage struct {
	SetupComplete    bool
	InputTranscript  string
	OutputTranscript string
	Audio            []string // base64 PCM16 at audio.PlaybackSampleRate
	Interrupted      bool
	TurnComplete     bool
}
