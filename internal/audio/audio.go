// Package audio converts between captured float samples, PCM16 and the base64
// transport encoding used by the realtime voice endpoint.
package audio

import (
	"time"
)

const (
	CaptureSampleRate  = 16000
	PlaybackSampleRate = 24000
	CaptureBlockSize   = 4096 // samples per capture callback

	CaptureFormatTag  = "pcm16-mono-16kHz"
	CaptureMIMEType   = "audio/pcm;rate=16000"
	PlaybackMIMEType  = "audio/pcm;rate=24000"
	bytesPerPCMSample = 2
)

// Blob is a transport-ready audio payload.
type Blob struct {
	Data     string `json:"data"`
	MIMEType string `json:"mimeType"`
}

// Buffer holds decoded, de-interleaved float audio.
type Buffer struct {
	SampleRate int
	Channels   [][]float32
}

// NumChannels returns the channel count.
func (b *Buffer) NumChannels() int {
	if b == nil {
		return 0
	}
	return len(b.Channels)
}

// Frames returns the number of samples per channel.
func (b *Buffer) Frames() int {
	if b == nil || len(b.Channels) == 0 {
		return 0
	}
	return len(b.Channels[0])
}

// Duration is the playback length of the buffer at its sample rate.
func (b *Buffer) Duration() time.Duration {
	if b == nil || b.SampleRate <= 0 {
		return 0
	}
	return time.Duration(b.Frames()) * time.Second / time.Duration(b.SampleRate)
}

// Mono returns the first channel, or nil for an empty buffer.
func (b *Buffer) Mono() []float32 {
	if b == nil || len(b.Channels) == 0 {
		return nil
	}
	return b.Channels[0]
}

// Chunk splits samples into consecutive blocks of size; the last block may be shorter.
func Chunk(samples []float32, size int) [][]float32 {
	if size <= 0 || len(samples) == 0 {
		return nil
	}
	chunks := make([][]float32, 0, (len(samples)+size-1)/size)
	for start := 0; start < len(samples); start += size {
		end := start + size
		if end > len(samples) {
			end = len(samples)
		}
		chunks = append(chunks, samples[start:end])
	}
	return chunks
}
