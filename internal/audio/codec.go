package audio

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/zhouzirui/global-compliance/backend/internal/apperr"
)

// FloatToPCM16 scales samples by 32768 and narrows them to int16.
// Values outside [-1, 1) wrap around instead of saturating; NaN and Inf become 0.
func FloatToPCM16(samples []float32) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		out[i] = narrowInt16(float64(s) * 32768)
	}
	return out
}

func narrowInt16(v float64) int16 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	v = math.Trunc(v)
	// modulo 2^16 keeps the conversion defined for any finite input
	m := math.Mod(v, 65536)
	return int16(int32(m))
}

// PCM16ToFloat rescales int16 samples back into [-1, 1).
func PCM16ToFloat(samples []int16) []float32 {
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = float32(s) / 32768.0
	}
	return out
}

// PCM16ToBytes packs samples little-endian.
func PCM16ToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*bytesPerPCMSample)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

// BytesToPCM16 reinterprets little-endian bytes as int16 samples.
func BytesToPCM16(data []byte) ([]int16, error) {
	if len(data)%bytesPerPCMSample != 0 {
		return nil, apperr.Decode("audio.bytes", fmt.Sprintf("pcm16 payload has odd length %d", len(data)))
	}
	samples := make([]int16, len(data)/bytesPerPCMSample)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return samples, nil
}

// ToTransport encodes captured float samples as base64 PCM16 tagged for 16 kHz mono.
func ToTransport(samples []float32) Blob {
	raw := PCM16ToBytes(FloatToPCM16(samples))
	return Blob{
		Data:     base64.StdEncoding.EncodeToString(raw),
		MIMEType: CaptureMIMEType,
	}
}

// FromTransport decodes a base64 PCM16 token into a de-interleaved float buffer.
func FromTransport(token string, sampleRate, channels int) (*Buffer, error) {
	if channels <= 0 {
		return nil, apperr.Decode("audio.decode", fmt.Sprintf("invalid channel count %d", channels))
	}
	raw, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return nil, &apperr.Error{Kind: apperr.KindDecode, Op: "audio.decode", Msg: "malformed base64 audio", Err: err}
	}
	stride := bytesPerPCMSample * channels
	if len(raw)%stride != 0 {
		return nil, apperr.Decode("audio.decode", fmt.Sprintf("payload of %d bytes is not a multiple of the %d-byte frame", len(raw), stride))
	}
	samples, err := BytesToPCM16(raw)
	if err != nil {
		return nil, err
	}
	return deinterleave(samples, sampleRate, channels), nil
}

func deinterleave(samples []int16, sampleRate, channels int) *Buffer {
	frames := len(samples) / channels
	buf := &Buffer{SampleRate: sampleRate, Channels: make([][]float32, channels)}
	for ch := 0; ch < channels; ch++ {
		data := make([]float32, frames)
		for i := 0; i < frames; i++ {
			data[i] = float32(samples[i*channels+ch]) / 32768.0
		}
		buf.Channels[ch] = data
	}
	return buf
}

// Interleave flattens a buffer back into PCM16 samples.
func Interleave(buf *Buffer) []int16 {
	channels := buf.NumChannels()
	frames := buf.Frames()
	out := make([]int16, 0, channels*frames)
	for i := 0; i < frames; i++ {
		for ch := 0; ch < channels; ch++ {
			out = append(out, narrowInt16(float64(buf.Channels[ch][i])*32768))
		}
	}
	return out
}
