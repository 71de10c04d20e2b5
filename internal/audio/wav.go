package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/zhouzirui/global-compliance/backend/internal/apperr"
)

// EncodeWAV wraps PCM16 samples in a canonical RIFF/WAVE container.
func EncodeWAV(samples []int16, sampleRate, channels int) []byte {
	var buf bytes.Buffer

	dataSize := len(samples) * bytesPerPCMSample
	byteRate := sampleRate * channels * bytesPerPCMSample
	blockAlign := channels * bytesPerPCMSample

	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36+dataSize))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(&buf, binary.LittleEndian, uint16(channels))
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(&buf, binary.LittleEndian, uint32(byteRate))
	binary.Write(&buf, binary.LittleEndian, uint16(blockAlign))
	binary.Write(&buf, binary.LittleEndian, uint16(16))

	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(dataSize))
	buf.Write(PCM16ToBytes(samples))

	return buf.Bytes()
}

// ReadWAV parses a 16-bit PCM WAV stream. Unknown chunks are skipped.
func ReadWAV(r io.Reader) (*Buffer, error) {
	var riff [12]byte
	if _, err := io.ReadFull(r, riff[:]); err != nil {
		return nil, &apperr.Error{Kind: apperr.KindDecode, Op: "audio.wav", Msg: "missing RIFF header", Err: err}
	}
	if string(riff[0:4]) != "RIFF" || string(riff[8:12]) != "WAVE" {
		return nil, apperr.Decode("audio.wav", "not a RIFF/WAVE stream")
	}

	var (
		channels   int
		sampleRate int
		haveFormat bool
	)

	for {
		var hdr [8]byte
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			return nil, &apperr.Error{Kind: apperr.KindDecode, Op: "audio.wav", Msg: "data chunk not found", Err: err}
		}
		id := string(hdr[0:4])
		size := binary.LittleEndian.Uint32(hdr[4:8])

		switch id {
		case "fmt ":
			body := make([]byte, size)
			if _, err := io.ReadFull(r, body); err != nil {
				return nil, &apperr.Error{Kind: apperr.KindDecode, Op: "audio.wav", Msg: "truncated fmt chunk", Err: err}
			}
			if len(body) < 16 {
				return nil, apperr.Decode("audio.wav", "fmt chunk too short")
			}
			if format := binary.LittleEndian.Uint16(body[0:2]); format != 1 {
				return nil, apperr.Decode("audio.wav", fmt.Sprintf("unsupported wav format %d", format))
			}
			channels = int(binary.LittleEndian.Uint16(body[2:4]))
			sampleRate = int(binary.LittleEndian.Uint32(body[4:8]))
			if bits := binary.LittleEndian.Uint16(body[14:16]); bits != 16 {
				return nil, apperr.Decode("audio.wav", fmt.Sprintf("unsupported bit depth %d", bits))
			}
			haveFormat = true
		case "data":
			if !haveFormat || channels == 0 {
				return nil, apperr.Decode("audio.wav", "data chunk before fmt chunk")
			}
			body := make([]byte, size)
			if _, err := io.ReadFull(r, body); err != nil {
				return nil, &apperr.Error{Kind: apperr.KindDecode, Op: "audio.wav", Msg: "truncated data chunk", Err: err}
			}
			stride := bytesPerPCMSample * channels
			body = body[:len(body)-len(body)%stride]
			samples, err := BytesToPCM16(body)
			if err != nil {
				return nil, err
			}
			return deinterleave(samples, sampleRate, channels), nil
		default:
			skip := int64(size) + int64(size%2)
			if _, err := io.CopyN(io.Discard, r, skip); err != nil {
				return nil, &apperr.Error{Kind: apperr.KindDecode, Op: "audio.wav", Msg: "truncated chunk " + id, Err: err}
			}
		}
	}
}
