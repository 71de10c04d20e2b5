package advisor

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/zhouzirui/global-compliance/backend/internal/audio"
	"github.com/zhouzirui/global-compliance/backend/internal/logging"
	advisorService "github.com/zhouzirui/global-compliance/backend/internal/service/advisor"
)

const writeTimeout = 10 * time.Second

var errMicrophoneDenied = errors.New("microphone permission denied by the browser")

type outgoingMessage struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// wsWriter serializes writes to one browser connection.
type wsWriter struct {
	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
}

// send is a no-op once the browser has gone away.
func (w *wsWriter) send(msgType string, data interface{}) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}

	if err := w.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return w.conn.WriteJSON(outgoingMessage{Type: msgType, Data: data, Timestamp: time.Now().UnixMilli()})
}

// reply is send for frames whose delivery failure is only worth a debug line.
func (w *wsWriter) reply(msgType string, data interface{}) {
	if err := w.send(msgType, data); err != nil {
		logging.Debugw("advisor frame not delivered", "type", msgType, "error", err)
	}
}

func (w *wsWriter) markClosed() {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
}

func (w *wsWriter) ping() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	return w.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
}

// browserDevices exposes the browser on the other end of the socket as microphone and speaker.
type browserDevices struct {
	out *wsWriter

	mu         sync.Mutex
	microphone bool
	capture    *browserCapture
}

func newBrowserDevices(out *wsWriter) *browserDevices {
	return &browserDevices{out: out, microphone: true}
}

// allowMicrophone records the permission the browser reported with its start request.
func (d *browserDevices) allowMicrophone(ok bool) {
	d.mu.Lock()
	d.microphone = ok
	d.mu.Unlock()
}

func (d *browserDevices) GetUserMedia(ctx context.Context) (advisorService.MediaTrack, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.microphone {
		return nil, errMicrophoneDenied
	}
	return &browserTrack{out: d.out}, nil
}

func (d *browserDevices) NewCaptureContext(track advisorService.MediaTrack, sampleRate, blockSize int) (advisorService.CaptureContext, error) {
	if _, ok := track.(*browserTrack); !ok {
		return nil, fmt.Errorf("unexpected track type %T", track)
	}
	capture := &browserCapture{
		blockSize: blockSize,
		frames:    make(chan []float32, 16),
	}

	d.mu.Lock()
	d.capture = capture
	d.mu.Unlock()

	if err := d.out.send("capture_open", map[string]any{"sampleRate": sampleRate, "blockSize": blockSize}); err != nil {
		return nil, err
	}
	return capture, nil
}

func (d *browserDevices) NewPlaybackContext(sampleRate int) (advisorService.PlaybackContext, error) {
	if err := d.out.send("playback_open", map[string]any{"sampleRate": sampleRate}); err != nil {
		return nil, err
	}
	return &browserPlayback{out: d.out, sampleRate: sampleRate, epoch: time.Now()}, nil
}

// pushCapture forwards a browser capture block to the active capture context, if any.
func (d *browserDevices) pushCapture(samples []float32) {
	d.mu.Lock()
	capture := d.capture
	d.mu.Unlock()
	if capture != nil {
		capture.push(samples)
	}
}

type browserTrack struct {
	out     *wsWriter
	stopped atomic.Bool
}

func (t *browserTrack) Stop() error {
	if t.stopped.Swap(true) {
		return nil
	}
	return t.out.send("capture_stop", nil)
}

// browserCapture regroups whatever block size the browser sends into blockSize frames.
type browserCapture struct {
	blockSize int

	mu      sync.Mutex
	pending []float32
	frames  chan []float32
	closed  bool
	dropped int64
}

func (c *browserCapture) Frames() <-chan []float32 { return c.frames }

func (c *browserCapture) push(samples []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}

	c.pending = append(c.pending, samples...)
	for len(c.pending) >= c.blockSize {
		frame := make([]float32, c.blockSize)
		copy(frame, c.pending[:c.blockSize])
		c.pending = c.pending[c.blockSize:]

		select {
		case c.frames <- frame:
		default:
			c.dropped++
		}
	}
}

func (c *browserCapture) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.frames)
		if c.dropped > 0 {
			logging.Debugw("browser capture frames dropped", "count", c.dropped)
		}
	}
	return nil
}

// browserPlayback keeps a clock that starts when the browser is told to open its playback
// context; startAt values in playback frames are seconds on that clock.
type browserPlayback struct {
	out        *wsWriter
	sampleRate int
	epoch      time.Time
	closed     atomic.Bool
}

func (p *browserPlayback) CurrentTime() time.Duration {
	return time.Since(p.epoch)
}

func (p *browserPlayback) Start(buf *audio.Buffer, at time.Duration) (advisorService.PlaybackSource, error) {
	if p.closed.Load() {
		return nil, errors.New("playback context closed")
	}

	src := &browserSource{id: uuid.NewString(), out: p.out, done: make(chan struct{})}
	err := p.out.send("playback", map[string]any{
		"id":         src.id,
		"startAt":    at.Seconds(),
		"duration":   buf.Duration().Seconds(),
		"sampleRate": buf.SampleRate,
		"audio":      base64.StdEncoding.EncodeToString(audio.PCM16ToBytes(audio.FloatToPCM16(buf.Mono()))),
	})
	if err != nil {
		return nil, err
	}

	wait := at + buf.Duration() - p.CurrentTime()
	if wait < 0 {
		wait = 0
	}
	src.timer = time.AfterFunc(wait, src.finish)
	return src, nil
}

func (p *browserPlayback) Close() error {
	if p.closed.Swap(true) {
		return nil
	}
	return p.out.send("playback_close", nil)
}

type browserSource struct {
	id    string
	out   *wsWriter
	timer *time.Timer
	once  sync.Once
	done  chan struct{}
}

func (s *browserSource) Done() <-chan struct{} { return s.done }

func (s *browserSource) finish() {
	s.once.Do(func() { close(s.done) })
}

// Stop cancels a source that has not finished yet.
func (s *browserSource) Stop() error {
	select {
	case <-s.done:
		return nil
	default:
	}
	s.timer.Stop()
	s.finish()
	return s.out.send("playback_stop", map[string]string{"id": s.id})
}

// decodeFloat32LE parses a binary capture frame.
func decodeFloat32LE(data []byte) ([]float32, error) {
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("capture frame of %d bytes is not a whole number of float32 samples", len(data))
	}
	out := make([]float32, len(data)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return out, nil
}
