package advisor

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/zhouzirui/global-compliance/backend/internal/audio"
	advisormodel "github.com/zhouzirui/global-compliance/backend/internal/model/advisor"
)

// callLog records device and connection calls in the order they happen.
type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(format string, args ...any) {
	l.mu.Lock()
	l.calls = append(l.calls, fmt.Sprintf(format, args...))
	l.mu.Unlock()
}

func (l *callLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

func (l *callLog) index(call string) int {
	for i, c := range l.snapshot() {
		if c == call {
			return i
		}
	}
	return -1
}

type fakeDevices struct {
	log        *callLog
	micErr     error
	micStopErr error

	mu       sync.Mutex
	acquired int
	capture  *fakeCapture
	playback *fakePlayback
}

func (d *fakeDevices) GetUserMedia(context.Context) (MediaTrack, error) {
	d.mu.Lock()
	d.acquired++
	n := d.acquired
	d.mu.Unlock()

	d.log.add("mic.acquire#%d", n)
	if d.micErr != nil {
		return nil, d.micErr
	}
	return &fakeTrack{log: d.log, n: n, err: d.micStopErr}, nil
}

func (d *fakeDevices) NewCaptureContext(_ MediaTrack, sampleRate, blockSize int) (CaptureContext, error) {
	d.log.add("capture.open rate=%d block=%d", sampleRate, blockSize)
	c := &fakeCapture{log: d.log, frames: make(chan []float32)}
	d.mu.Lock()
	d.capture = c
	d.mu.Unlock()
	return c, nil
}

func (d *fakeDevices) NewPlaybackContext(sampleRate int) (PlaybackContext, error) {
	d.log.add("playback.open rate=%d", sampleRate)
	p := &fakePlayback{log: d.log}
	d.mu.Lock()
	d.playback = p
	d.mu.Unlock()
	return p, nil
}

func (d *fakeDevices) currentCapture() *fakeCapture {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.capture
}

func (d *fakeDevices) currentPlayback() *fakePlayback {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.playback
}

type fakeTrack struct {
	log *callLog
	n   int
	err error
}

func (t *fakeTrack) Stop() error {
	t.log.add("mic.stop#%d", t.n)
	return t.err
}

type fakeCapture struct {
	log    *callLog
	frames chan []float32
}

func (c *fakeCapture) Frames() <-chan []float32 { return c.frames }

func (c *fakeCapture) Close() error {
	c.log.add("capture.close")
	return nil
}

// push delivers a frame the way a capture callback would; it fails the test if delivery stalls.
func (c *fakeCapture) push(t *testing.T, frame []float32) {
	t.Helper()
	select {
	case c.frames <- frame:
	case <-time.After(time.Second):
		t.Fatal("capture callback blocked")
	}
}

type scheduled struct {
	at       time.Duration
	duration time.Duration
	source   *fakeSource
}

type fakePlayback struct {
	log *callLog

	mu      sync.Mutex
	now     time.Duration
	started []scheduled
}

func (p *fakePlayback) CurrentTime() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.now
}

func (p *fakePlayback) setNow(d time.Duration) {
	p.mu.Lock()
	p.now = d
	p.mu.Unlock()
}

func (p *fakePlayback) Start(buf *audio.Buffer, at time.Duration) (PlaybackSource, error) {
	src := newFakeSource()
	p.mu.Lock()
	p.started = append(p.started, scheduled{at: at, duration: buf.Duration(), source: src})
	p.mu.Unlock()
	return src, nil
}

func (p *fakePlayback) Close() error {
	p.log.add("playback.close")
	return nil
}

func (p *fakePlayback) history() []scheduled {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]scheduled(nil), p.started...)
}

type fakeSource struct {
	once    sync.Once
	done    chan struct{}
	stopped bool
	mu      sync.Mutex
}

func newFakeSource() *fakeSource {
	return &fakeSource{done: make(chan struct{})}
}

func (s *fakeSource) Stop() error {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	s.finish()
	return nil
}

func (s *fakeSource) finish() {
	s.once.Do(func() { close(s.done) })
}

func (s *fakeSource) Done() <-chan struct{} { return s.done }

func (s *fakeSource) wasStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

type fakeDialer struct {
	log  *callLog
	err  error
	gate chan struct{}

	mu    sync.Mutex
	conns []*fakeConn
	cfg   advisormodel.SessionConfig
}

func (d *fakeDialer) Dial(_ context.Context, cfg advisormodel.SessionConfig) (Conn, error) {
	d.log.add("dial")
	if d.err != nil {
		return nil, d.err
	}
	c := &fakeConn{log: d.log, inbound: make(chan *ServerMessage, 16), closed: make(chan struct{}), gate: d.gate}
	d.mu.Lock()
	d.conns = append(d.conns, c)
	d.cfg = cfg
	d.mu.Unlock()
	return c, nil
}

func (d *fakeDialer) last() *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

type fakeConn struct {
	log     *callLog
	inbound chan *ServerMessage
	closed  chan struct{}
	once    sync.Once
	gate    chan struct{}

	mu   sync.Mutex
	sent []audio.Blob
}

func (c *fakeConn) SendAudio(blob audio.Blob) error {
	if c.gate != nil {
		select {
		case <-c.gate:
		case <-c.closed:
			return errors.New("connection closed")
		}
	}
	c.mu.Lock()
	c.sent = append(c.sent, blob)
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) Recv(ctx context.Context) (*ServerMessage, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.closed:
		return nil, errors.New("use of closed connection")
	case msg, ok := <-c.inbound:
		if !ok {
			return nil, io.EOF
		}
		return msg, nil
	}
}

func (c *fakeConn) Close() error {
	c.log.add("conn.close")
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) sentBlobs() []audio.Blob {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]audio.Blob(nil), c.sent...)
}

type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) listen(ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *eventRecorder) errs() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []error
	for _, ev := range r.events {
		if ev.Kind == EventError {
			out = append(out, ev.Err)
		}
	}
	return out
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// pcmChunk returns a base64 PCM16 chunk lasting d at the playback rate.
func pcmChunk(d time.Duration) string {
	samples := make([]int16, int(d*audio.PlaybackSampleRate/time.Second))
	for i := range samples {
		samples[i] = int16(i % 128)
	}
	return base64.StdEncoding.EncodeToString(audio.PCM16ToBytes(samples))
}
