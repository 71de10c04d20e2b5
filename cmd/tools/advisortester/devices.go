package main

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/zhouzirui/global-compliance/backend/internal/audio"
	"github.com/zhouzirui/global-compliance/backend/internal/service/advisor"
)

// fileDevices plays a WAV file as the microphone and records scheduled playback into memory.
type fileDevices struct {
	input []float32

	openOnce sync.Once
	open     chan struct{}
	done     chan struct{}

	mu       sync.Mutex
	recorded []int16
}

func newFileDevices(input []float32) *fileDevices {
	return &fileDevices{input: input, open: make(chan struct{}), done: make(chan struct{})}
}

func (d *fileDevices) markOpen() {
	d.openOnce.Do(func() { close(d.open) })
}

// finished is closed once the whole input has been captured.
func (d *fileDevices) finished() <-chan struct{} { return d.done }

func (d *fileDevices) recording() []int16 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]int16(nil), d.recorded...)
}

func (d *fileDevices) GetUserMedia(ctx context.Context) (advisor.MediaTrack, error) {
	if len(d.input) == 0 {
		return nil, errors.New("input file has no samples")
	}
	return fileTrack{}, nil
}

func (d *fileDevices) NewCaptureContext(track advisor.MediaTrack, sampleRate, blockSize int) (advisor.CaptureContext, error) {
	ctx, cancel := context.WithCancel(context.Background())
	c := &fileCapture{frames: make(chan []float32), cancel: cancel}

	interval := time.Duration(blockSize) * time.Second / time.Duration(sampleRate)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer close(c.frames)

		select {
		case <-ctx.Done():
			return
		case <-d.open:
		}

		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for _, block := range audio.Chunk(d.input, blockSize) {
			select {
			case <-ctx.Done():
				return
			case c.frames <- block:
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
		close(d.done)
	}()
	return c, nil
}

func (d *fileDevices) NewPlaybackContext(sampleRate int) (advisor.PlaybackContext, error) {
	return &recordingPlayback{devices: d, sampleRate: sampleRate, epoch: time.Now()}, nil
}

type fileTrack struct{}

func (fileTrack) Stop() error { return nil }

type fileCapture struct {
	frames chan []float32
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func (c *fileCapture) Frames() <-chan []float32 { return c.frames }

func (c *fileCapture) Close() error {
	c.cancel()
	c.wg.Wait()
	return nil
}

// recordingPlayback writes each buffer into the recording at its scheduled offset.
type recordingPlayback struct {
	devices    *fileDevices
	sampleRate int
	epoch      time.Time
}

func (p *recordingPlayback) CurrentTime() time.Duration { return time.Since(p.epoch) }

func (p *recordingPlayback) Start(buf *audio.Buffer, at time.Duration) (advisor.PlaybackSource, error) {
	samples := audio.FloatToPCM16(buf.Mono())
	offset := int(at * time.Duration(p.sampleRate) / time.Second)

	d := p.devices
	d.mu.Lock()
	if need := offset + len(samples); need > len(d.recorded) {
		d.recorded = append(d.recorded, make([]int16, need-len(d.recorded))...)
	}
	copy(d.recorded[offset:], samples)
	d.mu.Unlock()

	src := &timedSource{done: make(chan struct{})}
	wait := at + buf.Duration() - p.CurrentTime()
	if wait < 0 {
		wait = 0
	}
	src.timer = time.AfterFunc(wait, src.finish)
	return src, nil
}

func (p *recordingPlayback) Close() error { return nil }

type timedSource struct {
	timer *time.Timer
	once  sync.Once
	done  chan struct{}
}

func (s *timedSource) finish() { s.once.Do(func() { close(s.done) }) }

func (s *timedSource) Stop() error {
	s.timer.Stop()
	s.finish()
	return nil
}

func (s *timedSource) Done() <-chan struct{} { return s.done }
