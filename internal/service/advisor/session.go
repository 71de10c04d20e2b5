package advisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/zhouzirui/global-compliance/backend/internal/apperr"
	"github.com/zhouzirui/global-compliance/backend/internal/audio"
	"github.com/zhouzirui/global-compliance/backend/internal/logging"
	advisormodel "github.com/zhouzirui/global-compliance/backend/internal/model/advisor"
)

const (
	InitializingMessage = "Initializing secure connection to Global Trade Network..."
	ReadyMessage        = "Connection established. How can I assist with your compliance strategy today?"

	defaultOutboundQueue = 32
)

var (
	ErrAlreadyStarted = errors.New("advisor session already started")
	errStopped        = errors.New("advisor session stopped while starting")
)

// EventKind tags what a session Event carries.
type EventKind string

const (
	EventState      EventKind = "state"
	EventTranscript EventKind = "transcript"
	EventError      EventKind = "error"
)

// Event is pushed to the session listener. It is never delivered while the session lock is held.
type Event struct {
	Kind  EventKind
	State advisormodel.State
	Entry advisormodel.TranscriptEntry
	Err   error
}

// Listener receives session events.
type Listener func(Event)

// Options configures a Session.
type Options struct {
	Devices  MediaDevices
	Dialer   Dialer
	Config   advisormodel.SessionConfig
	Listener Listener
	// OutboundQueue bounds captured frames waiting to be sent; the oldest frame is dropped when full.
	OutboundQueue int
}

// Session owns one microphone, both audio pipelines and one remote connection.
type Session struct {
	id   string
	opts Options

	mu         sync.Mutex
	state      advisormodel.State
	transcript *Transcript
	schedule   PlaybackSchedule
	track      MediaTrack
	capture    CaptureContext
	playback   PlaybackContext
	conn       Conn
	outbound   chan audio.Blob
	cancel     context.CancelFunc
	done       chan struct{}
	wg         sync.WaitGroup

	dropped atomic.Int64
}

// NewSession returns an idle session.
func NewSession(opts Options) *Session {
	if opts.OutboundQueue <= 0 {
		opts.OutboundQueue = defaultOutboundQueue
	}
	if opts.Config.Voice == "" {
		opts.Config.Voice = "Zephyr"
	}
	opts.Config.InputTranscription = true
	opts.Config.OutputTranscription = true

	return &Session{
		id:         uuid.NewString(),
		opts:       opts,
		state:      advisormodel.StateIdle,
		transcript: NewTranscript(),
	}
}

func (s *Session) ID() string { return s.id }

func (s *Session) State() advisormodel.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Transcript returns a snapshot of the conversation log.
func (s *Session) Transcript() []advisormodel.TranscriptEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transcript.Entries()
}

// Dropped reports how many captured frames were discarded because the outbound queue was full.
func (s *Session) Dropped() int64 {
	return s.dropped.Load()
}

// Start acquires the devices and dials the remote endpoint. The session becomes
// Open asynchronously once the endpoint acknowledges the setup. Any failure tears
// down what was acquired and leaves the session Idle.
func (s *Session) Start(ctx context.Context) error {
	if ctx.Err() != nil {
		return errStopped
	}
	s.mu.Lock()
	if s.state != advisormodel.StateIdle {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.state = advisormodel.StateConnecting
	s.done = make(chan struct{})
	entry := s.transcript.System(InitializingMessage)
	s.mu.Unlock()

	s.emit(Event{Kind: EventState, State: advisormodel.StateConnecting})
	s.emit(Event{Kind: EventTranscript, Entry: entry})

	logCtx := logging.WithFields(ctx, logging.SessionFields(s.id)...)
	logging.InfowCtx(logCtx, "advisor session connecting", "voice", s.opts.Config.Voice)

	// Stop during acquisition cancels a pending dial.
	startCtx, cancelStart := context.WithCancel(ctx)
	defer cancelStart()
	s.mu.Lock()
	s.cancel = cancelStart
	s.mu.Unlock()

	if err := s.acquire(startCtx); err != nil {
		logging.WarnwCtx(logCtx, "advisor session failed to start", "error", err)
		s.terminate(err)
		return err
	}
	// a dialer may ignore cancellation and still hand back a connection
	if startCtx.Err() != nil {
		s.terminate(nil)
		return errStopped
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	if s.state != advisormodel.StateConnecting {
		s.mu.Unlock()
		cancel()
		return errStopped
	}
	s.cancel = cancel
	s.outbound = make(chan audio.Blob, s.opts.OutboundQueue)
	capture, conn, outbound := s.capture, s.conn, s.outbound
	s.wg.Add(3)
	s.mu.Unlock()

	go s.captureLoop(runCtx, capture, outbound)
	go s.sendLoop(runCtx, conn, outbound)
	go s.receiveLoop(runCtx, conn)
	return nil
}

func (s *Session) acquire(ctx context.Context) error {
	track, err := s.opts.Devices.GetUserMedia(ctx)
	if err != nil {
		return apperr.Device("advisor.start", err)
	}
	if err := s.attach(func() { s.track = track }); err != nil {
		_ = track.Stop()
		return err
	}

	capture, err := s.opts.Devices.NewCaptureContext(track, audio.CaptureSampleRate, audio.CaptureBlockSize)
	if err != nil {
		return apperr.Device("advisor.start", err)
	}
	if err := s.attach(func() { s.capture = capture }); err != nil {
		_ = capture.Close()
		return err
	}

	playback, err := s.opts.Devices.NewPlaybackContext(audio.PlaybackSampleRate)
	if err != nil {
		return &apperr.Error{Kind: apperr.KindDevice, Op: "advisor.start", Msg: "speaker unavailable", Err: err}
	}
	if err := s.attach(func() { s.playback = playback }); err != nil {
		_ = playback.Close()
		return err
	}

	conn, err := s.opts.Dialer.Dial(ctx, s.opts.Config)
	if err != nil {
		if ctx.Err() != nil {
			return errStopped
		}
		if apperr.KindOf(err) == apperr.KindUnknown {
			err = apperr.Wrap(apperr.KindUpstream, "advisor.dial", err)
		}
		return err
	}
	if err := s.attach(func() { s.conn = conn }); err != nil {
		_ = conn.Close()
		return err
	}
	return nil
}

// attach stores a freshly acquired handle unless the session was stopped meanwhile.
func (s *Session) attach(fn func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != advisormodel.StateConnecting {
		return errStopped
	}
	fn()
	return nil
}

// Stop tears the session down and waits until every resource is released.
// Calling it on an idle session is a no-op.
func (s *Session) Stop() error {
	return s.terminate(nil)
}

// Done is closed when the current run has fully torn down. It is nil before the first Start.
func (s *Session) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

func (s *Session) terminate(cause error) error {
	s.mu.Lock()
	switch s.state {
	case advisormodel.StateIdle:
		s.mu.Unlock()
		return nil
	case advisormodel.StateClosing:
		done := s.done
		s.mu.Unlock()
		<-done
		return nil
	}
	s.state = advisormodel.StateClosing
	track, capture, playback, conn, cancel := s.track, s.capture, s.playback, s.conn, s.cancel
	playbackErr := s.schedule.Interrupt()
	s.mu.Unlock()

	s.emit(Event{Kind: EventState, State: advisormodel.StateClosing})
	if cause != nil {
		s.emit(Event{Kind: EventError, Err: cause})
	}

	if cancel != nil {
		cancel()
	}
	err := errors.Join(playbackErr, release(track, capture, playback, conn))
	s.wg.Wait()

	s.mu.Lock()
	s.track, s.capture, s.playback, s.conn, s.cancel, s.outbound = nil, nil, nil, nil, nil, nil
	s.state = advisormodel.StateIdle
	done := s.done
	s.mu.Unlock()
	close(done)

	if err != nil {
		logging.Warnw("advisor session teardown incomplete", "session.id", s.id, "error", err)
	} else {
		logging.Infow("advisor session closed", "session.id", s.id)
	}
	s.emit(Event{Kind: EventState, State: advisormodel.StateIdle})
	return err
}

// release runs every step even when an earlier one fails.
func release(track MediaTrack, capture CaptureContext, playback PlaybackContext, conn Conn) error {
	var errs []error
	if track != nil {
		if err := track.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop microphone: %w", err))
		}
	}
	if capture != nil {
		if err := capture.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close capture: %w", err))
		}
	}
	if playback != nil {
		if err := playback.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close playback: %w", err))
		}
	}
	if conn != nil {
		if err := conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close connection: %w", err))
		}
	}
	return errors.Join(errs...)
}

// captureLoop encodes frames once the session is open. It never blocks on the network.
func (s *Session) captureLoop(ctx context.Context, capture CaptureContext, outbound chan audio.Blob) {
	defer s.wg.Done()
	frames := capture.Frames()
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-frames:
			if !ok {
				return
			}
			if !s.forwarding() {
				continue
			}
			s.enqueue(outbound, audio.ToTransport(frame))
		}
	}
}

func (s *Session) forwarding() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == advisormodel.StateOpen || s.state == advisormodel.StateInterrupted
}

// enqueue drops the oldest pending frame when the queue is full. captureLoop is the only producer.
func (s *Session) enqueue(outbound chan audio.Blob, blob audio.Blob) {
	for {
		select {
		case outbound <- blob:
			return
		default:
		}
		select {
		case <-outbound:
			s.dropped.Add(1)
		default:
		}
	}
}

func (s *Session) sendLoop(ctx context.Context, conn Conn, outbound chan audio.Blob) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case blob := <-outbound:
			if err := conn.SendAudio(blob); err != nil {
				if ctx.Err() != nil {
					return
				}
				go s.terminate(apperr.Wrap(apperr.KindUpstream, "advisor.send", err))
				return
			}
		}
	}
}

func (s *Session) receiveLoop(ctx context.Context, conn Conn) {
	defer s.wg.Done()
	for {
		msg, err := conn.Recv(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, io.EOF) {
				logging.Infow("advisor remote closed the session", "session.id", s.id)
				go s.terminate(nil)
				return
			}
			if apperr.KindOf(err) == apperr.KindUnknown {
				err = apperr.Wrap(apperr.KindUpstream, "advisor.recv", err)
			}
			go s.terminate(err)
			return
		}
		if msg != nil {
			s.dispatch(msg)
		}
	}
}

// dispatch applies one inbound message: readiness, transcripts, audio, interruption, turn end.
func (s *Session) dispatch(msg *ServerMessage) {
	var events []Event

	s.mu.Lock()
	if s.state == advisormodel.StateClosing || s.state == advisormodel.StateIdle {
		s.mu.Unlock()
		return
	}

	if msg.SetupComplete && s.state == advisormodel.StateConnecting {
		s.state = advisormodel.StateOpen
		events = append(events,
			Event{Kind: EventState, State: advisormodel.StateOpen},
			Event{Kind: EventTranscript, Entry: s.transcript.System(ReadyMessage)},
		)
	}
	appendFragment := s.transcript.Append
	if msg.TurnComplete {
		// a fragment carried by the turn-complete message never extends the open entry
		appendFragment = s.transcript.Begin
	}
	if msg.InputTranscript != "" {
		events = append(events, Event{Kind: EventTranscript, Entry: appendFragment(advisormodel.SpeakerUser, msg.InputTranscript)})
	}
	if msg.OutputTranscript != "" {
		events = append(events, Event{Kind: EventTranscript, Entry: appendFragment(advisormodel.SpeakerAdvisor, msg.OutputTranscript)})
	}

	for _, chunk := range msg.Audio {
		if err := s.schedulePlaybackLocked(chunk); err != nil {
			events = append(events, Event{Kind: EventError, Err: err})
			continue
		}
		if s.state == advisormodel.StateInterrupted {
			s.state = advisormodel.StateOpen
			events = append(events, Event{Kind: EventState, State: advisormodel.StateOpen})
		}
	}

	if msg.Interrupted {
		if err := s.schedule.Interrupt(); err != nil {
			events = append(events, Event{Kind: EventError, Err: err})
		}
		if s.state == advisormodel.StateOpen {
			s.state = advisormodel.StateInterrupted
			events = append(events, Event{Kind: EventState, State: advisormodel.StateInterrupted})
		}
	}

	if msg.TurnComplete {
		if entry, ok := s.transcript.CloseTurn(); ok {
			events = append(events, Event{Kind: EventTranscript, Entry: entry})
		}
		if s.state == advisormodel.StateInterrupted {
			s.state = advisormodel.StateOpen
			events = append(events, Event{Kind: EventState, State: advisormodel.StateOpen})
		}
	}
	s.mu.Unlock()

	for _, ev := range events {
		s.emit(ev)
	}
}

func (s *Session) schedulePlaybackLocked(chunk string) error {
	if s.playback == nil {
		return nil
	}
	buf, err := audio.FromTransport(chunk, audio.PlaybackSampleRate, 1)
	if err != nil {
		logging.Warnw("advisor dropped undecodable audio chunk", "session.id", s.id, "error", err)
		return err
	}
	at := s.schedule.Reserve(s.playback.CurrentTime(), buf.Duration())
	src, err := s.playback.Start(buf, at)
	if err != nil {
		return &apperr.Error{Kind: apperr.KindDevice, Op: "advisor.playback", Msg: "speaker unavailable", Err: err}
	}
	s.schedule.Track(src)
	return nil
}

func (s *Session) emit(ev Event) {
	if s.opts.Listener != nil {
		s.opts.Listener(ev)
	}
}
