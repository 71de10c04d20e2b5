// Package live speaks the streaming voice protocol of the remote advisor endpoint.
package live

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zhouzirui/global-compliance/backend/internal/apperr"
	"github.com/zhouzirui/global-compliance/backend/internal/audio"
	"github.com/zhouzirui/global-compliance/backend/internal/logging"
	advisormodel "github.com/zhouzirui/global-compliance/backend/internal/model/advisor"
	"github.com/zhouzirui/global-compliance/backend/internal/service/advisor"
)

const (
	defaultHandshakeTimeout = 10 * time.Second
	defaultPingInterval     = 54 * time.Second
	defaultReadTimeout      = 60 * time.Second
	writeTimeout            = 10 * time.Second
)

// Config describes the remote endpoint.
type Config struct {
	APIKey           string
	URL              string
	Model            string
	HandshakeTimeout time.Duration
	PingInterval     time.Duration
	ReadTimeout      time.Duration
}

// Client dials sessions against the remote endpoint. It implements advisor.Dialer.
type Client struct {
	cfg    Config
	dialer *websocket.Dialer
}

func NewClient(cfg Config) *Client {
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = defaultHandshakeTimeout
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaultPingInterval
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = defaultReadTimeout
	}
	return &Client{
		cfg: cfg,
		dialer: &websocket.Dialer{
			HandshakeTimeout: cfg.HandshakeTimeout,
			ReadBufferSize:   32 * 1024,
			WriteBufferSize:  32 * 1024,
		},
	}
}

// Dial opens the stream and sends the setup frame. The endpoint acknowledges
// asynchronously with a message whose SetupComplete is set.
func (c *Client) Dial(ctx context.Context, sc advisormodel.SessionConfig) (advisor.Conn, error) {
	if c.cfg.APIKey == "" {
		return nil, apperr.New(apperr.KindConfig, "live.dial", "live API key is not configured")
	}

	endpoint, err := c.endpoint()
	if err != nil {
		return nil, apperr.Wrap(apperr.KindConfig, "live.dial", err)
	}

	ws, resp, err := c.dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		if resp != nil {
			logging.Warnw("live endpoint rejected handshake", "status", resp.StatusCode)
		}
		return nil, apperr.Wrap(apperr.KindUpstream, "live.dial", err)
	}

	model := sc.Model
	if model == "" {
		model = c.cfg.Model
	}
	setup := newSetup(model, sc.Voice, sc.SystemInstruction, sc.InputTranscription, sc.OutputTranscription)

	conn := newConn(ws, c.cfg)
	if err := conn.writeJSON(setup); err != nil {
		conn.Close()
		return nil, apperr.Wrap(apperr.KindUpstream, "live.setup", err)
	}
	logging.Infow("live session dialed", "model", setup.Setup.Model, "voice", sc.Voice)
	return conn, nil
}

func (c *Client) endpoint() (string, error) {
	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return "", fmt.Errorf("parse live url: %w", err)
	}
	q := u.Query()
	q.Set("key", c.cfg.APIKey)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Conn is one open stream. Writes are serialized; Recv must be called from a single goroutine.
type Conn struct {
	ws          *websocket.Conn
	writeMu     sync.Mutex
	readTimeout time.Duration

	cancel    context.CancelFunc
	closeOnce sync.Once
	closeErr  error
	wg        sync.WaitGroup
}

func newConn(ws *websocket.Conn, cfg Config) *Conn {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Conn{ws: ws, readTimeout: cfg.ReadTimeout, cancel: cancel}

	ws.SetReadDeadline(time.Now().Add(cfg.ReadTimeout))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(cfg.ReadTimeout))
	})

	c.wg.Add(1)
	go c.pingLoop(ctx, cfg.PingInterval)
	return c
}

// SendAudio streams one capture block.
func (c *Conn) SendAudio(blob audio.Blob) error {
	if err := c.writeJSON(newRealtimeInput(blob)); err != nil {
		return apperr.Wrap(apperr.KindUpstream, "live.send", err)
	}
	return nil
}

// Recv blocks for the next frame that carries session content. A goAway frame or
// a normal close frame yields io.EOF.
func (c *Conn) Recv(ctx context.Context) (*advisor.ServerMessage, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil, io.EOF
			}
			return nil, apperr.Wrap(apperr.KindUpstream, "live.recv", err)
		}
		c.ws.SetReadDeadline(time.Now().Add(c.readTimeout))

		var frame serverMessage
		if err := json.Unmarshal(data, &frame); err != nil {
			logging.Warnw("live endpoint sent an unparseable frame", "error", err, "bytes", len(data))
			continue
		}
		if frame.GoAway != nil {
			logging.Infow("live endpoint is going away", "time_left", frame.GoAway.TimeLeft)
			return nil, io.EOF
		}
		if msg, ok := frame.toServerMessage(); ok {
			return msg, nil
		}
	}
}

// Close sends a close frame and releases the socket. Safe to call more than once.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.cancel()

		c.writeMu.Lock()
		_ = c.ws.SetWriteDeadline(time.Now().Add(time.Second))
		_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()

		if err := c.ws.Close(); err != nil && !errors.Is(err, websocket.ErrCloseSent) {
			c.closeErr = err
		}
		c.wg.Wait()
	})
	return c.closeErr
}

func (c *Conn) writeJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.ws.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return c.ws.WriteJSON(v)
}

// pingLoop 定期发送ping消息
func (c *Conn) pingLoop(ctx context.Context, interval time.Duration) {
	defer c.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}
