// Package advisor bridges a browser websocket to a live voice advisor session.
// The browser acts as microphone and speaker; the server owns the session.
package advisor

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/zhouzirui/global-compliance/backend/internal/apperr"
	"github.com/zhouzirui/global-compliance/backend/internal/logging"
	advisormodel "github.com/zhouzirui/global-compliance/backend/internal/model/advisor"
	advisorService "github.com/zhouzirui/global-compliance/backend/internal/service/advisor"
	"github.com/zhouzirui/global-compliance/backend/pkg/utils"
)

const (
	readTimeout  = 60 * time.Second
	pingInterval = 54 * time.Second
)

// Handler WebSocket语音顾问处理器
type Handler struct {
	dialer   advisorService.Dialer
	cfg      advisormodel.SessionConfig
	upgrader websocket.Upgrader
}

// New 创建处理器。dialer 为 nil 时接口返回 503。allowedOrigins 为空时不校验来源。
func New(dialer advisorService.Dialer, cfg advisormodel.SessionConfig, allowedOrigins []string) *Handler {
	return &Handler{
		dialer: dialer,
		cfg:    cfg,
		upgrader: websocket.Upgrader{
			CheckOrigin:     originChecker(allowedOrigins),
			ReadBufferSize:  32 * 1024,
			WriteBufferSize: 32 * 1024,
		},
	}
}

// RegisterRoutes 注册顾问路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/advisor/status", h.handleStatus)
	r.Get("/advisor/ws", h.handleWebSocket)
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"enabled": h.dialer != nil,
		"voice":   h.cfg.Voice,
	})
}

type inboundMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type startMessage struct {
	Microphone *bool `json:"microphone"`
}

func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if h.dialer == nil {
		utils.RespondError(w, http.StatusServiceUnavailable, "live advisor unavailable")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warnw("advisor websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	out := &wsWriter{conn: conn}
	devices := newBrowserDevices(out)
	manager := advisorService.NewManager(advisorService.Options{
		Devices:  devices,
		Dialer:   h.dialer,
		Config:   h.cfg,
		Listener: forwardEvents(out),
	})

	ctx, cancel := context.WithCancel(context.Background())
	var starts sync.WaitGroup
	defer func() {
		cancel()
		if err := manager.Stop(); err != nil {
			logging.Warnw("advisor session did not release cleanly", "error", err)
		}
		starts.Wait()
		out.markClosed()
	}()

	conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})
	go pingLoop(ctx, out)

	logging.Infow("advisor websocket connected", "remote", r.RemoteAddr)

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logging.Warnw("advisor websocket read error", "error", err)
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))

		if msgType == websocket.BinaryMessage {
			samples, err := decodeFloat32LE(data)
			if err != nil {
				out.reply("error", errorPayload(apperr.Decode("advisor.capture", err.Error())))
				continue
			}
			devices.pushCapture(samples)
			continue
		}

		var msg inboundMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			out.reply("error", errorPayload(apperr.Decode("advisor.control", "invalid control message")))
			continue
		}

		switch msg.Type {
		case "start":
			var start startMessage
			if len(msg.Data) > 0 {
				_ = json.Unmarshal(msg.Data, &start)
			}
			devices.allowMicrophone(start.Microphone == nil || *start.Microphone)

			starts.Add(1)
			go func() {
				defer starts.Done()
				// 失败时会话已通过 listener 推送了 error 事件
				if _, err := manager.Start(ctx); err != nil {
					logging.Infow("advisor session start failed", "error", err)
				}
			}()
		case "stop":
			if err := manager.Stop(); err != nil {
				out.reply("error", errorPayload(err))
			}
		case "ping":
			out.reply("pong", nil)
		default:
			out.reply("error", errorPayload(apperr.Newf(apperr.KindValidation, "advisor.control", "unknown message type %q", msg.Type)))
		}
	}
}

// forwardEvents pushes session events to the browser.
func forwardEvents(out *wsWriter) advisorService.Listener {
	return func(ev advisorService.Event) {
		switch ev.Kind {
		case advisorService.EventState:
			out.reply("state", map[string]advisormodel.State{"state": ev.State})
		case advisorService.EventTranscript:
			out.reply("transcript", ev.Entry)
		case advisorService.EventError:
			out.reply("error", errorPayload(ev.Err))
		}
	}
}

func errorPayload(err error) map[string]string {
	return map[string]string{
		"message": apperr.Message(err),
		"kind":    string(apperr.KindOf(err)),
	}
}

// pingLoop 定期发送ping消息
func pingLoop(ctx context.Context, out *wsWriter) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := out.ping(); err != nil {
				return
			}
		}
	}
}

func originChecker(allowed []string) func(*http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, origin := range allowed {
		origin = strings.TrimRight(strings.TrimSpace(origin), "/")
		if origin == "*" {
			return func(*http.Request) bool { return true }
		}
		if origin != "" {
			set[origin] = struct{}{}
		}
	}
	if len(set) == 0 {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}
