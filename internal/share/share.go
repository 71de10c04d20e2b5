// Package share turns report state into self-contained, time-stamped URL fragment tokens.
package share

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/zhouzirui/global-compliance/backend/internal/apperr"
)

const (
	// FragmentKey is the single fragment parameter a share link carries.
	FragmentKey = "report"

	DefaultMaxImageBytes = 500_000
	DefaultMaxTokenBytes = 2_000_000
	DefaultTTL           = 7 * 24 * time.Hour
)

// ErrExpired is returned by Open for tokens older than the codec TTL.
var ErrExpired = errors.New("shared report link has expired")

// Payload is the decoded content of a share token.
type Payload struct {
	Data      json.RawMessage `json:"data"`
	Image     string          `json:"image,omitempty"`
	Timestamp int64           `json:"timestamp"` // unix milliseconds
}

// CreatedAt converts the millisecond timestamp.
func (p *Payload) CreatedAt() time.Time {
	return time.UnixMilli(p.Timestamp)
}

// Codec encodes and decodes share tokens. The zero value is not usable; use NewCodec.
type Codec struct {
	MaxImageBytes int
	MaxTokenBytes int
	TTL           time.Duration
	Now           func() time.Time
}

// NewCodec returns a codec with the default budgets and a 7 day lifetime.
func NewCodec() *Codec {
	return &Codec{
		MaxImageBytes: DefaultMaxImageBytes,
		MaxTokenBytes: DefaultMaxTokenBytes,
		TTL:           DefaultTTL,
		Now:           time.Now,
	}
}

func (c *Codec) now() time.Time {
	if c.Now == nil {
		return time.Now()
	}
	return c.Now()
}

// Encode serializes report and image into a token. The image is dropped when it
// reaches MaxImageBytes; a token that still exceeds MaxTokenBytes is refused.
func (c *Codec) Encode(report any, image string) (string, error) {
	data, err := json.Marshal(report)
	if err != nil {
		return "", fmt.Errorf("marshal shared report: %w", err)
	}

	payload := Payload{
		Data:      data,
		Timestamp: c.now().UnixMilli(),
	}
	if image != "" && len(image) < c.MaxImageBytes {
		payload.Image = image
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal share payload: %w", err)
	}

	token := base64.RawURLEncoding.EncodeToString(raw)
	if c.MaxTokenBytes > 0 && len(token) > c.MaxTokenBytes {
		return "", apperr.Newf(apperr.KindShareTooLarge, "share.encode",
			"share link would be %d bytes, limit is %d; retry without the image", len(token), c.MaxTokenBytes)
	}
	return token, nil
}

// Decode reverses Encode. Tokens in either base64 alphabet, padded or not, are accepted.
func (c *Codec) Decode(token string) (*Payload, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, apperr.Decode("share.decode", "empty share token")
	}

	raw, err := decodeBase64(token)
	if err != nil {
		return nil, &apperr.Error{Kind: apperr.KindDecode, Op: "share.decode", Msg: "malformed share token", Err: err}
	}

	var payload Payload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, &apperr.Error{Kind: apperr.KindDecode, Op: "share.decode", Msg: "share token is not valid JSON", Err: err}
	}
	if payload.Timestamp == 0 {
		return nil, apperr.Decode("share.decode", "share token has no timestamp")
	}
	if len(payload.Data) == 0 || string(payload.Data) == "null" {
		return nil, apperr.Decode("share.decode", "share token carries no report")
	}
	return &payload, nil
}

// Open decodes a token and rejects it once expired.
func (c *Codec) Open(token string) (*Payload, error) {
	payload, err := c.Decode(token)
	if err != nil {
		return nil, err
	}
	if c.IsExpired(payload.Timestamp, c.now()) {
		return nil, ErrExpired
	}
	return payload, nil
}

// IsExpired reports whether more than TTL has passed since timestamp (unix ms).
func (c *Codec) IsExpired(timestamp int64, now time.Time) bool {
	ttl := c.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return now.UnixMilli()-timestamp > ttl.Milliseconds()
}

// IsExpired applies the default 7 day lifetime.
func IsExpired(timestamp int64, now time.Time) bool {
	return now.UnixMilli()-timestamp > DefaultTTL.Milliseconds()
}

func decodeBase64(token string) ([]byte, error) {
	if strings.ContainsAny(token, "+/") {
		return base64.StdEncoding.DecodeString(padded(token))
	}
	return base64.RawURLEncoding.DecodeString(strings.TrimRight(token, "="))
}

func padded(token string) string {
	if rem := len(token) % 4; rem != 0 {
		return token + strings.Repeat("=", 4-rem)
	}
	return token
}
