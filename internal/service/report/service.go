// Package report produces compliance reports and follow-up briefings from a chat model.
package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/global-compliance/backend/internal/apperr"
	"github.com/zhouzirui/global-compliance/backend/internal/logging"
	reportmodel "github.com/zhouzirui/global-compliance/backend/internal/model/report"
)

// Request is one product photo to analyze against a destination market.
type Request struct {
	Image    []byte
	MIMEType string
	Country  string
	Query    string
}

// Options tunes the service.
type Options struct {
	// Timeout bounds each model call. Zero means no bound beyond the caller's context.
	Timeout time.Duration
}

// Service encapsulates report generation.
type Service struct {
	chatModel model.BaseChatModel
	timeout   time.Duration
	watchdog  compose.Runnable[map[string]any, *schema.Message]
	tension   compose.Runnable[map[string]any, *schema.Message]
}

// NewService compiles the briefing chains. A nil chatModel yields a service whose calls all fail with a config error.
func NewService(ctx context.Context, chatModel model.BaseChatModel, opts Options) (*Service, error) {
	s := &Service{chatModel: chatModel, timeout: opts.Timeout}
	if chatModel == nil {
		return s, nil
	}

	var err error
	if s.watchdog, err = compileBriefing(ctx, chatModel, watchdogTemplate); err != nil {
		return nil, fmt.Errorf("failed to compile watchdog chain: %w", err)
	}
	if s.tension, err = compileBriefing(ctx, chatModel, tensionTemplate); err != nil {
		return nil, fmt.Errorf("failed to compile tension chain: %w", err)
	}
	return s, nil
}

func compileBriefing(ctx context.Context, chatModel model.BaseChatModel, template string) (compose.Runnable[map[string]any, *schema.Message], error) {
	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage(briefingSystemPrompt),
		schema.UserMessage(template),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)
	return chain.Compile(ctx)
}

// Enabled reports whether a model is configured.
func (s *Service) Enabled() bool {
	return s != nil && s.chatModel != nil
}

// Analyze runs the full compliance audit for one product photo.
func (s *Service) Analyze(ctx context.Context, req Request) (*reportmodel.ComplianceReport, error) {
	const op = "report.analyze"
	if !s.Enabled() {
		return nil, apperr.New(apperr.KindConfig, op, msgMissingKey)
	}
	if err := ValidateUpload(int64(len(req.Image)), req.MIMEType); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.Country) == "" {
		return nil, apperr.New(apperr.KindValidation, op, "target country is required")
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	msg := &schema.Message{
		Role: schema.User,
		MultiContent: []schema.ChatMessagePart{
			{
				Type: schema.ChatMessagePartTypeImageURL,
				ImageURL: &schema.ChatMessageImageURL{
					URL:    DataURL(req.MIMEType, req.Image),
					Detail: schema.ImageURLDetailAuto,
				},
			},
			{Type: schema.ChatMessagePartTypeText, Text: analyzePrompt(req.Country, req.Query)},
		},
	}

	start := time.Now()
	resp, err := s.chatModel.Generate(ctx, []*schema.Message{msg})
	if err != nil {
		logging.Warnw("report model call failed", "country", req.Country, "error", err)
		return nil, upstream(op, err)
	}
	if resp == nil || strings.TrimSpace(resp.Content) == "" {
		return nil, apperr.New(apperr.KindEmptyResponse, op, msgEmptyPayload)
	}

	report, err := ParseReport(resp.Content)
	if err != nil {
		logging.Warnw("report payload was not valid JSON", "country", req.Country, "bytes", len(resp.Content), "error", err)
		return nil, err
	}
	if report.Country == "" {
		report.Country = req.Country
	}
	report.Sources = mergeSources(report.Sources, metaSources(resp), defaultRegulatorySource)

	logging.Infow("report generated",
		"country", report.Country,
		"product", report.ProductName,
		"risk_score", float64(report.RiskScore),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return report, nil
}

// WatchdogCheck asks for trade barrier changes in the last 48 hours.
func (s *Service) WatchdogCheck(ctx context.Context, report *reportmodel.ComplianceReport) (string, error) {
	const op = "report.watchdog"
	if !s.Enabled() {
		return "", apperr.New(apperr.KindConfig, op, msgMissingKey)
	}
	resp, err := s.briefing(ctx, s.watchdog, report)
	if err != nil {
		logging.Warnw("watchdog check failed", "country", report.Country, "error", err)
		return "", apperr.WithMsg(apperr.KindUpstream, op, msgWatchdogOffline, err)
	}
	text := strings.TrimSpace(resp.Content)
	if text == "" {
		return WatchdogFallback, nil
	}
	return text, nil
}

// TensionCheck produces the geopolitical briefing and its citations.
func (s *Service) TensionCheck(ctx context.Context, report *reportmodel.ComplianceReport) (*reportmodel.Tension, error) {
	const op = "report.tension"
	if !s.Enabled() {
		return nil, apperr.New(apperr.KindConfig, op, msgMissingKey)
	}
	resp, err := s.briefing(ctx, s.tension, report)
	if err != nil {
		logging.Warnw("tension check failed", "country", report.Country, "error", err)
		return nil, apperr.WithMsg(apperr.KindUpstream, op, msgTensionOffline, err)
	}

	text := strings.TrimSpace(resp.Content)
	if text == "" {
		return &reportmodel.Tension{Text: TensionFallback, Sources: []reportmodel.Source{}}, nil
	}
	sources := mergeSources(metaSources(resp), linkSources(text), defaultIntelligenceSource)
	if sources == nil {
		sources = []reportmodel.Source{}
	}
	return &reportmodel.Tension{Text: text, Sources: sources}, nil
}

func (s *Service) briefing(ctx context.Context, chain compose.Runnable[map[string]any, *schema.Message], report *reportmodel.ComplianceReport) (*schema.Message, error) {
	if report == nil || report.ProductName == "" || report.Country == "" {
		return nil, errors.New("report must name a product and a country")
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	return chain.Invoke(ctx, map[string]any{
		"product": report.ProductName,
		"country": report.Country,
		"year":    strconv.Itoa(contextYear),
	})
}

func (s *Service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout > 0 {
		return context.WithTimeout(ctx, s.timeout)
	}
	return context.WithCancel(ctx)
}

func upstream(op string, err error) error {
	if apperr.KindOf(err) != apperr.KindUnknown {
		return err
	}
	msg := strings.TrimSpace(err.Error())
	if msg == "" {
		msg = msgSystemic
	}
	return apperr.WithMsg(apperr.KindUpstream, op, msg, err)
}

var fenceReplacer = strings.NewReplacer("```json", "", "```", "")

// ParseReport strips markdown code fences and decodes the model's JSON answer.
func ParseReport(raw string) (*reportmodel.ComplianceReport, error) {
	const op = "report.parse"
	text := strings.TrimSpace(fenceReplacer.Replace(raw))
	if text == "" {
		return nil, apperr.New(apperr.KindEmptyResponse, op, msgEmptyPayload)
	}

	var report reportmodel.ComplianceReport
	if err := json.Unmarshal([]byte(text), &report); err != nil {
		return nil, apperr.WithMsg(apperr.KindParse, op, msgParseFailed, err)
	}
	return &report, nil
}

// metaSources reads grounding citations a model integration may attach under Extra["sources"].
func metaSources(msg *schema.Message) []reportmodel.Source {
	if msg == nil || msg.Extra == nil {
		return nil
	}
	raw, ok := msg.Extra["sources"]
	if !ok {
		return nil
	}
	if typed, ok := raw.([]reportmodel.Source); ok {
		return typed
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil
	}
	var out []reportmodel.Source
	if err := json.Unmarshal(data, &out); err != nil {
		return nil
	}
	return out
}

var markdownLink = regexp.MustCompile(`\[([^\]]*)\]\((https?://[^\s)]+)\)`)

func linkSources(text string) []reportmodel.Source {
	matches := markdownLink.FindAllStringSubmatch(text, -1)
	out := make([]reportmodel.Source, 0, len(matches))
	for _, m := range matches {
		out = append(out, reportmodel.Source{Title: strings.TrimSpace(m[1]), URI: m[2]})
	}
	return out
}

// mergeSources concatenates, fills missing titles and URIs, and drops repeated URIs.
func mergeSources(primary, extra []reportmodel.Source, defaultTitle string) []reportmodel.Source {
	if len(primary)+len(extra) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(primary)+len(extra))
	out := make([]reportmodel.Source, 0, len(primary)+len(extra))
	for _, src := range append(append([]reportmodel.Source{}, primary...), extra...) {
		if strings.TrimSpace(src.Title) == "" {
			src.Title = defaultTitle
		}
		if strings.TrimSpace(src.URI) == "" {
			src.URI = defaultSourceURI
		}
		if src.URI != defaultSourceURI {
			if _, dup := seen[src.URI]; dup {
				continue
			}
			seen[src.URI] = struct{}{}
		}
		out = append(out, src)
	}
	return out
}
