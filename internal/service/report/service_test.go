package report_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/global-compliance/backend/internal/apperr"
	reportmodel "github.com/zhouzirui/global-compliance/backend/internal/model/report"
	"github.com/zhouzirui/global-compliance/backend/internal/service/report"
)

type fakeModel struct {
	mu     sync.Mutex
	reply  *schema.Message
	err    error
	inputs [][]*schema.Message
}

func (f *fakeModel) Generate(ctx context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	f.mu.Lock()
	f.inputs = append(f.inputs, input)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.reply, nil
}

func (f *fakeModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := f.Generate(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

func (f *fakeModel) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.inputs)
}

func newService(t *testing.T, m *fakeModel) *report.Service {
	t.Helper()
	svc, err := report.NewService(context.Background(), m, report.Options{})
	if err != nil {
		t.Fatalf("NewService err: %v", err)
	}
	return svc
}

const sampleReport = `{
  "productName": "Ceramic Mug",
  "category": "Kitchenware",
  "languageDetected": "English",
  "riskScore": 42,
  "riskFactors": [{"factor": "Currency Stability", "impact": "Low", "description": "stable"}],
  "culturalCheck": {"status": "Compliant", "analysis": "fine", "recommendations": []},
  "financials": {"basePriceEstimate": 10, "shippingEstimate": 2, "tariffRate": "4.5%", "totalLandingCost": 12.5, "currency": "EUR", "exchangeRate": "1 USD = 0.92 EUR"},
  "shippingLabelRequirements": {"origin": "China", "weight": "0.4kg", "hsCode": "6912.00", "warningLabels": []},
  "thoughtSignature": ["a", "b", "c", "d", "e"],
  "sources": [{"title": "", "uri": "https://eur-lex.europa.eu"}, {"title": "EU", "uri": ""}]
}`

func validRequest() report.Request {
	return report.Request{Image: []byte{0xff, 0xd8, 0xff}, MIMEType: "image/jpeg", Country: "Germany", Query: "Can I sell this?"}
}

func TestAnalyzeParsesFencedJSON(t *testing.T) {
	m := &fakeModel{reply: schema.AssistantMessage("```json\n"+sampleReport+"\n```", nil)}
	svc := newService(t, m)

	got, err := svc.Analyze(context.Background(), validRequest())
	if err != nil {
		t.Fatalf("Analyze err: %v", err)
	}
	if got.ProductName != "Ceramic Mug" || got.RiskScore != 42 {
		t.Fatalf("unexpected report %+v", got)
	}
	if got.Country != "Germany" {
		t.Fatalf("country should default to the request, got %q", got.Country)
	}
	if got.Financials.TariffRate != "4.5%" {
		t.Fatalf("unexpected tariff %q", got.Financials.TariffRate)
	}
	if len(got.Sources) != 2 || got.Sources[0].Title != "Regulatory Source" || got.Sources[1].URI != "#" {
		t.Fatalf("source defaults not applied: %+v", got.Sources)
	}

	if m.calls() != 1 {
		t.Fatalf("expected one model call, got %d", m.calls())
	}
	parts := m.inputs[0][0].MultiContent
	if len(parts) != 2 || parts[0].ImageURL == nil || !strings.HasPrefix(parts[0].ImageURL.URL, "data:image/jpeg;base64,") {
		t.Fatalf("image part missing: %+v", parts)
	}
	if !strings.Contains(parts[1].Text, "Target Market: Germany") || !strings.Contains(parts[1].Text, `User Query: "Can I sell this?"`) {
		t.Fatalf("prompt missing request fields")
	}
}

func TestAnalyzeQueryDefaultsToNA(t *testing.T) {
	m := &fakeModel{reply: schema.AssistantMessage(sampleReport, nil)}
	req := validRequest()
	req.Query = ""

	if _, err := newService(t, m).Analyze(context.Background(), req); err != nil {
		t.Fatalf("Analyze err: %v", err)
	}
	if !strings.Contains(m.inputs[0][0].MultiContent[1].Text, `User Query: "N/A"`) {
		t.Fatal("empty query should render as N/A")
	}
}

func TestAnalyzeErrors(t *testing.T) {
	tests := []struct {
		name  string
		model *fakeModel
		req   func() report.Request
		want  error
		calls int
	}{
		{
			name:  "empty payload",
			model: &fakeModel{reply: schema.AssistantMessage("  ", nil)},
			req:   validRequest,
			want:  apperr.ErrEmptyResponse,
			calls: 1,
		},
		{
			name:  "not json",
			model: &fakeModel{reply: schema.AssistantMessage("I cannot help with that.", nil)},
			req:   validRequest,
			want:  apperr.ErrParse,
			calls: 1,
		},
		{
			name:  "model failure",
			model: &fakeModel{err: errors.New("quota exceeded")},
			req:   validRequest,
			want:  apperr.ErrUpstream,
			calls: 1,
		},
		{
			name:  "oversized image",
			model: &fakeModel{reply: schema.AssistantMessage(sampleReport, nil)},
			req: func() report.Request {
				r := validRequest()
				r.Image = make([]byte, 6*1024*1024)
				return r
			},
			want: apperr.ErrValidation,
		},
		{
			name:  "not an image",
			model: &fakeModel{reply: schema.AssistantMessage(sampleReport, nil)},
			req: func() report.Request {
				r := validRequest()
				r.MIMEType = "application/pdf"
				return r
			},
			want: apperr.ErrValidation,
		},
		{
			name:  "no country",
			model: &fakeModel{reply: schema.AssistantMessage(sampleReport, nil)},
			req: func() report.Request {
				r := validRequest()
				r.Country = " "
				return r
			},
			want: apperr.ErrValidation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newService(t, tt.model).Analyze(context.Background(), tt.req())
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			if tt.model.calls() != tt.calls {
				t.Fatalf("expected %d model calls, got %d", tt.calls, tt.model.calls())
			}
		})
	}
}

func TestAnalyzeWithoutModelIsConfigError(t *testing.T) {
	svc, err := report.NewService(context.Background(), nil, report.Options{})
	if err != nil {
		t.Fatalf("NewService err: %v", err)
	}
	if _, err := svc.Analyze(context.Background(), validRequest()); !errors.Is(err, apperr.ErrConfig) {
		t.Fatalf("expected config error, got %v", err)
	}
	if !strings.HasPrefix(apperr.Message(err), "Configuration Error") {
		t.Fatalf("unexpected message %q", apperr.Message(err))
	}
}

func TestValidateUpload(t *testing.T) {
	if err := report.ValidateUpload(report.MaxUploadBytes, "image/png"); err != nil {
		t.Fatalf("exactly 5MB should pass: %v", err)
	}
	err := report.ValidateUpload(report.MaxUploadBytes+1, "image/png")
	if apperr.Message(err) != "File too large. Maximum size is 5MB." {
		t.Fatalf("unexpected size error %v", err)
	}
	err = report.ValidateUpload(10, "text/plain")
	if apperr.Message(err) != "Unsupported file type. Please upload an image (JPG, PNG, etc)." {
		t.Fatalf("unexpected type error %v", err)
	}
}

var mug = &reportmodel.ComplianceReport{ProductName: "Ceramic Mug", Country: "Germany"}

func TestWatchdogCheck(t *testing.T) {
	m := &fakeModel{reply: schema.AssistantMessage("- New labelling rule", nil)}
	got, err := newService(t, m).WatchdogCheck(context.Background(), mug)
	if err != nil {
		t.Fatalf("WatchdogCheck err: %v", err)
	}
	if got != "- New labelling rule" {
		t.Fatalf("unexpected text %q", got)
	}
	user := m.inputs[0][len(m.inputs[0])-1].Content
	if !strings.Contains(user, "Ceramic Mug in Germany for 2026") {
		t.Fatalf("template not filled: %q", user)
	}
}

func TestWatchdogFallbacks(t *testing.T) {
	got, err := newService(t, &fakeModel{reply: schema.AssistantMessage("", nil)}).WatchdogCheck(context.Background(), mug)
	if err != nil || got != report.WatchdogFallback {
		t.Fatalf("expected fallback text, got %q err=%v", got, err)
	}

	_, err = newService(t, &fakeModel{err: errors.New("timeout")}).WatchdogCheck(context.Background(), mug)
	if !errors.Is(err, apperr.ErrUpstream) || apperr.Message(err) != "Could not reach real-time news server." {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestTensionCheckSources(t *testing.T) {
	text := "Tariff dispute ongoing, see [Reuters](https://reuters.com/a) and [](https://example.org/b) and again [Reuters](https://reuters.com/a)."
	m := &fakeModel{reply: schema.AssistantMessage(text, nil)}

	got, err := newService(t, m).TensionCheck(context.Background(), mug)
	if err != nil {
		t.Fatalf("TensionCheck err: %v", err)
	}
	if got.Text != text {
		t.Fatalf("unexpected text %q", got.Text)
	}
	if len(got.Sources) != 2 || got.Sources[0].Title != "Reuters" || got.Sources[1].Title != "Intelligence Source" {
		t.Fatalf("unexpected sources %+v", got.Sources)
	}
}

func TestTensionFallbacks(t *testing.T) {
	got, err := newService(t, &fakeModel{reply: schema.AssistantMessage("", nil)}).TensionCheck(context.Background(), mug)
	if err != nil || got.Text != report.TensionFallback || len(got.Sources) != 0 {
		t.Fatalf("expected fallback, got %+v err=%v", got, err)
	}

	_, err = newService(t, &fakeModel{err: errors.New("boom")}).TensionCheck(context.Background(), mug)
	if apperr.Message(err) != "Tension monitor offline. Unable to reach global intelligence nodes." {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestParseReportRejectsGarbage(t *testing.T) {
	if _, err := report.ParseReport("```json\n```"); !errors.Is(err, apperr.ErrEmptyResponse) {
		t.Fatalf("expected empty response, got %v", err)
	}
	if _, err := report.ParseReport("{\"riskScore\": \"high\"}"); !errors.Is(err, apperr.ErrParse) {
		t.Fatalf("expected parse error, got %v", err)
	}
}
