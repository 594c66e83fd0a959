package chat

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	gai "google.golang.org/genai"
)

type fakeGenerator struct {
	model    string
	contents []*gai.Content
	config   *gai.GenerateContentConfig
	resp     *gai.GenerateContentResponse
	err      error
}

func (f *fakeGenerator) GenerateContent(_ context.Context, model string, contents []*gai.Content, config *gai.GenerateContentConfig) (*gai.GenerateContentResponse, error) {
	f.model, f.contents, f.config = model, contents, config
	return f.resp, f.err
}

func textResponse(text string) *gai.GenerateContentResponse {
	return &gai.GenerateContentResponse{
		Candidates: []*gai.Candidate{{
			Content: gai.NewContentFromText(text, gai.RoleModel),
		}},
	}
}

func newTestService(t *testing.T, gen *fakeGenerator, opts ...Option) (*Service, *string) {
	t.Helper()
	var usedKey string
	factory := func(_ context.Context, key string) (Generator, error) {
		usedKey = key
		return gen, nil
	}
	clock := WithClock(func() time.Time { return time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC) })
	return New(factory, "service-key", append([]Option{clock}, opts...)...), &usedKey
}

func TestReply_Modes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		mode       Mode
		wantModel  string
		wantTemp   float32
		wantBudget bool
		wantSearch bool
	}{
		{mode: "", wantModel: DefaultFastModel, wantTemp: 0.4},
		{mode: ModeFast, wantModel: DefaultFastModel, wantTemp: 0.4},
		{mode: ModeThinking, wantModel: DefaultThinkingModel, wantTemp: 0.7, wantBudget: true},
		{mode: ModeSearch, wantModel: DefaultFastModel, wantTemp: 0.4, wantSearch: true},
	}
	for _, tt := range tests {
		t.Run(string(tt.mode), func(t *testing.T) {
			t.Parallel()
			gen := &fakeGenerator{resp: textResponse("ok")}
			s, _ := newTestService(t, gen)

			if _, err := s.Reply(context.Background(), Request{Message: "hi", Mode: tt.mode}); err != nil {
				t.Fatalf("Reply: %v", err)
			}
			if gen.model != tt.wantModel {
				t.Errorf("model = %q, want %q", gen.model, tt.wantModel)
			}
			if gen.config.Temperature == nil || *gen.config.Temperature != tt.wantTemp {
				t.Errorf("temperature = %v, want %v", gen.config.Temperature, tt.wantTemp)
			}
			hasBudget := gen.config.ThinkingConfig != nil && gen.config.ThinkingConfig.ThinkingBudget != nil &&
				*gen.config.ThinkingConfig.ThinkingBudget == thinkingBudget
			if hasBudget != tt.wantBudget {
				t.Errorf("thinking budget set = %v, want %v", hasBudget, tt.wantBudget)
			}
			hasSearch := len(gen.config.Tools) == 1 && gen.config.Tools[0].GoogleSearch != nil
			if hasSearch != tt.wantSearch {
				t.Errorf("search tool set = %v, want %v", hasSearch, tt.wantSearch)
			}
		})
	}
}

func TestReply_UnknownMode(t *testing.T) {
	t.Parallel()
	s, _ := newTestService(t, &fakeGenerator{})
	_, err := s.Reply(context.Background(), Request{Message: "hi", Mode: "creative"})
	if !errors.Is(err, ErrUnknownMode) {
		t.Fatalf("err = %v, want ErrUnknownMode", err)
	}
}

func TestReply_EmptyMessage(t *testing.T) {
	t.Parallel()
	s, _ := newTestService(t, &fakeGenerator{})
	if _, err := s.Reply(context.Background(), Request{Message: "  "}); !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("err = %v, want ErrEmptyMessage", err)
	}
}

func TestReply_HistoryAndInstruction(t *testing.T) {
	t.Parallel()
	gen := &fakeGenerator{resp: textResponse("answer")}
	s, _ := newTestService(t, gen)

	_, err := s.Reply(context.Background(), Request{
		Message: "and now?",
		History: []Turn{
			{Role: RoleUser, Content: "hello"},
			{Role: "assistant", Content: "hi there"},
		},
	})
	if err != nil {
		t.Fatalf("Reply: %v", err)
	}
	if len(gen.contents) != 3 {
		t.Fatalf("contents = %d, want 3", len(gen.contents))
	}
	wantRoles := []string{"user", "model", "user"}
	wantText := []string{"hello", "hi there", "and now?"}
	for i, c := range gen.contents {
		if c.Role != wantRoles[i] {
			t.Errorf("contents[%d].Role = %q, want %q", i, c.Role, wantRoles[i])
		}
		if c.Parts[0].Text != wantText[i] {
			t.Errorf("contents[%d] text = %q, want %q", i, c.Parts[0].Text, wantText[i])
		}
	}
	sys := gen.config.SystemInstruction.Parts[0].Text
	if !strings.Contains(sys, "Net BD Pro") || !strings.Contains(sys, "Saturday, March 14, 2026") {
		t.Errorf("system instruction = %q", sys)
	}
}

func TestReply_ImageAttachment(t *testing.T) {
	t.Parallel()
	gen := &fakeGenerator{resp: textResponse("a cat")}
	s, _ := newTestService(t, gen)

	_, err := s.Reply(context.Background(), Request{Message: "what is this", Image: "data:image/jpeg;base64,AQID"})
	if err != nil {
		t.Fatalf("Reply: %v", err)
	}
	parts := gen.contents[len(gen.contents)-1].Parts
	if len(parts) != 2 || parts[1].InlineData == nil {
		t.Fatalf("user parts = %+v, want text and inline image", parts)
	}
	if got := parts[1].InlineData.MIMEType; got != "image/jpeg" {
		t.Errorf("MIME = %q, want image/jpeg", got)
	}
	if got := string(parts[1].InlineData.Data); got != "\x01\x02\x03" {
		t.Errorf("data = %q", got)
	}

	if _, err := s.Reply(context.Background(), Request{Message: "x", Image: "not a data url"}); !errors.Is(err, ErrBadImage) {
		t.Errorf("err = %v, want ErrBadImage", err)
	}
}

func TestReply_APIKeyPriority(t *testing.T) {
	t.Parallel()
	gen := &fakeGenerator{resp: textResponse("ok")}
	s, used := newTestService(t, gen)

	if _, err := s.Reply(context.Background(), Request{Message: "hi", APIKey: "custom"}); err != nil {
		t.Fatal(err)
	}
	if *used != "custom" {
		t.Errorf("key = %q, want custom", *used)
	}
	if _, err := s.Reply(context.Background(), Request{Message: "hi"}); err != nil {
		t.Fatal(err)
	}
	if *used != "service-key" {
		t.Errorf("key = %q, want service-key", *used)
	}

	noKey := New(func(context.Context, string) (Generator, error) { return gen, nil }, "")
	if _, err := noKey.Reply(context.Background(), Request{Message: "hi"}); !errors.Is(err, ErrNoAPIKey) {
		t.Errorf("err = %v, want ErrNoAPIKey", err)
	}
}

func TestReply_StripsMarkdownAndCollectsLinks(t *testing.T) {
	t.Parallel()
	resp := textResponse("## Result\n**Dhaka** is the *capital*.")
	resp.Candidates[0].GroundingMetadata = &gai.GroundingMetadata{
		GroundingChunks: []*gai.GroundingChunk{
			{Web: &gai.GroundingChunkWeb{Title: "Wiki", URI: "https://example.org/dhaka"}},
			{},
		},
	}
	gen := &fakeGenerator{resp: resp}
	s, _ := newTestService(t, gen)

	got, err := s.Reply(context.Background(), Request{Message: "capital?", Mode: ModeSearch})
	if err != nil {
		t.Fatalf("Reply: %v", err)
	}
	if got.Text != "Result\nDhaka is the capital." {
		t.Errorf("Text = %q", got.Text)
	}
	if len(got.Links) != 1 || got.Links[0].URI != "https://example.org/dhaka" || got.Links[0].Title != "Wiki" {
		t.Errorf("Links = %+v", got.Links)
	}
}

func TestReply_GenerateError(t *testing.T) {
	t.Parallel()
	errQuota := errors.New("quota exceeded")
	s, _ := newTestService(t, &fakeGenerator{err: errQuota})
	if _, err := s.Reply(context.Background(), Request{Message: "hi"}); !errors.Is(err, errQuota) {
		t.Fatalf("err = %v, want errQuota", err)
	}
}

func TestReply_Span(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		mode      Mode
		err       error
		wantMode  string
		wantModel string
	}{
		{name: "default mode", wantMode: "fast", wantModel: DefaultFastModel},
		{name: "thinking", mode: ModeThinking, wantMode: "thinking", wantModel: DefaultThinkingModel},
		{name: "generate error", mode: ModeSearch, err: errors.New("quota exceeded"), wantMode: "search", wantModel: DefaultFastModel},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			exp := tracetest.NewInMemoryExporter()
			tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
			t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

			s, _ := newTestService(t, &fakeGenerator{resp: textResponse("ok"), err: tt.err})
			ctx, request := tp.Tracer("test").Start(context.Background(), "POST /v1/chat")
			_, err := s.Reply(ctx, Request{Message: "hi", Mode: tt.mode})
			request.End()
			if (err != nil) != (tt.err != nil) {
				t.Fatalf("Reply err = %v", err)
			}

			spans := exp.GetSpans()
			if len(spans) != 2 || spans[0].Name != "chat.reply" {
				t.Fatalf("recorded %d spans, want chat.reply then the request", len(spans))
			}
			reply := spans[0]
			if reply.Parent.SpanID() != request.SpanContext().SpanID() {
				t.Error("chat.reply is not a child of the request span")
			}
			got := map[string]string{}
			for _, kv := range reply.Attributes {
				got[string(kv.Key)] = kv.Value.Emit()
			}
			if got["mode"] != tt.wantMode || got["model"] != tt.wantModel {
				t.Errorf("attributes = %v, want mode %s model %s", got, tt.wantMode, tt.wantModel)
			}
			wantCode := codes.Unset
			if tt.err != nil {
				wantCode = codes.Error
			}
			if reply.Status.Code != wantCode {
				t.Errorf("status = %+v, want %v", reply.Status, wantCode)
			}
		})
	}
}

func TestWithModels(t *testing.T) {
	t.Parallel()
	gen := &fakeGenerator{resp: textResponse("ok")}
	s, _ := newTestService(t, gen, WithModels("", "deep-model"))
	if _, err := s.Reply(context.Background(), Request{Message: "hi", Mode: ModeThinking}); err != nil {
		t.Fatal(err)
	}
	if gen.model != "deep-model" {
		t.Errorf("model = %q, want deep-model", gen.model)
	}
	if s.fastModel != DefaultFastModel {
		t.Errorf("fast model = %q, want default", s.fastModel)
	}
}
