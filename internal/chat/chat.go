// Package chat answers text messages with a Gemini model. It is stateless:
// callers send the prior turns with every request.
//
// Three modes are offered. [ModeFast] uses a low-latency model, [ModeThinking]
// a reasoning model with a thinking budget, and [ModeSearch] grounds the
// answer with Google Search and returns the source links.
package chat

import (
	"cmp"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	gai "google.golang.org/genai"

	"github.com/netbdpro/nbdlive/internal/observe"
)

// Default model names.
const (
	DefaultFastModel     = "gemini-3-flash-preview"
	DefaultThinkingModel = "gemini-3-pro-preview"
	DefaultImageModel    = "gemini-2.5-flash-image"
)

// thinkingBudget is the token budget granted to [ModeThinking].
const thinkingBudget = 16000

var (
	// ErrEmptyMessage is returned when the request carries no text and no image.
	ErrEmptyMessage = errors.New("chat: empty message")

	// ErrUnknownMode is returned for a mode other than the defined ones.
	ErrUnknownMode = errors.New("chat: unknown mode")

	// ErrNoAPIKey is returned when neither the request nor the service has a key.
	ErrNoAPIKey = errors.New("chat: no API key")

	// ErrBadImage is returned when the attached image is not a base64 data URL.
	ErrBadImage = errors.New("chat: bad image")
)

// Mode selects the model and tools used for a reply.
type Mode string

const (
	ModeFast     Mode = "fast"
	ModeThinking Mode = "thinking"
	ModeSearch   Mode = "search"
)

// Role is the author of a history turn.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Turn is one prior message in the conversation.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Request is a single chat call.
type Request struct {
	Message string `json:"message"`
	History []Turn `json:"history,omitempty"`
	Mode    Mode   `json:"mode,omitempty"`

	// Image is an optional data URL ("data:image/png;base64,...") attached
	// to the user message.
	Image string `json:"image,omitempty"`

	// APIKey overrides the service key when non-empty.
	APIKey string `json:"-"`
}

// Link is a web source used to ground a search answer.
type Link struct {
	Title string `json:"title"`
	URI   string `json:"uri"`
}

// Reply is the model's answer with markdown removed.
type Reply struct {
	Text  string `json:"text"`
	Links []Link `json:"links,omitempty"`
}

// Generator produces content. *genai.Models satisfies it.
type Generator interface {
	GenerateContent(ctx context.Context, model string, contents []*gai.Content, config *gai.GenerateContentConfig) (*gai.GenerateContentResponse, error)
}

// GeneratorFactory builds a [Generator] for an API key.
type GeneratorFactory func(ctx context.Context, apiKey string) (Generator, error)

// GenAIFactory returns a factory creating Gemini API clients. baseURL may be
// empty for the public endpoint.
func GenAIFactory(baseURL string) GeneratorFactory {
	return func(ctx context.Context, apiKey string) (Generator, error) {
		cc := &gai.ClientConfig{APIKey: apiKey, Backend: gai.BackendGeminiAPI}
		if baseURL != "" {
			cc.HTTPOptions = gai.HTTPOptions{BaseURL: baseURL}
		}
		client, err := gai.NewClient(ctx, cc)
		if err != nil {
			return nil, fmt.Errorf("chat: new client: %w", err)
		}
		return client.Models, nil
	}
}

// Option is a functional option for configuring a [Service].
type Option func(*Service)

// WithModels overrides the fast and thinking model names. Empty values keep
// the defaults.
func WithModels(fast, thinking string) Option {
	return func(s *Service) {
		s.fastModel = cmp.Or(fast, s.fastModel)
		s.thinkingModel = cmp.Or(thinking, s.thinkingModel)
	}
}

// WithImageModel overrides the model used by [Service.Image].
func WithImageModel(model string) Option {
	return func(s *Service) { s.imageModel = cmp.Or(model, s.imageModel) }
}

// WithClock sets the time source used for the date in the system instruction.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Service) {
		if m != nil {
			s.metrics = m
		}
	}
}

// Service answers chat requests. It is safe for concurrent use.
type Service struct {
	factory       GeneratorFactory
	apiKey        string
	fastModel     string
	thinkingModel string
	imageModel    string
	now           func() time.Time
	metrics       *observe.Metrics
}

// New creates a Service. apiKey is used when a request carries none.
func New(factory GeneratorFactory, apiKey string, opts ...Option) *Service {
	s := &Service{
		factory:       factory,
		apiKey:        apiKey,
		fastModel:     DefaultFastModel,
		thinkingModel: DefaultThinkingModel,
		imageModel:    DefaultImageModel,
		now:           time.Now,
		metrics:       observe.DefaultMetrics(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Reply sends req to the model and returns its plain-text answer.
func (s *Service) Reply(ctx context.Context, req Request) (Reply, error) {
	mode := cmp.Or(req.Mode, ModeFast)
	if strings.TrimSpace(req.Message) == "" && req.Image == "" {
		return Reply{}, ErrEmptyMessage
	}
	model, cfg, err := s.config(mode)
	if err != nil {
		return Reply{}, err
	}
	contents, err := buildContents(req)
	if err != nil {
		return Reply{}, err
	}
	key := cmp.Or(req.APIKey, s.apiKey)
	if key == "" {
		return Reply{}, ErrNoAPIKey
	}

	ctx, span := observe.StartSpan(ctx, "chat.reply",
		trace.WithAttributes(attribute.String("mode", string(mode)), attribute.String("model", model)))
	defer span.End()

	gen, err := s.factory(ctx, key)
	if err != nil {
		observe.Fail(span, err)
		return Reply{}, err
	}

	start := time.Now()
	resp, err := gen.GenerateContent(ctx, model, contents, cfg)
	s.metrics.ChatDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(attribute.String("mode", string(mode))))
	if err != nil {
		s.metrics.RecordProviderError(ctx, "gemini", "chat")
		observe.Fail(span, err)
		return Reply{}, fmt.Errorf("chat: generate: %w", err)
	}
	s.metrics.RecordProviderRequest(ctx, "gemini", "chat", "ok")

	return Reply{
		Text:  StripMarkdown(resp.Text()),
		Links: groundingLinks(resp),
	}, nil
}

// config returns the model and generation config for mode.
func (s *Service) config(mode Mode) (string, *gai.GenerateContentConfig, error) {
	cfg := &gai.GenerateContentConfig{
		SystemInstruction: gai.NewContentFromText(s.instruction(), gai.RoleUser),
		Temperature:       gai.Ptr[float32](0.4),
	}
	switch mode {
	case ModeFast:
		return s.fastModel, cfg, nil
	case ModeThinking:
		cfg.Temperature = gai.Ptr[float32](0.7)
		cfg.ThinkingConfig = &gai.ThinkingConfig{ThinkingBudget: gai.Ptr[int32](thinkingBudget)}
		return s.thinkingModel, cfg, nil
	case ModeSearch:
		cfg.Tools = []*gai.Tool{{GoogleSearch: &gai.GoogleSearch{}}}
		return s.fastModel, cfg, nil
	default:
		return "", nil, fmt.Errorf("%w: %q", ErrUnknownMode, mode)
	}
}

func (s *Service) instruction() string {
	return "You are NBD AI Assistant, a world-class AI created by Net BD Pro.\n" +
		"Today's actual date: " + s.now().Format("Monday, January 2, 2006") + ".\n\n" +
		"STYLE RULES:\n" +
		"- Provide clean, professional responses.\n" +
		"- DO NOT use markdown symbols like asterisks or hashtags.\n" +
		"- REPLY in the same language the user uses.\n" +
		"- Be direct and helpful."
}

// buildContents maps the history and the new message onto SDK contents.
// Any role other than user is sent as model.
func buildContents(req Request) ([]*gai.Content, error) {
	contents := make([]*gai.Content, 0, len(req.History)+1)
	for _, t := range req.History {
		var role gai.Role = gai.RoleModel
		if t.Role == RoleUser {
			role = gai.RoleUser
		}
		contents = append(contents, gai.NewContentFromText(t.Content, role))
	}

	parts := []*gai.Part{gai.NewPartFromText(req.Message)}
	if req.Image != "" {
		data, mime, err := decodeDataURL(req.Image)
		if err != nil {
			return nil, err
		}
		parts = append(parts, gai.NewPartFromBytes(data, mime))
	}
	return append(contents, gai.NewContentFromParts(parts, gai.RoleUser)), nil
}

// decodeDataURL splits "data:<mime>;base64,<data>". A missing MIME type
// defaults to image/png.
func decodeDataURL(u string) ([]byte, string, error) {
	header, payload, ok := strings.Cut(u, ",")
	if !ok {
		return nil, "", fmt.Errorf("%w: not a data URL", ErrBadImage)
	}
	mime := "image/png"
	if m, ok := strings.CutPrefix(header, "data:"); ok {
		m, _, _ = strings.Cut(m, ";")
		mime = cmp.Or(m, mime)
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %w", ErrBadImage, err)
	}
	return data, mime, nil
}

func groundingLinks(resp *gai.GenerateContentResponse) []Link {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].GroundingMetadata == nil {
		return nil
	}
	var links []Link
	for _, c := range resp.Candidates[0].GroundingMetadata.GroundingChunks {
		if c == nil || c.Web == nil {
			continue
		}
		links = append(links, Link{Title: c.Web.Title, URI: c.Web.URI})
	}
	return links
}
