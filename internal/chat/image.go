package chat

import (
	"cmp"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	gai "google.golang.org/genai"

	"github.com/netbdpro/nbdlive/internal/observe"
)

// AspectRatios lists the accepted image shapes. The first entry is the default.
var AspectRatios = []string{"1:1", "16:9", "9:16", "4:3", "3:4"}

var (
	// ErrEmptyPrompt is returned when an image request has no prompt.
	ErrEmptyPrompt = errors.New("chat: empty prompt")

	// ErrAspectRatio is returned for a ratio not in [AspectRatios].
	ErrAspectRatio = errors.New("chat: unsupported aspect ratio")

	// ErrNoImage is returned when the model answered without an image part.
	ErrNoImage = errors.New("chat: no image generated")
)

// ImageRequest asks for a new image, or an edit of Reference.
type ImageRequest struct {
	Prompt      string `json:"prompt"`
	AspectRatio string `json:"aspect_ratio,omitempty"`

	// Reference is an optional data URL of the image to edit.
	Reference string `json:"reference,omitempty"`

	// APIKey overrides the service key when non-empty.
	APIKey string `json:"-"`
}

// Image is a generated picture as a data URL.
type Image struct {
	DataURL     string `json:"data_url"`
	MIMEType    string `json:"mime_type"`
	AspectRatio string `json:"aspect_ratio"`
}

// Image generates a picture for req. The reference image, when given, is sent
// ahead of the prompt.
func (s *Service) Image(ctx context.Context, req ImageRequest) (Image, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return Image{}, ErrEmptyPrompt
	}
	ratio := cmp.Or(req.AspectRatio, AspectRatios[0])
	if !slices.Contains(AspectRatios, ratio) {
		return Image{}, fmt.Errorf("%w: %q", ErrAspectRatio, ratio)
	}

	var parts []*gai.Part
	if req.Reference != "" {
		data, mime, err := decodeDataURL(req.Reference)
		if err != nil {
			return Image{}, err
		}
		parts = append(parts, gai.NewPartFromBytes(data, mime))
	}
	parts = append(parts, gai.NewPartFromText(req.Prompt))

	key := cmp.Or(req.APIKey, s.apiKey)
	if key == "" {
		return Image{}, ErrNoAPIKey
	}

	ctx, span := observe.StartSpan(ctx, "chat.image",
		trace.WithAttributes(
			attribute.String("model", s.imageModel),
			attribute.String("aspect_ratio", ratio),
			attribute.Bool("edit", req.Reference != ""),
		))
	defer span.End()

	gen, err := s.factory(ctx, key)
	if err != nil {
		observe.Fail(span, err)
		return Image{}, err
	}

	cfg := &gai.GenerateContentConfig{ImageConfig: &gai.ImageConfig{AspectRatio: ratio}}
	contents := []*gai.Content{gai.NewContentFromParts(parts, gai.RoleUser)}

	start := time.Now()
	resp, err := gen.GenerateContent(ctx, s.imageModel, contents, cfg)
	s.metrics.ChatDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(attribute.String("mode", "image")))
	if err != nil {
		s.metrics.RecordProviderError(ctx, "gemini", "image")
		observe.Fail(span, err)
		return Image{}, fmt.Errorf("chat: generate image: %w", err)
	}

	blob := firstInlineData(resp)
	if blob == nil {
		s.metrics.RecordProviderRequest(ctx, "gemini", "image", "empty")
		observe.Fail(span, ErrNoImage)
		return Image{}, ErrNoImage
	}
	s.metrics.RecordProviderRequest(ctx, "gemini", "image", "ok")

	mime := cmp.Or(blob.MIMEType, "image/png")
	return Image{
		DataURL:     "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(blob.Data),
		MIMEType:    mime,
		AspectRatio: ratio,
	}, nil
}

func firstInlineData(resp *gai.GenerateContentResponse) *gai.Blob {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil
	}
	for _, p := range resp.Candidates[0].Content.Parts {
		if p != nil && p.InlineData != nil && len(p.InlineData.Data) > 0 {
			return p.InlineData
		}
	}
	return nil
}
