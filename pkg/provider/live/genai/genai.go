// Package genai provides a live provider backed by the official Google Gen AI
// Go SDK. It speaks the same BidiGenerateContent protocol as the raw
// WebSocket provider in package gemini, with transport, auth and message
// framing handled by the SDK.
package genai

import (
	"cmp"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	gai "google.golang.org/genai"

	"github.com/netbdpro/nbdlive/pkg/audio"
	"github.com/netbdpro/nbdlive/pkg/provider/live"
)

var _ live.Provider = (*Provider)(nil)
var _ live.Session = (*session)(nil)

// DefaultModel is the native-audio Live model used when none is configured.
const DefaultModel = "gemini-2.5-flash-native-audio-preview-12-2025"

// ErrNoAPIKey is returned by Connect when no API key is available.
var ErrNoAPIKey = errors.New("genai: no API key")

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the model used for sessions.
func WithModel(model string) Option {
	return func(p *Provider) {
		if model != "" {
			p.model = model
		}
	}
}

// WithBaseURL overrides the API endpoint.
func WithBaseURL(baseURL string) Option {
	return func(p *Provider) { p.baseURL = baseURL }
}

// WithTranscription enables input and output audio transcription.
func WithTranscription(on bool) Option {
	return func(p *Provider) { p.transcribe = on }
}

// Provider implements live.Provider with google.golang.org/genai.
type Provider struct {
	apiKey     string
	model      string
	baseURL    string
	transcribe bool
}

// New creates a Provider. The SDK client is created per session so that a
// per-session API key can be honoured.
func New(apiKey string, opts ...Option) *Provider {
	p := &Provider{
		apiKey: apiKey,
		model:  DefaultModel,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Capabilities returns static metadata about the provider.
func (p *Provider) Capabilities() live.Capabilities {
	return live.Capabilities{
		Model:            p.model,
		InputSampleRate:  audio.CaptureSampleRate,
		OutputSampleRate: audio.PlaybackSampleRate,
		Voices:           live.Voices,
	}
}

// Connect opens a Live session through the SDK and waits for the setup
// acknowledgement.
func (p *Provider) Connect(ctx context.Context, cfg live.SessionConfig) (live.Session, error) {
	key := cmp.Or(cfg.APIKey, p.apiKey)
	if key == "" {
		return nil, ErrNoAPIKey
	}

	cc := &gai.ClientConfig{
		APIKey:  key,
		Backend: gai.BackendGeminiAPI,
	}
	if p.baseURL != "" {
		cc.HTTPOptions = gai.HTTPOptions{BaseURL: p.baseURL}
	}
	client, err := gai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("genai: new client: %w", err)
	}

	conn, err := client.Live.Connect(ctx, cmp.Or(cfg.Model, p.model), connectConfig(cfg, p.transcribe))
	if err != nil {
		return nil, fmt.Errorf("genai: connect: %w", err)
	}

	if err := awaitSetup(ctx, conn); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("genai: handshake: %w", err)
	}

	s := &session{
		conn:     conn,
		messages: make(chan live.Message, 64),
		done:     make(chan struct{}),
	}
	go s.receiveLoop()
	return s, nil
}

// connectConfig maps a session config onto the SDK's LiveConnectConfig.
func connectConfig(cfg live.SessionConfig, transcribe bool) *gai.LiveConnectConfig {
	lc := &gai.LiveConnectConfig{
		ResponseModalities: []gai.Modality{gai.ModalityAudio},
	}
	if cfg.Voice != "" {
		lc.SpeechConfig = &gai.SpeechConfig{
			VoiceConfig: &gai.VoiceConfig{
				PrebuiltVoiceConfig: &gai.PrebuiltVoiceConfig{VoiceName: cfg.Voice},
			},
		}
	}
	if cfg.Instructions != "" {
		lc.SystemInstruction = gai.NewContentFromText(cfg.Instructions, gai.RoleUser)
	}
	if transcribe {
		lc.InputAudioTranscription = &gai.AudioTranscriptionConfig{}
		lc.OutputAudioTranscription = &gai.AudioTranscriptionConfig{}
	}
	return lc
}

// awaitSetup blocks until the server acknowledges the setup. The SDK's
// Receive has no context, so cancellation closes the connection to unblock
// it.
func awaitSetup(ctx context.Context, conn *gai.Session) error {
	result := make(chan error, 1)
	go func() {
		for {
			msg, err := conn.Receive()
			if err != nil {
				result <- err
				return
			}
			if msg.SetupComplete != nil {
				result <- nil
				return
			}
		}
	}()

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		_ = conn.Close()
		<-result
		return ctx.Err()
	}
}

type session struct {
	conn     *gai.Session
	messages chan live.Message
	done     chan struct{}

	writeMu sync.Mutex

	mu     sync.Mutex
	errVal error
	closed bool
}

func (s *session) receiveLoop() {
	defer close(s.messages)

	for {
		msg, err := s.conn.Receive()
		if err != nil {
			s.mu.Lock()
			if !s.closed && s.errVal == nil {
				s.errVal = fmt.Errorf("genai: receive: %w", err)
			}
			s.mu.Unlock()
			return
		}
		if msg.GoAway != nil {
			slog.Warn("genai: server is closing the session soon")
		}
		if msg.ServerContent == nil {
			continue
		}
		m := toMessage(msg.ServerContent)
		if isEmpty(m) {
			continue
		}
		select {
		case s.messages <- m:
		case <-s.done:
			return
		}
	}
}

// toMessage converts SDK server content. The SDK hands out decoded bytes;
// they are re-encoded so all providers deliver the same chunk form.
func toMessage(sc *gai.LiveServerContent) live.Message {
	var m live.Message
	if sc.ModelTurn != nil {
		for _, p := range sc.ModelTurn.Parts {
			if p == nil || p.InlineData == nil || len(p.InlineData.Data) == 0 {
				continue
			}
			m.Audio = append(m.Audio, audio.EncodedChunk{
				Data:     base64.StdEncoding.EncodeToString(p.InlineData.Data),
				MIMEType: p.InlineData.MIMEType,
			})
		}
	}
	m.Interrupted = sc.Interrupted
	m.TurnComplete = sc.TurnComplete
	if sc.InputTranscription != nil {
		m.InputTranscript = sc.InputTranscription.Text
	}
	if sc.OutputTranscription != nil {
		m.OutputTranscript = sc.OutputTranscription.Text
	}
	return m
}

func isEmpty(m live.Message) bool {
	return len(m.Audio) == 0 && !m.Interrupted && !m.TurnComplete &&
		m.InputTranscript == "" && m.OutputTranscript == ""
}

// Send implements live.Session.
func (s *session) Send(chunk audio.EncodedChunk) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return live.ErrSessionClosed
	}

	pcm, err := base64.StdEncoding.DecodeString(chunk.Data)
	if err != nil {
		return fmt.Errorf("genai: send: %w", err)
	}
	mime := cmp.Or(chunk.MIMEType, audio.PCMMIMEType(audio.CaptureSampleRate))

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.SendRealtimeInput(gai.LiveRealtimeInput{
		Audio: &gai.Blob{Data: pcm, MIMEType: mime},
	}); err != nil {
		return fmt.Errorf("genai: send: %w", err)
	}
	return nil
}

// Messages implements live.Session.
func (s *session) Messages() <-chan live.Message { return s.messages }

// Err implements live.Session.
func (s *session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errVal
}

// Close implements live.Session.
func (s *session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.done)
	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("genai: close: %w", err)
	}
	return nil
}
