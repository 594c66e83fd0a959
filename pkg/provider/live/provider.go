// Package live defines the Provider interface for real-time speech-to-speech
// backends such as the Gemini Live API.
//
// A live provider wraps a remote voice model that accepts a continuous stream
// of microphone audio and answers with synthesised speech in the same
// stateful session. The central abstraction is [Session]: a bidirectional
// stream that carries encoded audio up and a sequence of [Message] values
// (audio, interruption and turn signals, transcripts) down.
//
// All implementations must be safe for concurrent use.
package live

import (
	"context"
	"errors"
	"slices"

	"github.com/netbdpro/nbdlive/pkg/audio"
)

// ErrSessionClosed is returned by [Session.Send] after the session has ended.
var ErrSessionClosed = errors.New("live: session closed")

// Gender labels a prebuilt voice for display.
type Gender string

const (
	Female Gender = "Female"
	Male   Gender = "Male"
)

// Voice is a prebuilt voice the remote model can speak with.
type Voice struct {
	// ID is the provider-side voice name, e.g. "Zephyr".
	ID string `json:"id"`

	// Label is the human-readable description shown in voice pickers.
	Label Gender `json:"label"`
}

// DefaultVoice is used when no preference has been stored.
const DefaultVoice = "Zephyr"

// Voices lists the prebuilt voices offered by the Live API. The first two
// are the ones presented to end users.
var Voices = []Voice{
	{ID: "Zephyr", Label: Female},
	{ID: "Puck", Label: Male},
	{ID: "Aoede", Label: Female},
	{ID: "Charon", Label: Male},
	{ID: "Fenrir", Label: Male},
	{ID: "Kore", Label: Female},
}

// LookupVoice reports whether id names a known prebuilt voice.
func LookupVoice(id string) (Voice, bool) {
	i := slices.IndexFunc(Voices, func(v Voice) bool { return v.ID == id })
	if i < 0 {
		return Voice{}, false
	}
	return Voices[i], true
}

// SessionConfig is the initial configuration for a new live session.
type SessionConfig struct {
	// Model overrides the provider's default model when non-empty.
	Model string

	// Voice is the prebuilt voice ID used for synthesised speech.
	Voice string

	// Instructions is the system instruction that sets the assistant's
	// persona and language behaviour.
	Instructions string

	// APIKey overrides the provider's configured key when non-empty.
	APIKey string
}

// Message is one downlink event from the remote model. Several fields may be
// set at once; consumers must handle Audio before Interrupted.
type Message struct {
	// Audio holds the inline PCM parts of the model turn in arrival order.
	Audio []audio.EncodedChunk

	// Interrupted is set when the model detected user speech over its own
	// output and abandoned the current turn. Locally buffered audio must be
	// discarded.
	Interrupted bool

	// TurnComplete marks the end of the model's turn.
	TurnComplete bool

	// InputTranscript is recognised user speech, when transcription is on.
	InputTranscript string

	// OutputTranscript is the text of the model's spoken output.
	OutputTranscript string
}

// Capabilities describes static properties of a live provider.
type Capabilities struct {
	// Model is the default model name.
	Model string

	// InputSampleRate is the rate the provider expects for uplink audio.
	InputSampleRate int

	// OutputSampleRate is the rate of the audio the provider returns.
	OutputSampleRate int

	// Voices lists the available prebuilt voices.
	Voices []Voice
}

// Session represents an open live session. Callers must call Close when the
// session is no longer needed.
type Session interface {
	// Send delivers one encoded microphone chunk. It returns
	// [ErrSessionClosed] once the session has ended and a transport error if
	// the write fails. Callers treat failures as droppable.
	Send(chunk audio.EncodedChunk) error

	// Messages returns the downlink stream. The channel is closed when the
	// session ends, either by Close or by the remote side. After it closes,
	// call [Session.Err] to learn whether the end was clean.
	Messages() <-chan Message

	// Err returns the error that ended the session, or nil if it ended
	// cleanly or is still open.
	Err() error

	// Close terminates the session and closes the Messages channel. Calling
	// Close more than once is safe and returns nil.
	Close() error
}

// Provider is the abstraction over any live backend.
type Provider interface {
	// Connect opens a new session and blocks until the remote side has
	// acknowledged the setup, so the returned Session is ready for audio.
	// Cancelling ctx aborts the handshake; it has no effect on the session
	// after Connect returns.
	Connect(ctx context.Context, cfg SessionConfig) (Session, error)

	// Capabilities returns static metadata about the provider.
	Capabilities() Capabilities
}
