package genai

import (
	"context"
	"encoding/base64"
	"errors"
	"testing"

	gai "google.golang.org/genai"

	"github.com/netbdpro/nbdlive/pkg/provider/live"
)

func TestConnectConfig(t *testing.T) {
	t.Parallel()

	lc := connectConfig(live.SessionConfig{Voice: "Puck", Instructions: "Be brief."}, true)

	if len(lc.ResponseModalities) != 1 || lc.ResponseModalities[0] != gai.ModalityAudio {
		t.Errorf("ResponseModalities = %v, want [AUDIO]", lc.ResponseModalities)
	}
	if lc.SpeechConfig == nil || lc.SpeechConfig.VoiceConfig.PrebuiltVoiceConfig.VoiceName != "Puck" {
		t.Errorf("SpeechConfig = %+v, want voice Puck", lc.SpeechConfig)
	}
	if lc.SystemInstruction == nil || len(lc.SystemInstruction.Parts) != 1 ||
		lc.SystemInstruction.Parts[0].Text != "Be brief." {
		t.Errorf("SystemInstruction = %+v", lc.SystemInstruction)
	}
	if lc.InputAudioTranscription == nil || lc.OutputAudioTranscription == nil {
		t.Error("transcription not enabled")
	}
}

func TestConnectConfig_Minimal(t *testing.T) {
	t.Parallel()

	lc := connectConfig(live.SessionConfig{}, false)
	if lc.SpeechConfig != nil || lc.SystemInstruction != nil || lc.InputAudioTranscription != nil {
		t.Errorf("unexpected optional fields: %+v", lc)
	}
}

func TestToMessage(t *testing.T) {
	t.Parallel()

	pcm := []byte{1, 2, 3, 4}
	m := toMessage(&gai.LiveServerContent{
		ModelTurn: &gai.Content{Parts: []*gai.Part{
			{InlineData: &gai.Blob{Data: pcm, MIMEType: "audio/pcm;rate=24000"}},
			{Text: "ignored"},
			nil,
		}},
		Interrupted:         true,
		TurnComplete:        true,
		InputTranscription:  &gai.Transcription{Text: "hello"},
		OutputTranscription: &gai.Transcription{Text: "hi"},
	})

	if len(m.Audio) != 1 {
		t.Fatalf("got %d audio chunks, want 1", len(m.Audio))
	}
	if m.Audio[0].Data != base64.StdEncoding.EncodeToString(pcm) {
		t.Errorf("audio data = %q", m.Audio[0].Data)
	}
	if m.Audio[0].MIMEType != "audio/pcm;rate=24000" {
		t.Errorf("mime = %q", m.Audio[0].MIMEType)
	}
	if !m.Interrupted || !m.TurnComplete {
		t.Errorf("signals = %+v", m)
	}
	if m.InputTranscript != "hello" || m.OutputTranscript != "hi" {
		t.Errorf("transcripts = %q / %q", m.InputTranscript, m.OutputTranscript)
	}
	if isEmpty(m) {
		t.Error("isEmpty = true for populated message")
	}
	if !isEmpty(toMessage(&gai.LiveServerContent{})) {
		t.Error("isEmpty = false for empty content")
	}
}

func TestConnect_NoAPIKey(t *testing.T) {
	t.Parallel()
	_, err := New("").Connect(context.Background(), live.SessionConfig{})
	if !errors.Is(err, ErrNoAPIKey) {
		t.Errorf("err = %v, want ErrNoAPIKey", err)
	}
}

func TestCapabilities(t *testing.T) {
	t.Parallel()
	caps := New("key", WithModel("m")).Capabilities()
	if caps.Model != "m" {
		t.Errorf("Model = %q, want m", caps.Model)
	}
	if len(caps.Voices) != len(live.Voices) {
		t.Errorf("Voices = %d, want %d", len(caps.Voices), len(live.Voices))
	}
}
