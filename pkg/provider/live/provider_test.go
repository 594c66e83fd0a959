package live_test

import (
	"testing"

	"github.com/netbdpro/nbdlive/pkg/provider/live"
)

func TestLookupVoice(t *testing.T) {
	t.Parallel()

	tests := []struct {
		id        string
		wantOK    bool
		wantLabel live.Gender
	}{
		{id: "Zephyr", wantOK: true, wantLabel: live.Female},
		{id: "Puck", wantOK: true, wantLabel: live.Male},
		{id: "zephyr", wantOK: false},
		{id: "", wantOK: false},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			t.Parallel()
			v, ok := live.LookupVoice(tt.id)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && v.Label != tt.wantLabel {
				t.Errorf("label = %q, want %q", v.Label, tt.wantLabel)
			}
		})
	}
}

func TestDefaultVoiceIsKnown(t *testing.T) {
	t.Parallel()
	if _, ok := live.LookupVoice(live.DefaultVoice); !ok {
		t.Errorf("DefaultVoice %q not in Voices", live.DefaultVoice)
	}
	if live.Voices[0].ID != live.DefaultVoice {
		t.Errorf("first voice = %q, want %q", live.Voices[0].ID, live.DefaultVoice)
	}
}
