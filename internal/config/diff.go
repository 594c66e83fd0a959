package config

import "reflect"

// ConfigDiff describes what changed between two configs. Only the log level
// and the voice defaults are applied without a restart; any other change is
// listed in RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	VoiceDefaultsChanged bool
	NewDefaultVoice      string
	NewDefaultLanguage   string

	// RestartRequired names the sections whose changes take effect only
	// after a restart.
	RestartRequired []string
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Voice.DefaultVoice != new.Voice.DefaultVoice || old.Voice.DefaultLanguage != new.Voice.DefaultLanguage {
		d.VoiceDefaultsChanged = true
		d.NewDefaultVoice = new.Voice.DefaultVoice
		d.NewDefaultLanguage = new.Voice.DefaultLanguage
	}

	if old.Server.ListenAddr != new.Server.ListenAddr || !equalTLS(old.Server.TLS, new.Server.TLS) ||
		!reflect.DeepEqual(old.Server.TraceSampleRatio, new.Server.TraceSampleRatio) {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if !equalLive(old.Live, new.Live) {
		d.RestartRequired = append(d.RestartRequired, "live")
	}
	if old.Audio != new.Audio {
		d.RestartRequired = append(d.RestartRequired, "audio")
	}
	if old.Settings != new.Settings {
		d.RestartRequired = append(d.RestartRequired, "settings")
	}
	if old.Chat != new.Chat {
		d.RestartRequired = append(d.RestartRequired, "chat")
	}
	return d
}

func equalTLS(a, b *TLSConfig) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func equalLive(a, b LiveConfig) bool {
	if !equalEntry(a.ProviderEntry, b.ProviderEntry) || a.CircuitBreaker != b.CircuitBreaker {
		return false
	}
	if len(a.Fallbacks) != len(b.Fallbacks) {
		return false
	}
	for i := range a.Fallbacks {
		if !equalEntry(a.Fallbacks[i], b.Fallbacks[i]) {
			return false
		}
	}
	return true
}

func equalEntry(a, b ProviderEntry) bool {
	return a.Name == b.Name && a.APIKey == b.APIKey && a.BaseURL == b.BaseURL && a.Model == b.Model &&
		reflect.DeepEqual(a.Options, b.Options)
}
