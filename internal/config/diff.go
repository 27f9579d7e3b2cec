package config

import "reflect"

// ConfigDiff describes what changed between two configs.
// Only the log level can be applied without a restart; every other changed
// section is listed in RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// RestartRequired names the changed sections that only take effect after
	// a restart (e.g., "providers", "voice.rate_limit").
	RestartRequired []string
}

// Changed reports whether any difference was found.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	sections := []struct {
		name     string
		old, new any
	}{
		{"server.listen_addr", old.Server.ListenAddr, new.Server.ListenAddr},
		{"server.public_url", old.Server.PublicURL, new.Server.PublicURL},
		{"server.tls", old.Server.TLS, new.Server.TLS},
		{"providers", old.Providers, new.Providers},
		{"voice.mock_external_calls", old.Voice.MockExternalCalls, new.Voice.MockExternalCalls},
		{"voice.default_voice", old.Voice.DefaultVoice, new.Voice.DefaultVoice},
		{"voice.language", old.Voice.Language, new.Voice.Language},
		{"voice.stage_timeout", old.Voice.StageTimeout, new.Voice.StageTimeout},
		{"voice.max_audio_bytes", old.Voice.MaxAudioBytes, new.Voice.MaxAudioBytes},
		{"voice.rate_limit", old.Voice.RateLimit, new.Voice.RateLimit},
		{"voice.cache", old.Voice.Cache, new.Voice.Cache},
		{"voice.preload", old.Voice.Preload, new.Voice.Preload},
		{"store", old.Store, new.Store},
		{"usage", old.Usage, new.Usage},
		{"audio", old.Audio, new.Audio},
		{"telemetry", old.Telemetry, new.Telemetry},
	}
	for _, s := range sections {
		if !reflect.DeepEqual(s.old, s.new) {
			d.RestartRequired = append(d.RestartRequired, s.name)
		}
	}

	return d
}
