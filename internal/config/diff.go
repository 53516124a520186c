package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// WakePhraseChanged means the intent classifier must be rebuilt.
	WakePhraseChanged bool
	NewWakePhrase     string

	// TTSOverrideChanged means the router override must be applied.
	TTSOverrideChanged bool
	NewTTSOverride     RouteOverride

	// QueueModeChanged means the operator changed the default queue mode.
	QueueModeChanged bool
	NewQueueMode     QueueMode
}

// Any reports whether the diff carries at least one change.
func (d ConfigDiff) Any() bool {
	return d.LogLevelChanged || d.WakePhraseChanged || d.TTSOverrideChanged || d.QueueModeChanged
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Wake.Phrase != new.Wake.Phrase {
		d.WakePhraseChanged = true
		d.NewWakePhrase = new.Wake.Phrase
	}
	if old.TTS.Override != new.TTS.Override {
		d.TTSOverrideChanged = true
		d.NewTTSOverride = new.TTS.Override
	}
	if old.Queue.DefaultMode != new.Queue.DefaultMode {
		d.QueueModeChanged = true
		d.NewQueueMode = new.Queue.DefaultMode
	}

	return d
}
