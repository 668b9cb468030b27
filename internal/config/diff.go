package config

// ConfigDiff describes what changed between two configs. Only fields that
// are safe to apply without a process restart are tracked.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	CaptureChanged   bool
	NewPollIntervalS int
	NewMaxFileMB     int

	RetrievalWeightsChanged bool
	NewWeights              FusionWeights

	CaptureAPIKeyChanged bool
}

// Diff compares old and new configs and returns what changed. Provider
// selection and storage DSN changes are not tracked here: both require
// rebuilding a client/connection pool.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Server.CaptureAPIKey != new.Server.CaptureAPIKey {
		d.CaptureAPIKeyChanged = true
	}

	if old.Capture.PollIntervalS != new.Capture.PollIntervalS || old.Capture.MaxFileMB != new.Capture.MaxFileMB {
		d.CaptureChanged = true
		d.NewPollIntervalS = new.Capture.PollIntervalS
		d.NewMaxFileMB = new.Capture.MaxFileMB
	}

	if old.Retrieval.Weights != new.Retrieval.Weights {
		d.RetrievalWeightsChanged = true
		d.NewWeights = new.Retrieval.Weights
	}

	return d
}
