package config

import "slices"

// Diff describes what changed between two configs. Only fields that can be
// applied without a restart are tracked; everything else takes effect on the
// next start.
type Diff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// PersonaChanged is set when the voice or instructions differ. The new
	// values apply to the next session.
	PersonaChanged  bool
	NewVoice        string
	NewInstructions string

	// RestartRequired lists sections that changed but cannot be hot-reloaded.
	RestartRequired []string
}

// Changed reports whether anything differs.
func (d Diff) Changed() bool {
	return d.LogLevelChanged || d.PersonaChanged || len(d.RestartRequired) > 0
}

// Compare returns what changed from old to new.
func Compare(old, new *Config) Diff {
	d := Diff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Provider.Voice != new.Provider.Voice || old.Provider.Instructions != new.Provider.Instructions {
		d.PersonaChanged = true
		d.NewVoice = new.Provider.Voice
		d.NewInstructions = new.Provider.Instructions
	}

	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = append(d.RestartRequired, "server.listen_addr")
	}
	if old.Provider.Name != new.Provider.Name || old.Provider.Model != new.Provider.Model ||
		old.Provider.BaseURL != new.Provider.BaseURL || old.Provider.APIKey != new.Provider.APIKey {
		d.RestartRequired = append(d.RestartRequired, "provider")
	}
	if old.Audio != new.Audio {
		d.RestartRequired = append(d.RestartRequired, "audio")
	}
	if old.Vision != new.Vision {
		d.RestartRequired = append(d.RestartRequired, "vision")
	}
	if !slices.Equal(old.Tools.Enabled, new.Tools.Enabled) || len(old.MCP.Servers) != len(new.MCP.Servers) {
		d.RestartRequired = append(d.RestartRequired, "tools")
	}

	return d
}
