package config_test

import (
	"slices"
	"testing"

	"github.com/MrWong99/uplink/internal/config"
)

func TestCompare_NoChange(t *testing.T) {
	t.Parallel()
	a, b := config.Default(), config.Default()
	if d := config.Compare(a, b); d.Changed() {
		t.Errorf("Compare of equal configs = %+v", d)
	}
}

func TestCompare_HotReloadable(t *testing.T) {
	t.Parallel()
	old, cur := config.Default(), config.Default()
	cur.Server.LogLevel = config.LogDebug
	cur.Provider.Voice = "Kore"

	d := config.Compare(old, cur)
	if !d.LogLevelChanged || d.NewLogLevel != config.LogDebug {
		t.Errorf("log level diff = %+v", d)
	}
	if !d.PersonaChanged || d.NewVoice != "Kore" || d.NewInstructions != "" {
		t.Errorf("persona diff = %+v", d)
	}
	if len(d.RestartRequired) != 0 {
		t.Errorf("RestartRequired = %v", d.RestartRequired)
	}
}

func TestCompare_RestartRequired(t *testing.T) {
	t.Parallel()
	old, cur := config.Default(), config.Default()
	cur.Server.ListenAddr = ":9999"
	cur.Provider.Model = "other"
	cur.Audio.Input.SampleRate = 48000
	cur.Vision.Width = 100
	cur.Tools.Enabled = []string{"timer"}

	d := config.Compare(old, cur)
	want := []string{"server.listen_addr", "provider", "audio", "vision", "tools"}
	if !slices.Equal(d.RestartRequired, want) {
		t.Errorf("RestartRequired = %v; want %v", d.RestartRequired, want)
	}
	if d.PersonaChanged || d.LogLevelChanged {
		t.Errorf("unexpected hot changes: %+v", d)
	}
}
