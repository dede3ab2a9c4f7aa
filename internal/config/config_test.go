package config

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/rjboer/GoSigGen/internal/channel"
	"github.com/rjboer/GoSigGen/internal/command"
	"github.com/rjboer/GoSigGen/internal/logging"
)

func noEnv(string) (string, bool) { return "", false }

func envMap(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "siggen.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const sampleConfig = `
server:
  ip: 192.168.1.50
  port: 5000
  write_timeout: 3s
signals:
  frequencies: "100000000, 101000000, 102000000"
  phases: "0,90,180"
  amplitudes: "0,1,3"
setup:
  interval: 10
  init_commands: '"e,s0,j100"'
  freq_offset: 1000
  freq_scaling: 2
  extra_commands:
    cmd02: "g100,x4"
loop:
  cadence: 500ms
freq_summary: true
`

func TestLoadSampleConfig(t *testing.T) {
	path := writeConfig(t, sampleConfig)
	cfg, err := Load([]string{"-config", path}, noEnv)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ServerAddr != "192.168.1.50:5000" || cfg.Discover {
		t.Fatalf("unexpected server %q discover=%v", cfg.ServerAddr, cfg.Discover)
	}
	if cfg.Channels() != 3 {
		t.Fatalf("expected 3 channels, got %d", cfg.Channels())
	}
	if !reflect.DeepEqual(cfg.Phases, []int{0, 90, 180}) || !reflect.DeepEqual(cfg.Amplitudes, []int{0, 1, 3}) {
		t.Fatalf("unexpected phases %v amplitudes %v", cfg.Phases, cfg.Amplitudes)
	}
	if cfg.Transform != (channel.Transform{Offset: 1000, Scaling: 2}) {
		t.Fatalf("unexpected transform %+v", cfg.Transform)
	}
	if cfg.Interval != 10*time.Second || cfg.Cadence != 500*time.Millisecond || cfg.Backoff != 2*time.Second {
		t.Fatalf("unexpected timing interval=%v cadence=%v backoff=%v", cfg.Interval, cfg.Cadence, cfg.Backoff)
	}
	if cfg.WriteTimeout != 3*time.Second || cfg.ConnectTimeout != 5*time.Second {
		t.Fatalf("unexpected timeouts %v %v", cfg.WriteTimeout, cfg.ConnectTimeout)
	}
	if !reflect.DeepEqual(cfg.Plan.Init, []string{"e", "s0", "j100"}) {
		t.Fatalf("unexpected init plan %v", cfg.Plan.Init)
	}
	if !reflect.DeepEqual(cfg.Plan.Extra, map[int][]string{2: {"g100", "x4"}}) {
		t.Fatalf("unexpected extra plan %v", cfg.Plan.Extra)
	}
	if !cfg.FreqSummary || cfg.Debug || cfg.LogLevel != logging.Info {
		t.Fatalf("unexpected flags summary=%v debug=%v level=%v", cfg.FreqSummary, cfg.Debug, cfg.LogLevel)
	}
}

func TestFlagsAndEnvOverrideFile(t *testing.T) {
	path := writeConfig(t, sampleConfig)
	env := envMap(map[string]string{
		"SIGGEN_SERVER_PORT": "6000",
		"SIGGEN_INTERVAL":    "30",
		"SIGGEN_HTTP_ADDR":   ":8080",
	})
	cfg, err := Load([]string{"-config", path, "-interval", "5", "-debug"}, env)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ServerAddr != "192.168.1.50:6000" {
		t.Fatalf("env port not applied: %q", cfg.ServerAddr)
	}
	if cfg.Interval != 5*time.Second {
		t.Fatalf("flag should beat env for interval, got %v", cfg.Interval)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Fatalf("env http addr not applied: %q", cfg.HTTPAddr)
	}
	if !cfg.Debug || cfg.LogLevel != logging.Debug {
		t.Fatalf("debug flag should force debug logging, got debug=%v level=%v", cfg.Debug, cfg.LogLevel)
	}
}

func TestMissingFileIsCreatedWithDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "new.yaml")
	cfg, err := Load(nil, envMap(map[string]string{"SIGGEN_CONFIG": path}))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected defaults to be written: %v", err)
	}
	if cfg.Channels() != 3 || cfg.ServerAddr != "127.0.0.1:5000" {
		t.Fatalf("unexpected defaults %+v", cfg)
	}

	// The written file must load back to the same configuration.
	again, err := Load([]string{"-config", path}, noEnv)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if again.ServerAddr != cfg.ServerAddr || again.Interval != cfg.Interval || !reflect.DeepEqual(again.Plan, cfg.Plan) {
		t.Fatalf("reloaded config differs: %+v vs %+v", again, cfg)
	}
}

func TestOmittedPhasesDefaultToZero(t *testing.T) {
	f, err := Parse([]byte("signals:\n  frequencies: \"1000000,2000000\"\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	cfg, err := Resolve(f)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !reflect.DeepEqual(cfg.Phases, []int{0, 0}) || !reflect.DeepEqual(cfg.Amplitudes, []int{0, 0}) {
		t.Fatalf("expected zeroed phases and amplitudes, got %v %v", cfg.Phases, cfg.Amplitudes)
	}
	if !cfg.Discover {
		t.Fatal("an omitted server IP should enable discovery")
	}
}

func TestBlankFrequenciesKeepGivenPhases(t *testing.T) {
	f, err := Parse([]byte("signals:\n  phases: \"0,90\"\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if f.Signals.Phases != "0,90" || f.Signals.Frequencies != Defaults().Signals.Frequencies {
		t.Fatalf("unexpected signals %+v", f.Signals)
	}
	_, err = Resolve(f)
	var cerr *Error
	if !errors.As(err, &cerr) || cerr.Key != "signals" {
		t.Fatalf("expected a signals length mismatch, got %v", err)
	}
}

func TestResolveRejectsDefects(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*File)
		is     error
	}{
		{"list length mismatch", func(f *File) { f.Signals.Phases = "0,0" }, nil},
		{"non numeric frequency", func(f *File) { f.Signals.Frequencies = "100000000,abc,1" }, nil},
		{"extra key out of range", func(f *File) { f.Setup.ExtraCommands = map[string]string{"cmd03": "g1"} }, channel.ErrChannelRange},
		{"extra key not an index", func(f *File) { f.Setup.ExtraCommands = map[string]string{"foo": "g1"} }, nil},
		{"malformed init template", func(f *File) { f.Setup.InitCommands = "e,,s0" }, command.ErrEncoding},
		{"bad port", func(f *File) { f.Server.Port = 70000 }, nil},
		{"zero interval", func(f *File) { f.Setup.Interval = -1 }, nil},
		{"frequency above ceiling", func(f *File) { f.Signals.Frequencies = "5000000000,1,1" }, channel.ErrValueRejected},
		{"negative frequency", func(f *File) { f.Signals.Frequencies = "-1,1,1" }, channel.ErrValueRejected},
		{"bad log level", func(f *File) { f.Log.Level = "loud" }, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := Defaults()
			tc.mutate(&f)
			_, err := Resolve(f)
			if !errors.Is(err, ErrInvalid) {
				t.Fatalf("expected ErrInvalid, got %v", err)
			}
			var cerr *Error
			if !errors.As(err, &cerr) || cerr.Key == "" {
				t.Fatalf("expected a keyed *Error, got %#v", err)
			}
			if tc.is != nil && !errors.Is(err, tc.is) {
				t.Fatalf("expected %v in chain, got %v", tc.is, err)
			}
		})
	}
}

func TestParseRejectsBadYAML(t *testing.T) {
	if _, err := Parse([]byte("server: [unclosed")); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
}
