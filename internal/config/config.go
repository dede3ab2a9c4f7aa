// Package config loads the sync client's settings from a YAML file, then
// applies SIGGEN_* environment variables and command-line flags on top.
package config

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rjboer/GoSigGen/internal/channel"
	"github.com/rjboer/GoSigGen/internal/command"
	"github.com/rjboer/GoSigGen/internal/logging"
)

// DefaultPath is used when neither -config nor SIGGEN_CONFIG is given.
const DefaultPath = "siggen.yaml"

// ErrInvalid matches every configuration defect.
var ErrInvalid = errors.New("invalid configuration")

// Error names the offending setting.
type Error struct {
	Key string
	Err error
}

func (e *Error) Error() string { return fmt.Sprintf("config %s: %v", e.Key, e.Err) }

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool { return target == ErrInvalid }

func invalid(key string, format string, args ...any) *Error {
	return &Error{Key: key, Err: fmt.Errorf(format, args...)}
}

// File mirrors the YAML layout on disk.
type File struct {
	Server      ServerSection  `yaml:"server"`
	Signals     SignalsSection `yaml:"signals"`
	Setup       SetupSection   `yaml:"setup"`
	Loop        LoopSection    `yaml:"loop"`
	Debug       bool           `yaml:"debug"`
	FreqSummary bool           `yaml:"freq_summary"`
	Log         LogSection     `yaml:"log"`
	Control     ControlSection `yaml:"control"`
}

type ServerSection struct {
	IP             string        `yaml:"ip"`
	Port           int           `yaml:"port"`
	Discover       bool          `yaml:"discover"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
}

// SignalsSection holds comma-separated parallel lists; their length is the
// channel count.
type SignalsSection struct {
	Frequencies string `yaml:"frequencies"`
	Phases      string `yaml:"phases"`
	Amplitudes  string `yaml:"amplitudes"`
}

type SetupSection struct {
	// Interval is the full-burst period in seconds.
	Interval     int     `yaml:"interval"`
	InitCommands string  `yaml:"init_commands"`
	FreqOffset   float64 `yaml:"freq_offset"`
	FreqScaling  float64 `yaml:"freq_scaling"`
	// ExtraCommands maps a channel ("3", "03" or "cmd03") to fragments.
	ExtraCommands map[string]string `yaml:"extra_commands"`
}

type LoopSection struct {
	Cadence time.Duration `yaml:"cadence"`
	Backoff time.Duration `yaml:"backoff"`
}

type LogSection struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type ControlSection struct {
	HTTPAddr     string `yaml:"http_addr"`
	OSCAddr      string `yaml:"osc_addr"`
	HistoryLimit int    `yaml:"history_limit"`
}

// Defaults returns the file written when no config exists yet.
func Defaults() File {
	return File{
		Server: ServerSection{
			IP:             "127.0.0.1",
			Port:           5000,
			ConnectTimeout: 5 * time.Second,
			WriteTimeout:   5 * time.Second,
		},
		Signals: SignalsSection{
			Frequencies: "100000000,101000000,102000000",
			Phases:      "0,0,0",
			Amplitudes:  "0,0,0",
		},
		Setup: SetupSection{
			Interval:      10,
			InitCommands:  "e,s0,j100",
			FreqOffset:    0,
			FreqScaling:   1,
			ExtraCommands: map[string]string{},
		},
		Loop: LoopSection{
			Cadence: time.Second,
			Backoff: 2 * time.Second,
		},
		Log:     LogSection{Level: "info", Format: "text"},
		Control: ControlSection{HistoryLimit: 100},
	}
}

// Config is the validated, ready-to-use configuration.
type Config struct {
	Path string

	ServerAddr     string
	Discover       bool
	ConnectTimeout time.Duration
	WriteTimeout   time.Duration

	Frequencies []float64
	Phases      []int
	Amplitudes  []int
	Transform   channel.Transform
	Plan        command.Plan

	Interval time.Duration
	Cadence  time.Duration
	Backoff  time.Duration

	Debug       bool
	FreqSummary bool
	LogLevel    logging.Level
	LogFormat   logging.Format

	HTTPAddr     string
	OSCAddr      string
	HistoryLimit int
}

// Channels reports the configured channel count.
func (c Config) Channels() int { return len(c.Frequencies) }

// Load reads the config file named by -config, SIGGEN_CONFIG or DefaultPath
// (creating it with defaults when missing), overlays the environment and the
// flags, and validates the result.
func Load(args []string, lookup func(string) (string, bool)) (Config, error) {
	fs := flag.NewFlagSet("siggen-sync", flag.ContinueOnError)
	path := fs.String("config", envString(lookup, "SIGGEN_CONFIG", DefaultPath), "Path to the YAML config file")
	ip := fs.String("server-ip", "", "Forwarding server IP or host")
	port := fs.Int("server-port", 0, "Forwarding server TCP port")
	discover := fs.Bool("discover", false, "Locate the server via mDNS")
	interval := fs.Int("interval", 0, "Full re-initialization period (seconds)")
	debug := fs.Bool("debug", false, "Trace every command sent")
	summary := fs.Bool("freq-summary", false, "Log a frequency summary after each burst")
	httpAddr := fs.String("http-addr", "", "Control API listen address (e.g. :8080)")
	oscAddr := fs.String("osc-addr", "", "OSC control listen address (e.g. :9000)")
	logLevel := fs.String("log-level", "", "Log level (debug|info|warn|error)")
	logFormat := fs.String("log-format", "", "Log format (text|json)")
	if err := fs.Parse(args); err != nil {
		return Config{}, &Error{Key: "flags", Err: err}
	}

	file, err := loadOrCreate(*path)
	if err != nil {
		return Config{}, err
	}
	applyEnv(&file, lookup)

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "server-ip":
			file.Server.IP = *ip
		case "server-port":
			file.Server.Port = *port
		case "discover":
			file.Server.Discover = *discover
		case "interval":
			file.Setup.Interval = *interval
		case "debug":
			file.Debug = *debug
		case "freq-summary":
			file.FreqSummary = *summary
		case "http-addr":
			file.Control.HTTPAddr = *httpAddr
		case "osc-addr":
			file.Control.OSCAddr = *oscAddr
		case "log-level":
			file.Log.Level = *logLevel
		case "log-format":
			file.Log.Format = *logFormat
		}
	})

	cfg, err := Resolve(file)
	if err != nil {
		return Config{}, err
	}
	cfg.Path = *path
	return cfg, nil
}

func loadOrCreate(path string) (File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg := Defaults()
			if saveErr := Save(path, cfg); saveErr != nil {
				return File{}, &Error{Key: "file", Err: saveErr}
			}
			return cfg, nil
		}
		return File{}, &Error{Key: "file", Err: err}
	}
	return Parse(data)
}

// Parse decodes YAML and fills unset keys from Defaults. An omitted server
// IP is left empty, which turns on discovery.
func Parse(data []byte) (File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return File{}, &Error{Key: "file", Err: err}
	}
	return withDefaults(f), nil
}

func withDefaults(f File) File {
	d := Defaults()
	if f.Server.Port == 0 {
		f.Server.Port = d.Server.Port
	}
	if f.Server.ConnectTimeout == 0 {
		f.Server.ConnectTimeout = d.Server.ConnectTimeout
	}
	if f.Server.WriteTimeout == 0 {
		f.Server.WriteTimeout = d.Server.WriteTimeout
	}
	// Phases and amplitudes are kept as given; Resolve reports a length mismatch.
	if strings.TrimSpace(f.Signals.Frequencies) == "" {
		f.Signals.Frequencies = d.Signals.Frequencies
	}
	if f.Setup.Interval == 0 {
		f.Setup.Interval = d.Setup.Interval
	}
	// A zero scaling would map every channel onto the offset; treat it as unset.
	if f.Setup.FreqScaling == 0 {
		f.Setup.FreqScaling = d.Setup.FreqScaling
	}
	if f.Loop.Cadence == 0 {
		f.Loop.Cadence = d.Loop.Cadence
	}
	if f.Loop.Backoff == 0 {
		f.Loop.Backoff = d.Loop.Backoff
	}
	if f.Control.HistoryLimit == 0 {
		f.Control.HistoryLimit = d.Control.HistoryLimit
	}
	return f
}

// Save writes the file as YAML.
func Save(path string, cfg File) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func applyEnv(f *File, lookup func(string) (string, bool)) {
	f.Server.IP = envString(lookup, "SIGGEN_SERVER_IP", f.Server.IP)
	f.Server.Port = envInt(lookup, "SIGGEN_SERVER_PORT", f.Server.Port)
	f.Server.Discover = envBool(lookup, "SIGGEN_DISCOVER", f.Server.Discover)
	f.Signals.Frequencies = envString(lookup, "SIGGEN_FREQUENCIES", f.Signals.Frequencies)
	f.Setup.Interval = envInt(lookup, "SIGGEN_INTERVAL", f.Setup.Interval)
	f.Setup.FreqOffset = envFloat(lookup, "SIGGEN_FREQ_OFFSET", f.Setup.FreqOffset)
	f.Setup.FreqScaling = envFloat(lookup, "SIGGEN_FREQ_SCALING", f.Setup.FreqScaling)
	f.Debug = envBool(lookup, "SIGGEN_DEBUG", f.Debug)
	f.FreqSummary = envBool(lookup, "SIGGEN_FREQ_SUMMARY", f.FreqSummary)
	f.Log.Level = envString(lookup, "SIGGEN_LOG_LEVEL", f.Log.Level)
	f.Log.Format = envString(lookup, "SIGGEN_LOG_FORMAT", f.Log.Format)
	f.Control.HTTPAddr = envString(lookup, "SIGGEN_HTTP_ADDR", f.Control.HTTPAddr)
	f.Control.OSCAddr = envString(lookup, "SIGGEN_OSC_ADDR", f.Control.OSCAddr)
}

// Resolve validates a File and converts it into a Config.
func Resolve(f File) (Config, error) {
	cfg := Config{
		Discover:       f.Server.Discover || strings.TrimSpace(f.Server.IP) == "",
		ConnectTimeout: f.Server.ConnectTimeout,
		WriteTimeout:   f.Server.WriteTimeout,
		Cadence:        f.Loop.Cadence,
		Backoff:        f.Loop.Backoff,
		Debug:          f.Debug,
		FreqSummary:    f.FreqSummary,
		HTTPAddr:       f.Control.HTTPAddr,
		OSCAddr:        f.Control.OSCAddr,
		HistoryLimit:   f.Control.HistoryLimit,
		Transform:      channel.Transform{Offset: f.Setup.FreqOffset, Scaling: f.Setup.FreqScaling},
	}

	if !cfg.Discover {
		if f.Server.Port < 1 || f.Server.Port > 65535 {
			return Config{}, invalid("server.port", "must be between 1 and 65535, got %d", f.Server.Port)
		}
		cfg.ServerAddr = net.JoinHostPort(strings.TrimSpace(f.Server.IP), strconv.Itoa(f.Server.Port))
	}
	if cfg.ConnectTimeout <= 0 {
		return Config{}, invalid("server.connect_timeout", "must be positive, got %v", cfg.ConnectTimeout)
	}
	if cfg.WriteTimeout <= 0 {
		return Config{}, invalid("server.write_timeout", "must be positive, got %v", cfg.WriteTimeout)
	}

	freqs, err := parseList("signals.frequencies", f.Signals.Frequencies)
	if err != nil {
		return Config{}, err
	}
	phases, err := parseList("signals.phases", f.Signals.Phases)
	if err != nil {
		return Config{}, err
	}
	amps, err := parseList("signals.amplitudes", f.Signals.Amplitudes)
	if err != nil {
		return Config{}, err
	}
	n := len(freqs)
	if n == 0 {
		return Config{}, invalid("signals.frequencies", "at least one channel is required")
	}
	// Omitted phase and amplitude lists default to zero on every channel.
	if phases == nil {
		phases = make([]float64, n)
	}
	if amps == nil {
		amps = make([]float64, n)
	}
	if n > command.MaxChannel+1 {
		return Config{}, invalid("signals.frequencies", "%d channels exceed the %d addressable", n, command.MaxChannel+1)
	}
	if len(phases) != n || len(amps) != n {
		return Config{}, invalid("signals", "list lengths differ: %d frequencies, %d phases, %d amplitudes", n, len(phases), len(amps))
	}
	for i, fr := range freqs {
		if _, err := cfg.Transform.Apply(fr); err != nil {
			return Config{}, &Error{Key: fmt.Sprintf("signals.frequencies[%d]", i), Err: err}
		}
	}
	cfg.Frequencies = freqs
	cfg.Phases = toInts(phases)
	cfg.Amplitudes = toInts(amps)

	if f.Setup.Interval <= 0 {
		return Config{}, invalid("setup.interval", "must be a positive number of seconds, got %d", f.Setup.Interval)
	}
	cfg.Interval = time.Duration(f.Setup.Interval) * time.Second

	extra := make(map[int]string, len(f.Setup.ExtraCommands))
	for key, tmpl := range f.Setup.ExtraCommands {
		ch, err := parseExtraKey(key)
		if err != nil {
			return Config{}, &Error{Key: "setup.extra_commands", Err: err}
		}
		extra[ch] = tmpl
	}
	plan, err := command.NewPlan(f.Setup.InitCommands, extra, n)
	if err != nil {
		return Config{}, &Error{Key: "setup", Err: err}
	}
	cfg.Plan = plan

	if cfg.LogLevel, err = logging.ParseLevel(f.Log.Level); err != nil {
		return Config{}, &Error{Key: "log.level", Err: err}
	}
	if cfg.LogFormat, err = logging.ParseFormat(f.Log.Format); err != nil {
		return Config{}, &Error{Key: "log.format", Err: err}
	}
	if cfg.Debug {
		cfg.LogLevel = logging.Debug
	}
	return cfg, nil
}

func parseList(key, s string) ([]float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]float64, 0, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, invalid(fmt.Sprintf("%s[%d]", key, i), "not a number: %q", p)
		}
		out = append(out, v)
	}
	return out, nil
}

func toInts(vals []float64) []int {
	out := make([]int, len(vals))
	for i, v := range vals {
		out[i] = int(v)
	}
	return out
}

// parseExtraKey accepts "3", "03" and the "cmd03" form used by older
// configs.
func parseExtraKey(key string) (int, error) {
	k := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(key)), "cmd")
	ch, err := strconv.Atoi(k)
	if err != nil {
		return 0, fmt.Errorf("key %q is not a channel index", key)
	}
	return ch, nil
}

func envString(lookup func(string) (string, bool), key, def string) string {
	if val, ok := lookup(key); ok {
		return val
	}
	return def
}

func envInt(lookup func(string) (string, bool), key string, def int) int {
	if val, ok := lookup(key); ok {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return def
}

func envFloat(lookup func(string) (string, bool), key string, def float64) float64 {
	if val, ok := lookup(key); ok {
		if parsed, err := strconv.ParseFloat(val, 64); err == nil {
			return parsed
		}
	}
	return def
}

func envBool(lookup func(string) (string, bool), key string, def bool) bool {
	if val, ok := lookup(key); ok {
		if parsed, err := strconv.ParseBool(val); err == nil {
			return parsed
		}
	}
	return def
}
