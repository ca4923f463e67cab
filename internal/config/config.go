// Package config builds the launcher's RuntimeConfig from flags, the process
// environment, an optional dotenv file and preset defaults.
package config

import (
	"strings"
	"unicode"

	"github.com/spf13/cast"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Preset selects a default profile. The two shapes come from the two ways the
// stack is usually run: inside docker compose next to a "redis" service, or
// in a container talking to a broker on the host.
type Preset string

const (
	PresetCompose Preset = "compose"
	PresetHost    Preset = "host"
)

// Introspection selects how the entry-point resolver inspects the app module.
type Introspection string

const (
	IntrospectPython Introspection = "python"
	IntrospectSource Introspection = "source"
	IntrospectAuto   Introspection = "auto"
	IntrospectNone   Introspection = "none"
)

// HandoffMode selects how control is passed to the long-running program.
type HandoffMode string

const (
	HandoffExec      HandoffMode = "exec"
	HandoffSupervise HandoffMode = "supervise"
)

// RuntimeConfig is the single immutable configuration value for one launch.
// All fields are scalars so two configs can be compared with ==.
type RuntimeConfig struct {
	Preset Preset

	DependencyURL string
	DatabaseURL   string

	ListenPort            int
	BindHost              string
	WorkerConcurrency     int
	RequestTimeoutSeconds int

	PollIntervalSeconds int
	PollTimeoutSeconds  int
	ProbeTimeoutSeconds int

	AppModule      string
	FactorySymbol  string
	InstanceSymbol string
	Introspection  Introspection
	AppDir         string
	PythonBin      string

	ServerBin   string
	WorkerBin   string
	Queues      string
	HandoffMode HandoffMode

	LogLevel        string
	LogFormat       string
	MetricsTextfile string
	PushgatewayURL  string
	OTLPEndpoint    string
}

// QueueNames splits Queues on commas, dropping blanks. An empty list yields
// the "default" queue.
func (c RuntimeConfig) QueueNames() []string {
	var names []string
	for _, q := range strings.Split(c.Queues, ",") {
		if q = strings.TrimSpace(q); q != "" {
			names = append(names, q)
		}
	}
	if len(names) == 0 {
		return []string{"default"}
	}
	return names
}

// Defaults returns the preset's default configuration. Unknown presets get
// the compose defaults.
func Defaults(p Preset) RuntimeConfig {
	cfg := RuntimeConfig{
		Preset:                PresetCompose,
		DependencyURL:         "redis://redis:6379/0",
		ListenPort:            5000,
		BindHost:              "0.0.0.0",
		WorkerConcurrency:     2,
		RequestTimeoutSeconds: 120,
		PollIntervalSeconds:   2,
		PollTimeoutSeconds:    60,
		ProbeTimeoutSeconds:   2,
		AppModule:             "app",
		FactorySymbol:         "create_app",
		InstanceSymbol:        "app",
		Introspection:         IntrospectPython,
		AppDir:                ".",
		PythonBin:             "python",
		ServerBin:             "gunicorn",
		WorkerBin:             "rq",
		Queues:                "default",
		HandoffMode:           HandoffExec,
		LogLevel:              "info",
		LogFormat:             "text",
	}
	if p == PresetHost {
		cfg.Preset = PresetHost
		cfg.DependencyURL = "redis://host.docker.internal:6379/0"
		cfg.ListenPort = 8000
		cfg.WorkerConcurrency = 4
	}
	return cfg
}

// Keys are the lower-cased primary variable names.
const (
	KeyPreset          = "launchgate_preset"
	KeyDependencyURL   = "redis_url"
	KeyDatabaseURL     = "database_url"
	KeyPort            = "port"
	KeyBindHost        = "bind_host"
	KeyWorkers         = "workers"
	KeyTimeout         = "timeout"
	KeyWaitInterval    = "wait_interval"
	KeyWaitTimeout     = "wait_timeout"
	KeyProbeTimeout    = "probe_timeout"
	KeyAppModule       = "app_module"
	KeyAppFactory      = "app_factory"
	KeyAppInstance     = "app_instance"
	KeyIntrospect      = "app_introspect"
	KeyAppDir          = "app_dir"
	KeyPythonBin       = "python_bin"
	KeyServerBin       = "server_bin"
	KeyWorkerBin       = "worker_bin"
	KeyQueues          = "rq_queues"
	KeyHandoffMode     = "handoff_mode"
	KeyLogLevel        = "log_level"
	KeyLogFormat       = "log_format"
	KeyMetricsTextfile = "metrics_textfile"
	KeyPushgatewayURL  = "pushgateway_url"
	KeyOTLPEndpoint    = "otel_exporter_otlp_endpoint"
)

// envNames maps each key to the variables it is read from, in priority order.
var envNames = map[string][]string{
	KeyPreset:          {"LAUNCHGATE_PRESET"},
	KeyDependencyURL:   {"REDIS_URL", "BROKER_URL"},
	KeyDatabaseURL:     {"DATABASE_URL"},
	KeyPort:            {"PORT"},
	KeyBindHost:        {"BIND_HOST"},
	KeyWorkers:         {"WORKERS", "WEB_CONCURRENCY"},
	KeyTimeout:         {"TIMEOUT", "GUNICORN_TIMEOUT"},
	KeyWaitInterval:    {"WAIT_INTERVAL"},
	KeyWaitTimeout:     {"WAIT_TIMEOUT"},
	KeyProbeTimeout:    {"PROBE_TIMEOUT"},
	KeyAppModule:       {"APP_MODULE"},
	KeyAppFactory:      {"APP_FACTORY"},
	KeyAppInstance:     {"APP_INSTANCE"},
	KeyIntrospect:      {"APP_INTROSPECT"},
	KeyAppDir:          {"APP_DIR"},
	KeyPythonBin:       {"PYTHON_BIN"},
	KeyServerBin:       {"SERVER_BIN"},
	KeyWorkerBin:       {"WORKER_BIN"},
	KeyQueues:          {"RQ_QUEUES"},
	KeyHandoffMode:     {"HANDOFF_MODE"},
	KeyLogLevel:        {"LOG_LEVEL"},
	KeyLogFormat:       {"LOG_FORMAT"},
	KeyMetricsTextfile: {"METRICS_TEXTFILE"},
	KeyPushgatewayURL:  {"PUSHGATEWAY_URL"},
	KeyOTLPEndpoint:    {"OTEL_EXPORTER_OTLP_ENDPOINT"},
}

// EnvNames returns the variables read for key, primary first.
func EnvNames(key string) []string {
	return append([]string(nil), envNames[key]...)
}

// LoadOptions controls where Load looks besides the process environment.
type LoadOptions struct {
	// Preset overrides LAUNCHGATE_PRESET when non-empty.
	Preset string
	// EnvFile is an optional dotenv file. A missing or unreadable file is ignored.
	EnvFile string
	// Flags are bound by name: a changed flag beats the environment.
	Flags *pflag.FlagSet
}

// flagKeys maps CLI flag names to config keys.
var flagKeys = map[string]string{
	"preset":     KeyPreset,
	"log-level":  KeyLogLevel,
	"log-format": KeyLogFormat,
}

// Load builds a RuntimeConfig. It never fails: anything missing, unparsable
// or out of range takes the preset default. Load reads but never modifies
// the process environment.
func Load(opts LoadOptions) RuntimeConfig {
	v := viper.New()

	for key, names := range envNames {
		args := append([]string{key}, names...)
		_ = v.BindEnv(args...)
	}

	if opts.Flags != nil {
		for name, key := range flagKeys {
			if f := opts.Flags.Lookup(name); f != nil {
				_ = v.BindPFlag(key, f)
			}
		}
	}

	if opts.EnvFile != "" {
		v.SetConfigFile(opts.EnvFile)
		v.SetConfigType("env")
		_ = v.ReadInConfig()
	}

	r := reader{v: v}

	preset := Preset(strings.ToLower(r.str(KeyPreset)))
	if opts.Preset != "" {
		preset = Preset(strings.ToLower(strings.TrimSpace(opts.Preset)))
	}
	def := Defaults(preset)

	return RuntimeConfig{
		Preset:                def.Preset,
		DependencyURL:         r.strOr(KeyDependencyURL, def.DependencyURL),
		DatabaseURL:           r.strOr(KeyDatabaseURL, def.DatabaseURL),
		ListenPort:            r.positive(KeyPort, def.ListenPort),
		BindHost:              r.strOr(KeyBindHost, def.BindHost),
		WorkerConcurrency:     r.positive(KeyWorkers, def.WorkerConcurrency),
		RequestTimeoutSeconds: r.positive(KeyTimeout, def.RequestTimeoutSeconds),
		PollIntervalSeconds:   r.positive(KeyWaitInterval, def.PollIntervalSeconds),
		PollTimeoutSeconds:    r.positive(KeyWaitTimeout, def.PollTimeoutSeconds),
		ProbeTimeoutSeconds:   r.positive(KeyProbeTimeout, def.ProbeTimeoutSeconds),
		AppModule:             r.strOr(KeyAppModule, def.AppModule),
		FactorySymbol:         r.strOr(KeyAppFactory, def.FactorySymbol),
		InstanceSymbol:        r.strOr(KeyAppInstance, def.InstanceSymbol),
		Introspection: Introspection(r.oneOf(KeyIntrospect, string(def.Introspection),
			string(IntrospectPython), string(IntrospectSource), string(IntrospectAuto), string(IntrospectNone))),
		AppDir:    r.strOr(KeyAppDir, def.AppDir),
		PythonBin: r.strOr(KeyPythonBin, def.PythonBin),
		ServerBin: r.strOr(KeyServerBin, def.ServerBin),
		WorkerBin: r.strOr(KeyWorkerBin, def.WorkerBin),
		Queues:    r.strOr(KeyQueues, def.Queues),
		HandoffMode: HandoffMode(r.oneOf(KeyHandoffMode, string(def.HandoffMode),
			string(HandoffExec), string(HandoffSupervise))),
		LogLevel:        r.oneOf(KeyLogLevel, def.LogLevel, "debug", "info", "warn", "warning", "error", "fatal"),
		LogFormat:       r.oneOf(KeyLogFormat, def.LogFormat, "text", "json"),
		MetricsTextfile: r.strOr(KeyMetricsTextfile, def.MetricsTextfile),
		PushgatewayURL:  r.strOr(KeyPushgatewayURL, def.PushgatewayURL),
		OTLPEndpoint:    r.strOr(KeyOTLPEndpoint, def.OTLPEndpoint),
	}
}

type reader struct {
	v *viper.Viper
}

// str returns the trimmed raw value for key. Aliases found only in the
// dotenv file are consulted after everything bound to the primary key.
func (r reader) str(key string) string {
	if s := strings.TrimSpace(r.v.GetString(key)); s != "" {
		return s
	}
	names := envNames[key]
	for _, alias := range names[1:] {
		if s := strings.TrimSpace(r.v.GetString(strings.ToLower(alias))); s != "" {
			return s
		}
	}
	return ""
}

func (r reader) strOr(key, def string) string {
	if s := r.str(key); s != "" {
		return s
	}
	return def
}

func (r reader) positive(key string, def int) int {
	return PositiveInt(r.str(key), def)
}

func (r reader) oneOf(key, def string, allowed ...string) string {
	s := strings.ToLower(r.str(key))
	for _, a := range allowed {
		if s == a {
			return s
		}
	}
	return def
}

// PositiveInt parses raw as a decimal integer and returns def when raw is
// empty, malformed or not strictly positive.
func PositiveInt(raw string, def int) int {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def
	}
	// cast accepts base prefixes and digit separators; "0800" must stay decimal.
	digits := strings.TrimLeft(raw, "0")
	if digits == "" || strings.ContainsFunc(digits, func(r rune) bool {
		return r == '_' || unicode.IsLetter(r)
	}) {
		return def
	}
	n, err := cast.ToIntE(digits)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
