package config

// MemoryDatabase selects the in-process state store.
const MemoryDatabase = ":memory:"

const (
	defaultConfigName          = "walk_watcher"
	defaultDatabasePath        = MemoryDatabase
	defaultMaxIsRunningSeconds = 300
	defaultMaxEmitLineCount    = 1000
	defaultCollectInterval     = 60
	defaultEmitInterval        = 300
	defaultMetricName          = "walk_watcher"
	defaultFileDirectory       = "."
	defaultTelegrafHost        = "127.0.0.1"
	defaultTelegrafPort        = 8080
	defaultTelegrafPath        = "/telegraf"
	defaultOneAgentHost        = "127.0.0.1"
	defaultOneAgentPort        = 14499
	defaultOneAgentPath        = "/metrics/ingest"
	defaultBeatsEndpoint       = "127.0.0.1:5044"
	defaultHTTPTimeoutSeconds  = 3
	defaultLogFormat           = "console"
	defaultLogLevel            = "info"
)

// Default returns a Config populated with repository defaults. Roots are left
// empty; every config file must name at least one.
func Default() Config {
	return Config{
		System: System{
			ConfigName:          defaultConfigName,
			DatabasePath:        defaultDatabasePath,
			MaxIsRunningSeconds: defaultMaxIsRunningSeconds,
			MaxEmitLineCount:    defaultMaxEmitLineCount,
			CollectInterval:     defaultCollectInterval,
			EmitInterval:        defaultEmitInterval,
		},
		Watcher: Watcher{
			MetricName: defaultMetricName,
		},
		Emit: Emit{
			FileDirectory:      defaultFileDirectory,
			TelegrafHost:       defaultTelegrafHost,
			TelegrafPort:       defaultTelegrafPort,
			TelegrafPath:       defaultTelegrafPath,
			OneAgentHost:       defaultOneAgentHost,
			OneAgentPort:       defaultOneAgentPort,
			OneAgentPath:       defaultOneAgentPath,
			BeatsEndpoint:      defaultBeatsEndpoint,
			HTTPTimeoutSeconds: defaultHTTPTimeoutSeconds,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
