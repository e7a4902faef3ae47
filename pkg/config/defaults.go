package config

import "time"

// Default returns a Config with every field populated from defaults,
// overwritten by Load if a config file is present.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  "INFO",
			Format: "text",
			Output: "stdout",
		},
		Telemetry: TelemetryConfig{
			Enabled:    false,
			Endpoint:   "localhost:4317",
			Insecure:   true,
			SampleRate: 1.0,
		},
		Persistence: PersistenceConfig{
			Backend:    "memory",
			BadgerPath: "/var/lib/nexusd/info",
		},
		Rebuild: RebuildConfig{
			SegmentSizeBlocks: 1024,
			TaskPoolSize:      16,
			VerifyMode:        "none",
			DefaultStrategy:   "full",
		},
		Gate: GateConfig{
			PauseTimeout: 5 * time.Second,
		},
		HTTP: HTTPConfig{
			Addr: ":9500",
		},
	}
}
