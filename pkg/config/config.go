// Package config holds the bridge's runtime settings and the environment
// names they are read from.
package config

import "time"

// Environment variable names. They are also the keys of a .env file.
const (
	EnvServerURL          = "WS_SERVER_URL"
	EnvToken              = "WS_TOKEN"
	EnvRoutingPath        = "ROUTING_CONFIG_PATH"
	EnvLogLevel           = "LOG_LEVEL"
	EnvLogDir             = "LOG_DIR"
	EnvLogMaxSizeMB       = "LOG_MAX_SIZE_MB"
	EnvLogMaxBackups      = "LOG_MAX_BACKUPS"
	EnvStatsInterval      = "STATS_INTERVAL"
	EnvStatusAddr         = "STATUS_ADDR"
	EnvRoutingWatch       = "ROUTING_WATCH"
	EnvCAFile             = "WS_CA_FILE"
	EnvInsecureSkipVerify = "WS_INSECURE_SKIP_VERIFY"
	EnvClientCert         = "WS_CLIENT_CERT"
	EnvClientKey          = "WS_CLIENT_KEY"
)

type Runtime struct {
	ServerURL   string
	Token       string
	RoutingPath string

	LogLevel      string
	LogDir        string
	LogMaxSizeMB  int
	LogMaxBackups int

	StatsInterval time.Duration
	// StatusAddr is the listen address of the status server; empty disables it.
	StatusAddr   string
	RoutingWatch bool

	CAFile             string
	InsecureSkipVerify bool
	// ClientCertFile and ClientKeyFile enable mutual TLS towards the server.
	ClientCertFile string
	ClientKeyFile  string
}

func Default() Runtime {
	return Runtime{
		RoutingPath:   "routing_config.yaml",
		LogLevel:      "INFO",
		LogDir:        ".",
		LogMaxSizeMB:  10,
		LogMaxBackups: 5,
		StatsInterval: time.Minute,
	}
}
