package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/DragonSecurity/gwbridge/internal/proxy"
	"github.com/DragonSecurity/gwbridge/pkg/config"
	"github.com/DragonSecurity/gwbridge/pkg/util"
	"github.com/DragonSecurity/gwbridge/pkg/util/logfile"
)

func init() {
	def := config.Default()
	f := runCmd.Flags()
	f.String("server", "", "cloud WebSocket URL")
	f.String("token", "", "access token appended to the connection URL")
	f.String("routes", def.RoutingPath, "routing config file")
	f.String("log-level", def.LogLevel, "DEBUG, INFO, WARNING, ERROR or CRITICAL")
	f.String("log-dir", def.LogDir, "directory for proxy_YYYYMMDD.log files")
	f.Int("log-max-size", def.LogMaxSizeMB, "rotate the log file after this many megabytes")
	f.Int("log-max-backups", def.LogMaxBackups, "rotated log files to keep")
	f.Duration("stats-interval", def.StatsInterval, "how often to log statistics")
	f.String("status-addr", "", "listen address for health, metrics and reload (disabled when empty)")
	f.Bool("watch-routes", false, "reload the routing file when it changes")
	f.String("ca-file", "", "PEM CA bundle for wss:// servers")
	f.Bool("insecure-skip-verify", false, "skip TLS certificate verification")
	f.String("client-cert", "", "PEM client certificate for mutual TLS")
	f.String("client-key", "", "PEM key for --client-cert")

	bind(runCmd, "server", config.EnvServerURL)
	bind(runCmd, "token", config.EnvToken)
	bind(runCmd, "routes", config.EnvRoutingPath)
	bind(runCmd, "log-level", config.EnvLogLevel)
	bind(runCmd, "log-dir", config.EnvLogDir)
	bind(runCmd, "log-max-size", config.EnvLogMaxSizeMB)
	bind(runCmd, "log-max-backups", config.EnvLogMaxBackups)
	bind(runCmd, "stats-interval", config.EnvStatsInterval)
	bind(runCmd, "status-addr", config.EnvStatusAddr)
	bind(runCmd, "watch-routes", config.EnvRoutingWatch)
	bind(runCmd, "ca-file", config.EnvCAFile)
	bind(runCmd, "insecure-skip-verify", config.EnvInsecureSkipVerify)
	bind(runCmd, "client-cert", config.EnvClientCert)
	bind(runCmd, "client-key", config.EnvClientKey)

	rootCmd.AddCommand(runCmd)
}

// bind makes the flag and the environment variable feed the same key. A flag
// given on the command line beats the environment.
func bind(cmd *cobra.Command, flag, env string) {
	_ = viper.BindPFlag(env, cmd.Flags().Lookup(flag))
	_ = viper.BindEnv(env, env)
}

func runtimeConfig() config.Runtime {
	return config.Runtime{
		ServerURL:          viper.GetString(config.EnvServerURL),
		Token:              viper.GetString(config.EnvToken),
		RoutingPath:        viper.GetString(config.EnvRoutingPath),
		LogLevel:           viper.GetString(config.EnvLogLevel),
		LogDir:             viper.GetString(config.EnvLogDir),
		LogMaxSizeMB:       viper.GetInt(config.EnvLogMaxSizeMB),
		LogMaxBackups:      viper.GetInt(config.EnvLogMaxBackups),
		StatsInterval:      viper.GetDuration(config.EnvStatsInterval),
		StatusAddr:         viper.GetString(config.EnvStatusAddr),
		RoutingWatch:       viper.GetBool(config.EnvRoutingWatch),
		CAFile:             viper.GetString(config.EnvCAFile),
		InsecureSkipVerify: viper.GetBool(config.EnvInsecureSkipVerify),
		ClientCertFile:     viper.GetString(config.EnvClientCert),
		ClientKeyFile:      viper.GetString(config.EnvClientKey),
	}
}

// newLogger writes every line to stdout and to the daily log file.
func newLogger(rt config.Runtime) (*util.Logger, *logfile.DailyWriter, error) {
	lvl, err := util.ParseLevel(rt.LogLevel)
	if err != nil {
		return nil, nil, err
	}
	file := logfile.NewDailyWriter(rt.LogDir, rt.LogMaxSizeMB, rt.LogMaxBackups)
	out := zapcore.NewMultiWriteSyncer(zapcore.Lock(os.Stdout), file)
	return util.NewLoggerTo("", out, zap.NewAtomicLevelAt(lvl)), file, nil
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Connect to the cloud server and relay messages until stopped",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt := runtimeConfig()
		log, file, err := newLogger(rt)
		if err != nil {
			return err
		}
		defer file.Close()
		defer func() { _ = log.Sync() }()

		svc, err := proxy.New(proxy.Config{Runtime: rt}, log)
		if err != nil {
			log.Errorf("%v", err)
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return svc.Run(ctx)
	},
}
