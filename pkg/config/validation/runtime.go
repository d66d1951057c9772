package validation

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/samber/lo"
	"go.uber.org/multierr"

	"github.com/DragonSecurity/gwbridge/pkg/config"
)

var (
	SupportedLogLevels     = []string{"DEBUG", "INFO", "WARN", "WARNING", "ERROR", "CRITICAL"}
	SupportedServerSchemes = []string{"ws", "wss", "http", "https"}
)

// Warning lists settings that are accepted but probably not intended.
type Warning []string

func AppendError(err error, errs ...error) error {
	return multierr.Append(err, multierr.Combine(errs...))
}

// ValidateRuntime checks c before anything is started. Missing required
// values are reported with the variable that should be set.
func ValidateRuntime(c *config.Runtime) (Warning, error) {
	var (
		warnings Warning
		errs     error
	)

	missing := lo.Filter([]lo.Tuple2[string, string]{
		lo.T2(config.EnvServerURL, c.ServerURL),
		lo.T2(config.EnvToken, c.Token),
	}, func(kv lo.Tuple2[string, string], _ int) bool { return strings.TrimSpace(kv.B) == "" })
	for _, kv := range missing {
		errs = AppendError(errs, fmt.Errorf("%s is not set (export it or add it to .env)", kv.A))
	}

	if c.ServerURL != "" {
		u, err := url.Parse(c.ServerURL)
		switch {
		case err != nil:
			errs = AppendError(errs, fmt.Errorf("invalid %s: %w", config.EnvServerURL, err))
		case !lo.Contains(SupportedServerSchemes, u.Scheme):
			errs = AppendError(errs, fmt.Errorf("invalid %s scheme %q, optional values are %v", config.EnvServerURL, u.Scheme, SupportedServerSchemes))
		case u.Host == "":
			errs = AppendError(errs, fmt.Errorf("invalid %s: missing host", config.EnvServerURL))
		case u.Scheme == "ws" || u.Scheme == "http":
			warnings = append(warnings, "the access token is sent unencrypted over "+u.Scheme)
		}
	}

	if c.RoutingPath == "" {
		errs = AppendError(errs, fmt.Errorf("%s must not be empty", config.EnvRoutingPath))
	}
	if !lo.Contains(SupportedLogLevels, strings.ToUpper(c.LogLevel)) {
		errs = AppendError(errs, fmt.Errorf("invalid %s %q, optional values are %v", config.EnvLogLevel, c.LogLevel, SupportedLogLevels))
	}
	if c.LogMaxSizeMB <= 0 {
		errs = AppendError(errs, fmt.Errorf("%s must be positive", config.EnvLogMaxSizeMB))
	}
	if c.LogMaxBackups < 0 {
		errs = AppendError(errs, fmt.Errorf("%s must not be negative", config.EnvLogMaxBackups))
	}
	if c.StatsInterval <= 0 {
		errs = AppendError(errs, fmt.Errorf("%s must be positive", config.EnvStatsInterval))
	}
	if (c.ClientCertFile == "") != (c.ClientKeyFile == "") {
		errs = AppendError(errs, fmt.Errorf("%s and %s must be set together", config.EnvClientCert, config.EnvClientKey))
	}
	if c.InsecureSkipVerify {
		warnings = append(warnings, "TLS certificate verification is disabled")
	}
	return warnings, errs
}

// Errors splits an error returned by ValidateRuntime into its parts.
func Errors(err error) []error { return multierr.Errors(err) }
