// Package config binds the operator's command-line flags and environment
// variables into a single Config struct, following
// elastic-cloud-on-k8s's pflag+viper idiom (hack/operatorhub/cmd/root.go).
package config

import (
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds every operator-wide setting. Defaults match the external
// interfaces the core dispatches against: REST admin API on 1234, xDS gRPC
// on 9090.
type Config struct {
	// RestPort is the proxy admin API's port on every Pod's podIP
	// (proxyclient.defaultPort mirrors its default value).
	RestPort int
	// RestRetryDelay is the fixed delay the REST Dispatcher waits before
	// retrying a transient transport failure.
	RestRetryDelay time.Duration
	// XDSListenAddr is the address the Delta LDS/CDS gRPC server binds.
	XDSListenAddr string
	// ConversionFile locates the schema-downgrade YAML multi-document
	// stream ("conv.yml").
	ConversionFile string
	// MetricsListenAddr serves the Prometheus /metrics endpoint.
	MetricsListenAddr string
	// LogLevel is the log level name ("debug", "info", "warn", "error")
	// the operator reports at startup. It is not applied to any
	// istio.io/pkg/log scope; scope levels stay at their defaults.
	LogLevel string
}

const envPrefix = "L7MP_OPERATOR"

// BindFlags registers every Config field onto fs (typically a command's
// persistent flag set) and wires viper's environment-variable overlay on
// top, matching elastic-cloud-on-k8s's `viper.SetEnvKeyReplacer` +
// `BindPFlags` sequence.
func BindFlags(fs *pflag.FlagSet) {
	fs.Int("rest-port", 1234, "Proxy admin API port on each Pod's podIP (L7MP_OPERATOR_REST_PORT)")
	fs.Duration("rest-retry-delay", 5*time.Second, "Fixed retry delay on REST transport failure (L7MP_OPERATOR_REST_RETRY_DELAY)")
	fs.String("xds-listen-addr", ":9090", "Delta LDS/CDS gRPC listen address (L7MP_OPERATOR_XDS_LISTEN_ADDR)")
	fs.String("conversion-file", "conv.yml", "Schema downgrade annotation file (L7MP_OPERATOR_CONVERSION_FILE)")
	fs.String("metrics-listen-addr", ":9094", "Prometheus metrics listen address (L7MP_OPERATOR_METRICS_LISTEN_ADDR)")
	fs.String("log-level", "info", "Log level reported at startup; not applied to log scopes (L7MP_OPERATOR_LOG_LEVEL)")

	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	_ = viper.BindPFlags(fs)
}

// Load reads back every bound flag/env value into a Config.
func Load() *Config {
	return &Config{
		RestPort:          viper.GetInt("rest-port"),
		RestRetryDelay:    viper.GetDuration("rest-retry-delay"),
		XDSListenAddr:     viper.GetString("xds-listen-addr"),
		ConversionFile:    viper.GetString("conversion-file"),
		MetricsListenAddr: viper.GetString("metrics-listen-addr"),
		LogLevel:          viper.GetString("log-level"),
	}
}
