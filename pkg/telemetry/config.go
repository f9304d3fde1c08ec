// Package telemetry configures OpenTelemetry tracing for trace-pprof.
package telemetry

import (
	"os"
	"strings"
)

// Config holds OpenTelemetry settings. It is embedded in the application
// configuration under the "telemetry" key; standard OTEL_* environment
// variables override file values through ApplyEnv.
type Config struct {
	Enabled        bool              `mapstructure:"enabled"`
	ServiceName    string            `mapstructure:"service_name"`
	ServiceVersion string            `mapstructure:"service_version"`
	Endpoint       string            `mapstructure:"endpoint"`
	Protocol       string            `mapstructure:"protocol"` // grpc or http/protobuf
	Headers        map[string]string `mapstructure:"headers"`
	Insecure       bool              `mapstructure:"insecure"`
	Sampler        string            `mapstructure:"sampler"`
	SamplerArg     string            `mapstructure:"sampler_arg"`
	ResourceAttrs  map[string]string `mapstructure:"resource_attributes"`
}

// DefaultConfig returns tracing disabled with gRPC export.
func DefaultConfig() Config {
	return Config{
		ServiceName:    "trace-pprof",
		ServiceVersion: "unknown",
		Protocol:       "grpc",
	}
}

// ApplyEnv overlays the OTEL_* environment variables that are set onto cfg.
func ApplyEnv(cfg Config) Config {
	if v, ok := os.LookupEnv("OTEL_ENABLED"); ok {
		cfg.Enabled = strings.EqualFold(v, "true")
	}
	setIfPresent(&cfg.ServiceName, "OTEL_SERVICE_NAME")
	setIfPresent(&cfg.ServiceVersion, "OTEL_SERVICE_VERSION")
	setIfPresent(&cfg.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setIfPresent(&cfg.Protocol, "OTEL_EXPORTER_OTLP_PROTOCOL")
	setIfPresent(&cfg.Sampler, "OTEL_TRACES_SAMPLER")
	setIfPresent(&cfg.SamplerArg, "OTEL_TRACES_SAMPLER_ARG")
	if v, ok := os.LookupEnv("OTEL_EXPORTER_OTLP_INSECURE"); ok {
		cfg.Insecure = strings.EqualFold(v, "true")
	}
	if v := os.Getenv("OTEL_EXPORTER_OTLP_HEADERS"); v != "" {
		cfg.Headers = mergePairs(cfg.Headers, parseKeyValuePairs(v))
	}
	if v := os.Getenv("OTEL_RESOURCE_ATTRIBUTES"); v != "" {
		cfg.ResourceAttrs = mergePairs(cfg.ResourceAttrs, parseKeyValuePairs(v))
	}
	return cfg
}

func setIfPresent(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func mergePairs(base, over map[string]string) map[string]string {
	out := make(map[string]string, len(base)+len(over))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range over {
		out[k] = v
	}
	return out
}

// parseKeyValuePairs parses "k1=v1,k2=v2". Values may contain '='.
func parseKeyValuePairs(s string) map[string]string {
	result := make(map[string]string)
	for _, pair := range strings.Split(s, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(pair), "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			continue
		}
		result[key] = strings.TrimSpace(value)
	}
	return result
}
