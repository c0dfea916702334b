package telemetry

import (
	"fmt"
	"net"
	"strings"
	"time"
)

// Export protocols.
const (
	ProtocolGRPC = "grpc"
	ProtocolHTTP = "http/protobuf"
)

// Config holds telemetry configuration.
type Config struct {
	Enabled        bool   `json:"enabled" koanf:"enabled"`
	Endpoint       string `json:"endpoint" koanf:"endpoint"`
	Protocol       string `json:"protocol" koanf:"protocol"`
	ServiceName    string `json:"service_name" koanf:"service_name"`
	ServiceVersion string `json:"service_version" koanf:"service_version"`
	// Insecure disables TLS. Only local endpoints may be insecure.
	Insecure      bool `json:"insecure" koanf:"insecure"`
	TLSSkipVerify bool `json:"tls_skip_verify" koanf:"tls_skip_verify"`

	SampleRate      float64       `json:"sample_rate" koanf:"sample_rate"`
	Metrics         bool          `json:"metrics" koanf:"metrics"`
	ExportInterval  time.Duration `json:"export_interval" koanf:"export_interval"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout" koanf:"shutdown_timeout"`
}

// NewDefaultConfig returns a disabled configuration pointing at a local
// collector.
func NewDefaultConfig() *Config {
	return &Config{
		Enabled:         false,
		Endpoint:        "localhost:4317",
		Protocol:        ProtocolGRPC,
		ServiceName:     "ctxpack",
		ServiceVersion:  "dev",
		Insecure:        true,
		SampleRate:      1.0,
		Metrics:         true,
		ExportInterval:  15 * time.Second,
		ShutdownTimeout: 5 * time.Second,
	}
}

// Validate checks the configuration. A disabled config is always valid.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	switch {
	case c.Endpoint == "":
		return fmt.Errorf("endpoint is required when telemetry is enabled")
	case c.Protocol != "" && c.Protocol != ProtocolGRPC && c.Protocol != ProtocolHTTP:
		return fmt.Errorf("protocol must be %q or %q, got %q", ProtocolGRPC, ProtocolHTTP, c.Protocol)
	case c.ServiceName == "":
		return fmt.Errorf("service_name is required when telemetry is enabled")
	case c.Insecure && !c.isLocalEndpoint():
		return fmt.Errorf("insecure export is only allowed to a local endpoint, got %q", c.Endpoint)
	case c.SampleRate < 0 || c.SampleRate > 1:
		return fmt.Errorf("sample_rate must be between 0 and 1, got %v", c.SampleRate)
	case c.Metrics && c.ExportInterval <= 0:
		return fmt.Errorf("export_interval must be positive when metrics are enabled")
	case c.ShutdownTimeout <= 0:
		return fmt.Errorf("shutdown_timeout must be positive")
	}
	return nil
}

func (c *Config) isLocalEndpoint() bool {
	host := stripScheme(c.Endpoint)
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.Trim(host, "[]")
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// stripScheme removes http:// or https://; the exporters want host:port.
func stripScheme(endpoint string) string {
	endpoint = strings.TrimPrefix(endpoint, "https://")
	return strings.TrimPrefix(endpoint, "http://")
}
