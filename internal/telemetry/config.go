package telemetry

import (
	"fmt"
	"net/url"
)

const (
	defaultServiceName = "nutsub"
	defaultSampleRatio = 1.0
)

// Config holds the OTLP tracing configuration.
type Config struct {
	// Endpoint is the OTLP/HTTP collector URL, e.g. http://localhost:4318.
	Endpoint string `yaml:"endpoint"`

	// Headers are sent with every export request (e.g. an API key).
	Headers map[string]string `yaml:"headers"`

	// ServiceName is reported as the service.name resource attribute.
	ServiceName string `yaml:"service_name"`

	// SampleRatio is the fraction of root traces sampled, in [0, 1].
	SampleRatio *float64 `yaml:"sample_ratio"`
}

func (c *Config) defaults() {
	if c.ServiceName == "" {
		c.ServiceName = defaultServiceName
	}
	if c.SampleRatio == nil {
		r := defaultSampleRatio
		c.SampleRatio = &r
	}
}

func (c *Config) validate() error {
	if c.Endpoint == "" {
		return fmt.Errorf("telemetry: endpoint is required")
	}
	u, err := url.Parse(c.Endpoint)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("telemetry: endpoint must be an http(s) URL, got %q", c.Endpoint)
	}
	if r := *c.SampleRatio; r < 0 || r > 1 {
		return fmt.Errorf("telemetry: sample_ratio must be within [0, 1], got %v", r)
	}
	return nil
}
