package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// DefaultListenPort is the port the receiver listens on unless told otherwise.
const DefaultListenPort = 9991

// Listen configures the listen command.
type Listen struct {
	Protocol Protocol `yaml:"transport"`
	Port     int      `yaml:"port"`

	LatencyMs         int  `yaml:"latency_ms"`
	TimestampDelivery bool `yaml:"timestamp_delivery"`
	BlockingReceive   bool `yaml:"blocking_receive"`

	VideoOut    string `yaml:"video_out"`
	AudioOut    string `yaml:"audio_out"`
	MetricsAddr string `yaml:"metrics"`

	Verbose bool `yaml:"verbose"`
}

// DefaultListen returns the settings used when neither flags nor a config
// file say otherwise.
func DefaultListen() *Listen {
	return &Listen{
		Protocol:          ProtoUDP,
		Port:              DefaultListenPort,
		LatencyMs:         120,
		TimestampDelivery: true,
		BlockingReceive:   true,
	}
}

// Validate ...
func (c *Listen) Validate() []error {
	errs := checkProtocol(nil, "--transport", c.Protocol)
	errs = checkPort(errs, "--port", c.Port, true)
	if c.LatencyMs < 0 {
		errs = append(errs, fmt.Errorf("'--latency' must not be negative"))
	}
	if c.VideoOut != "" && c.VideoOut == c.AudioOut {
		errs = append(errs, fmt.Errorf("'--video-out' and '--audio-out' must differ"))
	}

	return errs
}

// LoadFile decodes the YAML file at path over c. Keys missing from the file
// keep their current values, unknown keys are an error.
func (c *Listen) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("os.ReadFile(%s): %w", path, err)
	}
	if err := c.decode(bytes.NewReader(data)); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}

func (c *Listen) decode(r io.Reader) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}
