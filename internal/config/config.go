// Package config handles configuration for the vi-bench CLI: ring sizing,
// queue counts, transport selection, and logging, loaded from flags,
// environment variables (VICORE_ prefixed), and an optional config file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Transport selects which transport engine a VI attaches to.
type Transport string

const (
	TransportEFCT  Transport = "efct"
	TransportAFXDP Transport = "afxdp"
)

// Config holds the settings needed to attach one or more simulated VIs and
// run the benchmark/diagnostic CLI against them.
type Config struct {
	Transport string `mapstructure:"transport"`

	NRXQueues          int `mapstructure:"rx_queues"`
	NTXQueues          int `mapstructure:"tx_queues"`
	NSuperbufs         int `mapstructure:"n_superbufs"`
	PacketsPerSuperbuf int `mapstructure:"packets_per_superbuf"`

	TXDescriptorRingSize int `mapstructure:"tx_ring_size"`
	CTPIOApertureBytes   int `mapstructure:"ctpio_aperture_bytes"`

	AFXDPFrameCount int `mapstructure:"afxdp_frame_count"`
	AFXDPFrameSize  int `mapstructure:"afxdp_frame_size"`

	DurationSeconds int `mapstructure:"duration_seconds"`
	RatePPS         int `mapstructure:"rate_pps"`
	PacketSize      int `mapstructure:"packet_size"`

	LogLevel   string `mapstructure:"log_level"`
	MetricsAddr string `mapstructure:"metrics_addr"`

	// EVQClearStride is EF_VI_EVQ_CLEAR_STRIDE: a number of event-ring
	// bytes, approximating a cache-line-sized batch. It is loaded and
	// validated here only; vi-bench passes it to no event queue.
	EVQClearStride int `mapstructure:"evq_clear_stride"`
}

// NewConfig returns a Config populated with defaults.
func NewConfig() *Config {
	return &Config{
		Transport:            string(TransportEFCT),
		NRXQueues:            1,
		NTXQueues:            1,
		NSuperbufs:           4,
		PacketsPerSuperbuf:   16,
		TXDescriptorRingSize: 512,
		CTPIOApertureBytes:   4096,
		AFXDPFrameCount:      1024,
		AFXDPFrameSize:       2048,
		DurationSeconds:      10,
		RatePPS:              0, // 0 = unthrottled
		PacketSize:           64,
		LogLevel:             "info",
		MetricsAddr:          ":9090",
		EVQClearStride:       defaultEVQClearStride(),
	}
}

// defaultEVQClearStride picks a default clear stride. The original derives
// this from NUMA topology; this core has no NUMA detection of its own, so
// it falls back to a fixed cache-line-sized stride (64 bytes == 8 events).
func defaultEVQClearStride() int { return 64 }

// Load builds a Config from cobra flags, VICORE_-prefixed environment
// variables, and an optional config file (--config).
func Load(cmd *cobra.Command) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if err := bindFlags(v, cmd); err != nil {
		return nil, fmt.Errorf("failed to bind flags: %w", err)
	}

	v.SetEnvPrefix("VICORE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if configFile, _ := cmd.Flags().GetString("config"); configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// EF_VI_EVQ_CLEAR_STRIDE is the one environment variable spec.md's
	// original carries outside the VICORE_ namespace; honor it directly if
	// no flag, namespaced variable or config file set it. (IsSet cannot
	// tell, since the registered default already counts as set.)
	flagSet := false
	if f := cmd.Flags().Lookup("evq-clear-stride"); f != nil {
		flagSet = f.Changed
	}
	_, namespaced := os.LookupEnv("VICORE_EVQ_CLEAR_STRIDE")
	if !flagSet && !namespaced && !v.InConfig("evq_clear_stride") {
		if raw := os.Getenv("EF_VI_EVQ_CLEAR_STRIDE"); raw != "" {
			if n, err := strconv.Atoi(raw); err == nil {
				v.Set("evq_clear_stride", n)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	d := NewConfig()
	v.SetDefault("transport", d.Transport)
	v.SetDefault("rx_queues", d.NRXQueues)
	v.SetDefault("tx_queues", d.NTXQueues)
	v.SetDefault("n_superbufs", d.NSuperbufs)
	v.SetDefault("packets_per_superbuf", d.PacketsPerSuperbuf)
	v.SetDefault("tx_ring_size", d.TXDescriptorRingSize)
	v.SetDefault("ctpio_aperture_bytes", d.CTPIOApertureBytes)
	v.SetDefault("afxdp_frame_count", d.AFXDPFrameCount)
	v.SetDefault("afxdp_frame_size", d.AFXDPFrameSize)
	v.SetDefault("duration_seconds", d.DurationSeconds)
	v.SetDefault("rate_pps", d.RatePPS)
	v.SetDefault("packet_size", d.PacketSize)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("metrics_addr", d.MetricsAddr)
	v.SetDefault("evq_clear_stride", d.EVQClearStride)
}

func bindFlags(v *viper.Viper, cmd *cobra.Command) error {
	flagBindings := map[string]string{
		"transport":         "transport",
		"rx-queues":         "rx_queues",
		"tx-queues":         "tx_queues",
		"n-superbufs":       "n_superbufs",
		"duration":          "duration_seconds",
		"rate-pps":          "rate_pps",
		"packet-size":       "packet_size",
		"log-level":         "log_level",
		"metrics-addr":      "metrics_addr",
		"evq-clear-stride":  "evq_clear_stride",
	}
	for flag, key := range flagBindings {
		if f := cmd.Flags().Lookup(flag); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return err
			}
		}
	}
	return nil
}

// Validate checks field ranges and cross-field constraints.
func (c *Config) Validate() error {
	switch Transport(c.Transport) {
	case TransportEFCT, TransportAFXDP:
	default:
		return fmt.Errorf("invalid transport: %s (must be %q or %q)", c.Transport, TransportEFCT, TransportAFXDP)
	}
	if c.NRXQueues < 0 || c.NRXQueues > 8 {
		return fmt.Errorf("rx_queues must be between 0 and 8, got %d", c.NRXQueues)
	}
	if c.NTXQueues < 0 {
		return fmt.Errorf("tx_queues cannot be negative")
	}
	if c.PacketsPerSuperbuf <= 0 {
		return fmt.Errorf("packets_per_superbuf must be positive")
	}
	if c.TXDescriptorRingSize <= 0 || c.TXDescriptorRingSize&(c.TXDescriptorRingSize-1) != 0 {
		return fmt.Errorf("tx_ring_size must be a power of two, got %d", c.TXDescriptorRingSize)
	}
	if c.CTPIOApertureBytes <= 0 || c.CTPIOApertureBytes&(c.CTPIOApertureBytes-1) != 0 {
		return fmt.Errorf("ctpio_aperture_bytes must be a power of two, got %d", c.CTPIOApertureBytes)
	}
	if c.AFXDPFrameCount <= 0 || c.AFXDPFrameCount&(c.AFXDPFrameCount-1) != 0 {
		return fmt.Errorf("afxdp_frame_count must be a power of two, got %d", c.AFXDPFrameCount)
	}
	if c.RatePPS < 0 {
		return fmt.Errorf("rate_pps cannot be negative")
	}
	if c.PacketSize <= 0 {
		return fmt.Errorf("packet_size must be positive")
	}
	if c.EVQClearStride < 0 {
		return fmt.Errorf("evq_clear_stride cannot be negative")
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log_level: %s", c.LogLevel)
	}
	return nil
}
