package config

import (
	"os"
	"testing"

	"github.com/spf13/cobra"
)

func newTestCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().String("transport", "", "")
	cmd.Flags().Int("rx-queues", 0, "")
	cmd.Flags().Int("tx-queues", 0, "")
	cmd.Flags().Int("n-superbufs", 0, "")
	cmd.Flags().Int("duration", 0, "")
	cmd.Flags().Int("rate-pps", 0, "")
	cmd.Flags().Int("packet-size", 0, "")
	cmd.Flags().String("log-level", "", "")
	cmd.Flags().String("metrics-addr", "", "")
	cmd.Flags().Int("evq-clear-stride", 0, "")
	cmd.Flags().String("config", "", "")
	return cmd
}

func TestNewConfigDefaults(t *testing.T) {
	c := NewConfig()
	if c.Transport != string(TransportEFCT) {
		t.Errorf("expected default transport %q, got %s", TransportEFCT, c.Transport)
	}
	if c.NRXQueues != 1 || c.NTXQueues != 1 {
		t.Errorf("expected 1 rx and 1 tx queue by default, got rx=%d tx=%d", c.NRXQueues, c.NTXQueues)
	}
	if c.TXDescriptorRingSize != 512 {
		t.Errorf("expected default tx ring size 512, got %d", c.TXDescriptorRingSize)
	}
	if c.LogLevel != "info" {
		t.Errorf("expected default log level info, got %s", c.LogLevel)
	}
}

func TestLoadAppliesEnvironmentOverrides(t *testing.T) {
	os.Setenv("VICORE_TRANSPORT", "afxdp")
	os.Setenv("VICORE_RX_QUEUES", "3")
	os.Setenv("VICORE_LOG_LEVEL", "debug")
	defer func() {
		os.Unsetenv("VICORE_TRANSPORT")
		os.Unsetenv("VICORE_RX_QUEUES")
		os.Unsetenv("VICORE_LOG_LEVEL")
	}()

	cfg, err := Load(newTestCmd())
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Transport != "afxdp" {
		t.Errorf("expected transport afxdp, got %s", cfg.Transport)
	}
	if cfg.NRXQueues != 3 {
		t.Errorf("expected 3 rx queues, got %d", cfg.NRXQueues)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("expected log level debug, got %s", cfg.LogLevel)
	}
}

func TestLoadHonorsUnprefixedClearStrideEnvVar(t *testing.T) {
	os.Setenv("EF_VI_EVQ_CLEAR_STRIDE", "128")
	defer os.Unsetenv("EF_VI_EVQ_CLEAR_STRIDE")

	cfg, err := Load(newTestCmd())
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.EVQClearStride != 128 {
		t.Errorf("expected evq_clear_stride 128 from EF_VI_EVQ_CLEAR_STRIDE, got %d", cfg.EVQClearStride)
	}
}

func TestLoadPrefersNamespacedClearStrideOverLegacyVar(t *testing.T) {
	os.Setenv("VICORE_EVQ_CLEAR_STRIDE", "256")
	os.Setenv("EF_VI_EVQ_CLEAR_STRIDE", "128")
	defer func() {
		os.Unsetenv("VICORE_EVQ_CLEAR_STRIDE")
		os.Unsetenv("EF_VI_EVQ_CLEAR_STRIDE")
	}()

	cfg, err := Load(newTestCmd())
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.EVQClearStride != 256 {
		t.Errorf("expected namespaced var to win, got %d", cfg.EVQClearStride)
	}
}

func TestLoadReadsConfigFile(t *testing.T) {
	content := "transport: afxdp\nrx_queues: 2\nlog_level: warn\n"
	tmp, err := os.CreateTemp("", "vicore_config_test_*.yaml")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.WriteString(content); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}
	tmp.Close()

	cmd := newTestCmd()
	if err := cmd.Flags().Set("config", tmp.Name()); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(cmd)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Transport != "afxdp" || cfg.NRXQueues != 2 || cfg.LogLevel != "warn" {
		t.Fatalf("unexpected config from file: %+v", cfg)
	}
}

func TestValidateRejectsUnknownTransport(t *testing.T) {
	c := NewConfig()
	c.Transport = "rdma"
	if err := c.Validate(); err == nil {
		t.Fatal("expected error for unknown transport")
	}
}

func TestValidateRejectsNonPowerOfTwoRingSize(t *testing.T) {
	c := NewConfig()
	c.TXDescriptorRingSize = 100
	if err := c.Validate(); err == nil {
		t.Fatal("expected error for non-power-of-two tx_ring_size")
	}
}

func TestValidateRejectsBadLogLevel(t *testing.T) {
	c := NewConfig()
	c.LogLevel = "verbose"
	if err := c.Validate(); err == nil {
		t.Fatal("expected error for invalid log level")
	}
}
