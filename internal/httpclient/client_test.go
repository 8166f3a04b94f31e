package httpclient

import (
	"testing"
	"time"
)

func TestDefaultClientConfig(t *testing.T) {
	cfg := DefaultClientConfig()
	if cfg.Timeout != 30*time.Second {
		t.Errorf("Timeout = %v, want 30s", cfg.Timeout)
	}
	if cfg.MaxRetries != 3 {
		t.Errorf("MaxRetries = %d, want 3", cfg.MaxRetries)
	}
	if cfg.DisableSSLVerification {
		t.Error("DisableSSLVerification should default to false")
	}
	if cfg.MaxIdleConns != 10 {
		t.Errorf("MaxIdleConns = %d, want 10", cfg.MaxIdleConns)
	}
}

func TestNewClient(t *testing.T) {
	cfg := ClientConfig{
		Timeout:               30 * time.Second,
		MaxRetries:            2,
		MaxIdleConns:          5,
		IdleConnTimeout:       60 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ResponseHeaderTimeout: 5 * time.Second,
	}
	client := NewClient(cfg)
	if client == nil {
		t.Fatal("expected client to be created")
	}
	if client.Timeout != cfg.Timeout {
		t.Errorf("Timeout = %v, want %v", client.Timeout, cfg.Timeout)
	}
	if client.Transport == nil {
		t.Error("expected transport to be configured")
	}
}

func TestNewClientWithTimeout(t *testing.T) {
	timeout := 15 * time.Second
	client := NewClientWithTimeout(timeout)
	if client == nil {
		t.Fatal("expected client to be created")
	}
	if client.Timeout != timeout {
		t.Errorf("Timeout = %v, want %v", client.Timeout, timeout)
	}
}
