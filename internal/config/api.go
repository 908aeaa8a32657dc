package config

import (
	"encoding/hex"
	"fmt"
	"net"
	"time"
)

// APIConfig configures the host REST API that feeds the controller.
type APIConfig struct {
	Enabled           bool          `envconfig:"ENABLED" default:"false"`
	Port              string        `envconfig:"PORT" default:"8080"`
	Host              string        `envconfig:"HOST" default:"127.0.0.1"`
	ReadTimeout       time.Duration `envconfig:"READ_TIMEOUT" default:"10s"`
	WriteTimeout      time.Duration `envconfig:"WRITE_TIMEOUT" default:"10s"`
	ReadHeaderTimeout time.Duration `envconfig:"READ_HEADER_TIMEOUT" default:"5s"`
	IdleTimeout       time.Duration `envconfig:"IDLE_TIMEOUT" default:"60s"`
	MaxHeaderBytes    int           `envconfig:"MAX_HEADER_BYTES" default:"524288" validate:"min=1"` // 512KB

	// Security
	APIKeyHash string `envconfig:"API_KEY_HASH"`
	TLSEnabled bool   `envconfig:"TLS_ENABLED" default:"false"`
	TLSCert    string `envconfig:"TLS_CERT_FILE"`
	TLSKey     string `envconfig:"TLS_KEY_FILE"`
}

// Addr is the listen address.
func (c *APIConfig) Addr() string {
	return net.JoinHostPort(c.Host, c.Port)
}

// Validate performs validation on the APIConfig.
func (c *APIConfig) Validate(environment string) error {
	if err := validatePort(c.Port, "host api"); err != nil {
		return err
	}
	if err := validateHost(c.Host, "host api"); err != nil {
		return err
	}

	if c.APIKeyHash != "" {
		if err := validateSHA256Hash(c.APIKeyHash); err != nil {
			return fmt.Errorf("invalid API key hash: %w", err)
		}
	}

	if environment == EnvironmentProduction {
		if c.APIKeyHash == "" {
			return fmt.Errorf("API key hash is required in production environment")
		}
		// Plain HTTP is only tolerated on the loopback interface.
		if !c.TLSEnabled && !isLoopback(c.Host) {
			return fmt.Errorf("TLS must be enabled in production unless the host api listens on loopback")
		}
	}

	if c.TLSEnabled && (c.TLSCert == "" || c.TLSKey == "") {
		return fmt.Errorf("TLS enabled but cert or key file not specified")
	}

	return nil
}

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// validateSHA256Hash checks if the hash is a valid SHA-256 hex string (64 hex characters)
func validateSHA256Hash(hash string) error {
	if len(hash) != 64 {
		return fmt.Errorf("SHA-256 hash must be 64 characters, got %d", len(hash))
	}
	if _, err := hex.DecodeString(hash); err != nil {
		return fmt.Errorf("hash must be valid hexadecimal: %w", err)
	}
	return nil
}
