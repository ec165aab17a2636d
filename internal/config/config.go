// Package config loads GhostLink's startup configuration: client port,
// STUN servers, the web control-surface port, and the timing knobs used
// by the handshake and control loop (spec.md §3 "Configuration").
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/ghostlink/ghostlink/internal/crypto"
	"gopkg.in/yaml.v3"
)

// Config is read once at startup.
type Config struct {
	// ClientPort is the UDP port to bind locally. 0 means an
	// OS-assigned ephemeral port.
	ClientPort int `yaml:"client_port"`

	// StunServer and StunVerifier are the two independent RFC 5389
	// servers used for reflexive-address discovery and NAT
	// classification, respectively.
	StunServer   string `yaml:"stun_server"`
	StunVerifier string `yaml:"stun_verifier"`

	// WebPort is the HTTP control-surface listen port (internal/api).
	WebPort int `yaml:"web_port"`

	// HandshakeTimeoutSecs bounds one handshake attempt end to end.
	HandshakeTimeoutSecs int `yaml:"handshake_timeout_secs"`

	// PunchHoleSecs is the keep-alive re-resolution period while
	// Disconnected.
	PunchHoleSecs int `yaml:"punch_hole_secs"`

	// DisconnectTimeoutMS bounds the grace period the control loop
	// waits for a final Disconnect to complete before exiting on a
	// termination signal.
	DisconnectTimeoutMS int `yaml:"disconnect_timeout_ms"`

	// EncryptionMode selects the AEAD algorithm proposed in this
	// node's Syn frame: "chacha20poly1305" or "aes256gcm".
	EncryptionMode string `yaml:"encryption_mode"`

	// LogLevel and LogFormat configure internal/logging.
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// Defaults restored from the original prototype's configuration surface
// (original_source/src/config.rs), filled in wherever spec.md names a
// field without specifying its default.
const (
	DefaultStunServer           = "stun.l.google.com:19302"
	DefaultStunVerifier         = "stun1.l.google.com:19302"
	DefaultWebPort              = 7777
	DefaultHandshakeTimeoutSecs = 30
	DefaultPunchHoleSecs        = 15
	DefaultDisconnectTimeoutMS  = 500
	DefaultEncryptionMode       = "chacha20poly1305"
	DefaultLogLevel             = "info"
	DefaultLogFormat            = "text"
)

// Default returns a Config populated with the defaults above and an
// ephemeral client port.
func Default() Config {
	return Config{
		ClientPort:           0,
		StunServer:           DefaultStunServer,
		StunVerifier:         DefaultStunVerifier,
		WebPort:              DefaultWebPort,
		HandshakeTimeoutSecs: DefaultHandshakeTimeoutSecs,
		PunchHoleSecs:        DefaultPunchHoleSecs,
		DisconnectTimeoutMS:  DefaultDisconnectTimeoutMS,
		EncryptionMode:       DefaultEncryptionMode,
		LogLevel:             DefaultLogLevel,
		LogFormat:            DefaultLogFormat,
	}
}

// Load reads and parses a YAML configuration file, applying defaults for
// any field the file omits, then validates the result. An empty path
// returns the defaults unchanged.
func Load(path string) (Config, error) {
	if path == "" {
		cfg := Default()
		return cfg, cfg.Validate()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %q: %w", path, err)
	}

	loaded := Default()
	if err := yaml.Unmarshal(data, &loaded); err != nil {
		return Config{}, fmt.Errorf("parse config %q: %w", path, err)
	}

	if err := loaded.Validate(); err != nil {
		return Config{}, err
	}
	return loaded, nil
}

// Validate checks invariants Load cannot express through zero-value
// defaults alone: the encryption mode must be one crypto understands, and
// every port/duration-shaped field must be in range.
func (c Config) Validate() error {
	if _, err := crypto.ParseMode(c.EncryptionMode); err != nil {
		return fmt.Errorf("config: encryption_mode: %w", err)
	}
	if c.ClientPort < 0 || c.ClientPort > 65535 {
		return fmt.Errorf("config: client_port out of range: %d", c.ClientPort)
	}
	if c.WebPort <= 0 || c.WebPort > 65535 {
		return fmt.Errorf("config: web_port out of range: %d", c.WebPort)
	}
	if c.HandshakeTimeoutSecs <= 0 {
		return fmt.Errorf("config: handshake_timeout_secs must be positive")
	}
	if c.PunchHoleSecs <= 0 {
		return fmt.Errorf("config: punch_hole_secs must be positive")
	}
	if c.DisconnectTimeoutMS <= 0 {
		return fmt.Errorf("config: disconnect_timeout_ms must be positive")
	}
	return nil
}

// HandshakeTimeout returns HandshakeTimeoutSecs as a time.Duration.
func (c Config) HandshakeTimeout() time.Duration {
	return time.Duration(c.HandshakeTimeoutSecs) * time.Second
}

// PunchHoleInterval returns PunchHoleSecs as a time.Duration.
func (c Config) PunchHoleInterval() time.Duration {
	return time.Duration(c.PunchHoleSecs) * time.Second
}

// DisconnectTimeout returns DisconnectTimeoutMS as a time.Duration.
func (c Config) DisconnectTimeout() time.Duration {
	return time.Duration(c.DisconnectTimeoutMS) * time.Millisecond
}

// Mode parses EncryptionMode into a crypto.Mode. Since Load validates
// EncryptionMode, this is not expected to fail for a Config obtained from
// Load.
func (c Config) Mode() (crypto.Mode, error) {
	return crypto.ParseMode(c.EncryptionMode)
}
