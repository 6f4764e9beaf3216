// Copyright 2024 Matt Schultz <schultz@sent.com>. All rights reserved.
// Use of this source code is governed by an ISC license that can be found in the LICENSE file.

package rcon

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config contains settings to control [Session] instances. The YAML keys match the field tags so a
// Config can be loaded with [LoadConfig].
type Config struct {
	// Host is the RCON server's host name or IP address.
	Host string `yaml:"host"`

	// Port is the RCON server's TCP port.
	Port uint16 `yaml:"port"`

	// Password is the RCON password. It is never logged.
	Password string `yaml:"password"`

	// Timeout limits connecting and each frame read or write. A value of zero will inform the
	// session to use the [DefaultTimeout]. In YAML it is written as a duration string, e.g. "10s".
	Timeout time.Duration `yaml:"timeout"`

	// Network is the network passed to the dialer. The default is "tcp".
	Network string `yaml:"network"`

	// MultiPacket enables reassembly of responses split over several frames. Each command is
	// followed by an empty sentinel frame, and reply bodies are concatenated until the server
	// mirrors the sentinel back. Only enable this for servers that answer the sentinel.
	MultiPacket bool `yaml:"multi_packet"`

	// StrictAuthID rejects an auth response whose id does not match the request id.
	StrictAuthID bool `yaml:"strict_auth_id"`

	// StartingSeq is the initial value for a session's packet ID sequence. Values less than one are
	// ignored and the sequence starts at one.
	StartingSeq int32 `yaml:"starting_seq"`

	// Dial, when set, replaces the default [net.Dialer]. It can supply a TLS connection, a Unix
	// socket, or any other [net.Conn].
	Dial DialFunc `yaml:"-"`

	// Logger receives log entries from a session.
	Logger *slog.Logger `yaml:"-"`

	// LogOutboundAuthPackets is a flag that must be explicitly enabled when the session is created.
	// This field enables debug logging to include outbound authorization request packets, exposing
	// server passwords in plaintext. When this field is false (the default value,) outbound
	// authorization packets will be sanitized to hide both the password text and packet length.
	//
	// WARNING: Only enable this flag if you are aware of the implications and are willing to accept
	// the risks!
	LogOutboundAuthPackets bool `yaml:"-"`
}

// ParseConfig decodes a YAML document into a [Config] and validates it.
func ParseConfig(data []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("rcon: parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadConfig reads and decodes the YAML file at path.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("rcon: load config: %w", err)
	}
	return ParseConfig(data)
}

// Validate reports every problem that would prevent a session from connecting.
func (c Config) Validate() error {
	var errs []error
	if c.Host == "" {
		errs = append(errs, errors.New("rcon: config: host is required"))
	}
	if c.Port == 0 {
		errs = append(errs, errors.New("rcon: config: port is required"))
	}
	if c.Timeout < 0 {
		errs = append(errs, fmt.Errorf("rcon: config: negative timeout %s", c.Timeout))
	}
	return errors.Join(errs...)
}

// Addr returns the host and port joined into a dialable address.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(int(c.Port)))
}

// LogValue implements [slog.LogValuer]. The password is never included.
func (c Config) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("addr", c.Addr()),
		slog.Duration("timeout", c.Timeout),
		slog.Bool("multi_packet", c.MultiPacket),
		slog.Bool("password_set", c.Password != ""),
	)
}
