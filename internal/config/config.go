// Package config loads a node's TOML configuration on top of DefaultConfig.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/danmuck/glowlink/internal/protocol/identity"
)

const (
	MediumUDP = "udp"
	MediumHub = "hub"
)

var ErrInvalid = errors.New("config: invalid")

type MediumConfig struct {
	Kind      string
	Group     string
	Interface string
	// Loss is the per-delivery drop probability of the hub medium.
	Loss float64
	// SimulatedPeers is how many extra in-process nodes join the hub.
	SimulatedPeers int
}

type AdminConfig struct {
	Listen      string
	CORSOrigins []string
}

type Config struct {
	Name              string
	Address           identity.Address
	HeartbeatInterval time.Duration
	PeerTimeout       time.Duration
	MaxPeers          int
	QueueCapacity     int
	LoopInterval      time.Duration
	AttentionTicks    int
	EchoHeartbeats    bool
	InitialMode       string
	LogLevel          string
	Medium            MediumConfig
	Admin             AdminConfig
}

func DefaultConfig() Config {
	return Config{
		Address:           identity.Address{0x02, 0x00, 0x00, 0x00, 0x00, 0x01},
		HeartbeatInterval: 2 * time.Second,
		PeerTimeout:       10 * time.Second,
		MaxPeers:          32,
		QueueCapacity:     64,
		LoopInterval:      20 * time.Millisecond,
		AttentionTicks:    50,
		Medium: MediumConfig{
			Kind:  MediumUDP,
			Group: "239.0.71.71:4711",
		},
		Admin: AdminConfig{Listen: "127.0.0.1:7070"},
	}
}

type fileMedium struct {
	Kind           string  `toml:"kind"`
	Group          string  `toml:"group"`
	Interface      string  `toml:"interface"`
	Loss           float64 `toml:"loss"`
	SimulatedPeers int     `toml:"simulated_peers"`
}

type fileAdmin struct {
	Listen      string   `toml:"listen"`
	CORSOrigins []string `toml:"cors_origins"`
}

type fileConfig struct {
	Name              string     `toml:"name"`
	Address           string     `toml:"address"`
	HeartbeatInterval string     `toml:"heartbeat_interval"`
	PeerTimeout       string     `toml:"peer_timeout"`
	MaxPeers          int        `toml:"max_peers"`
	QueueCapacity     int        `toml:"queue_capacity"`
	LoopInterval      string     `toml:"loop_interval"`
	AttentionTicks    int        `toml:"attention_ticks"`
	EchoHeartbeats    bool       `toml:"echo_heartbeats"`
	InitialMode       string     `toml:"initial_mode"`
	LogLevel          string     `toml:"log_level"`
	Medium            fileMedium `toml:"medium"`
	Admin             fileAdmin  `toml:"admin"`
}

// Load reads path and overrides only the keys it defines.
func Load(path string) (Config, error) {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load glowlink config: %w", err)
	}
	return finish(raw, meta)
}

// Parse is Load for an in-memory document.
func Parse(doc string) (Config, error) {
	var raw fileConfig
	meta, err := toml.Decode(doc, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("parse glowlink config: %w", err)
	}
	return finish(raw, meta)
}

func finish(raw fileConfig, meta toml.MetaData) (Config, error) {
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("%w: unknown key %q", ErrInvalid, undecoded[0].String())
	}
	cfg, err := apply(DefaultConfig(), raw, meta)
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func apply(cfg Config, raw fileConfig, meta toml.MetaData) (Config, error) {
	if meta.IsDefined("name") {
		cfg.Name = strings.TrimSpace(raw.Name)
	}
	if meta.IsDefined("address") {
		addr, err := identity.ParseAddress(raw.Address)
		if err != nil {
			return Config{}, fmt.Errorf("parse address: %w", err)
		}
		cfg.Address = addr
	}

	durations := []struct {
		key string
		raw string
		out *time.Duration
	}{
		{"heartbeat_interval", raw.HeartbeatInterval, &cfg.HeartbeatInterval},
		{"peer_timeout", raw.PeerTimeout, &cfg.PeerTimeout},
		{"loop_interval", raw.LoopInterval, &cfg.LoopInterval},
	}
	for _, d := range durations {
		if !meta.IsDefined(d.key) {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", d.key, err)
		}
		*d.out = v
	}

	if meta.IsDefined("max_peers") {
		cfg.MaxPeers = raw.MaxPeers
	}
	if meta.IsDefined("queue_capacity") {
		cfg.QueueCapacity = raw.QueueCapacity
	}
	if meta.IsDefined("attention_ticks") {
		cfg.AttentionTicks = raw.AttentionTicks
	}
	if meta.IsDefined("echo_heartbeats") {
		cfg.EchoHeartbeats = raw.EchoHeartbeats
	}
	if meta.IsDefined("initial_mode") {
		cfg.InitialMode = strings.TrimSpace(raw.InitialMode)
	}
	if meta.IsDefined("log_level") {
		cfg.LogLevel = strings.TrimSpace(raw.LogLevel)
	}

	if meta.IsDefined("medium", "kind") {
		cfg.Medium.Kind = strings.ToLower(strings.TrimSpace(raw.Medium.Kind))
	}
	if meta.IsDefined("medium", "group") {
		cfg.Medium.Group = strings.TrimSpace(raw.Medium.Group)
	}
	if meta.IsDefined("medium", "interface") {
		cfg.Medium.Interface = strings.TrimSpace(raw.Medium.Interface)
	}
	if meta.IsDefined("medium", "loss") {
		cfg.Medium.Loss = raw.Medium.Loss
	}
	if meta.IsDefined("medium", "simulated_peers") {
		cfg.Medium.SimulatedPeers = raw.Medium.SimulatedPeers
	}
	if meta.IsDefined("admin", "listen") {
		cfg.Admin.Listen = strings.TrimSpace(raw.Admin.Listen)
	}
	if meta.IsDefined("admin", "cors_origins") {
		cfg.Admin.CORSOrigins = raw.Admin.CORSOrigins
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.Address.IsZero() {
		return fmt.Errorf("%w: address is required", ErrInvalid)
	}
	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("%w: heartbeat_interval must be positive", ErrInvalid)
	}
	if c.PeerTimeout <= c.HeartbeatInterval {
		return fmt.Errorf("%w: peer_timeout %s must exceed heartbeat_interval %s",
			ErrInvalid, c.PeerTimeout, c.HeartbeatInterval)
	}
	if c.LoopInterval <= 0 {
		return fmt.Errorf("%w: loop_interval must be positive", ErrInvalid)
	}
	if c.MaxPeers <= 0 {
		return fmt.Errorf("%w: max_peers must be positive", ErrInvalid)
	}
	if c.QueueCapacity <= 0 {
		return fmt.Errorf("%w: queue_capacity must be positive", ErrInvalid)
	}
	if c.AttentionTicks < 0 {
		return fmt.Errorf("%w: attention_ticks must not be negative", ErrInvalid)
	}
	switch c.Medium.Kind {
	case MediumUDP:
		if strings.TrimSpace(c.Medium.Group) == "" {
			return fmt.Errorf("%w: medium.group is required for udp", ErrInvalid)
		}
	case MediumHub:
		if c.Medium.Loss < 0 || c.Medium.Loss >= 1 {
			return fmt.Errorf("%w: medium.loss must be in [0,1)", ErrInvalid)
		}
		if c.Medium.SimulatedPeers < 0 {
			return fmt.Errorf("%w: medium.simulated_peers must not be negative", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: unknown medium.kind %q", ErrInvalid, c.Medium.Kind)
	}
	return nil
}

// NodeName is Name, or the address fingerprint when no name is set.
func (c Config) NodeName() string {
	if c.Name != "" {
		return c.Name
	}
	return identity.Fingerprint(c.Address)
}
