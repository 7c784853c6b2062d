// Package config holds the runtime configuration of a replication node.
package config

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
)

// Role represents the node's role in a session (master or client).
type Role string

const (
	RoleMaster Role = "master"
	RoleClient Role = "client"
)

// Config is the full node configuration.
type Config struct {
	Role      Role      `toml:"role"`
	Protocol  Protocol  `toml:"protocol"`
	Transport Transport `toml:"transport"`
	Snapshot  Snapshot  `toml:"snapshot"`
	Log       Log       `toml:"log"`
}

// Protocol is the per-connection protocol configuration. It replaces the
// process-wide tables a stream would otherwise share.
type Protocol struct {
	ByteOrder    string   `toml:"byte_order"`     // "big" or "little"
	Version      int32    `toml:"version"`        // stream version written in headers
	MaxHandles   int32    `toml:"max_handles"`    // attach fails past this handle
	MaxHosts     int      `toml:"max_hosts"`      // width of the sync-bit table
	MaxFrameSize int      `toml:"max_frame_size"` // payload bytes packed per outbound frame
	SendUpdates  bool     `toml:"send_updates"`
	SendEvents   bool     `toml:"send_events"`
	DoSync       bool     `toml:"do_sync"`
	SyncTimeout  Duration `toml:"sync_timeout"` // upper bound on one barrier wait
	SendRetries  int      `toml:"send_retries"` // SendAll passes per flush

	// Sharing overrides the class-level distribution default by class
	// name. Values are lists of "shared", "global", "inactive".
	Sharing map[string][]string `toml:"sharing"`
}

// Transport configures how peers reach each other.
type Transport struct {
	Listen      string   `toml:"listen"`       // master HTTP listen address
	URL         string   `toml:"url"`          // client: master URL (ws:// or wss://)
	PIN         string   `toml:"pin"`          // shared secret checked on /ws and /signal
	DataChannel bool     `toml:"data_channel"` // client: upgrade to a WebRTC DataChannel
	ICEServers  []string `toml:"ice_servers"`
	InboxSize   int      `toml:"inbox_size"` // frames buffered by the arbitrator
	FrameRate   int      `toml:"frame_rate"` // logical frames per second
}

// Snapshot configures where saved streams go.
type Snapshot struct {
	Dir      string `toml:"dir"`
	Bucket   string `toml:"bucket"`
	Prefix   string `toml:"prefix"`
	Region   string `toml:"region"`
	Endpoint string `toml:"endpoint"`
}

// Log configures logging and stats output.
type Log struct {
	Debug         bool     `toml:"debug"`
	Trace         bool     `toml:"trace"`
	StatsInterval Duration `toml:"stats_interval"`
}

// Duration is a time.Duration that decodes from a TOML string like "2s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// DefaultProtocol returns the protocol defaults.
func DefaultProtocol() Protocol {
	return Protocol{
		ByteOrder:    "big",
		Version:      8,
		MaxHandles:   1 << 20,
		MaxHosts:     24,
		MaxFrameSize: 8192,
		SendUpdates:  true,
		SendEvents:   true,
		DoSync:       false,
		SyncTimeout:  Duration{2 * time.Second},
		SendRetries:  3,
	}
}

// Default returns the full default configuration for a master node.
func Default() Config {
	return Config{
		Role:     RoleMaster,
		Protocol: DefaultProtocol(),
		Transport: Transport{
			Listen: "127.0.0.1:7400",
			ICEServers: []string{
				"stun:stun.l.google.com:19302",
				"stun:stun1.l.google.com:19302",
			},
			InboxSize: 1024,
			FrameRate: 30,
		},
		Snapshot: Snapshot{
			Dir:    "snapshots",
			Region: "us-east-1",
		},
		Log: Log{
			StatsInterval: Duration{10 * time.Second},
		},
	}
}

// Load reads a TOML file on top of Default. Keys the file does not set keep
// their defaults; keys that match nothing are returned for the caller to
// report.
func Load(path string) (Config, []string, error) {
	cfg := Default()
	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return cfg, nil, fmt.Errorf("failed to load config %s: %w", path, err)
	}
	var unknown []string
	for _, key := range meta.Undecoded() {
		unknown = append(unknown, key.String())
	}
	if err := cfg.Validate(); err != nil {
		return cfg, unknown, err
	}
	return cfg, unknown, nil
}

// Validate checks value ranges.
func (c Config) Validate() error {
	switch c.Role {
	case RoleMaster, RoleClient:
	default:
		return fmt.Errorf("invalid role %q: must be 'master' or 'client'", c.Role)
	}
	p := c.Protocol
	if p.MaxHosts < 2 || p.MaxHosts > 24 {
		return fmt.Errorf("max_hosts %d out of range 2~24", p.MaxHosts)
	}
	if p.MaxFrameSize < 64 {
		return fmt.Errorf("max_frame_size %d too small", p.MaxFrameSize)
	}
	if p.MaxHandles <= 0 {
		return fmt.Errorf("max_handles must be positive")
	}
	if c.Transport.FrameRate <= 0 {
		return fmt.Errorf("frame_rate must be positive")
	}
	return nil
}
