// Copyright 2025-2026 Quixote Systems

package bridge

import (
	_ "embed"
	"errors"
	"fmt"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed example-config.yaml
var ExampleConfig string

// Config is the full bridge configuration. Load with yaml and call
// PostProcess before use; every validation failure here is fatal at
// startup, never at runtime.
type Config struct {
	Logging LoggingConfig `yaml:"logging"`
	JS8     JS8Config     `yaml:"js8"`
	Mesh    MeshConfig    `yaml:"mesh"`
	J2M     J2MConfig     `yaml:"j2m"`
	M2J     M2JConfig     `yaml:"m2j"`

	routingTable *RoutingTable `yaml:"-"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

type JS8Config struct {
	ListenTransport   string   `yaml:"listen_transport"`
	ListenAddr        string   `yaml:"listen_addr"`
	SendAddr          string   `yaml:"send_addr"`
	HeartbeatSeconds  int      `yaml:"heartbeat_seconds"`
	SendWhileDegraded *bool    `yaml:"send_while_degraded"`
	Callsigns         []string `yaml:"callsigns"`
}

type MeshConfig struct {
	TCPAddr    string `yaml:"tcp_addr"`
	SerialPort string `yaml:"serial_port"`
}

type J2MConfig struct {
	Enabled           *bool       `yaml:"enabled"`
	Prefix            string      `yaml:"prefix"`
	StripTag          bool        `yaml:"strip_tag"`
	OnlyTag           string      `yaml:"only_tag"`
	RouteNodes        []string    `yaml:"route_nodes"`
	RouteChannels     []string    `yaml:"route_channels"`
	Default           DefaultDest `yaml:"default"`
	WantAck           bool        `yaml:"want_ack"`
	AckTimeoutSeconds int         `yaml:"ack_timeout_seconds"`
}

// DefaultDest is the fallback destination; at most one field may be set.
type DefaultDest struct {
	NodeID        string `yaml:"node_id"`
	NodeShortname string `yaml:"node_shortname"`
	ChannelIndex  *int   `yaml:"channel_index"`
	ChannelName   string `yaml:"channel_name"`
}

type M2JConfig struct {
	Enabled   *bool    `yaml:"enabled"`
	To        string   `yaml:"to"`
	Prefix    string   `yaml:"prefix"`
	MaxLen    int      `yaml:"max_len"`
	AllowSelf bool     `yaml:"allow_self"`
	OnlyFrom  []string `yaml:"only_from"`
	EscapeAt  bool     `yaml:"escape_at"`
}

func (c *Config) UnmarshalYAML(node *yaml.Node) error {
	type rawConfig Config
	return node.Decode((*rawConfig)(c))
}

// DefaultConfig returns the built-in defaults, matching the embedded
// example file.
func DefaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{Level: "info"},
		JS8: JS8Config{
			ListenTransport:  "tcp",
			ListenAddr:       "127.0.0.1:2442",
			HeartbeatSeconds: 30,
		},
		J2M: J2MConfig{
			Prefix:            "[JS8]",
			AckTimeoutSeconds: 30,
		},
		M2J: M2JConfig{
			To:     "@ALLCALL",
			Prefix: "[mesh] ",
			MaxLen: 200,
		},
	}
}

// LoadConfig parses raw YAML over the defaults and validates.
func LoadConfig(raw []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.PostProcess(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// PostProcess applies dependent defaults and validates everything the
// routers rely on at runtime.
func (c *Config) PostProcess() error {
	switch c.JS8.ListenTransport {
	case "tcp", "udp":
	default:
		return fmt.Errorf("js8.listen_transport must be tcp or udp, got %q", c.JS8.ListenTransport)
	}
	if c.JS8.ListenAddr == "" {
		return errors.New("js8.listen_addr is required")
	}
	if c.JS8.SendAddr == "" {
		c.JS8.SendAddr = c.JS8.ListenAddr
	}
	if c.JS8.HeartbeatSeconds < 0 {
		return errors.New("js8.heartbeat_seconds must not be negative")
	}

	if (c.Mesh.TCPAddr == "") == (c.Mesh.SerialPort == "") {
		return errors.New("exactly one of mesh.tcp_addr and mesh.serial_port must be set")
	}

	def, err := c.J2M.Default.destination()
	if err != nil {
		return err
	}
	table, err := NewRoutingTable(c.J2M.RouteNodes, c.J2M.RouteChannels, def)
	if err != nil {
		return err
	}
	c.routingTable = table

	if c.J2M.AckTimeoutSeconds <= 0 {
		c.J2M.AckTimeoutSeconds = 30
	}
	if c.M2J.MaxLen < 0 {
		return errors.New("m2j.max_len must not be negative")
	}
	return nil
}

// destination converts the default-destination block, enforcing that at
// most one field is set.
func (d DefaultDest) destination() (*Destination, error) {
	var out []Destination
	if d.NodeID != "" {
		out = append(out, Destination{Node: d.NodeID})
	}
	if d.NodeShortname != "" {
		out = append(out, Destination{Node: d.NodeShortname})
	}
	if d.ChannelIndex != nil {
		out = append(out, Destination{Channel: strconv.Itoa(*d.ChannelIndex)})
	}
	if d.ChannelName != "" {
		out = append(out, Destination{Channel: d.ChannelName})
	}
	switch len(out) {
	case 0:
		return nil, nil
	case 1:
		return &out[0], nil
	default:
		return nil, errors.New("j2m.default: set at most one of node_id, node_shortname, channel_index, channel_name")
	}
}

// RoutingTable is the table built during PostProcess.
func (c *Config) RoutingTable() *RoutingTable {
	return c.routingTable
}

// HeartbeatInterval is the socket-link probe cadence; zero disables
// probing.
func (c *Config) HeartbeatInterval() time.Duration {
	return time.Duration(c.JS8.HeartbeatSeconds) * time.Second
}

// AckTimeout is how long a send may stay unacknowledged.
func (c *Config) AckTimeout() time.Duration {
	return time.Duration(c.J2M.AckTimeoutSeconds) * time.Second
}

// SendWhileDegraded is the degraded-link send policy, default permit.
func (c *Config) SendWhileDegraded() bool {
	return c.JS8.SendWhileDegraded == nil || *c.JS8.SendWhileDegraded
}

// J2MEnabled reports whether the JS8Call → mesh direction runs.
func (c *Config) J2MEnabled() bool {
	return c.J2M.Enabled == nil || *c.J2M.Enabled
}

// M2JEnabled reports whether the mesh → JS8Call direction runs.
func (c *Config) M2JEnabled() bool {
	return c.M2J.Enabled == nil || *c.M2J.Enabled
}
