// Package config handles global configuration loading using viper.
package config

import (
	"fmt"
	"net/netip"
	"slices"
	"strings"

	"github.com/spf13/viper"

	"firestige.xyz/vrouter/internal/core"
	"firestige.xyz/vrouter/internal/link"
)

// GlobalConfig represents the router's static configuration.
// Maps to the `vrouter:` root key in YAML.
type GlobalConfig struct {
	Interfaces []InterfaceConfig `mapstructure:"interfaces" yaml:"interfaces"`
	Routes     []RouteConfig     `mapstructure:"routes" yaml:"routes"`
	ARP        []ARPEntryConfig  `mapstructure:"arp" yaml:"arp"`
	TCP        TCPConfig         `mapstructure:"tcp" yaml:"tcp"`
	ICMP       ICMPConfig        `mapstructure:"icmp" yaml:"icmp"`
	Capture    CaptureConfig     `mapstructure:"capture" yaml:"capture"`
	Console    ConsoleConfig     `mapstructure:"console" yaml:"console"`
	Metrics    MetricsConfig     `mapstructure:"metrics" yaml:"metrics"`
	Log        LogConfig         `mapstructure:"log" yaml:"log"`
}

// ─── Topology ───

// InterfaceConfig describes one router port and the link carrying it.
type InterfaceConfig struct {
	Name string      `mapstructure:"name" yaml:"name,omitempty"`
	IP   string      `mapstructure:"ip" yaml:"ip"`
	MAC  string      `mapstructure:"mac" yaml:"mac"`
	Link link.Config `mapstructure:"link" yaml:"link"`
}

// RouteConfig is one static route. An empty gateway means on-link.
type RouteConfig struct {
	Network   string `mapstructure:"network" yaml:"network"`
	Netmask   string `mapstructure:"netmask" yaml:"netmask"`
	Gateway   string `mapstructure:"gateway" yaml:"gateway,omitempty"`
	Interface int    `mapstructure:"interface" yaml:"interface"`
}

// ARPEntryConfig is one static ARP cache entry.
type ARPEntryConfig struct {
	IP  string `mapstructure:"ip" yaml:"ip"`
	MAC string `mapstructure:"mac" yaml:"mac"`
}

// ─── Protocols ───

// TCPConfig configures the local TCP endpoint.
type TCPConfig struct {
	ListeningPorts []int `mapstructure:"listening_ports" yaml:"listening_ports"`
	ActivePort     int   `mapstructure:"active_port" yaml:"active_port"` // 0 = first listening port
	Window         int   `mapstructure:"window" yaml:"window"`
}

// ICMPConfig configures generated ICMP errors.
type ICMPConfig struct {
	TTL       int     `mapstructure:"ttl" yaml:"ttl"`
	RateLimit float64 `mapstructure:"rate_limit" yaml:"rate_limit"` // per second, 0 = unlimited
	Burst     int     `mapstructure:"burst" yaml:"burst"`
}

// CaptureConfig enables the pcap tap on every link.
type CaptureConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Path    string `mapstructure:"path" yaml:"path"`
	SnapLen int    `mapstructure:"snaplen" yaml:"snaplen"`
}

// ConsoleConfig configures the operator console.
type ConsoleConfig struct {
	Color      string `mapstructure:"color" yaml:"color"` // auto / always / never
	Banner     bool   `mapstructure:"banner" yaml:"banner"`
	Pattern    string `mapstructure:"pattern" yaml:"pattern"`
	TimeFormat string `mapstructure:"time_format" yaml:"time_format"`
}

// ─── Metrics ───

// MetricsConfig contains Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Listen  string `mapstructure:"listen" yaml:"listen"`
	Path    string `mapstructure:"path" yaml:"path"`
}

// ─── Log ───

// LogConfig contains logging settings.
type LogConfig struct {
	Level   string           `mapstructure:"level" yaml:"level"`   // debug / info / warn / error
	Format  string           `mapstructure:"format" yaml:"format"` // json / text
	Outputs LogOutputsConfig `mapstructure:"outputs" yaml:"outputs"`
}

// LogOutputsConfig contains structured log output destinations.
type LogOutputsConfig struct {
	// Stdout mirrors structured logs to standard output. The console
	// shares the terminal, so it is off by default.
	Stdout bool             `mapstructure:"stdout" yaml:"stdout"`
	File   FileOutputConfig `mapstructure:"file" yaml:"file"`
	Loki   LokiOutputConfig `mapstructure:"loki" yaml:"loki"`
}

// FileOutputConfig configures file log output.
type FileOutputConfig struct {
	Enabled  bool           `mapstructure:"enabled" yaml:"enabled"`
	Path     string         `mapstructure:"path" yaml:"path"`
	Rotation RotationConfig `mapstructure:"rotation" yaml:"rotation"`
}

// RotationConfig configures log file rotation.
type RotationConfig struct {
	MaxSizeMB  int  `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxAgeDays int  `mapstructure:"max_age_days" yaml:"max_age_days"`
	MaxBackups int  `mapstructure:"max_backups" yaml:"max_backups"`
	Compress   bool `mapstructure:"compress" yaml:"compress"`
}

// LokiOutputConfig configures Loki log output.
type LokiOutputConfig struct {
	Enabled      bool              `mapstructure:"enabled" yaml:"enabled"`
	Endpoint     string            `mapstructure:"endpoint" yaml:"endpoint,omitempty"`
	Labels       map[string]string `mapstructure:"labels" yaml:"labels,omitempty"`
	BatchSize    int               `mapstructure:"batch_size" yaml:"batch_size,omitempty"`
	BatchTimeout string            `mapstructure:"batch_timeout" yaml:"batch_timeout,omitempty"`
}

// ─── Loading ───

// configRoot is the top-level wrapper matching the YAML structure `vrouter: ...`.
type configRoot struct {
	VRouter GlobalConfig `mapstructure:"vrouter"`
}

// Load loads configuration from file. An empty path yields the built-in
// configuration. The YAML file uses `vrouter:` as root key; env vars use
// the VROUTER_ prefix (e.g., VROUTER_LOG_LEVEL).
func Load(path string) (*GlobalConfig, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// The `vrouter.` key prefix maps to `VROUTER_` in env vars via the key
	// replacer (e.g., key "vrouter.log.level" → env "VROUTER_LOG_LEVEL").
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	var root configRoot
	if err := v.Unmarshal(&root); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg := root.VRouter

	if err := cfg.ValidateAndApplyDefaults(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// Default returns the built-in configuration.
func Default() *GlobalConfig {
	cfg, err := Load("")
	if err != nil {
		panic(fmt.Sprintf("built-in configuration is invalid: %v", err))
	}
	return cfg
}

// setDefaults sets default values for scalar settings. All keys use the
// "vrouter." prefix to match the YAML root wrapper. Tables default in
// ValidateAndApplyDefaults.
func setDefaults(v *viper.Viper) {
	// TCP defaults
	v.SetDefault("vrouter.tcp.window", 8192)
	v.SetDefault("vrouter.tcp.active_port", 0)

	// ICMP defaults
	v.SetDefault("vrouter.icmp.ttl", 64)
	v.SetDefault("vrouter.icmp.rate_limit", 0)
	v.SetDefault("vrouter.icmp.burst", 10)

	// Capture defaults
	v.SetDefault("vrouter.capture.enabled", false)
	v.SetDefault("vrouter.capture.path", "vrouter.pcap")
	v.SetDefault("vrouter.capture.snaplen", link.DefaultSnapLen)

	// Console defaults
	v.SetDefault("vrouter.console.color", "auto")
	v.SetDefault("vrouter.console.banner", true)
	v.SetDefault("vrouter.console.pattern", "%msg\n")
	v.SetDefault("vrouter.console.time_format", "15:04:05.000")

	// Log defaults
	v.SetDefault("vrouter.log.level", "info")
	v.SetDefault("vrouter.log.format", "text")
	v.SetDefault("vrouter.log.outputs.stdout", false)
	v.SetDefault("vrouter.log.outputs.file.enabled", true)
	v.SetDefault("vrouter.log.outputs.file.path", "vrouter.log")
	v.SetDefault("vrouter.log.outputs.file.rotation.max_size_mb", 100)
	v.SetDefault("vrouter.log.outputs.file.rotation.max_age_days", 30)
	v.SetDefault("vrouter.log.outputs.file.rotation.max_backups", 5)
	v.SetDefault("vrouter.log.outputs.file.rotation.compress", true)
	v.SetDefault("vrouter.log.outputs.loki.enabled", false)
	v.SetDefault("vrouter.log.outputs.loki.batch_size", 100)
	v.SetDefault("vrouter.log.outputs.loki.batch_timeout", "5s")

	// Metrics defaults
	v.SetDefault("vrouter.metrics.enabled", false)
	v.SetDefault("vrouter.metrics.listen", ":9091")
	v.SetDefault("vrouter.metrics.path", "/metrics")
}

// ValidateAndApplyDefaults validates configuration and fills empty tables
// with the built-in topology.
func (cfg *GlobalConfig) ValidateAndApplyDefaults() error {
	// ── Log validation ──
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Log.Level] {
		return invalid("invalid log level: %s (must be debug/info/warn/error)", cfg.Log.Level)
	}
	if cfg.Log.Format != "json" && cfg.Log.Format != "text" {
		return invalid("invalid log format: %s (must be json/text)", cfg.Log.Format)
	}
	if cfg.Log.Outputs.File.Enabled && cfg.Log.Outputs.File.Path == "" {
		return invalid("log.outputs.file.path is required when file output is enabled")
	}
	if cfg.Log.Outputs.Loki.Enabled && cfg.Log.Outputs.Loki.Endpoint == "" {
		return invalid("log.outputs.loki.endpoint is required when loki output is enabled")
	}

	// ── Topology ──
	if len(cfg.Interfaces) == 0 {
		cfg.Interfaces = DefaultInterfaces()
	}
	if len(cfg.Routes) == 0 {
		cfg.Routes = DefaultRoutes()
	}
	if len(cfg.ARP) == 0 {
		cfg.ARP = DefaultARP()
	}
	if _, err := cfg.CoreInterfaces(); err != nil {
		return err
	}
	for i, ic := range cfg.Interfaces {
		if err := link.Validate(ic.Link); err != nil {
			return invalid("interfaces[%d].link: %v", i, err)
		}
	}
	if _, err := cfg.CoreRoutes(); err != nil {
		return err
	}
	if _, err := cfg.CoreARP(); err != nil {
		return err
	}

	// ── TCP ──
	if len(cfg.TCP.ListeningPorts) == 0 {
		cfg.TCP.ListeningPorts = DefaultListeningPorts()
	}
	seen := make(map[int]bool, len(cfg.TCP.ListeningPorts))
	for _, p := range cfg.TCP.ListeningPorts {
		if p <= 0 || p > 65535 {
			return invalid("tcp.listening_ports: invalid port %d", p)
		}
		if seen[p] {
			return invalid("tcp.listening_ports: duplicate port %d", p)
		}
		seen[p] = true
	}
	if cfg.TCP.ActivePort != 0 && !seen[cfg.TCP.ActivePort] {
		return invalid("tcp.active_port %d is not a listening port", cfg.TCP.ActivePort)
	}
	if cfg.TCP.Window <= 0 || cfg.TCP.Window > 65535 {
		return invalid("tcp.window must be in 1..65535, got %d", cfg.TCP.Window)
	}

	// ── ICMP ──
	if cfg.ICMP.TTL <= 0 || cfg.ICMP.TTL > 255 {
		return invalid("icmp.ttl must be in 1..255, got %d", cfg.ICMP.TTL)
	}
	if cfg.ICMP.RateLimit < 0 {
		return invalid("icmp.rate_limit must not be negative")
	}

	// ── Capture ──
	if cfg.Capture.Enabled && cfg.Capture.Path == "" {
		return invalid("capture.path is required when capture is enabled")
	}

	// ── Console ──
	if !slices.Contains([]string{"auto", "always", "never"}, cfg.Console.Color) {
		return invalid("invalid console color: %s (must be auto/always/never)", cfg.Console.Color)
	}

	// ── Metrics ──
	if cfg.Metrics.Enabled && cfg.Metrics.Listen == "" {
		return invalid("metrics.listen is required when metrics are enabled")
	}

	return nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), core.ErrConfigInvalid)
}

// ─── Conversion ───

// CoreInterfaces parses the interface table.
func (cfg *GlobalConfig) CoreInterfaces() ([]core.Interface, error) {
	out := make([]core.Interface, 0, len(cfg.Interfaces))
	ips := make(map[netip.Addr]int)
	for i, ic := range cfg.Interfaces {
		ip, err := parseIPv4(ic.IP)
		if err != nil {
			return nil, invalid("interfaces[%d].ip: %v", i, err)
		}
		if j, dup := ips[ip]; dup {
			return nil, invalid("interfaces[%d].ip %s duplicates interfaces[%d]", i, ip, j)
		}
		ips[ip] = i
		mac, err := core.ParseMAC(ic.MAC)
		if err != nil {
			return nil, invalid("interfaces[%d].mac: %v", i, err)
		}
		out = append(out, core.Interface{Index: i, Name: ic.Name, IP: ip, MAC: mac})
	}
	return out, nil
}

// CoreRoutes parses the routing table.
func (cfg *GlobalConfig) CoreRoutes() ([]core.Route, error) {
	out := make([]core.Route, 0, len(cfg.Routes))
	for i, rc := range cfg.Routes {
		network, err := parseIPv4(rc.Network)
		if err != nil {
			return nil, invalid("routes[%d].network: %v", i, err)
		}
		mask, err := parseIPv4(rc.Netmask)
		if err != nil {
			return nil, invalid("routes[%d].netmask: %v", i, err)
		}
		r := core.Route{Network: network, Netmask: mask, Interface: rc.Interface}
		if rc.Gateway != "" {
			if r.Gateway, err = parseIPv4(rc.Gateway); err != nil {
				return nil, invalid("routes[%d].gateway: %v", i, err)
			}
		}
		if rc.Interface < 0 || rc.Interface >= len(cfg.Interfaces) {
			return nil, invalid("routes[%d] uses unknown interface %d", i, rc.Interface)
		}
		out = append(out, r)
	}
	return out, nil
}

// CoreARP parses the ARP cache.
func (cfg *GlobalConfig) CoreARP() ([]core.ArpEntry, error) {
	out := make([]core.ArpEntry, 0, len(cfg.ARP))
	for i, ac := range cfg.ARP {
		ip, err := parseIPv4(ac.IP)
		if err != nil {
			return nil, invalid("arp[%d].ip: %v", i, err)
		}
		mac, err := core.ParseMAC(ac.MAC)
		if err != nil {
			return nil, invalid("arp[%d].mac: %v", i, err)
		}
		out = append(out, core.ArpEntry{IP: ip, MAC: mac})
	}
	return out, nil
}

// Ports returns the listening ports as uint16 in configuration order.
func (c TCPConfig) Ports() []uint16 {
	out := make([]uint16, len(c.ListeningPorts))
	for i, p := range c.ListeningPorts {
		out[i] = uint16(p)
	}
	return out
}

func parseIPv4(s string) (netip.Addr, error) {
	a, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Addr{}, err
	}
	if !a.Is4() {
		return netip.Addr{}, fmt.Errorf("%s is not an IPv4 address", s)
	}
	return a, nil
}
