package config

import (
	"errors"
	"net/netip"
	"os"
	"path/filepath"
	"testing"

	"firestige.xyz/vrouter/internal/core"
	"firestige.xyz/vrouter/internal/link"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vrouter.yml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load with no file failed: %v", err)
	}

	if len(cfg.Interfaces) != 4 {
		t.Errorf("Expected 4 interfaces, got %d", len(cfg.Interfaces))
	}
	if len(cfg.Routes) != 6 {
		t.Errorf("Expected 6 routes, got %d", len(cfg.Routes))
	}
	if len(cfg.ARP) != 10 {
		t.Errorf("Expected 10 ARP entries, got %d", len(cfg.ARP))
	}
	if len(cfg.TCP.ListeningPorts) != 10 || cfg.TCP.ListeningPorts[0] != 4000 || cfg.TCP.ListeningPorts[9] != 4009 {
		t.Errorf("Expected ports 4000-4009, got %v", cfg.TCP.ListeningPorts)
	}
	if cfg.TCP.Window != 8192 {
		t.Errorf("Expected window 8192, got %d", cfg.TCP.Window)
	}
	if cfg.ICMP.TTL != 64 {
		t.Errorf("Expected ICMP TTL 64, got %d", cfg.ICMP.TTL)
	}
	if cfg.Log.Level != "info" || cfg.Log.Format != "text" {
		t.Errorf("Expected info/text logging, got %s/%s", cfg.Log.Level, cfg.Log.Format)
	}
	if cfg.Console.Pattern != "%msg\n" {
		t.Errorf("Expected console pattern %%msg, got %q", cfg.Console.Pattern)
	}
	if cfg.Metrics.Enabled {
		t.Error("Expected metrics disabled by default")
	}
}

func TestDefaultTopology(t *testing.T) {
	cfg := Default()

	ifaces, err := cfg.CoreInterfaces()
	if err != nil {
		t.Fatalf("CoreInterfaces failed: %v", err)
	}
	if ifaces[1].IP != netip.MustParseAddr("90.2.0.2") {
		t.Errorf("Expected interface 1 at 90.2.0.2, got %s", ifaces[1].IP)
	}
	if got := ifaces[3].MAC.String(); got != "60:6d:67:52:61:ec" {
		t.Errorf("Expected interface 3 MAC 60:6d:67:52:61:ec, got %s", got)
	}
	if ifaces[2].Index != 2 {
		t.Errorf("Expected index 2, got %d", ifaces[2].Index)
	}

	routes, err := cfg.CoreRoutes()
	if err != nil {
		t.Fatalf("CoreRoutes failed: %v", err)
	}
	if routes[0].OnLink() == false {
		t.Error("Expected route 0 to be on-link")
	}
	if routes[3].Gateway != netip.MustParseAddr("100.3.0.5") || routes[3].Interface != 2 {
		t.Errorf("Unexpected route 3: %+v", routes[3])
	}

	arp, err := cfg.CoreARP()
	if err != nil {
		t.Fatalf("CoreARP failed: %v", err)
	}
	if arp[7].IP != netip.MustParseAddr("100.3.0.5") || arp[7].MAC.String() != "d5:a1:be:b7:84:36" {
		t.Errorf("Unexpected ARP entry 7: %+v", arp[7])
	}

	if cfg.Interfaces[0].Link.Type != link.TypeUDP {
		t.Errorf("Expected udp link by default, got %s", cfg.Interfaces[0].Link.Type)
	}
}

func TestLoadValidConfig(t *testing.T) {
	path := writeConfig(t, `
vrouter:
  interfaces:
    - name: lan
      ip: 10.0.0.1
      mac: "02:00:00:00:00:01"
      link:
        type: udp
        options:
          local: "127.0.0.1:0"
    - name: wan
      ip: 10.1.0.1
      mac: "02:00:00:00:00:02"
      link:
        type: unixgram
        options:
          local: /tmp/wan.sock
          remote: /tmp/wan-peer.sock
  routes:
    - network: 10.0.0.0
      netmask: 255.255.255.0
      interface: 0
    - network: 0.0.0.0
      netmask: 0.0.0.0
      gateway: 10.1.0.254
      interface: 1
  arp:
    - ip: 10.1.0.254
      mac: "02:00:00:00:00:fe"
  tcp:
    listening_ports: [8080, 8081]
    active_port: 8081
  icmp:
    rate_limit: 5
  log:
    level: debug
    format: json
  metrics:
    enabled: true
    listen: "127.0.0.1:9100"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if len(cfg.Interfaces) != 2 || cfg.Interfaces[1].Name != "wan" {
		t.Fatalf("Unexpected interfaces: %+v", cfg.Interfaces)
	}
	if cfg.Interfaces[1].Link.Options["remote"] != "/tmp/wan-peer.sock" {
		t.Errorf("Expected link options to be preserved, got %v", cfg.Interfaces[1].Link.Options)
	}
	if len(cfg.Routes) != 2 || cfg.Routes[1].Gateway != "10.1.0.254" {
		t.Errorf("Unexpected routes: %+v", cfg.Routes)
	}
	if len(cfg.ARP) != 1 {
		t.Errorf("Expected 1 ARP entry, got %d", len(cfg.ARP))
	}
	if got := cfg.TCP.Ports(); len(got) != 2 || got[1] != 8081 {
		t.Errorf("Unexpected ports: %v", got)
	}
	if cfg.TCP.ActivePort != 8081 {
		t.Errorf("Expected active port 8081, got %d", cfg.TCP.ActivePort)
	}
	if cfg.ICMP.RateLimit != 5 || cfg.ICMP.Burst != 10 {
		t.Errorf("Unexpected ICMP settings: %+v", cfg.ICMP)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "json" {
		t.Errorf("Unexpected log settings: %+v", cfg.Log)
	}
	if !cfg.Metrics.Enabled || cfg.Metrics.Listen != "127.0.0.1:9100" || cfg.Metrics.Path != "/metrics" {
		t.Errorf("Unexpected metrics settings: %+v", cfg.Metrics)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("VROUTER_LOG_LEVEL", "warn")
	t.Setenv("VROUTER_TCP_WINDOW", "4096")

	cfg, err := Load(writeConfig(t, "vrouter:\n  log:\n    level: debug\n"))
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("Expected env to override log level, got %s", cfg.Log.Level)
	}
	if cfg.TCP.Window != 4096 {
		t.Errorf("Expected env to override window, got %d", cfg.TCP.Window)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yml")); err == nil {
		t.Fatal("Expected error for missing config file")
	}
}

func TestLoadInvalidConfigs(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"bad log level", "vrouter:\n  log:\n    level: verbose\n"},
		{"bad log format", "vrouter:\n  log:\n    format: xml\n"},
		{"bad interface ip", "vrouter:\n  interfaces:\n    - ip: 10.0.0.300\n      mac: \"02:00:00:00:00:01\"\n      link: {type: udp}\n"},
		{"ipv6 interface", "vrouter:\n  interfaces:\n    - ip: \"::1\"\n      mac: \"02:00:00:00:00:01\"\n      link: {type: udp}\n"},
		{"bad mac", "vrouter:\n  interfaces:\n    - ip: 10.0.0.1\n      mac: zz\n      link: {type: udp}\n"},
		{"unknown link", "vrouter:\n  interfaces:\n    - ip: 10.0.0.1\n      mac: \"02:00:00:00:00:01\"\n      link: {type: vde}\n"},
		{"pipe link", "vrouter:\n  interfaces:\n    - ip: 10.0.0.1\n      mac: \"02:00:00:00:00:01\"\n      link: {type: pipe}\n"},
		{"route to unknown interface", "vrouter:\n  routes:\n    - network: 10.0.0.0\n      netmask: 255.0.0.0\n      interface: 7\n"},
		{"bad arp mac", "vrouter:\n  arp:\n    - ip: 10.0.0.2\n      mac: nope\n"},
		{"port zero", "vrouter:\n  tcp:\n    listening_ports: [0]\n"},
		{"duplicate port", "vrouter:\n  tcp:\n    listening_ports: [4000, 4000]\n"},
		{"active port not listening", "vrouter:\n  tcp:\n    active_port: 5000\n"},
		{"icmp ttl", "vrouter:\n  icmp:\n    ttl: 300\n"},
		{"console color", "vrouter:\n  console:\n    color: sometimes\n"},
		{"capture without path", "vrouter:\n  capture:\n    enabled: true\n    path: \"\"\n"},
		{"loki without endpoint", "vrouter:\n  log:\n    outputs:\n      loki:\n        enabled: true\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			if err == nil {
				t.Fatal("Expected validation error, got nil")
			}
			if !errors.Is(err, core.ErrConfigInvalid) {
				t.Errorf("Expected ErrConfigInvalid, got %v", err)
			}
		})
	}
}
