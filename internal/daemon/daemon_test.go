package daemon

import (
	"bytes"
	"context"
	"net/netip"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"firestige.xyz/vrouter/internal/config"
	"firestige.xyz/vrouter/internal/core"
	"firestige.xyz/vrouter/internal/ethernet"
	"firestige.xyz/vrouter/internal/ipv4"
	"firestige.xyz/vrouter/internal/link"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func testConfig(t *testing.T) *config.GlobalConfig {
	t.Helper()
	tmpDir := t.TempDir()
	cfg := config.Default()
	cfg.Log.Outputs.File.Path = filepath.Join(tmpDir, "vrouter.log")
	cfg.Capture.Enabled = true
	cfg.Capture.Path = filepath.Join(tmpDir, "vrouter.pcap")
	cfg.Console.Color = "never"
	return cfg
}

func pipes(n int) (ours []link.Link, peers []*link.Pipe) {
	for i := 0; i < n; i++ {
		a, b := link.NewPipe(8)
		ours = append(ours, a)
		peers = append(peers, b)
	}
	return ours, peers
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestDaemon_StartStopIntegration(t *testing.T) {
	cfg := testConfig(t)
	pidFile := filepath.Join(t.TempDir(), "vrouter.pid")
	links, peers := pipes(len(cfg.Interfaces))
	out := &syncBuffer{}

	d := NewWithConfig(cfg, "",
		WithPIDFile(pidFile),
		WithLinks(links),
		WithConsole(strings.NewReader("/HELP\n"), out),
	)
	if err := d.Start(); err != nil {
		t.Fatalf("failed to start daemon: %v", err)
	}

	if _, err := os.Stat(pidFile); err != nil {
		t.Errorf("PID file not written: %v", err)
	}

	// Banner, then the reply to /HELP.
	waitFor(t, func() bool { return strings.Contains(out.String(), "HELP:") })
	if !strings.HasPrefix(out.String(), "STACK PROGRAM.") {
		t.Errorf("expected banner first, got %q", out.String())
	}

	// A UDP datagram from 80.1.1.2 to 100.3.8.9 leaves on interface 2.
	src := netip.MustParseAddr("80.1.1.2")
	dst := netip.MustParseAddr("100.3.8.9")
	pkt, err := ipv4.Build(src, dst, 1, 17, 64, make([]byte, 16))
	if err != nil {
		t.Fatalf("build packet: %v", err)
	}
	peerMAC, _ := core.ParseMAC("74:2F:13:8B:72:69")
	ifMAC, _ := core.ParseMAC("60:6D:67:E2:F9:6E")
	frame, err := ethernet.Build(peerMAC, ifMAC, uint16(ethernet.TypeIPv4), pkt)
	if err != nil {
		t.Fatalf("build frame: %v", err)
	}
	if err := peers[0].Send(frame); err != nil {
		t.Fatalf("inject frame: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	fwd, err := peers[2].Receive(ctx)
	if err != nil {
		t.Fatalf("no forwarded frame: %v", err)
	}
	if ttl := fwd[ethernet.HeaderLen+8]; ttl != 63 {
		t.Errorf("forwarded TTL = %d, expected 63", ttl)
	}

	d.Stop()
	d.Stop()

	if _, err := os.Stat(pidFile); !os.IsNotExist(err) {
		t.Errorf("PID file should be removed, stat err: %v", err)
	}
	info, err := os.Stat(cfg.Capture.Path)
	if err != nil {
		t.Fatalf("capture file missing: %v", err)
	}
	// Global header plus two records.
	if info.Size() <= 24+2*16 {
		t.Errorf("capture file too small: %d bytes", info.Size())
	}
}

func TestDaemon_RunStopsOnTrigger(t *testing.T) {
	cfg := testConfig(t)
	cfg.Console.Banner = false
	cfg.Capture.Enabled = false
	links, _ := pipes(len(cfg.Interfaces))

	d := NewWithConfig(cfg, "", WithLinks(links), WithConsole(strings.NewReader(""), &syncBuffer{}))
	if err := d.Start(); err != nil {
		t.Fatalf("failed to start daemon: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- d.Run() }()
	d.TriggerShutdown()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after TriggerShutdown")
	}
}

func TestDaemon_LinkCountMismatch(t *testing.T) {
	cfg := testConfig(t)
	cfg.Capture.Enabled = false
	links, _ := pipes(2)

	d := NewWithConfig(cfg, "", WithLinks(links), WithConsole(strings.NewReader(""), &syncBuffer{}))
	if err := d.Start(); err == nil {
		d.Stop()
		t.Fatal("expected start to fail with two links for four interfaces")
	}
}

func TestNew_LoadsConfigFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "vrouter.yml")
	content := `
vrouter:
  tcp:
    listening_ports: [5000, 5001]
  log:
    level: debug
    outputs:
      file:
        path: ` + filepath.Join(tmpDir, "vrouter.log") + `
`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	d, err := New(configPath)
	if err != nil {
		t.Fatalf("failed to create daemon: %v", err)
	}
	if got := d.config.TCP.ListeningPorts; len(got) != 2 || got[0] != 5000 {
		t.Errorf("unexpected listening ports %v", got)
	}
	if len(d.config.Interfaces) != 4 {
		t.Errorf("expected default interfaces, got %d", len(d.config.Interfaces))
	}

	if _, err := New(filepath.Join(tmpDir, "missing.yml")); err == nil {
		t.Error("expected error for missing config file")
	}
}

func TestRouterConfig(t *testing.T) {
	cfg := config.Default()
	rcfg, err := routerConfig(cfg)
	if err != nil {
		t.Fatalf("routerConfig: %v", err)
	}
	if len(rcfg.Interfaces) != 4 || len(rcfg.Routes) != 6 || len(rcfg.ARP) != 10 {
		t.Errorf("unexpected table sizes %d/%d/%d", len(rcfg.Interfaces), len(rcfg.Routes), len(rcfg.ARP))
	}
	if rcfg.TCP.Window != 8192 || len(rcfg.TCP.Listening) != 10 {
		t.Errorf("unexpected tcp config %+v", rcfg.TCP)
	}
	if rcfg.ICMPTTL != 64 {
		t.Errorf("unexpected icmp ttl %d", rcfg.ICMPTTL)
	}
}

func TestReloadAppliesLogSettings(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "vrouter.yml")
	write := func(level string) {
		content := "vrouter:\n  log:\n    level: " + level + "\n    outputs:\n      file:\n        path: " +
			filepath.Join(tmpDir, "vrouter.log") + "\n"
		if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
			t.Fatalf("failed to write config file: %v", err)
		}
	}
	write("info")
	d, err := New(configPath)
	if err != nil {
		t.Fatalf("failed to create daemon: %v", err)
	}

	write("debug")
	if err := d.Reload(); err != nil {
		t.Fatalf("Reload failed: %v", err)
	}
	if d.config.Log.Level != "debug" {
		t.Errorf("log level = %q, expected debug", d.config.Log.Level)
	}

	write("verbose")
	if err := d.Reload(); err == nil {
		t.Error("expected reload of invalid config to fail")
	}
	if d.config.Log.Level != "debug" {
		t.Errorf("failed reload changed log level to %q", d.config.Log.Level)
	}
}
