package cmd

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"net/netip"
	"time"

	"github.com/spf13/cobra"

	"firestige.xyz/vrouter/internal/arp"
	"firestige.xyz/vrouter/internal/core"
	"firestige.xyz/vrouter/internal/ethernet"
	"firestige.xyz/vrouter/internal/ipv4"
	"firestige.xyz/vrouter/internal/link"
)

// frameOptions are the flags shared by the frame subcommands.
type frameOptions struct {
	srcMAC string
	dstMAC string
	srcIP  string
	dstIP  string
	opcode uint16
	ttl    uint8
	proto  uint8
	id     uint16
	data   string
	to     string
}

var arpOpts, ipOpts frameOptions

var frameCmd = &cobra.Command{
	Use:   "frame",
	Short: "Build test frames",
	Long: `Build a test frame with the router's own codecs and print a hex dump.
With --to the frame is also sent as one UDP datagram, for example to a
router interface listening on 127.0.0.1:7000.`,
}

var frameARPCmd = &cobra.Command{
	Use:   "arp",
	Short: "Build an ARP frame",
	Example: `  vrouter frame arp --src-mac 74:2F:13:8B:72:69 --src-ip 80.1.1.2 --dst-ip 80.1.0.1
  vrouter frame arp --opcode 2 --dst-mac 60:6D:67:E2:F9:6E ...`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runFrameARP(arpOpts, cmd.OutOrStdout())
	},
}

var frameIPCmd = &cobra.Command{
	Use:     "ip",
	Short:   "Build an IPv4 frame",
	Example: `  vrouter frame ip --src-ip 80.1.1.2 --dst-ip 100.3.8.9 --ttl 1 --data hello --to 127.0.0.1:7000`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runFrameIP(ipOpts, cmd.OutOrStdout())
	},
}

func init() {
	bindCommon(frameARPCmd, &arpOpts, "FF:FF:FF:FF:FF:FF")
	frameARPCmd.Flags().Uint16Var(&arpOpts.opcode, "opcode", arp.OpRequest, "ARP opcode")

	bindCommon(frameIPCmd, &ipOpts, "60:6D:67:E2:F9:6E")
	frameIPCmd.Flags().Uint8Var(&ipOpts.ttl, "ttl", ipv4.DefaultTTL, "time to live")
	frameIPCmd.Flags().Uint8Var(&ipOpts.proto, "proto", 17, "IP protocol number")
	frameIPCmd.Flags().Uint16Var(&ipOpts.id, "id", 1, "IP identification")
	frameIPCmd.Flags().StringVar(&ipOpts.data, "data", "", "payload text")

	frameCmd.AddCommand(frameARPCmd)
	frameCmd.AddCommand(frameIPCmd)
}

func bindCommon(c *cobra.Command, o *frameOptions, dstMAC string) {
	f := c.Flags()
	f.StringVar(&o.srcMAC, "src-mac", "74:2F:13:8B:72:69", "source MAC address")
	f.StringVar(&o.dstMAC, "dst-mac", dstMAC, "destination (ARP target) MAC address")
	f.StringVar(&o.srcIP, "src-ip", "80.1.1.2", "source IPv4 address")
	f.StringVar(&o.dstIP, "dst-ip", "80.1.0.1", "destination (ARP target) IPv4 address")
	f.StringVar(&o.to, "to", "", "UDP address to send the frame to")
}

func (o frameOptions) addrs() (srcMAC, dstMAC core.MAC, srcIP, dstIP netip.Addr, err error) {
	if srcMAC, err = core.ParseMAC(o.srcMAC); err != nil {
		return
	}
	if dstMAC, err = core.ParseMAC(o.dstMAC); err != nil {
		return
	}
	if srcIP, err = netip.ParseAddr(o.srcIP); err != nil {
		return
	}
	dstIP, err = netip.ParseAddr(o.dstIP)
	return
}

func runFrameARP(o frameOptions, w io.Writer) error {
	srcMAC, dstMAC, srcIP, dstIP, err := o.addrs()
	if err != nil {
		return err
	}
	frame, err := arp.BuildRequest(srcIP, dstIP, o.opcode, srcMAC, dstMAC)
	if err != nil {
		return err
	}
	return emitFrame(frame, o.to, w)
}

func runFrameIP(o frameOptions, w io.Writer) error {
	srcMAC, dstMAC, srcIP, dstIP, err := o.addrs()
	if err != nil {
		return err
	}
	pkt, err := ipv4.Build(srcIP, dstIP, o.id, o.proto, o.ttl, []byte(o.data))
	if err != nil {
		return err
	}
	frame, err := ethernet.Build(srcMAC, dstMAC, uint16(ethernet.TypeIPv4), pkt)
	if err != nil {
		return err
	}
	return emitFrame(frame, o.to, w)
}

// emitFrame dumps frame to w and, when to is set, sends it over a UDP link.
func emitFrame(frame []byte, to string, w io.Writer) error {
	fmt.Fprintf(w, "%d-byte frame\n%s", len(frame), hex.Dump(frame))
	if to == "" {
		return nil
	}
	l, err := link.Open(link.Config{
		Type:    link.TypeUDP,
		Options: map[string]any{"local": "0.0.0.0:0", "remote": to},
	})
	if err != nil {
		return err
	}
	defer l.Close()
	if err := l.Send(frame); err != nil {
		return fmt.Errorf("send to %s: %w", to, err)
	}
	fmt.Fprintf(w, "sent to %s\n", to)

	// Print a reply if one comes back quickly.
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if reply, err := l.Receive(ctx); err == nil {
		fmt.Fprintf(w, "%d-byte reply\n%s", len(reply), hex.Dump(reply))
	}
	return nil
}
