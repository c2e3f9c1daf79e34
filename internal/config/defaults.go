package config

import (
	"fmt"

	"firestige.xyz/vrouter/internal/link"
)

// linkBasePort is the UDP port of interface 0's default link; interface n
// listens on linkBasePort+n.
const linkBasePort = 7000

// DefaultInterfaces returns the built-in four-port interface table.
func DefaultInterfaces() []InterfaceConfig {
	ifaces := []InterfaceConfig{
		{Name: "r0_0", IP: "80.1.0.1", MAC: "60:6D:67:E2:F9:6E"},
		{Name: "r0_1", IP: "90.2.0.2", MAC: "60:6D:67:CA:7A:04"},
		{Name: "r0_2", IP: "100.3.0.3", MAC: "60:6D:67:A7:13:23"},
		{Name: "r0_3", IP: "210.0.0.4", MAC: "60:6D:67:52:61:EC"},
	}
	for i := range ifaces {
		ifaces[i].Link = link.Config{
			Type:    link.TypeUDP,
			Options: map[string]any{"local": fmt.Sprintf("127.0.0.1:%d", linkBasePort+i)},
		}
	}
	return ifaces
}

// DefaultRoutes returns the built-in routing table.
func DefaultRoutes() []RouteConfig {
	const mask = "255.255.0.0"
	return []RouteConfig{
		{Network: "80.1.0.0", Netmask: mask, Interface: 0},
		{Network: "90.2.0.0", Netmask: mask, Interface: 1},
		{Network: "100.3.0.0", Netmask: mask, Interface: 2},
		{Network: "160.4.0.0", Netmask: mask, Gateway: "100.3.0.5", Interface: 2},
		{Network: "210.5.0.0", Netmask: mask, Interface: 3},
		{Network: "250.6.0.0", Netmask: mask, Gateway: "210.5.0.7", Interface: 3},
	}
}

// DefaultARP returns the built-in ARP cache.
func DefaultARP() []ARPEntryConfig {
	return []ARPEntryConfig{
		{IP: "80.1.0.5", MAC: "58:9C:FC:00:B2:20"},
		{IP: "80.1.1.2", MAC: "74:2F:13:8B:72:69"},
		{IP: "80.1.2.3", MAC: "09:BF:AB:CE:14:98"},
		{IP: "90.2.4.5", MAC: "B1:07:56:E1:2C:9D"},
		{IP: "90.2.6.7", MAC: "89:98:D0:8D:62:1A"},
		{IP: "100.3.8.9", MAC: "3F:D1:8C:31:98:AE"},
		{IP: "100.3.1.2", MAC: "F7:BD:8F:07:71:ED"},
		{IP: "100.3.0.5", MAC: "D5:A1:BE:B7:84:36"},
		{IP: "210.5.9.0", MAC: "C1:42:13:EF:0C:F7"},
		{IP: "210.5.0.7", MAC: "9D:0D:24:54:87:8C"},
	}
}

// DefaultListeningPorts returns ports 4000 to 4009.
func DefaultListeningPorts() []int {
	ports := make([]int, 10)
	for i := range ports {
		ports[i] = 4000 + i
	}
	return ports
}
