// Package device lists serial ports and runs the serial monitor.
package device

import (
	"fmt"
	"slices"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"go.bug.st/serial/enumerator"
)

const noHWID = "n/a"

// SerialPort is an entry of `device list`
type SerialPort struct {
	Port        string `json:"port"`
	Description string `json:"description"`
	HWID        string `json:"hwid"`
}

// IsUSB reports whether the port has a USB hardware id
func (p SerialPort) IsUSB() bool {
	return strings.Contains(p.HWID, "VID:PID")
}

func portFromDetails(d *enumerator.PortDetails) SerialPort {
	p := SerialPort{Port: d.Name, Description: noHWID, HWID: noHWID}
	if d.IsUSB {
		p.HWID = fmt.Sprintf("USB VID:PID=%s:%s", strings.ToUpper(d.VID), strings.ToUpper(d.PID))
		if d.SerialNumber != "" {
			p.HWID += " SER=" + d.SerialNumber
		}
		p.Description = "USB serial device"
	}
	return p
}

// ListSerialPorts returns the serial ports of the system sorted by name
func ListSerialPorts() ([]SerialPort, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to list serial ports: %w", err)
	}
	ports := make([]SerialPort, 0, len(details))
	for _, d := range details {
		ports = append(ports, portFromDetails(d))
	}
	slices.SortFunc(ports, func(a, b SerialPort) int { return strings.Compare(a.Port, b.Port) })
	return ports, nil
}

// USBPorts keeps the ports with a USB hardware id
func USBPorts(ports []SerialPort) []SerialPort {
	var out []SerialPort
	for _, p := range ports {
		if p.IsUSB() {
			out = append(out, p)
		}
	}
	return out
}

func isPattern(port string) bool {
	return strings.ContainsAny(port, "*?[]")
}

// ResolvePort picks the port to open. A glob selects the first matching
// port, an empty name selects the only USB port if there is exactly one.
// The name is returned unchanged otherwise.
func ResolvePort(name string, ports []SerialPort) string {
	if name == "" {
		if usb := USBPorts(ports); len(usb) == 1 {
			return usb[0].Port
		}
		return ""
	}
	if !isPattern(name) {
		return name
	}
	for _, p := range ports {
		if ok, _ := doublestar.Match(name, p.Port); ok {
			return p.Port
		}
	}
	return name
}
