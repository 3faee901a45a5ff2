package mavlink

import (
	"fmt"
	"strings"

	"ardupilot-manager/pkg/model"
)

// RenderConfig produces a mavlink-routerd configuration file for the master
// link and every registered endpoint.
func RenderConfig(master model.Endpoint, endpoints []model.Endpoint) string {
	var b strings.Builder
	b.WriteString("[General]\n")
	b.WriteString("TcpServerPort = 0\n")
	b.WriteString("ReportStats = false\n")
	b.WriteString("\n")

	used := map[string]int{}
	writeEndpoint(&b, used, master)
	for _, e := range endpoints {
		writeEndpoint(&b, used, e)
	}
	return b.String()
}

func writeEndpoint(b *strings.Builder, used map[string]int, e model.Endpoint) {
	name := sectionName(e.Name)
	used[name]++
	if n := used[name]; n > 1 {
		name = fmt.Sprintf("%s_%d", name, n)
	}
	switch e.ConnectionKind {
	case model.Serial:
		fmt.Fprintf(b, "[UartEndpoint %s]\n", name)
		fmt.Fprintf(b, "Device = %s\n", e.Place)
		fmt.Fprintf(b, "Baud = %d\n", e.Argument)
	case model.UDPIn, model.UDPOut:
		mode := "Normal"
		if e.ConnectionKind == model.UDPIn {
			mode = "Server"
		}
		fmt.Fprintf(b, "[UdpEndpoint %s]\n", name)
		fmt.Fprintf(b, "Mode = %s\n", mode)
		fmt.Fprintf(b, "Address = %s\n", e.Place)
		fmt.Fprintf(b, "Port = %d\n", e.Argument)
	case model.TCP:
		fmt.Fprintf(b, "[TcpEndpoint %s]\n", name)
		fmt.Fprintf(b, "Address = %s\n", e.Place)
		fmt.Fprintf(b, "Port = %d\n", e.Argument)
	}
	b.WriteString("\n")
}

// sectionName keeps only characters mavlink-routerd accepts in section names.
func sectionName(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		return "endpoint"
	}
	return b.String()
}
