package mqtt

import (
	"net"
	"os"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
	psnet "github.com/shirou/gopsutil/v3/net"
)

// HostInfo is published retained on the info topic after every connect.
type HostInfo struct {
	Device        string    `json:"device"`
	Version       string    `json:"version"`
	Hostname      string    `json:"hostname"`
	IP            string    `json:"ip,omitempty"`
	UptimeSeconds uint64    `json:"uptime_seconds"`
	CPUPercent    float64   `json:"cpu_percent"`
	MemoryPercent float64   `json:"memory_percent"`
	TemperatureC  *float64  `json:"temperature_c,omitempty"`
	ConnectedAt   time.Time `json:"connected_at"`
}

// collectHostInfo gathers what it can. Missing sensors leave fields empty;
// nothing here is worth failing a connect for.
func collectHostInfo(device, version string, connectedAt time.Time) HostInfo {
	info := HostInfo{
		Device:      device,
		Version:     version,
		ConnectedAt: connectedAt,
	}
	if hi, err := host.Info(); err == nil {
		info.Hostname = hi.Hostname
		info.UptimeSeconds = hi.Uptime
	} else if name, err := os.Hostname(); err == nil {
		info.Hostname = name
	}
	// Non-blocking sample: usage since the previous call.
	if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
		info.CPUPercent = pct[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		info.MemoryPercent = vm.UsedPercent
	}
	if temps, err := host.SensorsTemperatures(); err == nil {
		info.TemperatureC = cpuTemperature(temps)
	}
	info.IP = primaryIP()
	return info
}

// cpuTemperature prefers the SoC sensor (cpu_thermal on a Raspberry Pi).
func cpuTemperature(temps []host.TemperatureStat) *float64 {
	var fallback *float64
	for i := range temps {
		t := temps[i].Temperature
		if t <= 0 {
			continue
		}
		key := strings.ToLower(temps[i].SensorKey)
		if strings.Contains(key, "cpu") || strings.Contains(key, "soc") {
			return &t
		}
		if fallback == nil {
			fallback = &t
		}
	}
	return fallback
}

// primaryIP returns the first IPv4 address of an interface that is up and
// not a loopback.
func primaryIP() string {
	ifaces, err := psnet.Interfaces()
	if err != nil {
		return ""
	}
	for _, ifi := range ifaces {
		if hasFlag(ifi.Flags, "loopback") || !hasFlag(ifi.Flags, "up") {
			continue
		}
		for _, a := range ifi.Addrs {
			ip, _, err := net.ParseCIDR(a.Addr)
			if err != nil {
				ip = net.ParseIP(a.Addr)
			}
			if ip != nil && ip.To4() != nil {
				return ip.String()
			}
		}
	}
	return ""
}

func hasFlag(flags []string, want string) bool {
	for _, f := range flags {
		if f == want {
			return true
		}
	}
	return false
}
