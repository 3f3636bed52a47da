package mqtt

import (
	"testing"

	"github.com/shirou/gopsutil/v3/host"
)

func TestTopicsKind(t *testing.T) {
	topics := NewTopics("test/room/", "rpi-aare")
	tests := []struct {
		topic string
		want  Kind
	}{
		{"test/room/rpi-aare/data", KindData},
		{"test/room/rpi-aare/clear", KindClear},
		{"test/room/rpi-aare/status", KindStatus},
		{"test/room/rpi-aare/ping", KindPing},
		{"test/room/rpi-aare/info", KindInfo},
		{"test/room/rpi-aare/data/extra", KindOther},
		{"test/room/rpi-limmat/data", KindOther},
		{"data", KindOther},
	}
	for _, tt := range tests {
		if got := topics.Kind(tt.topic); got != tt.want {
			t.Errorf("Kind(%q) = %v, want %v", tt.topic, got, tt.want)
		}
	}
	if got := topics.Subscription(); got != "test/room/rpi-aare/#" {
		t.Errorf("Subscription() = %q", got)
	}
}

func TestIsClearCommand(t *testing.T) {
	for payload, want := range map[string]bool{
		"true":    true,
		"TRUE":    true,
		" True\n": true,
		"false":   false,
		"1":       false,
		"":        false,
		"truthy":  false,
	} {
		if got := IsClearCommand([]byte(payload)); got != want {
			t.Errorf("IsClearCommand(%q) = %v, want %v", payload, got, want)
		}
	}
}

func TestCPUTemperature(t *testing.T) {
	temps := []host.TemperatureStat{
		{SensorKey: "nvme_composite", Temperature: 38},
		{SensorKey: "cpu_thermal", Temperature: 51.5},
	}
	if got := cpuTemperature(temps); got == nil || *got != 51.5 {
		t.Errorf("cpuTemperature = %v, want 51.5", got)
	}
	if got := cpuTemperature(temps[:1]); got == nil || *got != 38 {
		t.Errorf("fallback = %v, want 38", got)
	}
	if got := cpuTemperature(nil); got != nil {
		t.Errorf("no sensors = %v, want nil", *got)
	}
}
