package display

import (
	"errors"
	"strings"
	"testing"
)

type recordingDevice struct {
	calls []string
	err   error
}

func (d *recordingDevice) Init() error       { d.calls = append(d.calls, "init"); return d.err }
func (d *recordingDevice) Clear() error      { d.calls = append(d.calls, "clear"); return d.err }
func (d *recordingDevice) Show(*Frame) error { d.calls = append(d.calls, "show"); return d.err }
func (d *recordingDevice) Sleep() error      { d.calls = append(d.calls, "sleep"); return d.err }

func TestMultiReachesEveryDevice(t *testing.T) {
	boom := errors.New("bus off")
	ok := &recordingDevice{}
	broken := &recordingDevice{err: boom}
	m := Multi{broken, ok}

	if err := m.Init(); !errors.Is(err, boom) {
		t.Errorf("Init err = %v, want %v", err, boom)
	}
	if err := m.Show(&Frame{}); !errors.Is(err, boom) {
		t.Errorf("Show err = %v, want %v", err, boom)
	}
	_ = m.Clear()
	_ = m.Sleep()

	want := "init show clear sleep"
	for _, d := range []*recordingDevice{ok, broken} {
		if got := strings.Join(d.calls, " "); got != want {
			t.Errorf("calls = %q, want %q", got, want)
		}
	}
	if err := (Multi{ok}).Show(&Frame{}); err != nil {
		t.Errorf("healthy Multi returned %v", err)
	}
}
