package state

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/farouk15160/room-display-agent/internal/clock"
	"github.com/farouk15160/room-display-agent/internal/render"
	"github.com/farouk15160/room-display-agent/internal/room"
)

var epoch = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

const (
	freeNoEvents = `{"room":"Aare","capacity":8,"is_occupied":false}`
	freeOneEvent = `{"room":"Aare","capacity":8,"is_occupied":false,
		"events":[{"name":"Review","start":"2026-03-02 13:00:00","stop":"2026-03-02 14:00:00","organizer":"Mia"}]}`
	busyOneEvent = `{"room":"Aare","capacity":8,"is_occupied":true,
		"current_event":{"name":"Review","start":"2026-03-02 13:00:00","stop":"2026-03-02 14:00:00","organizer":"Mia"},
		"events":[{"name":"Review","start":"2026-03-02 13:00:00","stop":"2026-03-02 14:00:00","organizer":"Mia"}]}`
)

type sink struct {
	mu   sync.Mutex
	jobs []render.Job
}

func (s *sink) Enqueue(j render.Job) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append(s.jobs, j)
	return true
}

func (s *sink) take() []render.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.jobs
	s.jobs = nil
	return out
}

func (s *sink) views() []room.View {
	jobs := s.take()
	out := make([]room.View, len(jobs))
	for i, j := range jobs {
		out[i] = j.View
	}
	return out
}

func newStore(t *testing.T) (*Store, *clock.Fake, *sink) {
	t.Helper()
	l := zerolog.Nop()
	c := clock.NewFake(epoch)
	out := &sink{}
	s := New(&Config{
		Logger:           &l,
		Clock:            c,
		Sink:             out,
		SettleDelay:      3 * time.Second,
		RotationInterval: 20 * time.Second,
		DataTimeout:      60 * time.Second,
	})
	t.Cleanup(s.Shutdown)
	return s, c, out
}

func apply(t *testing.T, s *Store, payload string) room.Classification {
	t.Helper()
	class, err := s.ApplyIncomingData([]byte(payload))
	if err != nil {
		t.Fatalf("ApplyIncomingData: %v", err)
	}
	return class
}

func equalViews(got []room.View, want ...room.View) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

func TestConnectWithoutDataShowsSetup(t *testing.T) {
	s, _, out := newStore(t)
	s.Connected()

	jobs := out.take()
	if len(jobs) != 1 || jobs[0].View != room.ViewSetup || jobs[0].Link.State != room.Connected {
		t.Fatalf("jobs = %+v, want one connected setup job", jobs)
	}
	if jobs[0].Snapshot != nil {
		t.Error("setup job carries a snapshot")
	}
}

func TestFirstDataThenRotationWithoutEvents(t *testing.T) {
	s, c, out := newStore(t)
	s.Connected()
	out.take()

	if class := apply(t, s, freeNoEvents); class != room.FirstData {
		t.Fatalf("class = %v, want FirstData", class)
	}
	if got := out.views(); !equalViews(got, room.ViewData) {
		t.Fatalf("views after first data = %v, want [data]", got)
	}

	c.Advance(2 * time.Second)
	if got := out.views(); len(got) != 0 {
		t.Fatalf("rotation ticked inside the settle delay: %v", got)
	}
	c.Advance(time.Second)
	c.Advance(20 * time.Second)
	if got := out.views(); !equalViews(got, room.ViewData, room.ViewData) {
		t.Fatalf("rotation views = %v, want [data data]", got)
	}
}

func TestRotationAlternatesWithEvents(t *testing.T) {
	s, c, out := newStore(t)
	s.Connected()
	apply(t, s, freeOneEvent)
	out.take()

	// Keep the data fresh so the watchdog stays quiet.
	for i := 0; i < 3; i++ {
		c.Advance(20 * time.Second)
		if class := apply(t, s, freeOneEvent); class != room.RoutineUpdate {
			t.Fatalf("class = %v, want RoutineUpdate", class)
		}
	}
	got := out.views()
	if !equalViews(got, room.ViewEvents, room.ViewData, room.ViewEvents) {
		t.Fatalf("views = %v, want [events data events]", got)
	}
}

func TestRotationUsesSnapshotAtTickTime(t *testing.T) {
	s, c, out := newStore(t)
	apply(t, s, freeNoEvents)
	c.Advance(time.Second)
	apply(t, s, `{"room":"Aare","capacity":12,"is_occupied":false}`)
	out.take()

	c.Advance(2 * time.Second)
	jobs := out.take()
	if len(jobs) != 1 || jobs[0].Snapshot.Capacity != 12 {
		t.Fatalf("tick job = %+v, want the latest snapshot", jobs)
	}
}

func TestSignificantChangeRendersActiveView(t *testing.T) {
	s, c, out := newStore(t)
	s.Connected()
	apply(t, s, freeOneEvent)
	c.Advance(3 * time.Second) // first tick switches to events
	out.take()
	if v := s.View(); v != room.ViewEvents {
		t.Fatalf("view = %v, want events", v)
	}

	if class := apply(t, s, busyOneEvent); class != room.SignificantChange {
		t.Fatalf("class = %v, want SignificantChange", class)
	}
	jobs := out.take()
	if len(jobs) != 1 || jobs[0].View != room.ViewEvents {
		t.Fatalf("jobs = %+v, want one events job", jobs)
	}
	if jobs[0].Snapshot.CurrentEvent == nil || !jobs[0].Snapshot.IsOccupied {
		t.Error("forced render does not carry the new snapshot")
	}
}

func TestRoutineUpdateDoesNotRender(t *testing.T) {
	s, _, out := newStore(t)
	apply(t, s, freeNoEvents)
	out.take()
	if class := apply(t, s, freeNoEvents); class != room.RoutineUpdate {
		t.Fatalf("class = %v, want RoutineUpdate", class)
	}
	if got := out.take(); len(got) != 0 {
		t.Errorf("routine update rendered %d jobs", len(got))
	}
}

func TestMalformedPayloadKeepsState(t *testing.T) {
	s, c, out := newStore(t)
	apply(t, s, freeNoEvents)
	before := s.Snapshot()
	out.take()

	c.Advance(50 * time.Second)
	if _, err := s.ApplyIncomingData([]byte(`{"room":`)); !errors.Is(err, room.ErrMalformedPayload) {
		t.Fatalf("err = %v, want ErrMalformedPayload", err)
	}
	if after := s.Snapshot(); after.Capacity != before.Capacity || !after.Timestamp.Equal(before.Timestamp) {
		t.Error("malformed payload changed the snapshot")
	}

	// The malformed message did not reset the watchdog.
	c.Advance(10 * time.Second)
	if s.Snapshot() != nil || s.View() != room.ViewSetup {
		t.Fatal("watchdog did not fire 60s after the last good message")
	}
}

func TestClear(t *testing.T) {
	s, c, out := newStore(t)
	s.Connected()
	apply(t, s, freeOneEvent)
	c.Advance(3 * time.Second)
	out.take()

	s.Clear()
	s.Clear()
	if got := out.views(); !equalViews(got, room.ViewSetup) {
		t.Fatalf("views = %v, want exactly one setup", got)
	}
	if s.Snapshot() != nil {
		t.Error("snapshot not emptied")
	}
	if rot, wd := s.Timers(); rot || wd {
		t.Errorf("timers still armed: rotation=%v watchdog=%v", rot, wd)
	}
	c.Advance(5 * time.Minute)
	if got := out.take(); len(got) != 0 {
		t.Errorf("stopped timers rendered %d jobs", len(got))
	}

	if class := apply(t, s, freeNoEvents); class != room.FirstData {
		t.Errorf("class after clear = %v, want FirstData", class)
	}
}

func TestWatchdogExpiry(t *testing.T) {
	s, c, out := newStore(t)
	s.Connected()
	apply(t, s, freeNoEvents)

	c.Advance(59 * time.Second)
	apply(t, s, freeNoEvents)
	c.Advance(59 * time.Second)
	if s.Snapshot() == nil {
		t.Fatal("fresh message inside the window did not postpone the timeout")
	}
	out.take()

	c.Advance(time.Second)
	if s.Snapshot() != nil || s.View() != room.ViewSetup {
		t.Fatal("timeout did not clear the store")
	}
	if got := out.views(); !equalViews(got, room.ViewSetup) {
		t.Fatalf("views = %v, want [setup]", got)
	}
	if rot, _ := s.Timers(); rot {
		t.Error("rotation still running after timeout")
	}
}

func TestDisconnectAndResume(t *testing.T) {
	s, c, out := newStore(t)
	s.Connected()
	apply(t, s, freeOneEvent)
	c.Advance(3 * time.Second)
	out.take()

	s.Disconnected(errors.New("connection reset"))
	jobs := out.take()
	if len(jobs) != 1 || jobs[0].View != room.ViewSetup {
		t.Fatalf("jobs = %+v, want one setup job", jobs)
	}
	if jobs[0].Link.State != room.Disconnected || jobs[0].Link.LastErr != "connection reset" {
		t.Errorf("link = %+v", jobs[0].Link)
	}
	if rot, wd := s.Timers(); rot || wd {
		t.Errorf("timers armed while disconnected: rotation=%v watchdog=%v", rot, wd)
	}
	if s.Snapshot() == nil {
		t.Fatal("snapshot dropped on disconnect")
	}

	// A second report of the same loss changes nothing visible.
	s.Disconnected(errors.New("connection reset"))
	if got := out.take(); len(got) != 0 {
		t.Errorf("duplicate disconnect rendered %d jobs", len(got))
	}

	c.Advance(10 * time.Minute)
	if s.Snapshot() == nil {
		t.Fatal("watchdog cleared the store while disconnected")
	}

	s.Connected()
	if got := out.views(); !equalViews(got, room.ViewSetup) {
		t.Fatalf("views on reconnect = %v, want [setup]", got)
	}
	if rot, wd := s.Timers(); !rot || !wd {
		t.Fatalf("timers not resumed: rotation=%v watchdog=%v", rot, wd)
	}
	c.Advance(3 * time.Second)
	if got := out.views(); !equalViews(got, room.ViewData) {
		t.Fatalf("first tick after resume = %v, want [data]", got)
	}
}

func TestForceSetupKeepsSnapshot(t *testing.T) {
	s, c, out := newStore(t)
	apply(t, s, freeNoEvents)
	c.Advance(3 * time.Second)
	out.take()

	s.ForceSetup()
	s.ForceSetup()
	if got := out.views(); !equalViews(got, room.ViewSetup, room.ViewSetup) {
		t.Fatalf("views = %v, want two forced setups", got)
	}
	if s.Snapshot() == nil {
		t.Error("ForceSetup dropped the snapshot")
	}
	if rot, wd := s.Timers(); rot || wd {
		t.Error("ForceSetup left timers armed")
	}
}

func TestSetLinkRendersOnlyOnSetup(t *testing.T) {
	s, _, out := newStore(t)
	s.SetLink(room.Connecting, nil)
	s.SetLink(room.Connecting, nil)
	s.SetLink(room.Error, errors.New("dial tcp: i/o timeout"))
	jobs := out.take()
	if len(jobs) != 2 || jobs[1].Link.State != room.Error || jobs[1].Link.LastErr != "dial tcp: i/o timeout" {
		t.Fatalf("jobs = %+v", jobs)
	}

	apply(t, s, freeNoEvents)
	out.take()
	s.SetLink(room.Connected, nil)
	if got := out.take(); len(got) != 0 {
		t.Errorf("link change rendered over the data view: %+v", got)
	}
}

func TestRevisionsIncrease(t *testing.T) {
	s, c, out := newStore(t)
	s.Connected()
	apply(t, s, freeOneEvent)
	c.Advance(43 * time.Second)
	apply(t, s, busyOneEvent)
	s.Clear()

	var last uint64
	for _, j := range out.take() {
		if j.Rev <= last {
			t.Fatalf("revision %d after %d", j.Rev, last)
		}
		last = j.Rev
	}
}

func TestStaleTimerTokensAreIgnored(t *testing.T) {
	s, c, out := newStore(t)
	apply(t, s, freeNoEvents)
	c.Advance(3 * time.Second)
	out.take()

	s.Rotate(0)
	s.Expire(0)
	if got := out.take(); len(got) != 0 || s.Snapshot() == nil {
		t.Fatalf("stale tokens acted: jobs=%v", got)
	}
}

func TestShutdown(t *testing.T) {
	s, c, out := newStore(t)
	apply(t, s, freeNoEvents)
	out.take()
	s.Shutdown()

	if _, err := s.ApplyIncomingData([]byte(freeNoEvents)); !errors.Is(err, ErrClosed) {
		t.Errorf("err = %v, want ErrClosed", err)
	}
	s.Clear()
	s.Connected()
	s.Disconnected(nil)
	s.ForceSetup()
	c.Advance(time.Hour)
	if got := out.take(); len(got) != 0 {
		t.Errorf("closed store rendered %d jobs", len(got))
	}
}

func TestSnapshotIsAtomicUnderConcurrency(t *testing.T) {
	s, _, _ := newStore(t)

	var wg sync.WaitGroup
	stop := make(chan struct{})
	errs := make(chan error, 1)

	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				snap := s.Snapshot()
				if snap == nil {
					continue
				}
				if want := fmt.Sprintf("room-%d", snap.Capacity); snap.Room != want || snap.IsOccupied != (snap.Capacity%2 == 0) {
					select {
					case errs <- fmt.Errorf("torn snapshot: %+v", snap):
					default:
					}
					return
				}
			}
		}()
	}

	var writers sync.WaitGroup
	for w := 0; w < 4; w++ {
		writers.Add(1)
		go func(w int) {
			defer writers.Done()
			for i := 0; i < 300; i++ {
				n := w*1000 + i
				payload := fmt.Sprintf(`{"room":"room-%d","capacity":%d,"is_occupied":%t}`, n, n, n%2 == 0)
				if _, err := s.ApplyIncomingData([]byte(payload)); err != nil {
					select {
					case errs <- err:
					default:
					}
					return
				}
			}
		}(w)
	}
	writers.Wait()
	close(stop)
	wg.Wait()

	select {
	case err := <-errs:
		t.Fatal(err)
	default:
	}
}
