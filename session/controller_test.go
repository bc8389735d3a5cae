package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"callguard/analyzer"
	"callguard/audio"
)

// recorder collects UI callbacks for assertions.
type recorder struct {
	mu      sync.Mutex
	updates []Update
	errors  []string
	states  []State
}

func (r *recorder) onUpdate(u Update) {
	r.mu.Lock()
	r.updates = append(r.updates, u)
	r.mu.Unlock()
}

func (r *recorder) onError(msg string) {
	r.mu.Lock()
	r.errors = append(r.errors, msg)
	r.mu.Unlock()
}

func (r *recorder) onState(s State) {
	r.mu.Lock()
	r.states = append(r.states, s)
	r.mu.Unlock()
}

func (r *recorder) updateCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.updates)
}

func (r *recorder) update(i int) Update {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.updates[i]
}

func (r *recorder) errorCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.errors)
}

type fixture struct {
	audio   *audio.FakeContext
	channel *analyzer.FakeChannel
	rec     *recorder
	ctrl    *Controller
}

func newFixture(t *testing.T, script []analyzer.Fragment, mod func(*Config)) *fixture {
	t.Helper()
	pcm := make([]byte, 64*1024)
	for i := range pcm {
		pcm[i] = byte(i)
	}
	f := &fixture{
		audio: audio.NewFakeContext(pcm, 16000, false),
		rec:   &recorder{},
	}
	cfg := Config{
		Audio: f.audio,
		NewChannel: func(cbs analyzer.ChannelCallbacks) Channel {
			f.channel = analyzer.NewFakeChannel(cbs, script...)
			return f.channel
		},
		ChunkDuration:     20 * time.Millisecond,
		AcquireRetryDelay: 5 * time.Millisecond,
		OnUpdate:          f.rec.onUpdate,
		OnError:           f.rec.onError,
		OnState:           f.rec.onState,
	}
	if mod != nil {
		mod(&cfg)
	}
	f.ctrl = New(cfg)
	t.Cleanup(f.ctrl.Stop)
	return f
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestStartStop(t *testing.T) {
	for _, pipelined := range []bool{false, true} {
		name := "sequential"
		if pipelined {
			name = "pipelined"
		}
		t.Run(name, func(t *testing.T) {
			script := []analyzer.Fragment{
				{Confidence: 0.1}, {Confidence: 0.2}, {Confidence: 0.3},
			}
			f := newFixture(t, script, func(c *Config) { c.Pipelined = pipelined })

			if err := f.ctrl.Start(context.Background()); err != nil {
				t.Fatalf("Start: %v", err)
			}
			waitFor(t, func() bool { return f.rec.updateCount() >= 3 }, "updates never arrived")

			f.ctrl.Stop()

			for i := 0; i < 3; i++ {
				if u := f.rec.update(i); u.Fragment.Suspicious {
					t.Errorf("update %d unexpectedly suspicious", i)
				}
			}
			if h := f.ctrl.History(); len(h) != 0 {
				t.Errorf("history after stop = %d entries, want 0", len(h))
			}
			if st := f.ctrl.State(); st != Idle {
				t.Errorf("state after stop = %v, want idle", st)
			}
			if n := f.audio.OpenHandles(); n != 0 {
				t.Errorf("open device handles after stop = %d, want 0", n)
			}
			if f.channel.IsOpen() {
				t.Error("channel still open after stop")
			}
		})
	}
}

func TestStartIdempotent(t *testing.T) {
	f := newFixture(t, nil, nil)
	if err := f.ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, f.ctrl.Streaming, "never reached streaming")

	if err := f.ctrl.Start(context.Background()); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	if got := f.channel.Opens(); got != 1 {
		t.Errorf("channel opens = %d, want 1 (second start must be a no-op)", got)
	}
	f.ctrl.Stop()
}

func TestStopNeverStarted(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.ctrl.Stop()
	f.ctrl.Stop()
	if st := f.ctrl.State(); st != Idle {
		t.Errorf("state = %v, want idle", st)
	}
}

func TestHistoryTracksSuspiciousFragments(t *testing.T) {
	script := []analyzer.Fragment{
		{Suspicious: true, Confidence: 0.9, Reasons: []string{"otp request"}},
		{Confidence: 0.1},
	}
	f := newFixture(t, script, nil)
	if err := f.ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, func() bool { return f.rec.updateCount() >= 2 }, "updates never arrived")

	first := f.rec.update(0)
	if len(first.History) != 1 || !first.History[0].Suspicious {
		t.Errorf("history after suspicious fragment = %+v, want 1 entry", first.History)
	}
	second := f.rec.update(1)
	if len(second.History) != 1 {
		t.Errorf("history after non-suspicious fragment = %d entries, want still 1", len(second.History))
	}
	// Earlier snapshot must not have changed under the receiver.
	if len(first.History) != 1 || first.History[0].Confidence != 0.9 {
		t.Errorf("delivered snapshot mutated: %+v", first.History)
	}
	f.ctrl.Stop()
}

func TestSegmentsDroppedWhileDisconnected(t *testing.T) {
	f := newFixture(t, nil, nil)
	if err := f.ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, f.ctrl.Streaming, "never reached streaming")

	// Simulate a connection mid-reconnect: sends fail, the run keeps going.
	f.channel.SetSendErr(analyzer.ErrNotConnected)
	sent := f.channel.Sent()
	time.Sleep(100 * time.Millisecond)

	if f.ctrl.State() != Streaming {
		t.Errorf("state = %v, want streaming despite dropped segments", f.ctrl.State())
	}
	if f.channel.Sent() != sent {
		t.Errorf("segments sent while disconnected: %d -> %d", sent, f.channel.Sent())
	}
	f.ctrl.Stop()
	if st := f.ctrl.State(); st != Idle {
		t.Errorf("state after stop = %v, want idle", st)
	}
}

func TestTerminalChannelErrorEndsRun(t *testing.T) {
	f := newFixture(t, nil, nil)
	if err := f.ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, f.ctrl.Streaming, "never reached streaming")

	f.channel.EmitTerminal(analyzer.ErrConnectionFailed)

	waitFor(t, func() bool { return f.ctrl.State() == Idle }, "run never tore down")
	if err := f.ctrl.LastError(); !errors.Is(err, analyzer.ErrConnectionFailed) {
		t.Errorf("LastError = %v, want ErrConnectionFailed", err)
	}
	if f.rec.errorCount() == 0 {
		t.Error("error callback never fired")
	}
	if n := f.audio.OpenHandles(); n != 0 {
		t.Errorf("open device handles = %d, want 0", n)
	}
}

func TestPermissionDeniedIsFatal(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.audio.DenyPermission()

	if err := f.ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, func() bool { return f.ctrl.State() == Idle && f.ctrl.LastError() != nil },
		"permission denial never ended the run")

	if err := f.ctrl.LastError(); !audio.PermissionDenied(err) {
		t.Errorf("LastError = %v, want permission-denied", err)
	}
	if f.channel.IsOpen() {
		t.Error("channel still open after fatal permission error")
	}
}

func TestTransientAcquireFailuresAreRetried(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.audio.FailAcquires(2)

	if err := f.ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, f.ctrl.Streaming, "never recovered from transient acquire failures")
	if f.audio.Acquires() < 1 {
		t.Error("device never acquired")
	}
	f.ctrl.Stop()
}

func TestContinuousAcquireFailuresAreFatal(t *testing.T) {
	f := newFixture(t, nil, func(c *Config) { c.MaxAcquireFailures = 3 })
	f.audio.FailAcquires(100)

	if err := f.ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, func() bool { return f.ctrl.State() == Idle && f.ctrl.LastError() != nil },
		"continuous acquire failures never ended the run")
	if err := f.ctrl.LastError(); !strings.Contains(err.Error(), "unavailable") {
		t.Errorf("LastError = %v", err)
	}
}

func TestStartFailureWhenChannelOpenFails(t *testing.T) {
	openErr := errors.New("dial refused")
	f := newFixture(t, nil, func(c *Config) {
		inner := c.NewChannel
		c.NewChannel = func(cbs analyzer.ChannelCallbacks) Channel {
			ch := inner(cbs).(*analyzer.FakeChannel)
			ch.SetOpenErr(openErr)
			return ch
		}
	})

	if err := f.ctrl.Start(context.Background()); !errors.Is(err, openErr) {
		t.Fatalf("Start = %v, want wrapped dial error", err)
	}
	if st := f.ctrl.State(); st != Idle {
		t.Errorf("state after failed start = %v, want idle", st)
	}
	if n := f.audio.OpenHandles(); n != 0 {
		t.Errorf("open device handles = %d, want 0", n)
	}
}

func TestStateSequence(t *testing.T) {
	f := newFixture(t, nil, nil)
	if err := f.ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, f.ctrl.Streaming, "never reached streaming")
	f.ctrl.Stop()

	f.rec.mu.Lock()
	states := append([]State(nil), f.rec.states...)
	f.rec.mu.Unlock()

	want := []State{Initializing, Streaming, Stopping, Idle}
	if len(states) != len(want) {
		t.Fatalf("state sequence = %v, want %v", states, want)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Fatalf("state sequence = %v, want %v", states, want)
		}
	}
}

func TestRestartClearsHistory(t *testing.T) {
	script := []analyzer.Fragment{
		{Suspicious: true, Confidence: 0.8, Reasons: []string{"remote access tool"}},
	}
	// Only the first run's channel carries the script; the restart's channel
	// has nothing to dispatch, so the history stays as the restart left it.
	var f *fixture
	runs := 0
	f = newFixture(t, nil, func(c *Config) {
		c.NewChannel = func(cbs analyzer.ChannelCallbacks) Channel {
			runs++
			if runs == 1 {
				f.channel = analyzer.NewFakeChannel(cbs, script...)
			} else {
				f.channel = analyzer.NewFakeChannel(cbs)
			}
			return f.channel
		}
	})

	if err := f.ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, func() bool { return f.rec.updateCount() >= 1 }, "first run produced no update")
	if len(f.ctrl.History()) != 1 {
		t.Fatalf("history during run = %d entries, want 1", len(f.ctrl.History()))
	}
	f.ctrl.Stop()

	// Second run begins with an empty history. The fresh channel has no
	// script, so nothing repopulates it.
	if err := f.ctrl.Start(context.Background()); err != nil {
		t.Fatalf("restart: %v", err)
	}
	waitFor(t, f.ctrl.Streaming, "restart never reached streaming")
	if h := f.ctrl.History(); len(h) != 0 {
		t.Errorf("history after restart = %d entries, want 0", len(h))
	}
	f.ctrl.Stop()
}
