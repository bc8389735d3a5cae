package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"callguard/analyzer"
	"callguard/log"
)

// Controller is the session state machine: idle → initializing → streaming →
// stopping → idle. It owns at most one transport channel and at most one
// capture device handle at a time; both live in single-owner fields that are
// taken and nulled out before teardown.
type Controller struct {
	cfg Config

	state atomic.Int32

	mu       sync.Mutex // serializes Start and Stop
	runID    string
	channel  Channel
	cancel   context.CancelFunc
	loopDone chan struct{}

	// lastErr has its own lock: fail() runs on the capture loop goroutine,
	// which Stop waits on while holding mu.
	errMu   sync.Mutex
	lastErr error

	history history
}

func New(cfg Config) *Controller {
	cfg.applyDefaults()
	return &Controller{cfg: cfg}
}

func (c *Controller) State() State {
	return State(c.state.Load())
}

func (c *Controller) Streaming() bool {
	return c.State() == Streaming
}

func (c *Controller) LastError() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.lastErr
}

func (c *Controller) setErr(err error) {
	c.errMu.Lock()
	c.lastErr = err
	c.errMu.Unlock()
}

func (c *Controller) History() []analyzer.Fragment {
	return c.history.snapshot()
}

func (c *Controller) setState(s State) {
	c.state.Store(int32(s))
	if c.cfg.OnState != nil {
		c.cfg.OnState(s)
	}
}

// Start opens the transport channel and launches the capture loop. It is a
// no-op while a run is already starting or streaming.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.State() != Idle {
		return nil
	}
	c.setState(Initializing)
	c.setErr(nil)
	c.runID = uuid.NewString()
	c.history.clear()

	ch := c.cfg.NewChannel(analyzer.ChannelCallbacks{
		OnFragment: c.handleFragment,
		OnError:    c.handleError,
		OnTerminal: c.handleTerminal,
	})
	if err := ch.Open(ctx); err != nil {
		err = fmt.Errorf("opening channel: %w", err)
		c.setErr(err)
		c.setState(Idle)
		return err
	}
	c.channel = ch

	loopCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.loopDone = make(chan struct{})
	go c.captureLoop(loopCtx, ch)

	log.SessionStart(c.runID, c.cfg.Endpoint, c.mode())
	return nil
}

func (c *Controller) mode() string {
	if c.cfg.Pipelined {
		return "pipelined"
	}
	return "sequential"
}

// Stop tears the run down: capture loop first, then the channel, then the
// history. Safe to call when never started; concurrent calls collapse into
// one teardown.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := c.State()
	if st == Idle || st == Stopping {
		return
	}
	c.setState(Stopping)

	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	if c.loopDone != nil {
		<-c.loopDone
		c.loopDone = nil
	}
	if c.channel != nil {
		c.channel.Close()
		c.channel = nil
	}

	fragments, detections := c.history.counts()
	log.SessionEnd(c.runID, fragments, detections)
	c.history.clear()
	c.setState(Idle)
}

// fail records a fatal error and tears the run down. Called from the capture
// loop and from the channel's terminal callback, so the teardown runs on its
// own goroutine; Stop waits for the loop to exit.
func (c *Controller) fail(err error) {
	c.setErr(err)
	log.Errorf("session failed: %v", err)
	if c.cfg.OnError != nil {
		c.cfg.OnError(err.Error())
	}
	go c.Stop()
}

// handleFragment ingests one inbound fragment. Fragments arriving outside
// Streaming (late responses during teardown) are dropped.
func (c *Controller) handleFragment(f analyzer.Fragment) {
	if c.State() != Streaming {
		log.Warnf("fragment dropped outside streaming state")
		return
	}
	snap := c.history.ingest(f)
	if f.Suspicious {
		log.Detection(f.Confidence, f.Reasons)
	}
	if c.cfg.OnUpdate != nil {
		c.cfg.OnUpdate(Update{Fragment: f, History: snap})
	}
}

// handleError surfaces per-fragment analyzer errors without ending the run.
func (c *Controller) handleError(msg string) {
	log.Warnf("analyzer error: %s", msg)
	if c.cfg.OnError != nil {
		c.cfg.OnError(msg)
	}
}

// handleTerminal fires when the channel's reconnect attempts are exhausted.
func (c *Controller) handleTerminal(err error) {
	c.fail(err)
}
