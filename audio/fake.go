package audio

import (
	"fmt"
	"os"
	"sync"
	"time"
)

const (
	fakeFrameSize     = 1024
	fakeBytesPerFrame = 2 // 16-bit mono
)

// FakeContext replays a PCM buffer through scripted capture devices. Each
// NewCapture hands out a fresh handle that continues from where the previous
// cycle left off, wrapping at the end, so multi-cycle capture loops see a
// continuous signal. Failures are injectable per acquire and per start.
type FakeContext struct {
	realtime   bool
	sampleRate uint32

	mu          sync.Mutex
	pcm         []byte
	pos         int
	acquired    int
	released    int
	failNext    int
	failStarts  int
	permissions bool // false = permission denied on every acquire
}

func NewFakeContext(pcm []byte, sampleRate uint32, realtime bool) *FakeContext {
	return &FakeContext{
		pcm:         pcm,
		sampleRate:  sampleRate,
		realtime:    realtime,
		permissions: true,
	}
}

// NewFakeContextFromWAV loads a WAV file and replays its PCM payload.
func NewFakeContextFromWAV(wavPath string, sampleRate uint32, realtime bool) (*FakeContext, error) {
	data, err := os.ReadFile(wavPath)
	if err != nil {
		return nil, err
	}
	if len(data) > WAVHeaderSize {
		data = data[WAVHeaderSize:]
	}
	return NewFakeContext(data, sampleRate, realtime), nil
}

// FailAcquires makes the next n NewCapture calls fail with a transient
// device error.
func (f *FakeContext) FailAcquires(n int) {
	f.mu.Lock()
	f.failNext = n
	f.mu.Unlock()
}

// FailStarts makes the next n Start calls on handed-out captures fail.
func (f *FakeContext) FailStarts(n int) {
	f.mu.Lock()
	f.failStarts = n
	f.mu.Unlock()
}

// DenyPermission makes every subsequent NewCapture fail with
// ErrPermissionDenied.
func (f *FakeContext) DenyPermission() {
	f.mu.Lock()
	f.permissions = false
	f.mu.Unlock()
}

// OpenHandles reports acquired-but-unreleased capture handles.
func (f *FakeContext) OpenHandles() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.acquired - f.released
}

// Acquires reports the total number of successful NewCapture calls.
func (f *FakeContext) Acquires() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.acquired
}

func (f *FakeContext) Devices() ([]DeviceInfo, error) {
	return []DeviceInfo{{ID: "fake0", Name: "fake"}}, nil
}

func (f *FakeContext) Close() {}

func (f *FakeContext) NewCapture(_ *DeviceInfo, _ CaptureConfig) (CaptureDevice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.permissions {
		return nil, ErrPermissionDenied
	}
	if f.failNext > 0 {
		f.failNext--
		return nil, fmt.Errorf("fake device busy")
	}
	f.acquired++
	return &FakeCapture{ctx: f}, nil
}

type FakeCapture struct {
	ctx *FakeContext

	mu       sync.Mutex
	cb       DataCallback
	stopCh   chan struct{}
	feedDone chan struct{}
	closed   bool
}

func (c *FakeCapture) SetCallback(cb DataCallback) {
	c.mu.Lock()
	c.cb = cb
	c.mu.Unlock()
}

func (c *FakeCapture) ClearCallback() {
	c.mu.Lock()
	c.cb = nil
	c.mu.Unlock()
}

func (c *FakeCapture) DeviceName() string { return "fake" }

// nextChunk takes the next chunk of shared PCM, wrapping at the end.
func (c *FakeCapture) nextChunk(chunkBytes int) []byte {
	f := c.ctx
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.pcm) == 0 {
		return make([]byte, chunkBytes)
	}
	if f.pos >= len(f.pcm) {
		f.pos = 0
	}
	end := f.pos + chunkBytes
	if end > len(f.pcm) {
		end = len(f.pcm)
	}
	chunk := make([]byte, end-f.pos)
	copy(chunk, f.pcm[f.pos:end])
	f.pos = end
	return chunk
}

func (c *FakeCapture) Start() error {
	f := c.ctx
	f.mu.Lock()
	if f.failStarts > 0 {
		f.failStarts--
		f.mu.Unlock()
		return fmt.Errorf("fake device start failed")
	}
	f.mu.Unlock()

	c.stopCh = make(chan struct{})
	c.feedDone = make(chan struct{})

	chunkBytes := fakeFrameSize * fakeBytesPerFrame
	interval := time.Millisecond
	if f.realtime {
		interval = time.Duration(fakeFrameSize) * time.Second / time.Duration(f.sampleRate)
	}

	go func() {
		defer close(c.feedDone)
		for {
			select {
			case <-c.stopCh:
				return
			case <-time.After(interval):
			}
			c.mu.Lock()
			cb := c.cb
			c.mu.Unlock()
			if cb == nil {
				continue
			}
			chunk := c.nextChunk(chunkBytes)
			cb(chunk, uint32(len(chunk)/fakeBytesPerFrame))
		}
	}()

	return nil
}

func (c *FakeCapture) Stop() {
	if c.stopCh == nil {
		return
	}
	select {
	case <-c.stopCh:
	default:
		close(c.stopCh)
	}
	<-c.feedDone
}

func (c *FakeCapture) Close() {
	c.Stop()
	c.mu.Lock()
	wasClosed := c.closed
	c.closed = true
	c.mu.Unlock()
	if wasClosed {
		return // double release is swallowed, matching real backends
	}
	c.ctx.mu.Lock()
	c.ctx.released++
	c.ctx.mu.Unlock()
}
