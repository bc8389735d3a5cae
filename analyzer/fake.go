package analyzer

import (
	"context"
	"sync"
)

// FakeChannel scripts fragment responses for offline runs and tests. Each
// Send consumes the next scripted fragment and dispatches it synchronously.
type FakeChannel struct {
	cbs ChannelCallbacks

	mu      sync.Mutex
	open    bool
	openErr error
	sendErr error
	script  []Fragment
	next    int
	sent    int
	opens   int
}

func NewFakeChannel(cbs ChannelCallbacks, script ...Fragment) *FakeChannel {
	return &FakeChannel{cbs: cbs, script: script}
}

func (f *FakeChannel) SetOpenErr(err error) {
	f.mu.Lock()
	f.openErr = err
	f.mu.Unlock()
}

func (f *FakeChannel) SetSendErr(err error) {
	f.mu.Lock()
	f.sendErr = err
	f.mu.Unlock()
}

func (f *FakeChannel) Sent() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sent
}

func (f *FakeChannel) Opens() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opens
}

func (f *FakeChannel) IsOpen() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.open
}

func (f *FakeChannel) Open(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.openErr != nil {
		return f.openErr
	}
	f.open = true
	f.opens++
	return nil
}

func (f *FakeChannel) Send(_ []byte) error {
	f.mu.Lock()
	if !f.open {
		f.mu.Unlock()
		return ErrNotConnected
	}
	if err := f.sendErr; err != nil {
		f.mu.Unlock()
		return err
	}
	f.sent++
	var frag *Fragment
	if f.next < len(f.script) {
		fr := f.script[f.next]
		f.next++
		frag = &fr
	}
	f.mu.Unlock()

	if frag != nil {
		f.dispatch(*frag)
	}
	return nil
}

func (f *FakeChannel) Close() {
	f.mu.Lock()
	f.open = false
	f.mu.Unlock()
}

// Emit injects an unscripted fragment, as if the server pushed one.
func (f *FakeChannel) Emit(frag Fragment) {
	f.dispatch(frag)
}

// EmitTerminal simulates reconnect exhaustion.
func (f *FakeChannel) EmitTerminal(err error) {
	f.mu.Lock()
	f.open = false
	f.mu.Unlock()
	if f.cbs.OnTerminal != nil {
		f.cbs.OnTerminal(err)
	}
}

func (f *FakeChannel) dispatch(frag Fragment) {
	if frag.Error != "" {
		if f.cbs.OnError != nil {
			f.cbs.OnError(frag.Error)
		}
		return
	}
	if f.cbs.OnFragment != nil {
		f.cbs.OnFragment(frag)
	}
}
