package analyzer

import (
	"context"
	"sync"

	"callguard/log"
)

// HTTPChannel adapts the request/response fallback to the streaming channel
// contract: each segment becomes one POST /analyze-stream call and the JSON
// response is dispatched as a fragment. There is no reconnect machinery; a
// failed upload loses only that segment.
type HTTPChannel struct {
	client *Client
	cbs    ChannelCallbacks

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	open   bool
}

func NewHTTPChannel(endpoint string, cbs ChannelCallbacks) *HTTPChannel {
	return &HTTPChannel{client: NewClient(endpoint), cbs: cbs}
}

func (h *HTTPChannel) Open(ctx context.Context) error {
	h.mu.Lock()
	h.ctx, h.cancel = context.WithCancel(ctx)
	h.open = true
	h.mu.Unlock()
	go h.client.Warm()
	return nil
}

func (h *HTTPChannel) Send(data []byte) error {
	h.mu.Lock()
	open := h.open
	ctx := h.ctx
	h.mu.Unlock()
	if !open {
		return ErrNotConnected
	}

	f, err := h.client.AnalyzeChunk(ctx, data)
	if err != nil {
		log.Warnf("chunk upload failed: %v", err)
		return err
	}
	if f.Error != "" {
		if h.cbs.OnError != nil {
			h.cbs.OnError(f.Error)
		}
		return nil
	}
	if h.cbs.OnFragment != nil {
		h.cbs.OnFragment(*f)
	}
	return nil
}

func (h *HTTPChannel) Close() {
	h.mu.Lock()
	h.open = false
	cancel := h.cancel
	h.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}
