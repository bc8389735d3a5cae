// Package analyzer talks to the remote scam-analysis service: a persistent
// WebSocket channel for streamed segments and a multipart HTTP fallback.
package analyzer

import "errors"

// ErrNotConnected is returned by Send while the channel is not open,
// including during a reconnect window. Segments are dropped, never queued.
var ErrNotConnected = errors.New("analyzer: channel not connected")

// ErrConnectionFailed is the terminal reconnect-exhaustion error. The
// channel makes no further attempts until explicitly reopened.
var ErrConnectionFailed = errors.New("analyzer: connection failed")

// Fragment is one incremental analysis result. The server may batch or skip
// segments, so fragments are not one-to-one with sent segments. A non-empty
// Error means the server reported a processing failure for a chunk.
type Fragment struct {
	Suspicious bool     `json:"suspicious"`
	Confidence float64  `json:"confidence"`
	Reasons    []string `json:"reasons"`
	Timestamp  float64  `json:"current_timestamp"`
	Keywords   []string `json:"detected_keywords"`
	Error      string   `json:"error"`
}

// Span marks a suspicious passage inside a fully analyzed recording.
type Span struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
	Type  string  `json:"type"`
}

// Report is the response of the batch /analyze endpoint.
type Report struct {
	Suspicious bool     `json:"suspicious"`
	Confidence float64  `json:"confidence"`
	Reasons    []string `json:"reasons"`
	Timestamps []Span   `json:"timestamps"`

	Metrics *NetworkMetrics `json:"-"`
}

// ChannelCallbacks route inbound traffic. OnFragment receives analysis
// fragments, OnError server-reported chunk errors, OnTerminal the single
// reconnect-exhaustion notification.
type ChannelCallbacks struct {
	OnFragment func(Fragment)
	OnError    func(msg string)
	OnTerminal func(err error)
}
