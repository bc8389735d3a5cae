// Package session owns one start-to-stop streaming run: it coordinates the
// capture loop and the transport channel and reports analysis results to the
// UI through callbacks.
package session

import (
	"context"
	"time"

	"callguard/analyzer"
	"callguard/audio"
	"callguard/encoder"
)

type State int32

const (
	Idle State = iota
	Initializing
	Streaming
	Stopping
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Initializing:
		return "initializing"
	case Streaming:
		return "streaming"
	case Stopping:
		return "stopping"
	}
	return "unknown"
}

// Channel is the transport the controller drives: one Send per finalized
// segment, fragments delivered through the callbacks given at construction.
// Satisfied by analyzer.Channel, analyzer.HTTPChannel and analyzer.FakeChannel.
type Channel interface {
	Open(ctx context.Context) error
	Send(data []byte) error
	Close()
}

// Segment is one finalized capture cycle: a WAV-wrapped chunk consumed
// exactly once by the transport, then discarded.
type Segment struct {
	Seq      uint64
	Data     []byte
	Duration time.Duration
}

// Update is delivered to the UI for every inbound fragment. History is a
// snapshot taken at dispatch time; later fragments never mutate it.
type Update struct {
	Fragment analyzer.Fragment
	History  []analyzer.Fragment
}

type Config struct {
	Audio   audio.Context
	Device  *audio.DeviceInfo // nil selects the default capture device
	Capture audio.CaptureConfig

	// NewChannel builds the transport for one run, wired to the
	// controller's fragment callbacks.
	NewChannel func(analyzer.ChannelCallbacks) Channel

	// Endpoint only labels log events; the transport gets it at construction.
	Endpoint string

	ChunkDuration      time.Duration
	AcquireRetryDelay  time.Duration
	MaxAcquireFailures int // consecutive acquire failures before the run aborts
	Pipelined          bool

	OnUpdate func(Update)
	OnError  func(msg string)
	OnState  func(State)
}

const (
	defaultChunkDuration      = 3 * time.Second
	defaultAcquireRetryDelay  = 500 * time.Millisecond
	defaultMaxAcquireFailures = 10
)

func (c *Config) applyDefaults() {
	if c.ChunkDuration <= 0 {
		c.ChunkDuration = defaultChunkDuration
	}
	if c.AcquireRetryDelay <= 0 {
		c.AcquireRetryDelay = defaultAcquireRetryDelay
	}
	if c.MaxAcquireFailures <= 0 {
		c.MaxAcquireFailures = defaultMaxAcquireFailures
	}
	if c.Capture.SampleRate == 0 {
		c.Capture.SampleRate = encoder.SampleRate
	}
	if c.Capture.Channels == 0 {
		c.Capture.Channels = encoder.Channels
	}
}
