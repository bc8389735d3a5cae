package session

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"callguard/analyzer"
	"callguard/audio"
	"callguard/encoder"
	"callguard/log"
)

// loopStats is shared between the capture loop and the pipelined sender.
type loopStats struct {
	cycles    int
	skipped   int
	sent      atomic.Int32
	dropped   atomic.Int32
	sentBytes atomic.Int64
}

// captureLoop runs the acquire → record → finalize → hand-off cycle until the
// context is cancelled. Each cycle acquires a fresh device handle and releases
// it before the segment is handed off, so at most one handle is ever held.
func (c *Controller) captureLoop(ctx context.Context, ch Channel) {
	done := c.loopDone
	defer close(done)

	start := time.Now()
	stats := &loopStats{}
	audioSamples := 0

	// Pipelined mode records the next chunk while the previous one uploads.
	// The slot holds one segment; a still-busy sender drops the newer one.
	var sendCh chan Segment
	var senderDone chan struct{}
	if c.cfg.Pipelined {
		sendCh = make(chan Segment, 1)
		senderDone = make(chan struct{})
		go transmitLoop(ch, sendCh, senderDone, stats)
	}
	defer func() {
		if sendCh != nil {
			close(sendCh)
			<-senderDone
		}
		log.CaptureStats(log.CaptureStatsData{
			Cycles:  stats.cycles,
			Sent:    int(stats.sent.Load()),
			SentKB:  float64(stats.sentBytes.Load()) / 1024,
			Dropped: int(stats.dropped.Load()),
			Skipped: stats.skipped,
			AudioS:  float64(audioSamples) / float64(c.cfg.Capture.SampleRate),
			TotalMs: float64(time.Since(start).Milliseconds()),
		})
	}()

	acquireFailures := 0
	var seq uint64
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		dev, rec, err := c.openCapture()
		if err != nil {
			if audio.PermissionDenied(err) {
				c.fail(fmt.Errorf("capture permission denied: %w", err))
				return
			}
			acquireFailures++
			if acquireFailures >= c.cfg.MaxAcquireFailures {
				c.fail(fmt.Errorf("capture device unavailable after %d attempts: %w", acquireFailures, err))
				return
			}
			log.Warnf("capture acquire failed (attempt %d): %v", acquireFailures, err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(c.cfg.AcquireRetryDelay):
			}
			continue
		}
		acquireFailures = 0

		// First live device flips the session to streaming.
		if c.state.CompareAndSwap(int32(Initializing), int32(Streaming)) && c.cfg.OnState != nil {
			c.cfg.OnState(Streaming)
		}

		stats.cycles++
		recordStart := time.Now()
		last := false
		select {
		case <-ctx.Done():
			last = true
		case <-time.After(c.cfg.ChunkDuration):
		}

		dev.Stop()
		dev.ClearCallback()
		dev.Close()

		data, err := rec.finalize()
		if err != nil {
			stats.skipped++
			log.Warnf("chunk discarded: %v", err)
		} else if len(data) > audio.WAVHeaderSize {
			audioSamples += (len(data) - audio.WAVHeaderSize) / 2
			seq++
			handOff(ch, sendCh, Segment{
				Seq:      seq,
				Data:     data,
				Duration: time.Since(recordStart),
			}, stats)
		}
		if last {
			return
		}
	}
}

// openCapture acquires a device and starts it with a fresh chunk recorder.
// A start failure releases the handle and is reported like an acquire failure.
func (c *Controller) openCapture() (audio.CaptureDevice, *chunkRecorder, error) {
	dev, err := c.cfg.Audio.NewCapture(c.cfg.Device, c.cfg.Capture)
	if err != nil {
		return nil, nil, err
	}
	rec, err := newChunkRecorder()
	if err != nil {
		dev.Close()
		return nil, nil, err
	}
	dev.SetCallback(rec.callback)
	if err := dev.Start(); err != nil {
		dev.ClearCallback()
		dev.Close()
		return nil, nil, fmt.Errorf("starting capture: %w", err)
	}
	return dev, rec, nil
}

// handOff delivers one finalized segment: into the pipelined slot, or inline
// over the channel in sequential mode. A full slot drops the segment; there
// is no queueing and no retransmission.
func handOff(ch Channel, sendCh chan Segment, seg Segment, stats *loopStats) {
	if sendCh != nil {
		select {
		case sendCh <- seg:
		default:
			stats.dropped.Add(1)
			log.Warnf("segment %d dropped: sender busy", seg.Seq)
		}
		return
	}
	transmit(ch, seg, stats)
}

func transmit(ch Channel, seg Segment, stats *loopStats) {
	if err := ch.Send(seg.Data); err != nil {
		stats.dropped.Add(1)
		if errors.Is(err, analyzer.ErrNotConnected) {
			log.Warnf("segment %d dropped: channel not connected", seg.Seq)
		} else {
			log.Warnf("segment %d dropped: %v", seg.Seq, err)
		}
		return
	}
	stats.sent.Add(1)
	stats.sentBytes.Add(int64(len(seg.Data)))
}

func transmitLoop(ch Channel, in <-chan Segment, done chan struct{}, stats *loopStats) {
	defer close(done)
	for seg := range in {
		transmit(ch, seg, stats)
	}
}

// chunkRecorder accumulates device callbacks into one WAV segment.
type chunkRecorder struct {
	mu  sync.Mutex
	enc encoder.Encoder
	err error
}

func newChunkRecorder() (*chunkRecorder, error) {
	enc, err := encoder.New("wav")
	if err != nil {
		return nil, err
	}
	return &chunkRecorder{enc: enc}, nil
}

func (r *chunkRecorder) callback(data []byte, _ uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return
	}
	r.err = r.enc.EncodeBlock(bytesToSamples(data))
}

func (r *chunkRecorder) finalize() ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	if err := r.enc.Close(); err != nil {
		return nil, err
	}
	return r.enc.Bytes(), nil
}

func bytesToSamples(data []byte) []int16 {
	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(data[2*i:]))
	}
	return samples
}
