package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"callguard/audio"
	"callguard/config"
	"callguard/encoder"
	"callguard/log"
	"callguard/session"
)

// runTestMode drives a session over fake audio from stdin commands and
// prints machine-readable lines, so the end-to-end flow can be exercised
// without a microphone or a terminal.
//
// Commands: START, STOP, WAIT_STREAMING, WAIT_IDLE, SLEEP <ms>, QUIT.
func runTestMode(cfg *config.Config, stream bool, args []string) {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "Usage: callguard -test <wav-file>")
		os.Exit(1)
	}

	fakeCtx, err := audio.NewFakeContextFromWAV(args[0], encoder.SampleRate, false)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading WAV: %v\n", err)
		os.Exit(1)
	}

	out := bufio.NewWriter(os.Stdout)
	emit := func(format string, a ...any) {
		fmt.Fprintf(out, format+"\n", a...)
		out.Flush()
	}

	ctrl := session.New(session.Config{
		Audio:      fakeCtx,
		NewChannel: channelFactory(cfg, stream),
		Endpoint:   cfg.Endpoint,
		Capture: audio.CaptureConfig{
			SampleRate: encoder.SampleRate,
			Channels:   encoder.Channels,
		},
		ChunkDuration: cfg.ChunkDuration,
		Pipelined:     cfg.Pipelined,
		OnUpdate: func(u session.Update) {
			emit("UPDATE suspicious=%t confidence=%.2f history=%d",
				u.Fragment.Suspicious, u.Fragment.Confidence, len(u.History))
		},
		OnError: func(msg string) {
			emit("ERROR %s", msg)
		},
		OnState: func(s session.State) {
			emit("STATE %s", s)
		},
	})
	setController(ctrl)

	waitState := func(want session.State) {
		deadline := time.Now().Add(10 * time.Second)
		for time.Now().Before(deadline) {
			if ctrl.State() == want {
				return
			}
			time.Sleep(10 * time.Millisecond)
		}
		emit("TIMEOUT waiting for %s", want)
	}

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		cmd := strings.TrimSpace(scanner.Text())
		switch {
		case cmd == "START":
			if err := ctrl.Start(context.Background()); err != nil {
				emit("START_ERROR %v", err)
			}
		case cmd == "STOP":
			ctrl.Stop()
		case cmd == "WAIT_STREAMING":
			waitState(session.Streaming)
		case cmd == "WAIT_IDLE":
			waitState(session.Idle)
		case cmd == "QUIT":
			ctrl.Stop()
			log.Close()
			os.Exit(0)
		case strings.HasPrefix(cmd, "SLEEP "):
			if ms, err := strconv.Atoi(cmd[6:]); err == nil {
				time.Sleep(time.Duration(ms) * time.Millisecond)
			}
		case cmd == "":
		default:
			emit("UNKNOWN %s", cmd)
		}
	}
	ctrl.Stop()
}
