package audio

import (
	"errors"
	"fmt"
	"testing"
)

func TestPermissionDenied(t *testing.T) {
	if !PermissionDenied(ErrPermissionDenied) {
		t.Error("sentinel not recognized")
	}
	if !PermissionDenied(fmt.Errorf("acquiring device: %w", ErrPermissionDenied)) {
		t.Error("wrapped sentinel not recognized")
	}
	if !PermissionDenied(errors.New("miniaudio: Access Denied")) {
		t.Error("backend message not recognized")
	}
	if PermissionDenied(errors.New("device busy")) {
		t.Error("transient error misclassified as permission denial")
	}
	if PermissionDenied(nil) {
		t.Error("nil misclassified")
	}
}

func TestIsBluetooth(t *testing.T) {
	for _, tt := range []struct {
		name string
		want bool
	}{
		{"AirPods Pro", true},
		{"Jabra Elite 85t", true},
		{"Built-in Microphone", false},
		{"USB Audio Device", false},
	} {
		if got := IsBluetooth(tt.name); got != tt.want {
			t.Errorf("IsBluetooth(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestFakeContextHandleAccounting(t *testing.T) {
	ctx := NewFakeContext(make([]byte, 4096), 16000, false)

	dev, err := ctx.NewCapture(nil, CaptureConfig{SampleRate: 16000, Channels: 1})
	if err != nil {
		t.Fatalf("NewCapture: %v", err)
	}
	if got := ctx.OpenHandles(); got != 1 {
		t.Fatalf("OpenHandles = %d, want 1", got)
	}
	dev.Close()
	dev.Close() // double release must not double-count
	if got := ctx.OpenHandles(); got != 0 {
		t.Fatalf("OpenHandles after release = %d, want 0", got)
	}
}

func TestFakeContextFailureInjection(t *testing.T) {
	ctx := NewFakeContext(nil, 16000, false)
	ctx.FailAcquires(2)

	cfg := CaptureConfig{SampleRate: 16000, Channels: 1}
	for i := 0; i < 2; i++ {
		if _, err := ctx.NewCapture(nil, cfg); err == nil {
			t.Fatalf("acquire %d: expected injected failure", i)
		}
	}
	if _, err := ctx.NewCapture(nil, cfg); err != nil {
		t.Fatalf("acquire after injected failures: %v", err)
	}

	ctx.DenyPermission()
	_, err := ctx.NewCapture(nil, cfg)
	if !PermissionDenied(err) {
		t.Fatalf("expected permission denial, got %v", err)
	}
}

func TestFakeCaptureDelivery(t *testing.T) {
	pcm := make([]byte, 8192)
	for i := range pcm {
		pcm[i] = byte(i)
	}
	ctx := NewFakeContext(pcm, 16000, false)

	dev, err := ctx.NewCapture(nil, CaptureConfig{SampleRate: 16000, Channels: 1})
	if err != nil {
		t.Fatalf("NewCapture: %v", err)
	}
	defer dev.Close()

	got := make(chan []byte, 64)
	dev.SetCallback(func(data []byte, _ uint32) {
		select {
		case got <- data:
		default:
		}
	})
	if err := dev.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	first := <-got
	dev.Stop()
	dev.ClearCallback()

	if len(first) == 0 {
		t.Fatal("empty first chunk")
	}
	if first[0] != 0 || first[1] != 1 {
		t.Errorf("chunk does not start at PCM origin: % x", first[:2])
	}
}
