package app

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dgrange/huddle/internal/core"
	"github.com/dgrange/huddle/internal/domain"
)

func TestConstraintsFor(t *testing.T) {
	base := domain.DefaultMediaSettings()

	c := ConstraintsFor(base, true, false)
	if c.Width != 640 || c.Height != 480 || c.IdealSizing {
		t.Errorf("sd constraints: %+v", c)
	}
	if !c.Audio {
		t.Error("audio should be requested")
	}

	// Premium resolutions only apply with entitlement.
	hd := base
	hd.VideoQuality = domain.QualityHD
	c = ConstraintsFor(hd, true, false)
	if c.Width != 640 {
		t.Errorf("hd without key should fall back to sd, got %d", c.Width)
	}
	c = ConstraintsFor(hd, true, true)
	if c.Width != 1280 || c.Height != 720 || !c.IdealSizing {
		t.Errorf("hd constraints: %+v", c)
	}

	full := base
	full.VideoQuality = domain.QualityFullHD
	c = ConstraintsFor(full, true, true)
	if c.Width != 1920 || c.Height != 1080 || !c.IdealSizing {
		t.Errorf("fullhd constraints: %+v", c)
	}

	// Audio off disables the whole audio request including processing.
	proc := base
	proc.NoiseSuppression = true
	proc.EchoCancellation = true
	c = ConstraintsFor(proc, false, true)
	if c.Audio || c.NoiseSuppression || c.EchoCancellation {
		t.Errorf("muted constraints: %+v", c)
	}

	// Processing flags only pass through with entitlement.
	c = ConstraintsFor(proc, true, false)
	if c.NoiseSuppression || c.EchoCancellation {
		t.Errorf("processing without key: %+v", c)
	}
	c = ConstraintsFor(proc, true, true)
	if !c.NoiseSuppression || !c.EchoCancellation {
		t.Errorf("processing with key: %+v", c)
	}
}

// slowDevice blocks Capture until released, for racing acquisitions.
type slowDevice struct {
	gate    chan struct{}
	mu      sync.Mutex
	streams []*fakeStream
}

func (d *slowDevice) Capture(ctx context.Context, c core.CaptureConstraints) (core.MediaStream, error) {
	<-d.gate
	s := newCameraStream(c.Audio)
	d.mu.Lock()
	d.streams = append(d.streams, s)
	d.mu.Unlock()
	return s, nil
}

func (d *slowDevice) CaptureDisplay(ctx context.Context) (core.MediaStream, error) {
	return nil, domain.ErrDeviceUnavailable
}

func TestCaptureStaleResultDiscarded(t *testing.T) {
	dev := &slowDevice{gate: make(chan struct{})}
	m := NewCaptureManager(dev, nil)

	type result struct {
		stream core.MediaStream
		err    error
	}
	got := make(chan result, 1)
	go func() {
		s, err := m.Acquire(context.Background(), core.CaptureConstraints{Width: 640, Height: 480, Audio: true})
		got <- result{s, err}
	}()

	// Release supersedes the pending acquisition before the device
	// resolves it.
	time.Sleep(20 * time.Millisecond)
	m.Release()
	close(dev.gate)

	r := <-got
	if r.err != nil {
		t.Fatalf("stale acquire errored: %v", r.err)
	}
	if r.stream != nil {
		t.Fatal("stale stream must not be delivered")
	}
	waitFor(t, "stale stream stopped", func() bool {
		dev.mu.Lock()
		defer dev.mu.Unlock()
		return len(dev.streams) == 1 && dev.streams[0].isStopped()
	})
	if m.Active() {
		t.Error("manager must hold no stream")
	}
}

func TestCaptureSwapStopsPrevious(t *testing.T) {
	dev := &fakeDevice{}
	m := NewCaptureManager(dev, nil)

	first, err := m.Acquire(context.Background(), core.CaptureConstraints{Width: 640, Height: 480})
	if err != nil || first == nil {
		t.Fatalf("first acquire: %v", err)
	}
	second, err := m.Acquire(context.Background(), core.CaptureConstraints{Width: 1280, Height: 720})
	if err != nil || second == nil {
		t.Fatalf("second acquire: %v", err)
	}
	if dev.liveStreams() != 1 {
		t.Errorf("live streams = %d, want 1", dev.liveStreams())
	}
	if m.Stream() != second {
		t.Error("manager must hold the newest stream")
	}

	m.Release()
	m.Release()
	if dev.liveStreams() != 0 {
		t.Errorf("live streams after release = %d", dev.liveStreams())
	}
}
