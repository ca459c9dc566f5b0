package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dgrange/huddle/internal/core"
	"github.com/dgrange/huddle/internal/domain"
)

// ChunkSource is implemented by streams that can deliver encoded media
// chunks for recording.
type ChunkSource interface {
	ReadChunk() ([]byte, error)
}

// Recorder accumulates encoded chunks from the active stream and writes
// them out as one file when stopped. One recording at a time.
type Recorder struct {
	dir string

	mu     sync.Mutex
	chunks [][]byte
	cancel context.CancelFunc
}

func NewRecorder(dir string) *Recorder {
	if dir == "" {
		dir = "."
	}
	return &Recorder{dir: dir}
}

var ErrRecorderBusy = fmt.Errorf("recording already in progress")

// Start begins pulling chunks from src until Stop, Abort or context
// cancellation.
func (r *Recorder) Start(ctx context.Context, src ChunkSource) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return ErrRecorderBusy
	}
	if src == nil {
		return domain.ErrDeviceUnavailable
	}
	ctx, r.cancel = context.WithCancel(ctx)
	r.chunks = nil
	go r.ingest(ctx, src)
	return nil
}

func (r *Recorder) ingest(ctx context.Context, src ChunkSource) {
	for {
		if ctx.Err() != nil {
			return
		}
		chunk, err := src.ReadChunk()
		if err != nil {
			log.Warn().Err(err).Str("module", "app.recorder").Msg("chunk read failed, stopping ingest")
			return
		}
		r.mu.Lock()
		r.chunks = append(r.chunks, chunk)
		r.mu.Unlock()
	}
}

// Stop finalizes the recording into meeting-recording-<timestamp>.webm
// and returns the written path.
func (r *Recorder) Stop() (string, error) {
	r.mu.Lock()
	if r.cancel == nil {
		r.mu.Unlock()
		return "", fmt.Errorf("no recording in progress")
	}
	r.cancel()
	r.cancel = nil
	chunks := r.chunks
	r.chunks = nil
	r.mu.Unlock()

	name := fmt.Sprintf("meeting-recording-%d.webm", time.Now().Unix())
	path := filepath.Join(r.dir, name)
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create recording: %w", err)
	}
	defer f.Close()
	for _, c := range chunks {
		if _, err := f.Write(c); err != nil {
			return "", fmt.Errorf("write recording: %w", err)
		}
	}
	log.Info().Str("module", "app.recorder").Str("path", path).Int("chunks", len(chunks)).Msg("recording saved")
	return path, nil
}

// Abort discards any in-progress recording without writing a file.
func (r *Recorder) Abort() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
	r.chunks = nil
}

func (r *Recorder) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancel != nil
}

// ToggleRecording starts or finalizes a recording of the current call.
// The screen share stream is preferred when active, the camera stream
// otherwise.
func (s *Session) ToggleRecording(ctx context.Context) (string, error) {
	s.mu.Lock()
	if err := s.inCall(); err != nil {
		s.mu.Unlock()
		return "", err
	}
	s.mu.Unlock()

	if s.recorder.Active() {
		path, err := s.recorder.Stop()
		if err != nil {
			return "", err
		}
		s.notify(core.Notice{Title: "Recording saved", Description: filepath.Base(path)})
		return path, nil
	}

	if err := s.gate(core.FeatureRecording, true); err != nil {
		return "", err
	}
	stream := s.share.Stream()
	if stream == nil {
		stream = s.capture.Stream()
	}
	src, _ := stream.(ChunkSource)
	if err := s.recorder.Start(ctx, src); err != nil {
		s.notify(core.Notice{
			Title:       "Recording failed",
			Description: "No active stream to record",
			Variant:     core.NoticeDestructive,
		})
		return "", err
	}
	s.notify(core.Notice{Title: "Recording started", Description: "This meeting is being recorded"})
	return "", nil
}
