package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// StartRequest asks the pipeline to pull a stream from the ingest endpoint.
type StartRequest struct {
	StreamID         uuid.UUID
	IngestURL        string
	RecordingEnabled bool
}

// Pipeline launches and stops the external media process for a stream.
// Stop is idempotent and returns the recording file path the first time it
// is called after a recording run, "" otherwise.
type Pipeline interface {
	Start(ctx context.Context, req StartRequest) error
	Stop(ctx context.Context, streamID uuid.UUID) (recordingPath string, err error)
}

const stopGrace = 10 * time.Second

type process struct {
	cmd           *exec.Cmd
	recordingPath string
	done          chan struct{}
	stopping      bool
}

// FFmpegPipeline runs one ffmpeg process per stream that copies the RTMP
// ingest into HLS segments and, when enabled, an MP4 recording.
type FFmpegPipeline struct {
	binary    string
	outputDir string
	logger    *zap.Logger

	mu     sync.Mutex
	procs  map[uuid.UUID]*process
	onExit func(streamID uuid.UUID, err error)
}

// NewFFmpegPipeline creates a pipeline writing under outputDir.
func NewFFmpegPipeline(binary, outputDir string, logger *zap.Logger) *FFmpegPipeline {
	if binary == "" {
		binary = "ffmpeg"
	}
	if outputDir == "" {
		outputDir = filepath.Join(os.TempDir(), "livestream")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FFmpegPipeline{binary: binary, outputDir: outputDir, logger: logger, procs: make(map[uuid.UUID]*process)}
}

// OnExit registers fn to be called when a process exits without Stop.
func (p *FFmpegPipeline) OnExit(fn func(streamID uuid.UUID, err error)) {
	p.mu.Lock()
	p.onExit = fn
	p.mu.Unlock()
}

func (p *FFmpegPipeline) paths(streamID uuid.UUID) (hlsDir, recording string) {
	hlsDir = filepath.Join(p.outputDir, "hls", streamID.String())
	recording = filepath.Join(p.outputDir, "recordings", streamID.String()+".mp4")
	return hlsDir, recording
}

// buildArgs returns the ffmpeg arguments. Media is copied, never re-encoded.
func buildArgs(ingestURL, hlsDir, recordingPath string) []string {
	args := []string{
		"-hide_banner", "-loglevel", "warning",
		"-i", ingestURL,
		"-c", "copy",
		"-f", "hls",
		"-hls_time", "4",
		"-hls_list_size", "6",
		"-hls_flags", "delete_segments",
		filepath.Join(hlsDir, "index.m3u8"),
	}
	if recordingPath != "" {
		args = append(args, "-c", "copy", "-f", "mp4", "-y", recordingPath)
	}
	return args
}

// Start launches ffmpeg for the stream. It fails if one is already running.
func (p *FFmpegPipeline) Start(_ context.Context, req StartRequest) error {
	hlsDir, recording := p.paths(req.StreamID)
	if err := os.MkdirAll(hlsDir, 0750); err != nil {
		return fmt.Errorf("create hls dir: %w", err)
	}
	if req.RecordingEnabled {
		if err := os.MkdirAll(filepath.Dir(recording), 0750); err != nil {
			return fmt.Errorf("create recordings dir: %w", err)
		}
	} else {
		recording = ""
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.procs[req.StreamID]; ok {
		return fmt.Errorf("pipeline already running for stream %s", req.StreamID)
	}
	// Not tied to the request context: the process outlives the publish call.
	cmd := exec.Command(p.binary, buildArgs(req.IngestURL, hlsDir, recording)...)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start ffmpeg: %w", err)
	}
	proc := &process{cmd: cmd, recordingPath: recording, done: make(chan struct{})}
	p.procs[req.StreamID] = proc
	go p.wait(req.StreamID, proc)

	p.logger.Info("pipeline started",
		zap.String("stream_id", req.StreamID.String()),
		zap.Bool("recording", recording != ""),
		zap.String("hls_dir", hlsDir))
	return nil
}

func (p *FFmpegPipeline) wait(streamID uuid.UUID, proc *process) {
	err := proc.cmd.Wait()
	close(proc.done)

	p.mu.Lock()
	stopping := proc.stopping
	onExit := p.onExit
	p.mu.Unlock()
	if stopping {
		return
	}
	p.logger.Warn("pipeline exited", zap.String("stream_id", streamID.String()), zap.Error(err))
	if onExit != nil {
		onExit(streamID, err)
	}
}

// Stop interrupts ffmpeg, waits up to the grace period, then kills it.
func (p *FFmpegPipeline) Stop(_ context.Context, streamID uuid.UUID) (string, error) {
	p.mu.Lock()
	proc, ok := p.procs[streamID]
	if ok {
		delete(p.procs, streamID)
		proc.stopping = true
	}
	p.mu.Unlock()
	if !ok {
		return "", nil
	}

	select {
	case <-proc.done:
	default:
		if proc.cmd.Process != nil {
			if err := proc.cmd.Process.Signal(os.Interrupt); err != nil && !errors.Is(err, os.ErrProcessDone) {
				p.logger.Warn("interrupt ffmpeg failed", zap.String("stream_id", streamID.String()), zap.Error(err))
			}
			select {
			case <-proc.done:
			case <-time.After(stopGrace):
				_ = proc.cmd.Process.Kill()
				<-proc.done
			}
		}
	}
	p.logger.Info("pipeline stopped", zap.String("stream_id", streamID.String()))

	if proc.recordingPath == "" {
		return "", nil
	}
	if _, err := os.Stat(proc.recordingPath); err != nil {
		p.logger.Warn("recording file missing", zap.String("stream_id", streamID.String()), zap.String("path", proc.recordingPath))
		return "", nil
	}
	return proc.recordingPath, nil
}

// Running reports whether a process is tracked for the stream.
func (p *FFmpegPipeline) Running(streamID uuid.UUID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.procs[streamID]
	return ok
}
