package ingest

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

func TestBuildArgs(t *testing.T) {
	args := buildArgs("rtmp://host/live/k", "/out/hls/s", "")
	joined := strings.Join(args, " ")
	if !strings.Contains(joined, "-i rtmp://host/live/k") {
		t.Errorf("Expected ingest input, got %s", joined)
	}
	if !strings.HasSuffix(joined, "/out/hls/s/index.m3u8") {
		t.Errorf("Expected HLS playlist output last, got %s", joined)
	}
	if strings.Contains(joined, ".mp4") {
		t.Errorf("Expected no recording output, got %s", joined)
	}

	withRec := strings.Join(buildArgs("rtmp://host/live/k", "/out/hls/s", "/out/rec.mp4"), " ")
	if !strings.HasSuffix(withRec, "-f mp4 -y /out/rec.mp4") {
		t.Errorf("Expected mp4 recording output, got %s", withRec)
	}
}

func TestFFmpegPipeline_StopUnknownIsNoop(t *testing.T) {
	p := NewFFmpegPipeline("", t.TempDir(), zap.NewNop())
	path, err := p.Stop(context.Background(), uuid.New())
	if err != nil || path != "" {
		t.Errorf("Expected empty result, got %q, %v", path, err)
	}
}
