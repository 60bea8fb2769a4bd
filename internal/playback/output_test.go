package playback

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestCommandOutputPipesAudio(t *testing.T) {
	target := filepath.Join(t.TempDir(), "played.bin")
	output := NewCommandOutput("sh", []string{"-c", "cat > " + target}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	audio := []byte{0x01, 0x02, 0x03, 0x04}
	if err := output.Play(context.Background(), audio, "audio/mpeg"); err != nil {
		t.Fatalf("Play failed: %v", err)
	}

	written, err := os.ReadFile(target)
	if err != nil {
		t.Fatalf("reading played output: %v", err)
	}
	if string(written) != string(audio) {
		t.Errorf("expected %v to reach the player, got %v", audio, written)
	}
}

func TestCommandOutputCancellation(t *testing.T) {
	output := NewCommandOutput("sleep", []string{"10"}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	startTime := time.Now()
	err := output.Play(ctx, []byte{0x00}, "audio/mpeg")
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if time.Since(startTime) > 5*time.Second {
		t.Error("cancellation did not kill the player promptly")
	}
}

func TestCommandOutputMissingCommand(t *testing.T) {
	output := NewCommandOutput("definitely-not-a-real-player", nil, slog.New(slog.NewTextHandler(io.Discard, nil)))

	err := output.Play(context.Background(), []byte{0x00}, "audio/mpeg")
	if err == nil {
		t.Fatal("expected an error for a missing player command")
	}
}
