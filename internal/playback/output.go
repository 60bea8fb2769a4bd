package playback

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"time"
)

// CommandOutput plays audio by piping it into an external player process.
// The process is killed when the context is cancelled, which is how the
// controller interrupts an utterance mid-playback.
type CommandOutput struct {
	command string
	args    []string
	logger  *slog.Logger
}

// NewCommandOutput creates an output backed by the given player command.
// The audio bytes are written to the command's stdin.
func NewCommandOutput(command string, args []string, logger *slog.Logger) *CommandOutput {
	return &CommandOutput{
		command: command,
		args:    args,
		logger:  logger,
	}
}

// Play runs the player command and blocks until it exits or the context
// is cancelled.
func (o *CommandOutput) Play(ctx context.Context, audio []byte, mimeType string) error {
	startTime := time.Now()

	cmd := exec.CommandContext(ctx, o.command, o.args...)
	cmd.Stdin = bytes.NewReader(audio)

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("player command %s failed: %w", o.command, err)
	}

	o.logger.Debug("Player command finished",
		slog.String("command", o.command),
		slog.String("mime_type", mimeType),
		slog.Int("audio_bytes", len(audio)),
		slog.Duration("elapsed", time.Since(startTime)),
	)

	return nil
}
