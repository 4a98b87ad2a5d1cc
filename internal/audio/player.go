package audio

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"
)

// ExecPlayer plays encoded audio (mp3, wav, ...) through an external player.
type ExecPlayer struct {
	// Command is the player binary, default "ffplay".
	Command string

	mu     sync.Mutex
	closed bool
}

// NewExecPlayer creates a player using the given command.
func NewExecPlayer(command string) *ExecPlayer {
	if command == "" {
		command = "ffplay"
	}
	return &ExecPlayer{Command: command}
}

// Load writes the audio to a temp file that backs the returned track.
func (p *ExecPlayer) Load(audio []byte) (Track, error) {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}
	if len(audio) == 0 {
		return nil, fmt.Errorf("empty audio payload")
	}

	f, err := os.CreateTemp("", "moodmirror-*.audio")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	if _, err := f.Write(audio); err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return nil, fmt.Errorf("close temp file: %w", err)
	}

	return &fileTrack{command: p.Command, path: f.Name()}, nil
}

// Close marks the player closed. Tracks already loaded stay playable until released.
func (p *ExecPlayer) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return nil
}

type fileTrack struct {
	command string
	path    string
}

func (t *fileTrack) Play(ctx context.Context) error {
	args := []string{t.path}
	if t.command == "ffplay" {
		args = []string{"-nodisp", "-autoexit", "-loglevel", "error", t.path}
	}

	out, err := exec.CommandContext(ctx, t.command, args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s: %w: %s", t.command, err, out)
	}
	return nil
}

func (t *fileTrack) Release() error {
	if err := os.Remove(t.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
