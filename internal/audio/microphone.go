package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	// chunkMillis is the size of each delivered chunk.
	chunkMillis = 100

	// startGrace is how long Start waits for the recorder to fail on launch.
	startGrace = 200 * time.Millisecond

	// stopTimeout bounds the wait for the recorder to exit after SIGINT.
	stopTimeout = 2 * time.Second

	// checkTimeout bounds the one second test recording made by Open.
	checkTimeout = 5 * time.Second
)

// ErrCaptureExited is returned when the recorder process exits on its own.
var ErrCaptureExited = errors.New("capture process exited")

// ExecMicrophone captures PCM16 mono audio through arecord.
type ExecMicrophone struct {
	// Command defaults to arecord.
	Command    string
	Device     string
	SampleRate int
	Logger     logrus.FieldLogger
}

// Open records one second from the device and fails if the recorder exits
// with an error or produces no audio. It returns an idle capture.
func (m *ExecMicrophone) Open(ctx context.Context) (Capture, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	command := m.Command
	if command == "" {
		command = "arecord"
	}
	path, err := exec.LookPath(command)
	if err != nil {
		return nil, fmt.Errorf("%s not available: %w", command, err)
	}

	device := m.Device
	if device == "" {
		device = "default"
	}
	rate := m.SampleRate
	if rate <= 0 {
		rate = 16000
	}
	logger := m.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	args := captureArgs(device, rate)
	if err := checkRecorder(ctx, path, args); err != nil {
		return nil, err
	}

	return &execCapture{
		path:   path,
		args:   args,
		rate:   rate,
		grace:  startGrace,
		logger: logger.WithFields(logrus.Fields{"component": "microphone", "device": device}),
	}, nil
}

func captureArgs(device string, rate int) []string {
	return []string{
		"-q",
		"-D", device,
		"-f", "S16_LE",
		"-c", "1",
		"-r", strconv.Itoa(rate),
		"-t", "raw",
	}
}

// checkRecorder runs a short bounded recording with the capture arguments.
func checkRecorder(ctx context.Context, path string, args []string) error {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, path, append(append([]string{}, args...), "-d", "1")...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return exitError(path, err, &stderr)
	}
	if stdout.Len() == 0 {
		return fmt.Errorf("%w: %s produced no audio", ErrCaptureExited, filepath.Base(path))
	}
	return nil
}

func exitError(path string, err error, stderr *bytes.Buffer) error {
	msg := strings.TrimSpace(stderr.String())
	if msg == "" {
		return fmt.Errorf("%w: %s: %w", ErrCaptureExited, filepath.Base(path), err)
	}
	return fmt.Errorf("%w: %s: %w: %s", ErrCaptureExited, filepath.Base(path), err, msg)
}

type execCapture struct {
	path   string
	args   []string
	rate   int
	grace  time.Duration
	logger logrus.FieldLogger

	mu     sync.Mutex
	run    *captureRun
	closed bool
}

// captureRun is one recorder process. err is set before done is closed.
type captureRun struct {
	cmd  *exec.Cmd
	done chan struct{}
	err  error
}

func (c *execCapture) SampleRate() int {
	return c.rate
}

func (c *execCapture) Start(onChunk func([]byte)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if c.run != nil {
		return nil
	}

	var stderr bytes.Buffer
	cmd := exec.Command(c.path, c.args...)
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", filepath.Base(c.path), err)
	}

	run := &captureRun{cmd: cmd, done: make(chan struct{})}
	chunkSize := c.rate * 2 * chunkMillis / 1000

	go func() {
		defer close(run.done)
		buf := make([]byte, chunkSize)
		for {
			n, err := io.ReadFull(stdout, buf)
			if n > 0 {
				chunk := make([]byte, n-n%2)
				copy(chunk, buf[:len(chunk)])
				onChunk(chunk)
			}
			if err != nil {
				if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
					c.logger.WithError(err).Debug("capture stream ended")
				}
				break
			}
		}
		// Wait only after stdout is drained
		if err := cmd.Wait(); err != nil {
			run.err = exitError(c.path, err, &stderr)
		}
	}()

	select {
	case <-run.done:
		if run.err != nil {
			return run.err
		}
		return fmt.Errorf("%w: %s stopped right after start", ErrCaptureExited, filepath.Base(c.path))
	case <-time.After(c.grace):
	}

	c.run = run
	return nil
}

// Stop reports an error when the recorder died before Stop was called,
// because the buffered audio is then truncated or empty.
func (c *execCapture) Stop() error {
	c.mu.Lock()
	run := c.run
	c.run = nil
	c.mu.Unlock()

	if run == nil {
		return nil
	}

	select {
	case <-run.done:
		if run.err != nil {
			return run.err
		}
		return fmt.Errorf("%w: %s stopped before recording ended", ErrCaptureExited, filepath.Base(c.path))
	default:
	}

	// SIGINT lets arecord flush its last buffer before exiting
	if err := run.cmd.Process.Signal(os.Interrupt); err != nil {
		_ = run.cmd.Process.Kill()
	}
	select {
	case <-run.done:
	case <-time.After(stopTimeout):
		c.logger.Warn("recorder ignored SIGINT, killing")
		_ = run.cmd.Process.Kill()
		<-run.done
	}
	return nil
}

func (c *execCapture) Close() error {
	err := c.Stop()
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return err
}
