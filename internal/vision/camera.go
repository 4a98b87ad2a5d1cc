// Package vision implements the camera, detector and overlay capabilities of
// the emotion sampler on top of OpenCV (gocv).
package vision

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gocv.io/x/gocv"

	model "github.com/zhouzirui/moodmirror/internal/model/emotion"
	"github.com/zhouzirui/moodmirror/internal/service/emotion"
)

// Camera opens an OpenCV video capture device.
type Camera struct {
	// Device is a device index ("0") or a video file / stream URL.
	Device string
	Logger logrus.FieldLogger
}

// Open starts reading frames in the background. The stream signals Ready
// after the first frame has been buffered.
func (c *Camera) Open(ctx context.Context, constraints emotion.Constraints) (emotion.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if constraints.Audio {
		return nil, fmt.Errorf("%w: audio capture is not supported by the camera", emotion.ErrCameraAccess)
	}

	var device interface{} = c.Device
	if c.Device == "" {
		device = 0
	} else if idx, err := strconv.Atoi(c.Device); err == nil {
		device = idx
	}

	capture, err := gocv.OpenVideoCapture(device)
	if err != nil {
		return nil, fmt.Errorf("%w: open device %v: %w", emotion.ErrCameraAccess, device, err)
	}
	if !capture.IsOpened() {
		capture.Close()
		return nil, fmt.Errorf("%w: device %v not available", emotion.ErrCameraAccess, device)
	}
	if constraints.Width > 0 {
		capture.Set(gocv.VideoCaptureFrameWidth, float64(constraints.Width))
	}
	if constraints.Height > 0 {
		capture.Set(gocv.VideoCaptureFrameHeight, float64(constraints.Height))
	}

	logger := c.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	s := &cameraStream{
		capture: capture,
		latest:  gocv.NewMat(),
		ready:   make(chan struct{}),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		logger:  logger.WithField("component", "camera"),
	}
	go s.readLoop()
	return s, nil
}

type cameraStream struct {
	capture *gocv.VideoCapture
	logger  logrus.FieldLogger

	mu        sync.Mutex
	latest    gocv.Mat
	hasFrame  bool
	readyOnce sync.Once
	ready     chan struct{}

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

func (s *cameraStream) readLoop() {
	defer close(s.done)

	img := gocv.NewMat()
	defer img.Close()

	misses := 0
	for {
		select {
		case <-s.stop:
			return
		default:
		}

		if ok := s.capture.Read(&img); !ok || img.Empty() {
			misses++
			if misses%100 == 1 {
				s.logger.Warn("no frame read from camera")
			}
			time.Sleep(30 * time.Millisecond)
			continue
		}
		misses = 0

		s.mu.Lock()
		img.CopyTo(&s.latest)
		s.hasFrame = true
		s.mu.Unlock()

		s.readyOnce.Do(func() { close(s.ready) })
	}
}

func (s *cameraStream) Ready() <-chan struct{} {
	return s.ready
}

func (s *cameraStream) HasEnoughData() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasFrame
}

// Frame encodes the most recent frame as JPEG.
func (s *cameraStream) Frame() (model.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.hasFrame {
		return model.Frame{}, fmt.Errorf("no frame buffered")
	}
	buf, err := gocv.IMEncode(gocv.JPEGFileExt, s.latest)
	if err != nil {
		return model.Frame{}, fmt.Errorf("encode frame: %w", err)
	}
	defer buf.Close()

	return model.Frame{
		Image:  append([]byte(nil), buf.GetBytes()...),
		Width:  s.latest.Cols(),
		Height: s.latest.Rows(),
	}, nil
}

func (s *cameraStream) Stop() error {
	var err error
	s.stopOnce.Do(func() {
		close(s.stop)
		<-s.done

		s.mu.Lock()
		s.hasFrame = false
		s.latest.Close()
		s.mu.Unlock()

		err = s.capture.Close()
	})
	return err
}
