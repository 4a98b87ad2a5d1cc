package vision

import (
	"fmt"
	"image"
	"image/color"
	"sync"

	"gocv.io/x/gocv"

	model "github.com/zhouzirui/moodmirror/internal/model/emotion"
	"github.com/zhouzirui/moodmirror/internal/service/emotion"
)

var (
	boxColor  = color.RGBA{R: 0xFF, G: 0x00, B: 0x84, A: 0}
	textColor = color.RGBA{R: 0x00, G: 0xFF, B: 0x00, A: 0}
)

// Overlay draws the face box and the top expressions onto the frame and
// keeps the latest rendered JPEG.
type Overlay struct {
	mu     sync.RWMutex
	latest []byte
}

// NewOverlay creates an empty overlay sink.
func NewOverlay() *Overlay {
	return &Overlay{}
}

func (o *Overlay) Render(frame model.Frame, overlay emotion.Overlay) error {
	img, err := gocv.IMDecode(frame.Image, gocv.IMReadColor)
	if err != nil {
		return fmt.Errorf("decode frame: %w", err)
	}
	defer img.Close()

	if b := overlay.Box; b != nil {
		rect := image.Rect(int(b.X), int(b.Y), int(b.X+b.Width), int(b.Y+b.Height))
		gocv.Rectangle(&img, rect, boxColor, 2)
	}

	for i, line := range overlay.Lines {
		y := 20
		if i > 0 {
			y = 35 + (i-1)*15
		}
		gocv.PutText(&img, line, image.Pt(10, y), gocv.FontHersheySimplex, 0.4, textColor, 1)
	}

	buf, err := gocv.IMEncode(gocv.JPEGFileExt, img)
	if err != nil {
		return fmt.Errorf("encode overlay: %w", err)
	}
	defer buf.Close()

	rendered := append([]byte(nil), buf.GetBytes()...)
	o.mu.Lock()
	o.latest = rendered
	o.mu.Unlock()
	return nil
}

// Latest returns the last rendered overlay, or nil before the first render.
func (o *Overlay) Latest() []byte {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.latest
}
