// Package camera defines the frame-acquisition collaborator consumed by
// the face tracking loop.  The actual capture device (CSI camera, RTSP
// stream) lives behind the Source interface.
package camera

import (
	"errors"
	"image"
	"image/color"
	"sync"
	"time"
)

// ErrReleased is returned by NextFrame after Release has been called.
var ErrReleased = errors.New("camera source released")

// Frame is one captured image with its acquisition timestamp.  The image
// must not be mutated after it is returned from NextFrame.
type Frame struct {
	Image      image.Image
	CapturedAt time.Time
}

// Source supplies frames to the face tracking loop.  NextFrame blocks
// until a frame is available or fails; a nil frame with nil error is not
// a valid return.  Release frees the device; the loop calls it exactly
// once on exit.
type Source interface {
	NextFrame() (*Frame, error)
	Release()
}

// Replay cycles through a fixed set of images at a fixed interval.
// Used by tests and by dev servers without capture hardware.
type Replay struct {
	mu       sync.Mutex
	images   []image.Image
	idx      int
	interval time.Duration
	released bool
}

// NewReplay builds a Replay source.  With no images it produces a flat
// gray frame, which keeps the preview pipeline alive without a device.
func NewReplay(interval time.Duration, images ...image.Image) *Replay {
	if len(images) == 0 {
		img := image.NewNRGBA(image.Rect(0, 0, 640, 480))
		for i := range img.Pix {
			img.Pix[i] = 0x80
		}
		images = []image.Image{img}
	}
	if interval <= 0 {
		interval = 50 * time.Millisecond
	}
	return &Replay{images: images, interval: interval}
}

func (r *Replay) NextFrame() (*Frame, error) {
	r.mu.Lock()
	if r.released {
		r.mu.Unlock()
		return nil, ErrReleased
	}
	img := r.images[r.idx%len(r.images)]
	r.idx++
	interval := r.interval
	r.mu.Unlock()

	time.Sleep(interval)
	return &Frame{Image: img, CapturedAt: time.Now().UTC()}, nil
}

func (r *Replay) Release() {
	r.mu.Lock()
	r.released = true
	r.mu.Unlock()
}

// SolidFrame builds a single-color test image.
func SolidFrame(w, h int, c color.Color) image.Image {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}
