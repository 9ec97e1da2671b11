package runner

import (
	"fmt"
	"image"
	"image/color/palette"
	"image/draw"
	"image/gif"
	"os"
	"path/filepath"
)

// VideoRecorder buffers rendered frames and writes them as an animated GIF.
type VideoRecorder struct {
	path   string
	delay  int
	frames []*image.Paletted
}

func NewVideoRecorder(path string, fps int) *VideoRecorder {
	if fps <= 0 {
		fps = 10
	}
	return &VideoRecorder{path: path, delay: max(100/fps, 1)}
}

func (v *VideoRecorder) AddFrame(img *image.RGBA) {
	if img == nil {
		return
	}
	p := image.NewPaletted(img.Bounds(), palette.Plan9)
	draw.FloydSteinberg.Draw(p, img.Bounds(), img, img.Bounds().Min)
	v.frames = append(v.frames, p)
}

func (v *VideoRecorder) Len() int {
	return len(v.frames)
}

func (v *VideoRecorder) Path() string {
	return v.path
}

// Close writes the buffered frames. A recorder without frames writes nothing.
func (v *VideoRecorder) Close() error {
	if len(v.frames) == 0 {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(v.path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(v.path)
	if err != nil {
		return fmt.Errorf("failed to create video: %w", err)
	}
	delays := make([]int, len(v.frames))
	for i := range delays {
		delays[i] = v.delay
	}
	if err := gif.EncodeAll(f, &gif.GIF{Image: v.frames, Delay: delays}); err != nil {
		f.Close()
		return fmt.Errorf("failed to encode video: %w", err)
	}
	v.frames = nil
	return f.Close()
}
