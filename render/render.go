// Package render draws segmentation results over their source images with OpenCV.
package render

import (
	"image"
	"image/color"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"

	"github.com/scenic-viber/viber/models/postprocess"
)

// DefaultAlpha is the weight of the colour layer in the blend.
const DefaultAlpha = 0.5

// ClassColor returns the colour of a class id using the PASCAL VOC colour map
// bit pattern, so neighbouring ids get distinct colours.
func ClassColor(id int) color.RGBA {
	var r, g, b uint8
	c := id
	for shift := 7; shift >= 0 && c > 0; shift-- {
		r |= uint8(c&1) << shift
		g |= uint8((c>>1)&1) << shift
		b |= uint8((c>>2)&1) << shift
		c >>= 3
	}
	return color.RGBA{R: r, G: g, B: b, A: 255}
}

// Renderer blends colourised label maps over images.
type Renderer struct {
	alpha float64
}

// NewRenderer creates a renderer. Alpha outside (0, 1] falls back to DefaultAlpha.
func NewRenderer(alpha float64) *Renderer {
	if alpha <= 0 || alpha > 1 {
		alpha = DefaultAlpha
	}
	return &Renderer{alpha: alpha}
}

// Overlay returns a BGR Mat of the image with the result blended over it and
// the caption written in the top-left corner. The caller closes the Mat.
//
// Arguments:
//   - img: The source image, at the result's resolution.
//   - result: The segmentation result.
//   - caption: Text drawn on the image, may be empty.
//
// Returns:
//   - gocv.Mat: The rendered image.
//   - error: An error if the sizes differ or OpenCV fails.
func (r *Renderer) Overlay(img image.Image, result *postprocess.Result, caption string) (gocv.Mat, error) {
	b := img.Bounds()
	if b.Dx() != result.Width || b.Dy() != result.Height {
		return gocv.NewMat(), errors.Errorf("image is %dx%d, result is %dx%d",
			b.Dx(), b.Dy(), result.Width, result.Height)
	}

	src, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return gocv.NewMat(), errors.Wrap(err, "failed to convert image")
	}
	defer src.Close()

	layer, err := gocv.NewMatFromBytes(result.Height, result.Width, gocv.MatTypeCV8UC3, r.colorLayer(src.ToBytes(), result))
	if err != nil {
		return gocv.NewMat(), errors.Wrap(err, "failed to build colour layer")
	}
	defer layer.Close()

	out := gocv.NewMat()
	gocv.AddWeighted(src, 1-r.alpha, layer, r.alpha, 0, &out)

	for _, s := range result.Segments {
		rect := s.Box.Rectangle()
		gocv.Rectangle(&out, rect, ClassColor(s.LabelID), 2)
		gocv.PutText(&out, s.Label, image.Pt(rect.Min.X+2, rect.Min.Y+14),
			gocv.FontHersheyPlain, 1.0, color.RGBA{255, 255, 255, 0}, 1)
	}

	if caption != "" {
		gocv.PutText(&out, caption, image.Pt(11, 31), gocv.FontHersheyPlain, 1.4, color.RGBA{0, 0, 0, 0}, 3)
		gocv.PutText(&out, caption, image.Pt(10, 30), gocv.FontHersheyPlain, 1.4, color.RGBA{255, 255, 255, 0}, 2)
	}

	return out, nil
}

// colorLayer paints every pixel with the colour of its class, or of its
// segment's class for instance and panoptic results. Pixels without a
// segment keep their source colour.
func (r *Renderer) colorLayer(bgr []byte, result *postprocess.Result) []byte {
	layer := make([]byte, len(bgr))
	copy(layer, bgr)

	paint := func(i int, c color.RGBA) {
		layer[i*3], layer[i*3+1], layer[i*3+2] = c.B, c.G, c.R
	}

	if result.Task == postprocess.TaskSemantic {
		for i, l := range result.Labels {
			paint(i, ClassColor(int(l)))
		}
		return layer
	}

	colors := make(map[int32]color.RGBA, len(result.Segments))
	for _, s := range result.Segments {
		colors[s.ID] = ClassColor(s.LabelID)
	}
	for i, id := range result.SegmentIDs {
		if c, ok := colors[id]; ok {
			paint(i, c)
		}
	}
	return layer
}

// Save renders the overlay and writes it to path, creating the directory.
func (r *Renderer) Save(path string, img image.Image, result *postprocess.Result, caption string) error {
	out, err := r.Overlay(img, result, caption)
	if err != nil {
		return err
	}
	defer out.Close()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrap(err, "failed to create overlay directory")
	}
	if !gocv.IMWrite(path, out) {
		return errors.Errorf("failed to write %s", path)
	}
	return nil
}

// OverlayPath names the overlay file for a source image inside dir.
func OverlayPath(dir, source string) string {
	base := filepath.Base(source)
	ext := filepath.Ext(base)
	return filepath.Join(dir, base[:len(base)-len(ext)]+"_overlay.png")
}
