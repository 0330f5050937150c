package overlay

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"

	"github.com/andresmejia3/rollcall/internal/types"
	"github.com/disintegration/imaging"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const (
	borderWidth = 2
	labelPadX   = 6
	labelPadY   = 2
	tintAlpha   = 0x20
)

var labelFace font.Face = basicfont.Face7x13

// Annotate renders a preview of the frame as the operator sees it:
// flipped when mirrored, scaled to the display size, with every box drawn on top.
func Annotate(frame image.Image, display Size, faces []types.Detection, mirrored bool) *image.NRGBA {
	native := Size{Width: frame.Bounds().Dx(), Height: frame.Bounds().Dy()}
	if display.Width <= 0 || display.Height <= 0 {
		display = native
	}

	src := frame
	if mirrored {
		src = imaging.FlipH(frame)
	}
	dst := imaging.Resize(src, display.Width, display.Height, imaging.Lanczos)

	for _, b := range Layout(native, display, faces, mirrored) {
		drawBox(dst, b)
	}
	return dst
}

// AnnotateJPEG decodes a JPEG frame and annotates it.
func AnnotateJPEG(frame []byte, display Size, faces []types.Detection, mirrored bool) (*image.NRGBA, error) {
	img, err := imaging.Decode(bytes.NewReader(frame))
	if err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	return Annotate(img, display, faces, mirrored), nil
}

// Save writes the preview to disk, format picked from the extension.
func Save(img image.Image, path string) error {
	return imaging.Save(img, path, imaging.JPEGQuality(85))
}

func drawBox(dst draw.Image, b Box) {
	r := image.Rect(
		int(math.Round(b.Rect.X)),
		int(math.Round(b.Rect.Y)),
		int(math.Round(b.Rect.X+b.Rect.Width)),
		int(math.Round(b.Rect.Y+b.Rect.Height)),
	).Intersect(dst.Bounds())
	if r.Empty() {
		return
	}

	c := b.Style.Color
	tint := color.NRGBA{R: c.R, G: c.G, B: c.B, A: tintAlpha}
	draw.Draw(dst, r, image.NewUniform(tint), image.Point{}, draw.Over)

	edge := image.NewUniform(c)
	draw.Draw(dst, image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+borderWidth).Intersect(r), edge, image.Point{}, draw.Src)
	draw.Draw(dst, image.Rect(r.Min.X, r.Max.Y-borderWidth, r.Max.X, r.Max.Y).Intersect(r), edge, image.Point{}, draw.Src)
	draw.Draw(dst, image.Rect(r.Min.X, r.Min.Y, r.Min.X+borderWidth, r.Max.Y).Intersect(r), edge, image.Point{}, draw.Src)
	draw.Draw(dst, image.Rect(r.Max.X-borderWidth, r.Min.Y, r.Max.X, r.Max.Y).Intersect(r), edge, image.Point{}, draw.Src)

	drawLabel(dst, r, b.Style)
}

// drawLabel puts the label tab above the box, or inside it when the box touches the top edge.
func drawLabel(dst draw.Image, box image.Rectangle, s Style) {
	if s.Label == "" {
		return
	}
	metrics := labelFace.Metrics()
	textW := font.MeasureString(labelFace, s.Label).Ceil()
	textH := (metrics.Ascent + metrics.Descent).Ceil()

	tab := image.Rect(box.Min.X, box.Min.Y-textH-2*labelPadY, box.Min.X+textW+2*labelPadX, box.Min.Y)
	if tab.Min.Y < dst.Bounds().Min.Y {
		tab = tab.Add(image.Pt(0, tab.Dy()))
	}
	draw.Draw(dst, tab.Intersect(dst.Bounds()), image.NewUniform(s.Color), image.Point{}, draw.Src)

	d := &font.Drawer{
		Dst:  dst,
		Src:  image.White,
		Face: labelFace,
		Dot:  fixed.P(tab.Min.X+labelPadX, tab.Min.Y+labelPadY+metrics.Ascent.Ceil()),
	}
	d.DrawString(s.Label)
}
