package overlay

import (
	"fmt"
	"image/color"
	"math"

	"github.com/andresmejia3/rollcall/internal/types"
)

// Size is a width/height pair in pixels.
type Size struct {
	Width  int
	Height int
}

// Rect is a box in display space.
type Rect struct {
	X      float64
	Y      float64
	Width  float64
	Height float64
}

// Style is the presentation derived from a detection's status.
type Style struct {
	Color color.RGBA
	Hex   string
	Label string
}

// Box is one renderable overlay element.
type Box struct {
	Rect  Rect
	Style Style
}

var (
	colorPresent   = color.RGBA{R: 0x22, G: 0xc5, B: 0x5e, A: 0xff}
	colorUncertain = color.RGBA{R: 0xf5, G: 0x9e, B: 0x0b, A: 0xff}
	colorUnknown   = color.RGBA{R: 0xef, G: 0x44, B: 0x44, A: 0xff}
)

// Remap projects a native-space box onto the display surface.
// When mirrored, the horizontal origin is taken from the box's far edge
// (native width - right) because the displayed feed is flipped.
// ok is false when the native size is not known yet.
func Remap(native, display Size, box types.Box, mirrored bool) (Rect, bool) {
	if native.Width <= 0 || native.Height <= 0 {
		return Rect{}, false
	}

	scaleX := float64(display.Width) / float64(native.Width)
	scaleY := float64(display.Height) / float64(native.Height)

	x := float64(box.Left) * scaleX
	if mirrored {
		x = float64(native.Width-box.Right) * scaleX
	}

	return Rect{
		X:      x,
		Y:      float64(box.Top) * scaleY,
		Width:  float64(box.Right-box.Left) * scaleX,
		Height: float64(box.Bottom-box.Top) * scaleY,
	}, true
}

// StyleFor maps a detection to its color and label.
func StyleFor(d types.Detection) Style {
	switch d.Status {
	case types.StatusPresent:
		name := "Unidentified"
		if d.Student != nil && d.Student.Name != "" {
			name = d.Student.Name
		}
		return Style{
			Color: colorPresent,
			Hex:   "#22c55e",
			Label: fmt.Sprintf("%s (%d%%)", name, int(math.Round(d.Score()*100))),
		}
	case types.StatusUncertain:
		return Style{Color: colorUncertain, Hex: "#f59e0b", Label: "Check ID"}
	default:
		return Style{Color: colorUnknown, Hex: "#ef4444", Label: "Unknown"}
	}
}

// Layout computes every overlay box for a detection list.
// It returns nil when the native size is unknown.
func Layout(native, display Size, faces []types.Detection, mirrored bool) []Box {
	var boxes []Box
	for _, f := range faces {
		r, ok := Remap(native, display, f.Box, mirrored)
		if !ok {
			return nil
		}
		boxes = append(boxes, Box{Rect: r, Style: StyleFor(f)})
	}
	return boxes
}
