package cmd

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/andresmejia3/rollcall/internal/overlay"
	"github.com/andresmejia3/rollcall/internal/types"
	"github.com/spf13/cobra"
)

type markOptions struct {
	SubjectID string
	OutPath   string
	Display   string
	Unmirror  bool
}

var markOpts markOptions

var markCmd = &cobra.Command{
	Use:   "mark <image>",
	Short: "Submit one image for recognition and print the overlay boxes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMark(cmd, args[0], markOpts)
	},
}

func init() {
	markCmd.Flags().StringVarP(&markOpts.SubjectID, "subject", "s", "", "Class to mark attendance for")
	markCmd.Flags().StringVarP(&markOpts.OutPath, "out", "o", "", "Write an annotated preview to this path")
	markCmd.Flags().StringVar(&markOpts.Display, "display", "", "Display size WIDTHxHEIGHT (default: config, then native size)")
	markCmd.Flags().BoolVar(&markOpts.Unmirror, "no-mirror", false, "Draw for an un-mirrored display")

	markCmd.MarkFlagRequired("subject")
	rootCmd.AddCommand(markCmd)
}

func runMark(cmd *cobra.Command, path string, opts markOptions) error {
	frame, err := os.ReadFile(path)
	if err != nil {
		return fail("Unable to read image", err, nil)
	}
	imgCfg, _, err := image.DecodeConfig(bytes.NewReader(frame))
	if err != nil {
		return fail("Unsupported image", err, nil)
	}
	native := overlay.Size{Width: imgCfg.Width, Height: imgCfg.Height}

	display, err := displayFor(opts.Display, native)
	if err != nil {
		return fail("Invalid display size", err, nil)
	}
	mirrored := Cfg.Display.Mirrored && !opts.Unmirror

	client, err := newClient()
	if err != nil {
		return err
	}
	resp, err := client.Mark(cmd.Context(), frame, opts.SubjectID)
	if err != nil {
		return fail("Attendance request failed", err, nil)
	}

	fmt.Fprintf(os.Stderr, "🖼️  %s: %dx%d shown at %dx%d, %d faces\n",
		path, native.Width, native.Height, display.Width, display.Height, resp.Count)
	printDetections(os.Stdout, resp.Faces, overlay.Layout(native, display, resp.Faces, mirrored))

	if opts.OutPath != "" {
		img, err := overlay.AnnotateJPEG(frame, display, resp.Faces, mirrored)
		if err != nil {
			return fail("Failed to render preview", err, nil)
		}
		if err := overlay.Save(img, opts.OutPath); err != nil {
			return fail("Failed to save preview", err, nil)
		}
		fmt.Fprintf(os.Stderr, "💾 Preview saved to %s\n", opts.OutPath)
	}
	return nil
}

// displayFor resolves the overlay size: flag, then config, then the native size.
func displayFor(flag string, native overlay.Size) (overlay.Size, error) {
	if flag != "" {
		return parseDisplaySize(flag)
	}
	if Cfg != nil && Cfg.Display.Width > 0 && Cfg.Display.Height > 0 {
		return overlay.Size{Width: Cfg.Display.Width, Height: Cfg.Display.Height}, nil
	}
	return native, nil
}

// parseDisplaySize reads "1280x720".
func parseDisplaySize(s string) (overlay.Size, error) {
	w, h, ok := strings.Cut(strings.ToLower(strings.TrimSpace(s)), "x")
	if !ok {
		return overlay.Size{}, fmt.Errorf("expected WIDTHxHEIGHT, got %q", s)
	}
	width, err := strconv.Atoi(w)
	if err != nil {
		return overlay.Size{}, fmt.Errorf("bad width in %q: %w", s, err)
	}
	height, err := strconv.Atoi(h)
	if err != nil {
		return overlay.Size{}, fmt.Errorf("bad height in %q: %w", s, err)
	}
	if width <= 0 || height <= 0 {
		return overlay.Size{}, fmt.Errorf("display size must be positive, got %dx%d", width, height)
	}
	return overlay.Size{Width: width, Height: height}, nil
}

// printDetections lists each face with its overlay box. boxes is nil when
// the frame size was unknown.
func printDetections(out io.Writer, faces []types.Detection, boxes []overlay.Box) {
	if len(faces) == 0 {
		fmt.Fprintln(out, "No faces detected.")
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "STATUS\tLABEL\tCOLOR\tX\tY\tW\tH")
	for i, f := range faces {
		style := overlay.StyleFor(f)
		if i >= len(boxes) {
			fmt.Fprintf(w, "%s\t%s\t%s\t-\t-\t-\t-\n", f.Status, style.Label, style.Hex)
			continue
		}
		r := boxes[i].Rect
		fmt.Fprintf(w, "%s\t%s\t%s\t%.0f\t%.0f\t%.0f\t%.0f\n", f.Status, style.Label, style.Hex, r.X, r.Y, r.Width, r.Height)
	}
	w.Flush()
}
