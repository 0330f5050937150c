package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/andresmejia3/rollcall/internal/capture"
	"github.com/andresmejia3/rollcall/internal/overlay"
	"github.com/andresmejia3/rollcall/internal/poller"
	"github.com/andresmejia3/rollcall/internal/session"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

// defaultPreviewPath is where the live session writes its annotated frame.
const defaultPreviewPath = "rollcall-preview.jpg"

type sessionOptions struct {
	SubjectID    string
	PreviewPath  string
	Display      string
	FirstFrame   time.Duration
	PollInterval time.Duration
	Threshold    int
}

var sessionOpts sessionOptions

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Run a live attendance session from the webcam",
	Long: `Captures the webcam, submits a frame to the backend on every poll interval and
marks recognized students present. Commands are read from stdin:

  switch <subject_id>   change class (fresh roster, polling restarts; no-op for the current class)
  confirm               submit the present and absent lists once
  status                print the roster
  quit                  end the session`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSession(cmd.Context(), sessionOpts)
	},
}

func init() {
	sessionCmd.Flags().StringVarP(&sessionOpts.SubjectID, "subject", "s", "", "Class to start with (or use `switch` later)")
	sessionCmd.Flags().StringVarP(&sessionOpts.PreviewPath, "preview", "o", defaultPreviewPath, "Annotated preview file, rewritten after every update (empty disables)")
	sessionCmd.Flags().StringVar(&sessionOpts.Display, "display", "", "Preview size WIDTHxHEIGHT (default: config, then native size)")
	sessionCmd.Flags().DurationVar(&sessionOpts.FirstFrame, "camera-timeout", 10*time.Second, "How long to wait for the first webcam frame")
	sessionCmd.Flags().DurationVarP(&sessionOpts.PollInterval, "interval", "i", 0, "Poll interval (default: config, 3s)")
	sessionCmd.Flags().IntVarP(&sessionOpts.Threshold, "threshold", "t", 0, "Detections needed before a student counts as present (default: config, 1)")
	rootCmd.AddCommand(sessionCmd)
}

func validateSessionFlags(opts *sessionOptions) error {
	if opts.PollInterval == 0 {
		opts.PollInterval = Cfg.Session.PollInterval
	}
	if opts.PollInterval < 100*time.Millisecond {
		return fmt.Errorf("poll interval must be at least 100ms, got %s", opts.PollInterval)
	}
	if opts.Threshold == 0 {
		opts.Threshold = Cfg.Session.PresenceThreshold
	}
	if opts.Threshold < 1 {
		return fmt.Errorf("threshold must be >= 1, got %d", opts.Threshold)
	}
	if opts.FirstFrame <= 0 {
		return fmt.Errorf("camera timeout must be positive, got %s", opts.FirstFrame)
	}
	if opts.Display != "" {
		if _, err := parseDisplaySize(opts.Display); err != nil {
			return err
		}
	}
	return nil
}

// runSession wires camera, poller and runner and blocks until quit, EOF on stdin or Ctrl+C.
func runSession(parent context.Context, opts sessionOptions) error {
	if err := validateSessionFlags(&opts); err != nil {
		return fail("Invalid session flags", err, nil)
	}
	if err := capture.LookPath(); err != nil {
		return fail("FFmpeg is required for live sessions", err, nil)
	}
	client, err := newClient()
	if err != nil {
		return err
	}
	if err := openJournal(parent, false); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	// 1. Camera
	format := Cfg.Capture.InputFormat
	if format == "" {
		format = capture.DefaultInputFormat()
	}
	camera := capture.NewCamera(Cfg.Capture.Device, format, Cfg.Capture.Framerate)
	cameraErr := make(chan error, 1)
	cameraDone := make(chan struct{})
	go func() {
		defer close(cameraDone)
		cameraErr <- camera.Run(ctx)
	}()
	// ffmpeg must be gone before its logs are read
	defer func() {
		cancel()
		<-cameraDone
	}()

	fmt.Fprintf(os.Stderr, "📷 Opening %s (%s)...\n", Cfg.Capture.Device, format)
	if err := waitForFrame(ctx, camera.Frames, cameraErr, opts.FirstFrame); err != nil {
		cancel()
		<-cameraDone
		return fail("Camera did not produce frames", err, camera.Cmd())
	}

	// 2. Poller
	logger := log.New(os.Stderr, "", log.LstdFlags)
	p := poller.New(opts.PollInterval, camera.Frames, client, logger)
	defer p.Stop()

	// 3. Session owner
	runner := &session.Runner{
		Selector:  p,
		Roster:    client,
		Confirmer: client,
		Threshold: opts.Threshold,
		Out:       os.Stderr,
		OnUpdate:  previewWriter(camera.Frames, opts, logger),
	}
	if Journal != nil {
		runner.Journal = Journal
	}

	commands := make(chan session.Command)
	go readCommands(ctx, os.Stdin, commands, os.Stderr)

	fmt.Fprintln(os.Stderr, "▶️  Session running. Commands: switch <id>, confirm, status, quit")
	runErr := make(chan error, 1)
	go func() { runErr <- runner.Run(ctx, opts.SubjectID, p.Results(), commands) }()

	select {
	case err := <-runErr:
		cancel()
		if err != nil && !errors.Is(err, context.Canceled) {
			return fail("Session failed", err, nil)
		}
	case err := <-cameraErr:
		cancel()
		<-runErr
		if err != nil {
			return fail("Camera stopped", err, camera.Cmd())
		}
		return fail("Camera stopped", errors.New("capture stream ended"), camera.Cmd())
	}

	if s := runner.Snapshot(); s.SubjectID != "" && !s.Submitted {
		fmt.Fprintf(os.Stderr, "⚠️  Attendance for %s was not confirmed\n", s.SubjectID)
	}
	fmt.Fprintln(os.Stderr, "🏁 Session ended.")
	return nil
}

// waitForFrame spins until the camera delivers its first frame.
func waitForFrame(ctx context.Context, frames *capture.FrameBuffer, cameraErr <-chan error, timeout time.Duration) error {
	bar := progressbar.NewOptions(-1,
		progressbar.OptionSetDescription("📷 Waiting for camera"),
		progressbar.OptionSetWriter(os.Stderr), // Write spinner to Stderr
		progressbar.OptionSpinnerType(14),
		progressbar.OptionClearOnFinish(),
	)
	defer bar.Finish()

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()

	for frames.Count() == 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-cameraErr:
			if err == nil {
				err = errors.New("capture stream ended")
			}
			return err
		case <-deadline.C:
			return fmt.Errorf("no frame within %s", timeout)
		case <-tick.C:
			bar.Add(1)
		}
	}
	return nil
}

// readCommands turns stdin lines into session commands. EOF closes the channel, which ends the session.
func readCommands(ctx context.Context, in io.Reader, out chan<- session.Command, errOut io.Writer) {
	defer close(out)

	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if scanner.Text() == "" {
			continue
		}
		c, err := session.ParseCommand(scanner.Text())
		if err != nil {
			fmt.Fprintf(errOut, "⚠️  %v\n", err)
			continue
		}
		select {
		case out <- c:
		case <-ctx.Done():
			return
		}
	}
}

// previewWriter rewrites the preview file with the latest frame and the
// session's current detections.
func previewWriter(frames *capture.FrameBuffer, opts sessionOptions, logger *log.Logger) func(session.State) {
	return func(s session.State) {
		fmt.Fprintf(os.Stderr, "👀 %d faces in view, %d/%d present\n", len(s.Detections), len(s.Present()), len(s.Roster))
		if opts.PreviewPath == "" {
			return
		}
		frame, ok := frames.Snapshot()
		if !ok {
			return
		}
		display, err := displayFor(opts.Display, overlay.Size{Width: frame.Width, Height: frame.Height})
		if err != nil {
			return
		}
		img, err := overlay.AnnotateJPEG(frame.Data, display, s.Detections, Cfg.Display.Mirrored)
		if err != nil {
			logger.Printf("⚠️  Preview render failed: %v", err)
			return
		}
		if err := overlay.Save(img, opts.PreviewPath); err != nil {
			logger.Printf("⚠️  Preview write failed: %v", err)
		}
	}
}
