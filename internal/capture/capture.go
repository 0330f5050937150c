package capture

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	"io"
	"os"
	"os/exec"
	"runtime"
	"sync"
)

const megabyte = 1024 * 1024

// --- 1. Process Safety & Error Reporting ---

// SafeCommand wraps a standard exec.Cmd with a buffer to catch Stderr (ffmpeg logs)
// so a dead capture process still leaves something to report.
type SafeCommand struct {
	*exec.Cmd
	Stderr *bytes.Buffer
}

// NewSafeCommand initializes a command and attaches a buffer to its Stderr pipe.
// It prepares the command for execution but does not start it.
func NewSafeCommand(ctx context.Context, name string, args ...string) *SafeCommand {
	cmd := exec.CommandContext(ctx, name, args...)
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr
	return &SafeCommand{Cmd: cmd, Stderr: stderr}
}

// ShowError prints a formatted error box and dumps the process logs if a SafeCommand is provided.
func ShowError(title string, err error, s *SafeCommand) {
	fmt.Fprintf(os.Stderr, "\n---------------------------------------------------------\n")
	fmt.Fprintf(os.Stderr, "🚨 ROLLCALL ERROR: %s\n", title)
	if err != nil {
		fmt.Fprintf(os.Stderr, "DETAILS: %v\n", err)
	}

	if s != nil && s.Stderr.Len() > 0 {
		fmt.Fprintf(os.Stderr, "\nFFMPEG LOGS:\n%s\n", s.Stderr.String())
	}
	fmt.Fprintf(os.Stderr, "---------------------------------------------------------\n")
}

// --- 2. Camera Engine ---

var (
	JpegSOI = []byte{0xFF, 0xD8} // Start of Image
	JpegEOI = []byte{0xFF, 0xD9} // End of Image
)

// DefaultInputFormat returns the ffmpeg demuxer for webcams on this OS.
func DefaultInputFormat() string {
	switch runtime.GOOS {
	case "darwin":
		return "avfoundation"
	case "windows":
		return "dshow"
	default:
		return "v4l2"
	}
}

// NewFFmpegCaptureCmd creates a webcam decoder pipe.
// ffmpeg emits MJPEG frames on Stdout which SplitJpeg can cut apart.
func NewFFmpegCaptureCmd(ctx context.Context, device, format string, framerate int) *SafeCommand {
	if format == "" {
		format = DefaultInputFormat()
	}
	args := []string{"-hide_banner", "-loglevel", "error", "-f", format}
	if framerate > 0 {
		args = append(args, "-framerate", fmt.Sprint(framerate))
	}
	args = append(args, "-i", device, "-f", "image2pipe", "-vcodec", "mjpeg", "-q:v", "5", "-")
	return NewSafeCommand(ctx, "ffmpeg", args...)
}

// SplitJpeg is the custom splitter for bufio.Scanner.
// It locates the Start Of Image (FFD8) and End Of Image (FFD9) markers to extract full JPEG frames.
func SplitJpeg(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	start := bytes.Index(data, JpegSOI)
	if start == -1 {
		return 0, nil, nil
	}
	end := bytes.Index(data[start:], JpegEOI)
	if end == -1 {
		return 0, nil, nil
	}
	return start + end + 2, data[start : start+end+2], nil
}

// --- 3. Latest Frame ---

// Frame is one captured JPEG and its native resolution.
type Frame struct {
	Data   []byte
	Width  int
	Height int
}

// FrameBuffer holds the most recent frame. Writers replace it, readers get a copy-free snapshot.
type FrameBuffer struct {
	mu     sync.RWMutex
	frame  Frame
	frames int
}

// Put stores a frame, reading its dimensions from the JPEG header.
// Frames whose header cannot be parsed are rejected.
func (b *FrameBuffer) Put(data []byte) error {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("unreadable frame: %w", err)
	}

	b.mu.Lock()
	b.frame = Frame{Data: data, Width: cfg.Width, Height: cfg.Height}
	b.frames++
	b.mu.Unlock()
	return nil
}

// Latest returns the last frame's bytes. ok is false until the first frame arrives.
func (b *FrameBuffer) Latest() ([]byte, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.frame.Data, len(b.frame.Data) > 0
}

// Snapshot returns the last frame with its dimensions.
func (b *FrameBuffer) Snapshot() (Frame, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.frame, len(b.frame.Data) > 0
}

// Count reports how many frames have been stored.
func (b *FrameBuffer) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.frames
}

// Stream splits an MJPEG stream and pushes every frame into buf until the
// stream ends or ctx is cancelled. Each frame gets its own backing array
// because the scanner reuses its buffer.
func Stream(ctx context.Context, r io.Reader, buf *FrameBuffer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, megabyte), 16*megabyte)
	scanner.Split(SplitJpeg)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		frame := make([]byte, len(scanner.Bytes()))
		copy(frame, scanner.Bytes())
		if err := buf.Put(frame); err != nil {
			// Corrupt frames happen when the camera warms up; skip them.
			continue
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("frame scanner failed: %w", err)
	}
	return nil
}

// Camera runs ffmpeg against a capture device and feeds a FrameBuffer.
type Camera struct {
	Device    string
	Format    string
	Framerate int
	Frames    *FrameBuffer

	cmd *SafeCommand
}

// NewCamera prepares a camera; nothing runs until Run is called.
func NewCamera(device, format string, framerate int) *Camera {
	return &Camera{
		Device:    device,
		Format:    format,
		Framerate: framerate,
		Frames:    &FrameBuffer{},
	}
}

// Run starts ffmpeg and blocks while frames stream in. Cancelling ctx kills the process.
func (c *Camera) Run(ctx context.Context) error {
	c.cmd = NewFFmpegCaptureCmd(ctx, c.Device, c.Format, c.Framerate)

	out, err := c.cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to create ffmpeg stdout pipe: %w", err)
	}
	if err := c.cmd.Start(); err != nil {
		return fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	streamErr := Stream(ctx, out, c.Frames)
	waitErr := c.cmd.Wait()

	if ctx.Err() != nil {
		return nil
	}
	if streamErr != nil {
		return streamErr
	}
	if waitErr != nil {
		return fmt.Errorf("ffmpeg execution failed: %w", waitErr)
	}
	return nil
}

// Cmd exposes the underlying process for error reports.
func (c *Camera) Cmd() *SafeCommand {
	return c.cmd
}

// LookPath checks ffmpeg is installed before a session starts.
func LookPath() error {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return fmt.Errorf("ffmpeg not found in PATH: %w", err)
	}
	return nil
}
