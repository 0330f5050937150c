package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"text/tabwriter"

	"github.com/andresmejia3/rollcall/internal/types"
	"github.com/google/uuid"
)

// Operator commands accepted by the runner.
const (
	CmdSwitch  = "switch"
	CmdConfirm = "confirm"
	CmdStatus  = "status"
	CmdQuit    = "quit"
)

// Command is one operator instruction.
type Command struct {
	Op  string
	Arg string
}

// ParseCommand reads a command line such as "switch math-101".
func ParseCommand(line string) (Command, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return Command{}, errors.New("empty command")
	}
	c := Command{Op: strings.ToLower(fields[0])}
	switch c.Op {
	case CmdSwitch:
		if len(fields) != 2 {
			return Command{}, errors.New("usage: switch <subject-id>")
		}
		c.Arg = fields[1]
	case "q", "exit":
		c.Op = CmdQuit
	case CmdConfirm, CmdStatus, CmdQuit:
	default:
		return Command{}, fmt.Errorf("unknown command %q (switch <id>, confirm, status, quit)", fields[0])
	}
	return c, nil
}

// Selector restarts polling for a subject and returns the selection generation.
type Selector interface {
	Select(ctx context.Context, subjectID string) uint64
}

// RosterLoader fetches the students enrolled in a subject.
type RosterLoader interface {
	Students(ctx context.Context, subjectID string) ([]types.Student, error)
}

// Journal records accepted confirmations.
type Journal interface {
	RecordConfirmation(ctx context.Context, subjectID string, present, absent []string) (uuid.UUID, error)
}

// Runner owns the session state. All updates happen on the goroutine
// running Run; other goroutines only read snapshots.
type Runner struct {
	Selector  Selector
	Roster    RosterLoader
	Confirmer Confirmer
	Journal   Journal     // optional
	OnUpdate  func(State) // optional, called after every accepted update
	Threshold int
	Out       io.Writer

	mu    sync.RWMutex
	state State
}

// Snapshot returns the current state.
func (r *Runner) Snapshot() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

func (r *Runner) set(s State) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
	if r.OnUpdate != nil {
		r.OnUpdate(s)
	}
}

// Run selects subjectID (if any) and then processes results and commands
// until quit, the command channel closes, or ctx is cancelled.
func (r *Runner) Run(ctx context.Context, subjectID string, results <-chan Result, commands <-chan Command) error {
	if r.Out == nil {
		r.Out = io.Discard
	}
	if subjectID != "" {
		if err := r.switchTo(ctx, subjectID); err != nil {
			return err
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case res, ok := <-results:
			if !ok {
				results = nil
				continue
			}
			if next, ok := Apply(r.Snapshot(), res, r.Threshold); ok {
				r.set(next)
			}
		case cmd, ok := <-commands:
			if !ok {
				return nil
			}
			if quit := r.handle(ctx, cmd); quit {
				return nil
			}
		}
	}
}

func (r *Runner) handle(ctx context.Context, cmd Command) bool {
	switch cmd.Op {
	case CmdSwitch:
		// Reselecting the active class keeps its roster and submission
		if cur := r.Snapshot().SubjectID; cur != "" && cmd.Arg == cur {
			fmt.Fprintf(r.Out, "ℹ️  Class %s is already selected\n", cur)
			return false
		}
		if err := r.switchTo(ctx, cmd.Arg); err != nil {
			fmt.Fprintf(r.Out, "❌ %v\n", err)
		}
	case CmdConfirm:
		r.confirm(ctx)
	case CmdStatus:
		r.PrintStatus(r.Out)
	case CmdQuit:
		return true
	}
	return false
}

// switchTo loads the roster first so a failed lookup keeps the current session.
func (r *Runner) switchTo(ctx context.Context, subjectID string) error {
	students, err := r.Roster.Students(ctx, subjectID)
	if err != nil {
		return fmt.Errorf("failed to load students for %s: %w", subjectID, err)
	}
	next := New(subjectID, students)
	next.Generation = r.Selector.Select(ctx, subjectID)
	r.set(next)
	fmt.Fprintf(r.Out, "📚 Class %s selected: %d verified students\n", subjectID, len(next.Roster))
	return nil
}

func (r *Runner) confirm(ctx context.Context) {
	next, resp, err := Confirm(ctx, r.Snapshot(), r.Confirmer)
	switch {
	case errors.Is(err, ErrAlreadySubmitted):
		fmt.Fprintf(r.Out, "⚠️  %v\n", err)
		return
	case errors.Is(err, ErrNoSubject):
		fmt.Fprintln(r.Out, "⚠️  Select a class first")
		return
	case err != nil:
		fmt.Fprintf(r.Out, "❌ %v\n", err)
		return
	}

	r.set(next)
	saved := fmt.Sprintf("✅ Attendance saved: %d present, %d absent", resp.PresentUpdated, resp.AbsentUpdated)

	if r.Journal != nil {
		req := next.ConfirmRequest()
		id, err := r.Journal.RecordConfirmation(ctx, req.SubjectID, req.PresentStudents, req.AbsentStudents)
		if err != nil {
			fmt.Fprintln(r.Out, saved)
			fmt.Fprintf(r.Out, "⚠️  Journal write failed: %v\n", err)
			return
		}
		// history shows the first 8 characters of the id
		saved += fmt.Sprintf(" (journal %s)", id.String()[:8])
	}
	fmt.Fprintln(r.Out, saved)
}

// PrintStatus writes the roster as a table.
func (r *Runner) PrintStatus(w io.Writer) {
	s := r.Snapshot()
	if s.SubjectID == "" {
		fmt.Fprintln(w, "No class selected")
		return
	}

	state := "in progress"
	if s.Submitted {
		state = "submitted"
	}
	fmt.Fprintf(w, "Class %s (%s): %d present, %d absent, %d faces in view\n",
		s.SubjectID, state, len(s.Present()), len(s.Absent()), len(s.Detections))

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ROLL\tNAME\tSTATUS\tSEEN")
	for _, e := range s.All() {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", e.Roll, e.Name, e.Status, e.Count)
	}
	tw.Flush()
}
