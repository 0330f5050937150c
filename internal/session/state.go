package session

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/andresmejia3/rollcall/internal/types"
)

// Roster statuses.
const (
	Present = "present"
	Absent  = "absent"
)

// DefaultPresenceThreshold is how many positive detections mark a student present.
const DefaultPresenceThreshold = 1

var (
	// ErrAlreadySubmitted is returned when confirming a session twice.
	ErrAlreadySubmitted = errors.New("attendance already marked for this session")
	// ErrNoSubject is returned when confirming without a selected class.
	ErrNoSubject = errors.New("no subject selected")
)

// Entry tracks one student for the session.
type Entry struct {
	ID     string
	Name   string
	Roll   string
	Count  int
	Status string
}

// State is the whole attendance session. Update functions take a State
// and return a new one; the input is never modified.
type State struct {
	SubjectID  string
	Generation uint64 // poller selection the session is bound to
	Roster     map[string]Entry
	Detections []types.Detection
	Submitted  bool
}

// New builds a fresh, unsubmitted session from a subject's students.
// Unverified students are left out.
func New(subjectID string, students []types.Student) State {
	roster := make(map[string]Entry, len(students))
	for _, s := range students {
		if !s.Verified {
			continue
		}
		roster[s.StudentID] = Entry{
			ID:     s.StudentID,
			Name:   s.Name,
			Roll:   s.Roll,
			Status: Absent,
		}
	}
	return State{SubjectID: subjectID, Roster: roster}
}

func (s State) clone() State {
	roster := make(map[string]Entry, len(s.Roster))
	for k, v := range s.Roster {
		roster[k] = v
	}
	s.Roster = roster
	return s
}

// Merge folds one detection list into the roster. Only present detections
// whose identity is on the roster count. Status only ever moves from absent
// to present, so merges may be applied in any order.
// A submitted session is returned unchanged.
func Merge(s State, faces []types.Detection, threshold int) State {
	if s.Submitted || len(faces) == 0 {
		return s
	}
	if threshold < 1 {
		threshold = DefaultPresenceThreshold
	}

	next := s.clone()
	for _, f := range faces {
		if f.Status != types.StatusPresent || f.Student == nil {
			continue
		}
		e, ok := next.Roster[f.Student.ID]
		if !ok {
			continue
		}
		e.Count++
		if e.Count >= threshold {
			e.Status = Present
		}
		next.Roster[e.ID] = e
	}
	return next
}

// Result is one mark response tagged with the selection it belongs to.
type Result struct {
	SubjectID  string
	Generation uint64
	Faces      []types.Detection
}

// Apply replaces the current detections with the result and merges it.
// Results from another selection are dropped.
func Apply(s State, r Result, threshold int) (State, bool) {
	if r.SubjectID != s.SubjectID || r.Generation != s.Generation {
		return s, false
	}
	next := Merge(s, r.Faces, threshold)
	next.Detections = r.Faces
	return next, true
}

// Present lists present students ordered by roll then name.
func (s State) Present() []Entry { return s.filter(Present) }

// Absent lists absent students ordered by roll then name.
func (s State) Absent() []Entry { return s.filter(Absent) }

func (s State) filter(status string) []Entry {
	var out []Entry
	for _, e := range s.Roster {
		if e.Status == status {
			out = append(out, e)
		}
	}
	sortEntries(out)
	return out
}

// All lists every roster entry ordered by roll then name.
func (s State) All() []Entry {
	out := make([]Entry, 0, len(s.Roster))
	for _, e := range s.Roster {
		out = append(out, e)
	}
	sortEntries(out)
	return out
}

func sortEntries(es []Entry) {
	sort.Slice(es, func(i, j int) bool {
		if es[i].Roll != es[j].Roll {
			return es[i].Roll < es[j].Roll
		}
		if es[i].Name != es[j].Name {
			return es[i].Name < es[j].Name
		}
		return es[i].ID < es[j].ID
	})
}

// ConfirmRequest builds the confirmation payload from the current roster.
func (s State) ConfirmRequest() types.ConfirmRequest {
	req := types.ConfirmRequest{
		SubjectID:       s.SubjectID,
		PresentStudents: []string{},
		AbsentStudents:  []string{},
	}
	for _, e := range s.Present() {
		req.PresentStudents = append(req.PresentStudents, e.ID)
	}
	for _, e := range s.Absent() {
		req.AbsentStudents = append(req.AbsentStudents, e.ID)
	}
	return req
}

// Confirmer sends the final attendance lists to the backend.
type Confirmer interface {
	Confirm(ctx context.Context, req types.ConfirmRequest) (*types.ConfirmResponse, error)
}

// Confirm submits the session at most once. A second call on a submitted
// session fails with ErrAlreadySubmitted without touching the backend.
// On failure the session stays unsubmitted so the operator can retry.
func Confirm(ctx context.Context, s State, c Confirmer) (State, *types.ConfirmResponse, error) {
	if s.Submitted {
		return s, nil, ErrAlreadySubmitted
	}
	if s.SubjectID == "" {
		return s, nil, ErrNoSubject
	}

	resp, err := c.Confirm(ctx, s.ConfirmRequest())
	if err != nil {
		return s, nil, fmt.Errorf("failed to save attendance: %w", err)
	}

	next := s.clone()
	next.Submitted = true
	return next, resp, nil
}
