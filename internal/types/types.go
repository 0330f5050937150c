package types

// Detection statuses returned by the recognition backend.
const (
	StatusPresent   = "present"
	StatusUncertain = "uncertain"
	StatusUnknown   = "unknown"
)

// Box is a face location in the frame's native pixel space.
type Box struct {
	Top    int `json:"top"`
	Right  int `json:"right"`
	Bottom int `json:"bottom"`
	Left   int `json:"left"`
}

// Identity is the student a face was matched to.
type Identity struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Roll string `json:"roll,omitempty"`
}

// Detection is one face found in a submitted frame
type Detection struct {
	Box        Box       `json:"box"`
	Status     string    `json:"status"`
	Distance   *float64  `json:"distance"`
	Confidence *float64  `json:"confidence"` // 0..1, null when unmatched
	Student    *Identity `json:"student"`
}

// Score returns the confidence or 0 when the backend sent none.
func (d Detection) Score() float64 {
	if d.Confidence == nil {
		return 0
	}
	return *d.Confidence
}

// Subject is a class taught by the logged in teacher.
type Subject struct {
	ID   string `json:"_id"`
	Name string `json:"name"`
	Code string `json:"code"`
}

// Student is a roster record for a subject.
type Student struct {
	StudentID string `json:"student_id"`
	Name      string `json:"name"`
	Roll      string `json:"roll"`
	Verified  bool   `json:"verified"`
}

// MarkRequest is the body of POST /api/attendance/mark
type MarkRequest struct {
	Image     string `json:"image"` // data URL
	SubjectID string `json:"subject_id"`
}

type MarkResponse struct {
	Faces []Detection `json:"faces"`
	Count int         `json:"count"`
}

// ConfirmRequest is the body of POST /api/attendance/confirm
type ConfirmRequest struct {
	SubjectID       string   `json:"subject_id"`
	PresentStudents []string `json:"present_students"`
	AbsentStudents  []string `json:"absent_students"`
}

type ConfirmResponse struct {
	OK             bool `json:"ok"`
	PresentUpdated int  `json:"present_updated"`
	AbsentUpdated  int  `json:"absent_updated"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginResponse struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  string `json:"role"`
	Token string `json:"token"`
}

// ErrorResult captures the error object returned by the backend on failure
type ErrorResult struct {
	Detail string `json:"detail"`
}
