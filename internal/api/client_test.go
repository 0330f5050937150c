package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"image"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/andresmejia3/rollcall/internal/types"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/mux"
)

// fakeBackend mimics the attendance service routes.
type fakeBackend struct {
	mu       sync.Mutex
	marks    []types.MarkRequest
	confirms []types.ConfirmRequest
	auth     []string
}

func (f *fakeBackend) router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/auth/login", f.handleLogin).Methods("POST")
	r.HandleFunc("/api/teacher/subjects", f.handleSubjects).Methods("GET")
	r.HandleFunc("/api/teacher/subjects/{id}/students", f.handleStudents).Methods("GET")
	r.HandleFunc("/api/attendance/mark", f.handleMark).Methods("POST")
	r.HandleFunc("/api/attendance/confirm", f.handleConfirm).Methods("POST")
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (f *fakeBackend) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req types.LoginRequest
	json.NewDecoder(r.Body).Decode(&req)
	if req.Password != "hunter2" {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Invalid credentials"})
		return
	}
	writeJSON(w, http.StatusOK, types.LoginResponse{ID: "T1", Name: "Ms Rao", Email: req.Email, Role: "teacher", Token: "tok-123"})
}

func (f *fakeBackend) handleSubjects(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.auth = append(f.auth, r.Header.Get("Authorization"))
	f.mu.Unlock()
	writeJSON(w, http.StatusOK, []types.Subject{{ID: "math-101", Name: "Mathematics", Code: "MA101"}})
}

func (f *fakeBackend) handleStudents(w http.ResponseWriter, r *http.Request) {
	if mux.Vars(r)["id"] != "math-101" {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Subject not found"})
		return
	}
	writeJSON(w, http.StatusOK, []types.Student{
		{StudentID: "S1", Name: "Asha", Roll: "R01", Verified: true},
		{StudentID: "S2", Name: "Bilal", Roll: "R02", Verified: false},
	})
}

func (f *fakeBackend) handleMark(w http.ResponseWriter, r *http.Request) {
	var req types.MarkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "bad json"})
		return
	}
	f.mu.Lock()
	f.marks = append(f.marks, req)
	f.mu.Unlock()

	// Same shape the service sends: confidence and student are null for unknown faces.
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{
		"faces": [
			{"box": {"top": 10, "right": 120, "bottom": 110, "left": 20}, "status": "present",
			 "distance": 0.31, "confidence": 0.69, "student": {"id": "S1", "roll": "R01", "name": "Asha"}},
			{"box": {"top": 5, "right": 300, "bottom": 90, "left": 220}, "status": "unknown",
			 "distance": null, "confidence": null, "student": null}
		],
		"count": 2
	}`))
}

func (f *fakeBackend) handleConfirm(w http.ResponseWriter, r *http.Request) {
	var req types.ConfirmRequest
	json.NewDecoder(r.Body).Decode(&req)
	f.mu.Lock()
	f.confirms = append(f.confirms, req)
	f.mu.Unlock()
	writeJSON(w, http.StatusOK, types.ConfirmResponse{OK: true, PresentUpdated: len(req.PresentStudents), AbsentUpdated: len(req.AbsentStudents)})
}

func newTestClient(t *testing.T, token string) (*Client, *fakeBackend) {
	t.Helper()
	fb := &fakeBackend{}
	srv := httptest.NewServer(fb.router())
	t.Cleanup(srv.Close)

	c, err := New(srv.URL+"/", token, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	return c, fb
}

func testJPEG(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, image.NewGray(image.Rect(0, 0, 4, 4)), nil); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestClient_Mark(t *testing.T) {
	c, fb := newTestClient(t, "tok-123")
	frame := testJPEG(t)

	resp, err := c.Mark(context.Background(), frame, "math-101")
	if err != nil {
		t.Fatalf("Mark failed: %v", err)
	}

	if len(fb.marks) != 1 {
		t.Fatalf("expected 1 mark request, got %d", len(fb.marks))
	}
	sent := fb.marks[0]
	if sent.SubjectID != "math-101" {
		t.Errorf("subject_id = %q", sent.SubjectID)
	}
	prefix := "data:image/jpeg;base64,"
	if !strings.HasPrefix(sent.Image, prefix) {
		t.Fatalf("image is not a JPEG data URL: %.40s", sent.Image)
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(sent.Image, prefix))
	if err != nil || !bytes.Equal(decoded, frame) {
		t.Errorf("frame did not round trip through the data URL")
	}

	if len(resp.Faces) != 2 {
		t.Fatalf("expected 2 faces, got %d", len(resp.Faces))
	}
	known, unknown := resp.Faces[0], resp.Faces[1]
	if known.Student == nil || known.Student.ID != "S1" || known.Score() != 0.69 {
		t.Errorf("unexpected matched face: %+v", known)
	}
	if known.Box != (types.Box{Top: 10, Right: 120, Bottom: 110, Left: 20}) {
		t.Errorf("box = %+v", known.Box)
	}
	if unknown.Student != nil || unknown.Confidence != nil || unknown.Score() != 0 {
		t.Errorf("unknown face should carry no identity or confidence: %+v", unknown)
	}
}

func TestClient_Roster(t *testing.T) {
	c, fb := newTestClient(t, "tok-123")
	ctx := context.Background()

	subjects, err := c.Subjects(ctx)
	if err != nil {
		t.Fatalf("Subjects failed: %v", err)
	}
	if len(subjects) != 1 || subjects[0].Code != "MA101" {
		t.Errorf("unexpected subjects %+v", subjects)
	}
	if fb.auth[0] != "Bearer tok-123" {
		t.Errorf("Authorization = %q, want bearer token", fb.auth[0])
	}

	students, err := c.Students(ctx, "math-101")
	if err != nil {
		t.Fatalf("Students failed: %v", err)
	}
	if len(students) != 2 || !students[0].Verified || students[1].Verified {
		t.Errorf("unexpected students %+v", students)
	}

	_, err = c.Students(ctx, "nope")
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("expected *StatusError, got %v", err)
	}
	if se.Code != http.StatusNotFound || se.Detail != "Subject not found" {
		t.Errorf("unexpected status error %+v", se)
	}
}

func TestClient_Confirm(t *testing.T) {
	c, fb := newTestClient(t, "tok-123")
	req := types.ConfirmRequest{SubjectID: "math-101", PresentStudents: []string{"S1"}, AbsentStudents: []string{}}

	resp, err := c.Confirm(context.Background(), req)
	if err != nil {
		t.Fatalf("Confirm failed: %v", err)
	}
	if !resp.OK || resp.PresentUpdated != 1 || resp.AbsentUpdated != 0 {
		t.Errorf("unexpected response %+v", resp)
	}
	if len(fb.confirms) != 1 || fb.confirms[0].AbsentStudents == nil {
		t.Errorf("absent_students must be sent as a list: %+v", fb.confirms)
	}
}

func TestClient_Login(t *testing.T) {
	c, _ := newTestClient(t, "")

	resp, err := c.Login(context.Background(), "rao@school.test", "hunter2")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if resp.Token != "tok-123" {
		t.Errorf("token = %q", resp.Token)
	}

	if _, err := c.Login(context.Background(), "rao@school.test", "wrong"); err == nil {
		t.Error("expected an error for bad credentials")
	}
}

func TestClient_ServerDown(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c, err := New(url, "", 200*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.Mark(context.Background(), []byte{1}, "math-101"); err == nil {
		t.Error("expected a transport error")
	}
}

func TestNew_InvalidURL(t *testing.T) {
	for _, u := range []string{"localhost:8000", "ftp://x", "://"} {
		if _, err := New(u, "", 0); err == nil {
			t.Errorf("New(%q) accepted an invalid url", u)
		}
	}
}

func TestDataURL(t *testing.T) {
	got := DataURL([]byte("plain text frame"))
	if !strings.HasPrefix(got, "data:text/plain;base64,") {
		t.Errorf("DataURL() = %q", got)
	}
}

func TestTokenExpiry(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "T1",
		"exp": exp.Unix(),
	}).SignedString([]byte("server-secret"))
	if err != nil {
		t.Fatal(err)
	}

	got, ok, err := TokenExpiry(signed)
	if err != nil || !ok {
		t.Fatalf("TokenExpiry() ok=%v err=%v", ok, err)
	}
	if !got.Equal(exp) {
		t.Errorf("expiry = %v, want %v", got, exp)
	}

	noExp, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "T1"}).SignedString([]byte("k"))
	if _, ok, err := TokenExpiry(noExp); ok || err != nil {
		t.Errorf("token without exp: ok=%v err=%v", ok, err)
	}

	if _, _, err := TokenExpiry("not-a-jwt"); err == nil {
		t.Error("expected an error for a malformed token")
	}
}
