package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/andresmejia3/rollcall/internal/types"
	"github.com/gabriel-vasile/mimetype"
	"github.com/golang-jwt/jwt/v5"
)

// DefaultTimeout bounds a single backend call.
const DefaultTimeout = 10 * time.Second

// StatusError is a non-2xx answer from the backend.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Detail string
}

func (e *StatusError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s %s: %d %s", e.Method, e.Path, e.Code, e.Detail)
	}
	return fmt.Sprintf("%s %s: %d %s", e.Method, e.Path, e.Code, http.StatusText(e.Code))
}

// Client talks to the attendance backend.
type Client struct {
	baseURL *url.URL
	token   string
	http    *http.Client
}

// New creates a client. token may be empty for Login.
func New(baseURL, token string, timeout time.Duration) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid api url %q: %w", baseURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid api url %q: scheme must be http or https", baseURL)
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL: u,
		token:   token,
		http:    &http.Client{Timeout: timeout},
	}, nil
}

// Login exchanges credentials for a bearer token.
func (c *Client) Login(ctx context.Context, email, password string) (*types.LoginResponse, error) {
	var resp types.LoginResponse
	if err := c.do(ctx, http.MethodPost, "/auth/login", types.LoginRequest{Email: email, Password: password}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Subjects lists the subjects taught by the current user.
func (c *Client) Subjects(ctx context.Context) ([]types.Subject, error) {
	var subjects []types.Subject
	if err := c.do(ctx, http.MethodGet, "/api/teacher/subjects", nil, &subjects); err != nil {
		return nil, err
	}
	return subjects, nil
}

// Students lists the roster of a subject.
func (c *Client) Students(ctx context.Context, subjectID string) ([]types.Student, error) {
	var students []types.Student
	path := "/api/teacher/subjects/" + url.PathEscape(subjectID) + "/students"
	if err := c.do(ctx, http.MethodGet, path, nil, &students); err != nil {
		return nil, err
	}
	return students, nil
}

// Mark submits one frame for recognition against a subject's roster.
func (c *Client) Mark(ctx context.Context, frame []byte, subjectID string) (*types.MarkResponse, error) {
	req := types.MarkRequest{Image: DataURL(frame), SubjectID: subjectID}
	var resp types.MarkResponse
	if err := c.do(ctx, http.MethodPost, "/api/attendance/mark", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Confirm sends the final present/absent lists.
func (c *Client) Confirm(ctx context.Context, req types.ConfirmRequest) (*types.ConfirmResponse, error) {
	var resp types.ConfirmResponse
	if err := c.do(ctx, http.MethodPost, "/api/attendance/confirm", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// DataURL encodes a frame the way a browser screenshot would.
func DataURL(frame []byte) string {
	mime := mimetype.Detect(frame).String()
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = mime[:i]
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(frame)
}

// TokenExpiry reads the exp claim without verifying the signature.
// ok is false when the token carries no expiry.
func TokenExpiry(token string) (exp time.Time, ok bool, err error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false, fmt.Errorf("malformed token: %w", err)
	}
	date, err := claims.GetExpirationTime()
	if err != nil {
		return time.Time{}, false, fmt.Errorf("malformed exp claim: %w", err)
	}
	if date == nil {
		return time.Time{}, false, nil
	}
	return date.Time, true, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var r io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s body: %w", path, err)
		}
		r = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL.String()+path, r)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read %s response: %w", path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		se := &StatusError{Method: method, Path: path, Code: resp.StatusCode}
		var e types.ErrorResult
		if json.Unmarshal(raw, &e) == nil && e.Detail != "" {
			se.Detail = e.Detail
		} else {
			se.Detail = strings.TrimSpace(string(raw))
		}
		return se
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
