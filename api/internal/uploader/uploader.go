// Package uploader drives one signature upload from file selection to the
// redirect onto the dashboard.
//
//	idle → hasFile → uploading → success | invalid | error
//
// Reset returns to idle from any state.
package uploader

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"sigverify/api/internal/backend"
	"sigverify/api/internal/session"
)

type State string

const (
	StateIdle      State = "idle"
	StateHasFile   State = "hasFile"
	StateUploading State = "uploading"
	StateSuccess   State = "success"
	StateInvalid   State = "invalid"
	StateError     State = "error"
)

func (s State) Terminal() bool {
	return s == StateSuccess || s == StateInvalid || s == StateError
}

const (
	MsgInvalidSignature = "Signature validation failed. This signature appears to be invalid."
	MsgUploadFailed     = "Upload failed"
	MsgIncomplete       = "Upload failed: the verification service returned an incomplete result."
	MsgTimeout          = "Upload timed out: the verification service did not answer in time. Please try again."
)

var (
	ErrNoFile       = errors.New("no file selected")
	ErrBusy         = errors.New("upload already in progress")
	ErrUploadFailed = errors.New("upload failed")
	ErrIncomplete   = errors.New("incomplete upload response")
	ErrDiscarded    = errors.New("upload result discarded after reset")
)

// API is the part of the backend client the uploader needs.
type API interface {
	UploadSignature(ctx context.Context, f backend.File) (*backend.UploadResponse, error)
	Health(ctx context.Context) ([]byte, error)
}

// Navigator receives the dashboard target after a valid upload.
type Navigator interface {
	Navigate(target string)
}

type NavigatorFunc func(target string)

func (f NavigatorFunc) Navigate(target string) { f(target) }

// DashboardTarget builds the results path with the validation hint,
// e.g. /dashboard?valid=true&confidence=97.
func DashboardTarget(path string, vr backend.ValidationResult) string {
	return fmt.Sprintf("%s?valid=%t&confidence=%d", path, vr.IsValid, vr.Percent())
}

type Uploader struct {
	api           API
	store         session.Store
	nav           Navigator
	maxBytes      int64
	dashboardPath string

	mu        sync.Mutex
	state     State
	candidate *Candidate
	preview   string
	message   string
	result    *backend.ValidationResult
}

type Option func(*Uploader)

func WithMaxBytes(n int64) Option {
	return func(u *Uploader) {
		if n > 0 {
			u.maxBytes = n
		}
	}
}

func WithDashboardPath(p string) Option {
	return func(u *Uploader) {
		if p != "" {
			u.dashboardPath = p
		}
	}
}

func New(api API, store session.Store, nav Navigator, opts ...Option) *Uploader {
	u := &Uploader{
		api:           api,
		store:         store,
		nav:           nav,
		maxBytes:      MaxFileSize,
		dashboardPath: "/dashboard",
		state:         StateIdle,
	}
	for _, o := range opts {
		o(u)
	}
	return u
}

// Snapshot is what a front end needs to draw the uploader.
type Snapshot struct {
	State     State
	FileName  string
	FileSize  int64
	MediaType string
	Preview   string
	Message   string
	Result    *backend.ValidationResult
	// CanSubmit is false while uploading; the verify control is disabled then.
	CanSubmit bool
}

func (u *Uploader) Snapshot() Snapshot {
	u.mu.Lock()
	defer u.mu.Unlock()
	s := Snapshot{
		State:     u.state,
		Preview:   u.preview,
		Message:   u.message,
		CanSubmit: u.state == StateHasFile,
	}
	if u.candidate != nil {
		s.FileName = u.candidate.Name
		s.FileSize = u.candidate.Size()
		s.MediaType = u.candidate.MediaType
	}
	if u.result != nil {
		r := *u.result
		s.Result = &r
	}
	return s
}

func (u *Uploader) State() State {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.state
}

// SelectFile accepts a new candidate. A candidate that fails local validation
// leaves the state untouched and sets the message; nothing is sent.
func (u *Uploader) SelectFile(c Candidate) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.state == StateUploading {
		return ErrBusy
	}
	if err := c.Check(u.maxBytes); err != nil {
		u.message = sentence(err.Error())
		log.Printf("uploader: rejected %q type=%s size=%d: %v", c.Name, c.MediaType, c.Size(), err)
		return err
	}

	preview, err := buildPreview(c)
	if err != nil {
		log.Printf("uploader: preview for %q: %v", c.Name, err)
	}

	u.candidate = &c
	u.preview = preview
	u.message = ""
	u.result = nil
	u.state = StateHasFile
	return nil
}

// Submit uploads the selected file. The returned error is the cause when the
// upload lands in StateError, or a precondition error (ErrNoFile, ErrBusy).
// An invalid signature is not an error.
func (u *Uploader) Submit(ctx context.Context) (State, error) {
	u.mu.Lock()
	switch u.state {
	case StateHasFile:
	case StateUploading:
		u.mu.Unlock()
		return StateUploading, ErrBusy
	default:
		st := u.state
		u.mu.Unlock()
		return st, ErrNoFile
	}
	c := *u.candidate
	u.state = StateUploading
	u.message = ""
	u.result = nil
	u.mu.Unlock()

	resp, err := u.api.UploadSignature(ctx, backend.File{Name: c.Name, ContentType: c.MediaType, Data: c.Data})

	u.mu.Lock()
	if u.state != StateUploading {
		st := u.state
		u.mu.Unlock()
		return st, ErrDiscarded
	}

	if err != nil {
		return u.failLocked(uploadErrorMessage(err), err)
	}
	if !resp.Success {
		msg := strings.TrimSpace(resp.Message)
		if msg == "" {
			msg = MsgUploadFailed
		}
		return u.failLocked(msg, errors.Wrap(ErrUploadFailed, msg))
	}
	if resp.Data == nil || resp.Data.ValidationResult == nil {
		return u.failLocked(MsgIncomplete, errors.Wrap(ErrIncomplete, "validationResult is missing"))
	}
	vr := *resp.Data.ValidationResult
	if err := vr.Validate(); err != nil {
		return u.failLocked(MsgIncomplete, errors.Wrap(ErrIncomplete, err.Error()))
	}
	// The dashboard needs the full data; a bare invalid verdict is enough
	// for the invalid outcome.
	complete := resp.Data.Validate()
	if vr.IsValid && complete != nil {
		return u.failLocked(MsgIncomplete, errors.Wrap(ErrIncomplete, complete.Error()))
	}

	if complete == nil {
		raw, err := json.Marshal(resp.Data)
		if err != nil {
			return u.failLocked(MsgIncomplete, errors.Wrap(err, "encode dashboard data"))
		}
		u.store.Set(session.KeyDashboardData, string(raw))
	} else {
		u.store.Delete(session.KeyDashboardData)
	}
	if resp.ResultID != "" {
		u.store.Set(session.KeyResultID, resp.ResultID)
	} else {
		u.store.Delete(session.KeyResultID)
	}

	u.result = &vr
	if !vr.IsValid {
		u.state = StateInvalid
		u.message = MsgInvalidSignature
		u.mu.Unlock()
		log.Printf("uploader: %q invalid confidence=%.1f result=%s", c.Name, vr.Confidence, resp.ResultID)
		return StateInvalid, nil
	}

	u.state = StateSuccess
	target := DashboardTarget(u.dashboardPath, vr)
	u.mu.Unlock()

	log.Printf("uploader: %q valid confidence=%.1f result=%s -> %s", c.Name, vr.Confidence, resp.ResultID, target)
	if u.nav != nil {
		u.nav.Navigate(target)
	}
	return StateSuccess, nil
}

// failLocked moves to StateError and releases the lock.
func (u *Uploader) failLocked(msg string, cause error) (State, error) {
	u.state = StateError
	u.message = msg
	u.mu.Unlock()
	log.Printf("uploader: upload failed: %v", cause)
	return StateError, cause
}

// Reset drops the candidate, preview, message and result.
func (u *Uploader) Reset() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.state = StateIdle
	u.candidate = nil
	u.preview = ""
	u.message = ""
	u.result = nil
}

// TestConnection pings the service and reports the outcome as the uploader's
// message without touching the state.
func (u *Uploader) TestConnection(ctx context.Context) (string, error) {
	body, err := u.api.Health(ctx)
	var msg string
	if err != nil {
		msg = "Backend connection failed: " + err.Error()
	} else {
		msg = "Backend connection successful: " + strings.TrimSpace(string(body))
	}
	u.mu.Lock()
	u.message = msg
	u.mu.Unlock()
	return msg, err
}

func uploadErrorMessage(err error) string {
	if errors.Is(err, backend.ErrTimeout) {
		return MsgTimeout
	}
	var se *backend.StatusError
	if errors.As(err, &se) && se.Message != "" {
		return se.Message
	}
	return fmt.Sprintf("Network error: %v. Please check that the verification service is reachable.", err)
}

func sentence(s string) string {
	if s == "" {
		return s
	}
	s = strings.ToUpper(s[:1]) + s[1:]
	if !strings.HasSuffix(s, ".") {
		s += "."
	}
	return s
}
