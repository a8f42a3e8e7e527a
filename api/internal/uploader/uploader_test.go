package uploader

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sigverify/api/internal/backend"
	"sigverify/api/internal/session"
	"sigverify/api/internal/util"
)

// MockAPI returns canned upload answers and counts calls.
type MockAPI struct {
	mu     sync.Mutex
	calls  int
	resp   *backend.UploadResponse
	err    error
	health []byte
	gate   chan struct{}
}

func (m *MockAPI) UploadSignature(ctx context.Context, f backend.File) (*backend.UploadResponse, error) {
	m.mu.Lock()
	m.calls++
	gate := m.gate
	m.mu.Unlock()
	if gate != nil {
		<-gate
	}
	return m.resp, m.err
}

func (m *MockAPI) Health(ctx context.Context) ([]byte, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.health, nil
}

func (m *MockAPI) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

type recordingNav struct{ targets []string }

func (n *recordingNav) Navigate(target string) { n.targets = append(n.targets, target) }

func pngImage(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, h/2, color.Black)
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func dashboardData(valid bool, confidence float64) *backend.DashboardData {
	return &backend.DashboardData{
		ConfusionMatrix:  &backend.ConfusionMatrix{TruePositives: 50, FalsePositives: 5, TrueNegatives: 40, FalseNegatives: 5},
		Metrics:          &backend.Metrics{Accuracy: 0.9, Precision: 0.909, Recall: 0.909, F1Score: 0.909},
		ValidationResult: &backend.ValidationResult{IsValid: valid, Confidence: confidence},
	}
}

func newUploader(api API) (*Uploader, *session.Memory, *recordingNav) {
	store := session.NewMemory()
	nav := &recordingNav{}
	return New(api, store, nav), store, nav
}

func TestSelectFileAcceptsImages(t *testing.T) {
	tests := []struct {
		name string
		c    Candidate
	}{
		{"decodable png", Candidate{Name: "sig.png", MediaType: "image/png", Data: pngImage(t, 900, 300)}},
		{"undecodable webp", Candidate{Name: "sig.webp", MediaType: "image/webp", Data: []byte("RIFF....WEBP")}},
		{"exactly 5MiB", Candidate{Name: "big.bmp", MediaType: "image/bmp", Data: make([]byte, MaxFileSize)}},
		{"empty image", Candidate{Name: "empty.png", MediaType: "image/png"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := &MockAPI{}
			u, _, _ := newUploader(api)
			require.NoError(t, u.SelectFile(tt.c))

			s := u.Snapshot()
			assert.Equal(t, StateHasFile, s.State)
			assert.True(t, strings.HasPrefix(s.Preview, "data:image/"), s.Preview)
			assert.Empty(t, s.Message)
			assert.True(t, s.CanSubmit)
			assert.Zero(t, api.Calls())
		})
	}
}

func TestSelectFileThumbnailIsSmall(t *testing.T) {
	u, _, _ := newUploader(&MockAPI{})
	require.NoError(t, u.SelectFile(Candidate{Name: "sig.png", MediaType: "image/png", Data: pngImage(t, 1200, 400)}))

	data, mime, err := util.DecodeBase64MaybeDataURL(u.Snapshot().Preview)
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", mime)
	img, _, err := image.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.LessOrEqual(t, img.Bounds().Dx(), previewMaxSide)
	assert.LessOrEqual(t, img.Bounds().Dy(), previewMaxSide)
}

func TestSelectFileRejects(t *testing.T) {
	tests := []struct {
		name    string
		c       Candidate
		wantErr error
		wantMsg string
	}{
		{"pdf", Candidate{Name: "doc.pdf", MediaType: "application/pdf", Data: []byte("%PDF-1.4")}, ErrNotImage, "Please upload an image file."},
		{"no type", Candidate{Name: "x", Data: []byte("abc")}, ErrNotImage, "Please upload an image file."},
		{"too large", Candidate{Name: "huge.png", MediaType: "image/png", Data: make([]byte, MaxFileSize+1)}, ErrTooLarge, "File size must be less than 5MB."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := &MockAPI{}
			u, _, _ := newUploader(api)

			err := u.SelectFile(tt.c)
			assert.True(t, errors.Is(err, tt.wantErr))
			s := u.Snapshot()
			assert.Equal(t, StateIdle, s.State)
			assert.Equal(t, tt.wantMsg, s.Message)
			assert.Empty(t, s.Preview)
			assert.Zero(t, api.Calls())
		})
	}
}

func TestSelectFileRejectKeepsPreviousFile(t *testing.T) {
	u, _, _ := newUploader(&MockAPI{})
	require.NoError(t, u.SelectFile(Candidate{Name: "a.png", MediaType: "image/png", Data: pngImage(t, 10, 10)}))

	require.Error(t, u.SelectFile(Candidate{Name: "b.txt", MediaType: "text/plain", Data: []byte("x")}))
	s := u.Snapshot()
	assert.Equal(t, StateHasFile, s.State)
	assert.Equal(t, "a.png", s.FileName)
	assert.NotEmpty(t, s.Message)
}

func TestSubmitValidNavigates(t *testing.T) {
	api := &MockAPI{resp: &backend.UploadResponse{Success: true, ResultID: "r-97", Data: dashboardData(true, 97)}}
	u, store, nav := newUploader(api)
	require.NoError(t, u.SelectFile(Candidate{Name: "sig.png", MediaType: "image/png", Data: pngImage(t, 20, 20)}))

	st, err := u.Submit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateSuccess, st)
	assert.Equal(t, []string{"/dashboard?valid=true&confidence=97"}, nav.targets)

	id, ok := store.Get(session.KeyResultID)
	assert.True(t, ok)
	assert.Equal(t, "r-97", id)

	raw, ok := store.Get(session.KeyDashboardData)
	require.True(t, ok)
	var cached backend.DashboardData
	require.NoError(t, json.Unmarshal([]byte(raw), &cached))
	assert.Equal(t, *dashboardData(true, 97), cached)

	s := u.Snapshot()
	require.NotNil(t, s.Result)
	assert.True(t, s.Result.IsValid)
	assert.False(t, s.CanSubmit)
}

func TestSubmitInvalidDoesNotNavigate(t *testing.T) {
	api := &MockAPI{resp: &backend.UploadResponse{Success: true, ResultID: "r-40", Data: dashboardData(false, 40)}}
	u, store, nav := newUploader(api)
	require.NoError(t, u.SelectFile(Candidate{Name: "sig.png", MediaType: "image/png", Data: pngImage(t, 20, 20)}))

	st, err := u.Submit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateInvalid, st)
	assert.Empty(t, nav.targets)

	s := u.Snapshot()
	assert.Equal(t, MsgInvalidSignature, s.Message)
	require.NotNil(t, s.Result)
	assert.Equal(t, 40, s.Result.Percent())
	assert.NotEmpty(t, s.Preview)

	_, ok := store.Get(session.KeyDashboardData)
	assert.True(t, ok)
}

func TestSubmitBareInvalidVerdict(t *testing.T) {
	var resp backend.UploadResponse
	require.NoError(t, json.Unmarshal([]byte(`{"success":true,"data":{"validationResult":{"isValid":false,"confidence":40}}}`), &resp))
	api := &MockAPI{resp: &resp}
	u, store, nav := newUploader(api)
	store.Set(session.KeyDashboardData, `{"metrics":{"accuracy":0.5}}`)
	store.Set(session.KeyResultID, "old")
	require.NoError(t, u.SelectFile(Candidate{Name: "sig.png", MediaType: "image/png", Data: pngImage(t, 20, 20)}))

	st, err := u.Submit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateInvalid, st)
	assert.Empty(t, nav.targets)

	s := u.Snapshot()
	assert.Equal(t, MsgInvalidSignature, s.Message)
	require.NotNil(t, s.Result)
	assert.Equal(t, 40, s.Result.Percent())

	_, ok := store.Get(session.KeyDashboardData)
	assert.False(t, ok, "stale dashboard data must not survive an incomplete verdict")
	_, ok = store.Get(session.KeyResultID)
	assert.False(t, ok)
}

func TestSubmitFailures(t *testing.T) {
	tests := []struct {
		name    string
		api     *MockAPI
		wantMsg string
	}{
		{
			name:    "success false with message",
			api:     &MockAPI{resp: &backend.UploadResponse{Success: false, Message: "No signature image received"}},
			wantMsg: "No signature image received",
		},
		{
			name:    "success false without message",
			api:     &MockAPI{resp: &backend.UploadResponse{Success: false}},
			wantMsg: MsgUploadFailed,
		},
		{
			name:    "success without data",
			api:     &MockAPI{resp: &backend.UploadResponse{Success: true}},
			wantMsg: MsgIncomplete,
		},
		{
			name: "success without validation result",
			api: &MockAPI{resp: &backend.UploadResponse{Success: true, Data: &backend.DashboardData{
				ConfusionMatrix: &backend.ConfusionMatrix{}, Metrics: &backend.Metrics{},
			}}},
			wantMsg: MsgIncomplete,
		},
		{
			name: "valid verdict without metrics",
			api: &MockAPI{resp: &backend.UploadResponse{Success: true, ResultID: "r-1", Data: &backend.DashboardData{
				ValidationResult: &backend.ValidationResult{IsValid: true, Confidence: 97},
			}}},
			wantMsg: MsgIncomplete,
		},
		{
			name: "confidence out of range",
			api: &MockAPI{resp: &backend.UploadResponse{Success: true, Data: &backend.DashboardData{
				ValidationResult: &backend.ValidationResult{IsValid: false, Confidence: 140},
			}}},
			wantMsg: MsgIncomplete,
		},
		{
			name:    "status error",
			api:     &MockAPI{err: &backend.StatusError{Code: 500, Message: "Processing error: boom"}},
			wantMsg: "Processing error: boom",
		},
		{
			name:    "timeout",
			api:     &MockAPI{err: errors.Wrap(backend.ErrTimeout, "no response after 15s")},
			wantMsg: MsgTimeout,
		},
		{
			name:    "network",
			api:     &MockAPI{err: errors.New("dial tcp 127.0.0.1:5000: connection refused")},
			wantMsg: "Network error: dial tcp 127.0.0.1:5000: connection refused. Please check that the verification service is reachable.",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, store, nav := newUploader(tt.api)
			require.NoError(t, u.SelectFile(Candidate{Name: "sig.png", MediaType: "image/png", Data: pngImage(t, 5, 5)}))

			st, err := u.Submit(context.Background())
			assert.Error(t, err)
			assert.Equal(t, StateError, st)
			assert.Equal(t, tt.wantMsg, u.Snapshot().Message)
			assert.Empty(t, nav.targets)

			_, ok := store.Get(session.KeyDashboardData)
			assert.False(t, ok)
			_, ok = store.Get(session.KeyResultID)
			assert.False(t, ok)
		})
	}
}

func TestSubmitTimesOutAgainstSlowBackend(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	client := backend.New(srv.URL, backend.WithUploadTimeout(30*time.Millisecond))
	u, _, nav := newUploader(client)
	require.NoError(t, u.SelectFile(Candidate{Name: "sig.png", MediaType: "image/png", Data: pngImage(t, 5, 5)}))

	st, err := u.Submit(context.Background())
	assert.Equal(t, StateError, st)
	assert.True(t, errors.Is(err, backend.ErrTimeout))
	assert.Contains(t, u.Snapshot().Message, "timed out")
	assert.Empty(t, nav.targets)
}

func TestSubmitPreconditions(t *testing.T) {
	api := &MockAPI{}
	u, _, _ := newUploader(api)

	st, err := u.Submit(context.Background())
	assert.Equal(t, StateIdle, st)
	assert.True(t, errors.Is(err, ErrNoFile))
	assert.Zero(t, api.Calls())
}

func TestSingleUploadInFlight(t *testing.T) {
	api := &MockAPI{
		resp: &backend.UploadResponse{Success: true, ResultID: "r", Data: dashboardData(true, 90)},
		gate: make(chan struct{}),
	}
	u, _, _ := newUploader(api)
	require.NoError(t, u.SelectFile(Candidate{Name: "sig.png", MediaType: "image/png", Data: pngImage(t, 5, 5)}))

	done := make(chan State)
	go func() {
		st, _ := u.Submit(context.Background())
		done <- st
	}()
	require.Eventually(t, func() bool { return u.State() == StateUploading }, time.Second, time.Millisecond)

	assert.False(t, u.Snapshot().CanSubmit)
	_, err := u.Submit(context.Background())
	assert.True(t, errors.Is(err, ErrBusy))
	assert.True(t, errors.Is(u.SelectFile(Candidate{Name: "b.png", MediaType: "image/png"}), ErrBusy))

	close(api.gate)
	assert.Equal(t, StateSuccess, <-done)
	assert.Equal(t, 1, api.Calls())
}

func TestResetDuringUploadDiscardsResult(t *testing.T) {
	api := &MockAPI{
		resp: &backend.UploadResponse{Success: true, ResultID: "r", Data: dashboardData(true, 90)},
		gate: make(chan struct{}),
	}
	u, store, nav := newUploader(api)
	require.NoError(t, u.SelectFile(Candidate{Name: "sig.png", MediaType: "image/png", Data: pngImage(t, 5, 5)}))

	done := make(chan error)
	go func() {
		_, err := u.Submit(context.Background())
		done <- err
	}()
	require.Eventually(t, func() bool { return u.State() == StateUploading }, time.Second, time.Millisecond)
	u.Reset()
	close(api.gate)

	assert.True(t, errors.Is(<-done, ErrDiscarded))
	assert.Equal(t, StateIdle, u.State())
	assert.Empty(t, nav.targets)
	_, ok := store.Get(session.KeyResultID)
	assert.False(t, ok)
}

func TestResetIsIdempotent(t *testing.T) {
	api := &MockAPI{resp: &backend.UploadResponse{Success: true, Data: dashboardData(false, 10)}}
	u, _, _ := newUploader(api)
	require.NoError(t, u.SelectFile(Candidate{Name: "sig.png", MediaType: "image/png", Data: pngImage(t, 5, 5)}))
	_, _ = u.Submit(context.Background())

	u.Reset()
	once := u.Snapshot()
	u.Reset()
	twice := u.Snapshot()

	assert.Equal(t, once, twice)
	assert.Equal(t, Snapshot{State: StateIdle}, twice)
}

func TestSubmitWithoutResultIDDropsStaleHandle(t *testing.T) {
	api := &MockAPI{resp: &backend.UploadResponse{Success: true, Data: dashboardData(true, 80)}}
	u, store, _ := newUploader(api)
	store.Set(session.KeyResultID, "old")
	require.NoError(t, u.SelectFile(Candidate{Name: "sig.png", MediaType: "image/png", Data: pngImage(t, 5, 5)}))

	_, err := u.Submit(context.Background())
	require.NoError(t, err)
	_, ok := store.Get(session.KeyResultID)
	assert.False(t, ok)
}

func TestTestConnection(t *testing.T) {
	u, _, _ := newUploader(&MockAPI{health: []byte(`{"status":"ok"}` + "\n")})
	msg, err := u.TestConnection(context.Background())
	require.NoError(t, err)
	assert.Equal(t, `Backend connection successful: {"status":"ok"}`, msg)
	assert.Equal(t, StateIdle, u.State())

	u, _, _ = newUploader(&MockAPI{err: errors.New("refused")})
	msg, err = u.TestConnection(context.Background())
	assert.Error(t, err)
	assert.Equal(t, "Backend connection failed: refused", msg)
	assert.Equal(t, msg, u.Snapshot().Message)
}

func TestNewCandidateSniffsType(t *testing.T) {
	c := NewCandidate("scan", "", pngImage(t, 2, 2))
	assert.Equal(t, "image/png", c.MediaType)
	assert.NoError(t, c.Check(MaxFileSize))

	c = NewCandidate("scan.jpg", "image/jpeg", []byte{1})
	assert.Equal(t, "image/jpeg", c.MediaType)
}

func TestCheckCustomLimit(t *testing.T) {
	err := Candidate{MediaType: "image/png", Data: make([]byte, 2048)}.Check(1024)
	assert.True(t, errors.Is(err, ErrTooLarge))
	assert.Contains(t, err.Error(), "1.0 KiB")
}
