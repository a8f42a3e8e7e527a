// Package dashboard shows the result of one analysis and exports it.
//
// Data comes from the session cache written by the uploader, or is re-fetched
// by the cached result handle. Exports always go through the service.
package dashboard

import (
	"bytes"
	"context"
	"encoding/json"
	"log"
	"math"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"sigverify/api/internal/backend"
	"sigverify/api/internal/report"
	"sigverify/api/internal/session"
	"sigverify/api/internal/util"
)

const (
	MsgNoData       = "No data available. Please upload a signature first."
	MsgNoResultID   = "No result ID found. Please upload a signature first."
	MsgLoadFailed   = "Failed to load data from the server."
	MsgPopupBlocked = "Please allow popups to export PDF"
)

var (
	ErrNoData       = errors.New("no dashboard data in session")
	ErrNoResultID   = errors.New("no result id in session")
	ErrLoadFailed   = errors.New("service did not return the result")
	ErrNotLoaded    = errors.New("dashboard data is not loaded")
	ErrPopupBlocked = errors.New("report window could not be opened")
)

// ConnectError is a transport failure while fetching a result.
type ConnectError struct{ Err error }

func (e *ConnectError) Error() string { return "error connecting to the server: " + e.Err.Error() }

func (e *ConnectError) Unwrap() error { return e.Err }

// Message turns any dashboard error into the text shown to the user.
func Message(err error) string {
	var ce *ConnectError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNoData):
		return MsgNoData
	case errors.Is(err, ErrNoResultID):
		return MsgNoResultID
	case errors.Is(err, ErrLoadFailed):
		return MsgLoadFailed
	case errors.Is(err, ErrPopupBlocked):
		return MsgPopupBlocked
	case errors.As(err, &ce):
		return "Error connecting to the server: " + ce.Err.Error()
	}
	s := err.Error()
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// API is the part of the backend client the dashboard needs.
type API interface {
	Result(ctx context.Context, resultID string) (*backend.ResultResponse, error)
	Export(ctx context.Context, format backend.Format, resultID string) (*backend.Export, error)
}

// Download is a file handed to the user.
type Download struct {
	Name        string
	ContentType string
	Body        []byte
}

// Sink delivers downloads (a directory, a chat).
type Sink interface {
	Save(ctx context.Context, d Download) error
}

// Opener shows the printable report to the user. An error means it could not
// be shown, like a blocked popup.
type Opener interface {
	Open(ctx context.Context, d Download) error
}

const (
	FileJSON = "signature-analysis.json"
	FileCSV  = "signature-analysis.csv"
	FilePDF  = "signature-analysis.pdf"
)

// Hint is the verdict carried on the navigation target.
type Hint struct {
	Valid      bool
	Confidence int
}

// DefaultHintConfidence is shown when the target carries no usable confidence.
const DefaultHintConfidence = 98

// ParseHint reads valid and confidence from a target such as
// "/dashboard?valid=true&confidence=97" or from the bare query.
func ParseHint(target string) Hint {
	if i := strings.IndexByte(target, '?'); i >= 0 {
		target = target[i+1:]
	}
	q, _ := url.ParseQuery(target)
	h := Hint{Valid: q.Get("valid") == "true", Confidence: DefaultHintConfidence}
	if c := q.Get("confidence"); c != "" {
		if f, err := strconv.ParseFloat(c, 64); err == nil && !math.IsNaN(f) {
			h.Confidence = int(math.Max(0, math.Min(100, f)))
		}
	}
	return h
}

func (h Hint) ValidationResult() backend.ValidationResult {
	return backend.ValidationResult{IsValid: h.Valid, Confidence: float64(h.Confidence)}
}

type Dashboard struct {
	api    API
	store  session.Store
	sink   Sink
	opener Opener
	hint   Hint
	now    func() time.Time

	mu   sync.Mutex
	data *backend.DashboardData
}

type Option func(*Dashboard)

// WithClock overrides the clock used for the report's generation time.
func WithClock(now func() time.Time) Option { return func(d *Dashboard) { d.now = now } }

func New(api API, store session.Store, sink Sink, opener Opener, hint Hint, opts ...Option) *Dashboard {
	d := &Dashboard{api: api, store: store, sink: sink, opener: opener, hint: hint, now: time.Now}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Load returns the analysis: the cached payload first, then a fetch by the
// cached handle. Once loaded the data does not change.
func (d *Dashboard) Load(ctx context.Context) (*backend.DashboardData, error) {
	d.mu.Lock()
	if d.data != nil {
		data := d.data
		d.mu.Unlock()
		return data, nil
	}
	d.mu.Unlock()

	raw, hasData := d.store.Get(session.KeyDashboardData)
	id, hasID := d.store.Get(session.KeyResultID)
	hasID = hasID && id != ""

	if hasData {
		data, err := decodeCached(raw)
		if err == nil {
			return d.keep(data), nil
		}
		log.Printf("dashboard: cached data unusable: %v", err)
		if !hasID {
			return nil, ErrNoResultID
		}
	} else if !hasID {
		return nil, ErrNoData
	}

	log.Printf("dashboard: fetching result %s", id)
	resp, err := d.api.Result(ctx, id)
	if err != nil {
		return nil, &ConnectError{Err: err}
	}
	if !resp.Success || resp.Data == nil {
		return nil, errors.Wrapf(ErrLoadFailed, "result %s: %s", id, resp.Message)
	}
	if err := resp.Data.Validate(); err != nil {
		return nil, errors.Wrapf(ErrLoadFailed, "result %s: %v", id, err)
	}
	return d.keep(resp.Data), nil
}

func decodeCached(raw string) (*backend.DashboardData, error) {
	var data backend.DashboardData
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return nil, errors.Wrap(err, "parse cached data")
	}
	if err := data.Validate(); err != nil {
		return nil, err
	}
	return &data, nil
}

func (d *Dashboard) keep(data *backend.DashboardData) *backend.DashboardData {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.data == nil {
		d.data = data
	}
	return d.data
}

// Data returns a copy of the loaded data, or nil before Load succeeded.
func (d *Dashboard) Data() *backend.DashboardData {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.data == nil {
		return nil
	}
	cp := *d.data
	return &cp
}

// Render builds the view. The validation card uses the loaded verdict and
// falls back to the navigation hint.
func (d *Dashboard) Render() (report.View, error) {
	data := d.Data()
	if data == nil {
		return report.View{}, ErrNotLoaded
	}
	return report.Build(*data, d.verdict(data)), nil
}

func (d *Dashboard) verdict(data *backend.DashboardData) backend.ValidationResult {
	if data.ValidationResult != nil {
		return *data.ValidationResult
	}
	return d.hint.ValidationResult()
}

// Export fetches one export from the service and hands it to the sink. A PDF
// the service cannot produce is replaced by the printable report, which goes
// to the opener instead. The returned Download is what was delivered.
func (d *Dashboard) Export(ctx context.Context, format backend.Format) (*Download, error) {
	if _, err := backend.ParseFormat(string(format)); err != nil {
		return nil, err
	}
	id, ok := d.store.Get(session.KeyResultID)
	if !ok || id == "" {
		return nil, ErrNoResultID
	}

	switch format {
	case backend.FormatJSON:
		exp, err := d.api.Export(ctx, format, id)
		if err != nil {
			return nil, errors.Wrap(err, "failed to export JSON")
		}
		var pretty bytes.Buffer
		if err := json.Indent(&pretty, bytes.TrimSpace(exp.Body), "", "  "); err != nil {
			return nil, errors.Wrap(err, "failed to export JSON")
		}
		return d.deliver(ctx, Download{Name: FileJSON, ContentType: "application/json", Body: pretty.Bytes()})

	case backend.FormatCSV:
		exp, err := d.api.Export(ctx, format, id)
		if err != nil {
			return nil, errors.Wrap(err, "failed to export CSV")
		}
		return d.deliver(ctx, Download{Name: FileCSV, ContentType: "text/csv", Body: exp.Body})
	}

	exp, err := d.api.Export(ctx, backend.FormatPDF, id)
	switch {
	case err != nil:
		log.Printf("dashboard: pdf export for %s failed, using printable report: %v", id, err)
	case !util.IsPDF(exp.Body):
		log.Printf("dashboard: pdf export for %s is not a PDF (type=%s size=%d), using printable report", id, exp.ContentType, len(exp.Body))
	default:
		return d.deliver(ctx, Download{Name: FilePDF, ContentType: "application/pdf", Body: exp.Body})
	}
	return d.printable(ctx)
}

func (d *Dashboard) deliver(ctx context.Context, dl Download) (*Download, error) {
	if err := d.sink.Save(ctx, dl); err != nil {
		return nil, errors.Wrapf(err, "save %s", dl.Name)
	}
	return &dl, nil
}

func (d *Dashboard) printable(ctx context.Context) (*Download, error) {
	data, err := d.Load(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to export PDF")
	}
	html, err := report.HTML(report.Build(*data, d.verdict(data)), d.now())
	if err != nil {
		return nil, err
	}
	dl := Download{Name: report.ReportFileName, ContentType: "text/html; charset=utf-8", Body: html}
	if d.opener == nil {
		return nil, ErrPopupBlocked
	}
	if err := d.opener.Open(ctx, dl); err != nil {
		return nil, errors.Wrap(ErrPopupBlocked, err.Error())
	}
	return &dl, nil
}
