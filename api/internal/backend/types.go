package backend

import (
	"math"

	"github.com/pkg/errors"
)

// ValidationResult is the backend's verdict for one uploaded signature.
// Confidence is a percentage; the backend rounds it to one decimal.
type ValidationResult struct {
	IsValid    bool    `json:"isValid"`
	Confidence float64 `json:"confidence"`
}

// Percent returns the confidence as a whole percentage clamped to 0..100.
func (v ValidationResult) Percent() int {
	p := int(math.Round(v.Confidence))
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

// Validate checks the confidence range. It is all an upload needs to pick
// between the success and invalid outcomes.
func (v ValidationResult) Validate() error {
	if math.IsNaN(v.Confidence) || v.Confidence < 0 || v.Confidence > 100 {
		return errors.Wrapf(ErrMalformed, "confidence=%v is outside [0,100]", v.Confidence)
	}
	return nil
}

type ConfusionMatrix struct {
	TruePositives  int `json:"truePositives"`
	FalsePositives int `json:"falsePositives"`
	TrueNegatives  int `json:"trueNegatives"`
	FalseNegatives int `json:"falseNegatives"`
}

// Metrics are computed by the backend from the confusion matrix; every value is in [0,1].
type Metrics struct {
	Accuracy  float64 `json:"accuracy"`
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1Score   float64 `json:"f1Score"`
}

// DashboardData is the full payload of one analysis.
type DashboardData struct {
	ConfusionMatrix  *ConfusionMatrix  `json:"confusionMatrix"`
	Metrics          *Metrics          `json:"metrics"`
	ValidationResult *ValidationResult `json:"validationResult,omitempty"`
	// Timestamp is seconds since the epoch, when the backend sends it.
	Timestamp float64 `json:"timestamp,omitempty"`
}

var ErrMalformed = errors.New("malformed dashboard data")

// Validate checks the fields the dashboard renders.
func (d *DashboardData) Validate() error {
	if d == nil {
		return errors.Wrap(ErrMalformed, "data is missing")
	}
	if d.ConfusionMatrix == nil {
		return errors.Wrap(ErrMalformed, "confusionMatrix is missing")
	}
	if d.Metrics == nil {
		return errors.Wrap(ErrMalformed, "metrics is missing")
	}
	cm := d.ConfusionMatrix
	if cm.TruePositives < 0 || cm.FalsePositives < 0 || cm.TrueNegatives < 0 || cm.FalseNegatives < 0 {
		return errors.Wrap(ErrMalformed, "confusion matrix counts must be non-negative")
	}
	for name, v := range map[string]float64{
		"accuracy":  d.Metrics.Accuracy,
		"precision": d.Metrics.Precision,
		"recall":    d.Metrics.Recall,
		"f1Score":   d.Metrics.F1Score,
	} {
		if math.IsNaN(v) || v < 0 || v > 1 {
			return errors.Wrapf(ErrMalformed, "%s=%v is outside [0,1]", name, v)
		}
	}
	if vr := d.ValidationResult; vr != nil {
		return vr.Validate()
	}
	return nil
}

// UploadResponse is the body of POST /api/upload-signature.
type UploadResponse struct {
	Success  bool           `json:"success"`
	Data     *DashboardData `json:"data,omitempty"`
	ResultID string         `json:"resultId,omitempty"`
	Message  string         `json:"message,omitempty"`
}

// ResultResponse is the body of GET /api/result/{id}.
type ResultResponse struct {
	Success bool           `json:"success"`
	Data    *DashboardData `json:"data,omitempty"`
	Message string         `json:"message,omitempty"`
}

// Format is an export format understood by GET /api/export.
type Format string

const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
	FormatPDF  Format = "pdf"
)

var ErrUnsupportedFormat = errors.New("unsupported export format")

func ParseFormat(s string) (Format, error) {
	switch f := Format(s); f {
	case FormatJSON, FormatCSV, FormatPDF:
		return f, nil
	default:
		return "", errors.Wrapf(ErrUnsupportedFormat, "%q (use json, csv or pdf)", s)
	}
}

// Export is a raw export body as returned by the backend.
type Export struct {
	ContentType string
	Body        []byte
}

// File is an image to upload.
type File struct {
	Name        string
	ContentType string
	Data        []byte
}
