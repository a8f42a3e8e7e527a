// Package report turns DashboardData into what people read: the dashboard view
// model, its plain-text rendering and the printable HTML document.
package report

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"sigverify/api/internal/backend"
)

// MetricCard is one metric with its bar. Fraction is always on the 0..1 scale.
type MetricCard struct {
	Name     string
	Text     string
	Formula  string
	Fraction float64
}

// Cell is one square of the confusion matrix.
type Cell struct {
	Label   string
	Abbrev  string
	Count   int
	Correct bool
}

type Term struct {
	Name        string
	Description string
}

// View is the dashboard screen.
type View struct {
	Valid      bool
	Confidence float64
	Metrics    []MetricCard
	// Matrix rows are actual positive/negative, columns predicted positive/negative.
	Matrix    [2][2]Cell
	Terms     []Term
	Formulas  []Term
	Timestamp time.Time
}

const (
	FormulaAccuracy  = "(TP + TN) / (TP + TN + FP + FN)"
	FormulaPrecision = "TP / (TP + FP)"
	FormulaRecall    = "TP / (TP + FN)"
	FormulaF1        = "2 * (Precision * Recall) / (Precision + Recall)"

	MatrixDescription = "A confusion matrix shows the performance of the classification model. It compares predicted values with actual values."
)

var glossaryTerms = []Term{
	{"True Positive (TP)", "Correctly identified as positive"},
	{"False Positive (FP)", "Incorrectly identified as positive"},
	{"True Negative (TN)", "Correctly identified as negative"},
	{"False Negative (FN)", "Incorrectly identified as negative"},
}

var glossaryFormulas = []Term{
	{"Accuracy", FormulaAccuracy},
	{"Precision", FormulaPrecision},
	{"Recall", FormulaRecall},
	{"F1 Score", FormulaF1},
}

// Build makes the view. vr is the verdict to show; the caller decides whether
// it comes from the data or from the navigation hint.
func Build(d backend.DashboardData, vr backend.ValidationResult) View {
	var cm backend.ConfusionMatrix
	if d.ConfusionMatrix != nil {
		cm = *d.ConfusionMatrix
	}
	var m backend.Metrics
	if d.Metrics != nil {
		m = *d.Metrics
	}

	v := View{
		Valid:      vr.IsValid,
		Confidence: vr.Confidence,
		Metrics: []MetricCard{
			{Name: "Accuracy", Text: Percent(m.Accuracy), Formula: FormulaAccuracy, Fraction: clamp01(m.Accuracy)},
			{Name: "Precision", Text: Percent(m.Precision), Formula: FormulaPrecision, Fraction: clamp01(m.Precision)},
			{Name: "Recall", Text: Percent(m.Recall), Formula: FormulaRecall, Fraction: clamp01(m.Recall)},
			{Name: "F1 Score", Text: Score(m.F1Score), Formula: FormulaF1, Fraction: clamp01(m.F1Score)},
		},
		Matrix: [2][2]Cell{
			{
				{Label: "True Positive", Abbrev: "TP", Count: cm.TruePositives, Correct: true},
				{Label: "False Negative", Abbrev: "FN", Count: cm.FalseNegatives},
			},
			{
				{Label: "False Positive", Abbrev: "FP", Count: cm.FalsePositives},
				{Label: "True Negative", Abbrev: "TN", Count: cm.TrueNegatives, Correct: true},
			},
		},
		Terms:    append([]Term(nil), glossaryTerms...),
		Formulas: append([]Term(nil), glossaryFormulas...),
	}
	if d.Timestamp > 0 {
		sec := int64(d.Timestamp)
		nsec := int64((d.Timestamp - float64(sec)) * 1e9)
		v.Timestamp = time.Unix(sec, nsec)
	}
	return v
}

// Status is the word shown on the validation card.
func (v View) Status() string {
	if v.Valid {
		return "Verified"
	}
	return "Invalid"
}

// ConfidenceText prints the confidence the way the service sent it: 97, 97.3.
func (v View) ConfidenceText() string {
	return strconv.FormatFloat(v.Confidence, 'f', -1, 64) + "%"
}

// Percent formats a 0..1 metric as 90.0%.
func Percent(f float64) string { return fmt.Sprintf("%.1f%%", f*100) }

// Score formats a 0..1 metric as 0.91.
func Score(f float64) string { return fmt.Sprintf("%.2f", f) }

func clamp01(f float64) float64 {
	if f < 0 || f != f {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

const barWidth = 20

func bar(fraction float64) string {
	n := int(fraction*barWidth + 0.5)
	return strings.Repeat("█", n) + strings.Repeat("░", barWidth-n)
}

// Text renders the dashboard for a terminal or a chat message.
func (v View) Text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Validation Result: %s (%s confidence)\n", v.Status(), v.ConfidenceText())
	if !v.Timestamp.IsZero() {
		fmt.Fprintf(&b, "Analysed at: %s\n", v.Timestamp.Format("2006-01-02 15:04:05"))
	}

	b.WriteString("\nConfusion Matrix\n")
	fmt.Fprintf(&b, "%-17s %-20s %-20s\n", "", "Predicted Positive", "Predicted Negative")
	rows := [2]string{"Actual Positive", "Actual Negative"}
	for i, row := range v.Matrix {
		fmt.Fprintf(&b, "%-17s %-20s %-20s\n", rows[i],
			fmt.Sprintf("%s: %d", row[0].Abbrev, row[0].Count),
			fmt.Sprintf("%s: %d", row[1].Abbrev, row[1].Count))
	}

	b.WriteString("\nPerformance Metrics\n")
	for _, m := range v.Metrics {
		fmt.Fprintf(&b, "%-10s %7s %s\n", m.Name, m.Text, bar(m.Fraction))
	}

	b.WriteString("\nConfusion Matrix Terms\n")
	for _, t := range v.Terms {
		fmt.Fprintf(&b, "  %s: %s\n", t.Name, t.Description)
	}
	b.WriteString("\nFormulas\n")
	for _, t := range v.Formulas {
		fmt.Fprintf(&b, "  %s: %s\n", t.Name, t.Description)
	}
	return b.String()
}
