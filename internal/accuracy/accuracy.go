// Package accuracy builds the confusion matrix of a classifier over a
// validation set and derives its summary statistics. Every statistic is
// computed from the matrix alone.
package accuracy

import (
	"math"
	"slices"

	"github.com/rotisserie/eris"

	"github.com/sells-group/landcover-cli/internal/sample"
)

// Classifier maps a band-value tuple to one of the class ids it reports.
type Classifier interface {
	Classify(values []float64) int
	ClassIDs() []int
}

// ConfusionMatrix counts validation samples by actual (row) and predicted
// (column) class.
type ConfusionMatrix struct {
	Classes []int   `json:"classes" yaml:"classes"` // ascending; row/column labels
	Counts  [][]int `json:"counts" yaml:"counts"`
}

// NewConfusionMatrix returns a zero matrix over classes.
func NewConfusionMatrix(classes []int) *ConfusionMatrix {
	cls := slices.Clone(classes)
	slices.Sort(cls)
	cls = slices.Compact(cls)
	m := &ConfusionMatrix{Classes: cls, Counts: make([][]int, len(cls))}
	for i := range m.Counts {
		m.Counts[i] = make([]int, len(cls))
	}
	return m
}

// FromCounts wraps an existing square matrix.
func FromCounts(classes []int, counts [][]int) (*ConfusionMatrix, error) {
	if len(counts) != len(classes) {
		return nil, eris.Errorf("accuracy: %d rows for %d classes", len(counts), len(classes))
	}
	for i, row := range counts {
		if len(row) != len(classes) {
			return nil, eris.Errorf("accuracy: row %d has %d columns, want %d", i, len(row), len(classes))
		}
	}
	if !slices.IsSorted(classes) {
		return nil, eris.New("accuracy: classes must be ascending")
	}
	return &ConfusionMatrix{Classes: slices.Clone(classes), Counts: counts}, nil
}

// index returns the row/column of class c, or -1.
func (m *ConfusionMatrix) index(c int) int {
	i, ok := slices.BinarySearch(m.Classes, c)
	if !ok {
		return -1
	}
	return i
}

// Add records one prediction.
func (m *ConfusionMatrix) Add(actual, predicted int) error {
	a, p := m.index(actual), m.index(predicted)
	if a < 0 || p < 0 {
		return eris.Errorf("accuracy: class %d or %d not in matrix %v", actual, predicted, m.Classes)
	}
	m.Counts[a][p]++
	return nil
}

// Total returns the number of recorded predictions.
func (m *ConfusionMatrix) Total() int {
	n := 0
	for _, row := range m.Counts {
		for _, v := range row {
			n += v
		}
	}
	return n
}

func (m *ConfusionMatrix) trace() int {
	n := 0
	for i := range m.Counts {
		n += m.Counts[i][i]
	}
	return n
}

func (m *ConfusionMatrix) rowSum(i int) int {
	n := 0
	for _, v := range m.Counts[i] {
		n += v
	}
	return n
}

func (m *ConfusionMatrix) colSum(j int) int {
	n := 0
	for _, row := range m.Counts {
		n += row[j]
	}
	return n
}

// OverallAccuracy is trace / total, NaN for an empty matrix.
func (m *ConfusionMatrix) OverallAccuracy() float64 {
	total := m.Total()
	if total == 0 {
		return math.NaN()
	}
	return float64(m.trace()) / float64(total)
}

// ProducersAccuracy returns, per class in m.Classes order, the diagonal over
// the row sum. Classes with no actual samples are NaN.
func (m *ConfusionMatrix) ProducersAccuracy() []float64 {
	out := make([]float64, len(m.Classes))
	for i := range m.Classes {
		out[i] = ratio(m.Counts[i][i], m.rowSum(i))
	}
	return out
}

// ConsumersAccuracy returns, per class, the diagonal over the column sum.
// Classes never predicted are NaN.
func (m *ConfusionMatrix) ConsumersAccuracy() []float64 {
	out := make([]float64, len(m.Classes))
	for j := range m.Classes {
		out[j] = ratio(m.Counts[j][j], m.colSum(j))
	}
	return out
}

// Kappa is Cohen's kappa: (po - pe) / (1 - pe), where pe is the sum over
// classes of the product of row and column marginals. NaN when undefined.
func (m *ConfusionMatrix) Kappa() float64 {
	total := float64(m.Total())
	if total == 0 {
		return math.NaN()
	}
	po := float64(m.trace()) / total
	pe := 0.0
	for i := range m.Classes {
		pe += float64(m.rowSum(i)) * float64(m.colSum(i))
	}
	pe /= total * total
	if pe == 1 {
		return math.NaN()
	}
	return (po - pe) / (1 - pe)
}

func ratio(n, d int) float64 {
	if d == 0 {
		return math.NaN()
	}
	return float64(n) / float64(d)
}

// Assess predicts every validation sample with c and tallies
// matrix[actual][predicted]. The matrix covers the classifier's classes and
// any further classes present in validation.
func Assess(c Classifier, validation *sample.Set) (*ConfusionMatrix, error) {
	all := slices.Clone(c.ClassIDs())
	for _, s := range validation.Samples {
		all = append(all, s.ClassID)
	}
	m := NewConfusionMatrix(all)
	for _, s := range validation.Samples {
		pred := c.Classify(s.Values)
		if m.index(pred) < 0 {
			return nil, eris.Errorf("accuracy: classifier predicted unknown class %d", pred)
		}
		if err := m.Add(s.ClassID, pred); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Report is the set of statistics derived from a matrix.
type Report struct {
	Matrix            *ConfusionMatrix `json:"matrix" yaml:"matrix"`
	OverallAccuracy   float64          `json:"overall_accuracy" yaml:"overall_accuracy"`
	Kappa             float64          `json:"kappa" yaml:"kappa"`
	ProducersAccuracy map[int]float64  `json:"producers_accuracy" yaml:"producers_accuracy"`
	ConsumersAccuracy map[int]float64  `json:"consumers_accuracy" yaml:"consumers_accuracy"`
	Support           map[int]int      `json:"support" yaml:"support"`
}

// Summarize derives a Report from m.
func Summarize(m *ConfusionMatrix) *Report {
	r := &Report{
		Matrix:            m,
		OverallAccuracy:   m.OverallAccuracy(),
		Kappa:             m.Kappa(),
		ProducersAccuracy: make(map[int]float64, len(m.Classes)),
		ConsumersAccuracy: make(map[int]float64, len(m.Classes)),
		Support:           make(map[int]int, len(m.Classes)),
	}
	pa, ca := m.ProducersAccuracy(), m.ConsumersAccuracy()
	for i, c := range m.Classes {
		r.ProducersAccuracy[c] = pa[i]
		r.ConsumersAccuracy[c] = ca[i]
		r.Support[c] = m.rowSum(i)
	}
	return r
}
