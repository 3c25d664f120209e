package accuracy

import (
	"math"
	"strconv"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

// Sheet names written by WriteXLSX.
const (
	MatrixSheet  = "Confusion Matrix"
	SummarySheet = "Summary"
)

// WriteXLSX saves the matrix and its per-class statistics as a workbook.
// Undefined statistics are written as empty cells.
func WriteXLSX(path string, r *Report) error {
	f := xlsx.NewFile()

	matrix, err := f.AddSheet(MatrixSheet)
	if err != nil {
		return eris.Wrap(err, "accuracy: add matrix sheet")
	}
	m := r.Matrix
	header := matrix.AddRow()
	header.AddCell().SetString("actual \\ predicted")
	for _, c := range m.Classes {
		header.AddCell().SetInt(c)
	}
	header.AddCell().SetString("total")
	for i, c := range m.Classes {
		row := matrix.AddRow()
		row.AddCell().SetInt(c)
		for _, v := range m.Counts[i] {
			row.AddCell().SetInt(v)
		}
		row.AddCell().SetInt(m.rowSum(i))
	}
	totals := matrix.AddRow()
	totals.AddCell().SetString("total")
	for j := range m.Classes {
		totals.AddCell().SetInt(m.colSum(j))
	}
	totals.AddCell().SetInt(m.Total())

	summary, err := f.AddSheet(SummarySheet)
	if err != nil {
		return eris.Wrap(err, "accuracy: add summary sheet")
	}
	addMetric(summary.AddRow(), "overall accuracy", r.OverallAccuracy)
	addMetric(summary.AddRow(), "kappa", r.Kappa)
	summary.AddRow()

	head := summary.AddRow()
	for _, h := range []string{"class", "support", "producer's accuracy", "consumer's accuracy"} {
		head.AddCell().SetString(h)
	}
	for _, c := range m.Classes {
		row := summary.AddRow()
		row.AddCell().SetInt(c)
		row.AddCell().SetInt(r.Support[c])
		setFloat(row.AddCell(), r.ProducersAccuracy[c])
		setFloat(row.AddCell(), r.ConsumersAccuracy[c])
	}

	if err := f.Save(path); err != nil {
		return eris.Wrapf(err, "accuracy: save %s", path)
	}
	return nil
}

func addMetric(row *xlsx.Row, name string, v float64) {
	row.AddCell().SetString(name)
	setFloat(row.AddCell(), v)
}

func setFloat(cell *xlsx.Cell, v float64) {
	if math.IsNaN(v) {
		return
	}
	cell.SetFloat(v)
}

// ReadMatrixXLSX reads back the matrix sheet of a workbook written by
// WriteXLSX.
func ReadMatrixXLSX(path string) (*ConfusionMatrix, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "accuracy: open workbook")
	}
	sheet, ok := f.Sheet[MatrixSheet]
	if !ok {
		return nil, eris.Errorf("accuracy: sheet %q not found", MatrixSheet)
	}
	if len(sheet.Rows) < 2 {
		return nil, eris.New("accuracy: matrix sheet is empty")
	}

	// Header: label, classes..., total. Rows: class, counts..., total.
	n := len(sheet.Rows[0].Cells) - 2
	if n <= 0 || len(sheet.Rows) < n+1 {
		return nil, eris.New("accuracy: malformed matrix sheet")
	}
	classes := make([]int, n)
	for j := range n {
		v, err := strconv.Atoi(sheet.Rows[0].Cells[j+1].String())
		if err != nil {
			return nil, eris.Wrapf(err, "accuracy: header column %d", j+1)
		}
		classes[j] = v
	}
	counts := make([][]int, n)
	for i := range n {
		cells := sheet.Rows[i+1].Cells
		if len(cells) < n+1 {
			return nil, eris.Errorf("accuracy: row %d is short", i+1)
		}
		counts[i] = make([]int, n)
		for j := range n {
			v, err := strconv.Atoi(cells[j+1].String())
			if err != nil {
				return nil, eris.Wrapf(err, "accuracy: row %d column %d", i+1, j+1)
			}
			counts[i][j] = v
		}
	}
	return FromCounts(classes, counts)
}
