package features

import (
	"math"

	"FinCast/internal/domain/models"
)

// PrepareForModel projects table onto required in declared order. Absent columns are
// zero-filled and reported in missing; NaN and Inf cells become 0. The input is not modified.
func PrepareForModel(table *models.Table, required []string) (*models.Table, []string) {
	n := table.Len()
	out := &models.Table{
		Columns: append([]string(nil), required...),
		Data:    make([][]float64, len(required)),
	}
	var missing []string
	for j, name := range required {
		col := make([]float64, n)
		src, ok := table.Column(name)
		if !ok {
			missing = append(missing, name)
		} else {
			for i, v := range src {
				if !math.IsNaN(v) && !math.IsInf(v, 0) {
					col[i] = v
				}
			}
		}
		out.Data[j] = col
	}
	return out, missing
}

// FillNaN returns a copy of table with NaN and Inf cells replaced by 0.
func FillNaN(table *models.Table) *models.Table {
	out := table.Clone()
	for _, col := range out.Data {
		for i, v := range col {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				col[i] = 0
			}
		}
	}
	return out
}
