package codes

import (
	"cmp"
	"slices"

	"github.com/RoaringBitmap/roaring/v2"
)

// Usage gibt die Menge der verwendeten Codes und den Anteil am Codebook zurueck
func Usage(ids []int32, codebookSize int) (*roaring.Bitmap, float64) {
	bm := roaring.New()
	for _, id := range ids {
		if id >= 0 {
			bm.Add(uint32(id))
		}
	}

	if codebookSize <= 0 {
		return bm, 0
	}
	return bm, float64(bm.GetCardinality()) / float64(codebookSize)
}

// Usage der Tokens
func (t *Tokens) Usage() (*roaring.Bitmap, float64) {
	return Usage(t.Indices, t.CodebookSize)
}

// Histogram zaehlt die Vorkommen der haeufigsten Codes, absteigend sortiert
func Histogram(ids []int32, limit int) []Count {
	counts := make(map[int32]int)
	for _, id := range ids {
		counts[id]++
	}

	result := make([]Count, 0, len(counts))
	for id, n := range counts {
		result = append(result, Count{ID: id, N: n})
	}

	slices.SortFunc(result, func(a, b Count) int {
		if a.N != b.N {
			return cmp.Compare(b.N, a.N)
		}
		return cmp.Compare(a.ID, b.ID)
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result
}

// Count ist ein Eintrag im Histogramm
type Count struct {
	ID int32
	N  int
}
