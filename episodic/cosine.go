package episodic

import (
	"errors"
	"math"
)

var errDimensions = errors.New("vectors have different dimensions")

// Cosine returns dot(a,b) / (|a| * |b|). A zero vector scores 0 against
// anything. Vectors of different length are an error.
func Cosine(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, errDimensions
	}

	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}

	denom := math.Sqrt(na) * math.Sqrt(nb)
	if denom == 0 {
		return 0, nil
	}
	return dot / denom, nil
}

func norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}
