package simscore

import (
	"math"
	"testing"
)

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name     string
		a, b     []float64
		expected float64
	}{
		{"identical vectors", []float64{1, 2, 3}, []float64{1, 2, 3}, 1.0},
		{"orthogonal vectors", []float64{1, 0}, []float64{0, 1}, 0.0},
		{"opposite vectors", []float64{1, 0}, []float64{-1, 0}, -1.0},
		{"different lengths", []float64{1, 2}, []float64{1, 2, 3}, 0.0},
		{"empty vectors", []float64{}, []float64{}, 0.0},
		{"zero vector", []float64{0, 0, 0}, []float64{1, 2, 3}, 0.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CosineSimilarity(tt.a, tt.b)
			if math.Abs(got-tt.expected) > 1e-9 {
				t.Errorf("CosineSimilarity(%v, %v) = %v, want %v", tt.a, tt.b, got, tt.expected)
			}
		})
	}
}

func TestMean(t *testing.T) {
	tests := []struct {
		name     string
		values   []float64
		expected float64
	}{
		{"normal values", []float64{1, 2, 3, 4, 5}, 3.0},
		{"single value", []float64{42}, 42.0},
		{"empty slice", []float64{}, 0.0},
		{"negative values", []float64{-1, -2, -3}, -2.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Mean(tt.values)
			if math.Abs(got-tt.expected) > 1e-9 {
				t.Errorf("Mean(%v) = %v, want %v", tt.values, got, tt.expected)
			}
		})
	}
}

func TestWeightsSumToOne(t *testing.T) {
	sum := WeightVectorSimilarity + WeightEntityOverlap + WeightTacticOverlap + WeightRecency
	if math.Abs(sum-1.0) > 1e-9 {
		t.Errorf("composite weights sum to %v, want 1.0", sum)
	}
}

func TestRecencyFloorForRareImportant(t *testing.T) {
	old := Recency(3650, true) // 10 years
	if old < rareImportantFloor-1e-9 {
		t.Errorf("Recency(3650, rareImportant=true) = %v, want >= %v", old, rareImportantFloor)
	}

	notRare := Recency(3650, false)
	if notRare >= rareImportantFloor {
		t.Errorf("Recency(3650, rareImportant=false) = %v, want it to decay below the floor", notRare)
	}
}

func TestRecencyRecentIsHigh(t *testing.T) {
	fresh := Recency(0, false)
	if fresh < 0.9 {
		t.Errorf("Recency(0, false) = %v, want close to 1.0", fresh)
	}
}

func TestComposite(t *testing.T) {
	score := Composite(Inputs{
		VectorSimilarity: 1.0,
		EntityOverlap:    1.0,
		TacticOverlap:    1.0,
		AgeDays:          0,
		RareImportant:    false,
	})
	if score < 0.99 || score > 1.01 {
		t.Errorf("Composite with all-perfect inputs and zero age = %v, want ~1.0", score)
	}
}
