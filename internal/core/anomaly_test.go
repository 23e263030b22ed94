package core

import (
	"math"
	"testing"
)

func series(start int, values ...float64) []SeriesPoint {
	out := make([]SeriesPoint, len(values))
	for i, v := range values {
		out[i] = SeriesPoint{Year: start + i, Value: v}
	}
	return out
}

// ----------------------------------------------------------------------------
// DetectAnomalies Tests
// ----------------------------------------------------------------------------

func TestDetectAnomalies(t *testing.T) {
	tests := []struct {
		name      string
		series    []SeriesPoint
		z         float64
		wantYears []int
	}{
		{
			name:      "single spike",
			series:    series(2015, 10, 11, 9, 10, 11, 10, 9, 50),
			z:         3.5,
			wantYears: []int{2022},
		},
		{
			name:      "default z when zero",
			series:    series(2015, 10, 11, 9, 10, 11, 10, 9, 50),
			z:         0,
			wantYears: []int{2022},
		},
		{
			name:      "negative z uses default",
			series:    series(2015, 10, 11, 9, 10, 11, 10, 9, 50),
			z:         -1,
			wantYears: []int{2022},
		},
		{
			name:      "too short",
			series:    series(2020, 1, 1, 1, 1000),
			z:         3.5,
			wantYears: nil,
		},
		{
			name:      "flat series",
			series:    series(2015, 5, 5, 5, 5, 5),
			z:         3.5,
			wantYears: nil,
		},
		{
			name:      "zero spread flags any deviation",
			series:    series(2015, 5, 5, 5, 5, 6),
			z:         3.5,
			wantYears: []int{2019},
		},
		{
			name:      "flags both tails",
			series:    series(2010, 100, 0, 50, 52, 48, 51, 49),
			z:         3.5,
			wantYears: []int{2010, 2011},
		},
		{
			name:      "empty",
			series:    nil,
			z:         3.5,
			wantYears: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DetectAnomalies(tt.series, tt.z)
			if got == nil {
				t.Fatal("DetectAnomalies returned nil, want empty slice")
			}
			if len(got) != len(tt.wantYears) {
				t.Fatalf("DetectAnomalies() = %+v, want years %v", got, tt.wantYears)
			}
			for i, y := range tt.wantYears {
				if got[i].Year != y {
					t.Errorf("anomaly[%d].Year = %d, want %d", i, got[i].Year, y)
				}
			}
		})
	}
}

func TestDetectAnomaliesScore(t *testing.T) {
	got := DetectAnomalies(series(2015, 10, 11, 9, 10, 11, 10, 9, 50), 3.5)
	if len(got) != 1 {
		t.Fatalf("got %d anomalies, want 1", len(got))
	}
	// median 10, MAD 1
	want := 40 / madScale
	if math.Abs(got[0].Score-want) > 1e-9 {
		t.Errorf("Score = %v, want %v", got[0].Score, want)
	}
	if got[0].Value != 50 {
		t.Errorf("Value = %v, want 50", got[0].Value)
	}
}

func TestMedian(t *testing.T) {
	tests := []struct {
		in   []float64
		want float64
	}{
		{nil, 0},
		{[]float64{3}, 3},
		{[]float64{3, 1, 2}, 2},
		{[]float64{4, 1, 3, 2}, 2.5},
	}
	for _, tt := range tests {
		in := append([]float64(nil), tt.in...)
		if got := median(tt.in); got != tt.want {
			t.Errorf("median(%v) = %v, want %v", in, got, tt.want)
		}
		for i := range in {
			if in[i] != tt.in[i] {
				t.Fatalf("median mutated its input: %v", tt.in)
			}
		}
	}
}

// ----------------------------------------------------------------------------
// AnnualSeries Tests
// ----------------------------------------------------------------------------

func TestAnnualSeries(t *testing.T) {
	obs := []Observation{
		{Year: 2022, Month: 1, CO2eTonnes: 10},
		{Year: 2021, CO2eTonnes: 5},
		{Year: 2022, Month: 2, CO2eTonnes: 15},
		{Year: 2020, CO2eTonnes: 1},
	}
	got := AnnualSeries(obs)
	want := []SeriesPoint{{2020, 1}, {2021, 5}, {2022, 25}}
	if len(got) != len(want) {
		t.Fatalf("AnnualSeries() = %+v, want %+v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("AnnualSeries()[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}
}
