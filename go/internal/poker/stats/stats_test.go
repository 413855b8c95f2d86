package stats

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestCompute(t *testing.T) {
	tests := []struct {
		name       string
		votes      map[string]string
		wantOK     bool
		wantMean   string
		wantMedian string
		wantMode   []string
		wantVotes  int
		wantPasses int
	}{
		{
			name:       "odd count",
			votes:      map[string]string{"Alice": "3", "Bob": "5", "Carol": "3"},
			wantOK:     true,
			wantMean:   "3.67",
			wantMedian: "3.00",
			wantMode:   []string{"3"},
			wantVotes:  3,
		},
		{
			name:       "pass excluded",
			votes:      map[string]string{"Alice": "Pass", "Bob": "8"},
			wantOK:     true,
			wantMean:   "8.00",
			wantMedian: "8.00",
			wantMode:   []string{"8"},
			wantVotes:  1,
			wantPasses: 1,
		},
		{
			name:       "half point",
			votes:      map[string]string{"Alice": "½", "Bob": "1"},
			wantOK:     true,
			wantMean:   "0.75",
			wantMedian: "0.75",
			wantMode:   []string{"½", "1"},
			wantVotes:  2,
		},
		{
			name:       "t-shirt sizes count as zero",
			votes:      map[string]string{"Alice": "XL", "Bob": "M", "Carol": "XL"},
			wantOK:     true,
			wantMean:   "0.00",
			wantMedian: "0.00",
			wantMode:   []string{"XL"},
			wantVotes:  3,
		},
		{
			name:       "tie keeps scan order by name",
			votes:      map[string]string{"Dave": "2", "Carol": "8", "Bob": "8", "Alice": "2", "Eve": "5"},
			wantOK:     true,
			wantMean:   "5.00",
			wantMedian: "5.00",
			wantMode:   []string{"2", "8"},
			wantVotes:  5,
		},
		{
			name:       "all pass",
			votes:      map[string]string{"Alice": "Pass", "Bob": "Pass"},
			wantPasses: 2,
		},
		{
			name:  "no votes",
			votes: map[string]string{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Compute(tt.votes)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if got.Votes != tt.wantVotes || got.Passes != tt.wantPasses {
				t.Errorf("counts = %d/%d, want %d/%d", got.Votes, got.Passes, tt.wantVotes, tt.wantPasses)
			}
			if !ok {
				return
			}
			if got.MeanDisplay() != tt.wantMean {
				t.Errorf("mean = %s, want %s", got.MeanDisplay(), tt.wantMean)
			}
			if got.MedianDisplay() != tt.wantMedian {
				t.Errorf("median = %s, want %s", got.MedianDisplay(), tt.wantMedian)
			}
			if diff := cmp.Diff(tt.wantMode, got.Mode); diff != "" {
				t.Errorf("mode mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestMedianEvenCount(t *testing.T) {
	got, _ := Compute(map[string]string{"a": "1", "b": "2", "c": "5", "d": "13"})
	if math.Abs(got.Median-3.5) > 1e-9 {
		t.Errorf("median = %v, want 3.5", got.Median)
	}
}

func TestModeIsIdempotent(t *testing.T) {
	votes := map[string]string{"Zed": "13", "Amy": "5", "Kim": "13", "Bo": "5", "Lu": "1"}
	first, _ := Compute(votes)
	for i := 0; i < 20; i++ {
		again, _ := Compute(votes)
		if diff := cmp.Diff(first.Mode, again.Mode); diff != "" {
			t.Fatalf("mode changed on run %d (-first +again):\n%s", i, diff)
		}
	}
	if diff := cmp.Diff([]string{"5", "13"}, first.Mode); diff != "" {
		t.Errorf("mode mismatch (-want +got):\n%s", diff)
	}
	if first.ModeDisplay() != "5, 13" {
		t.Errorf("ModeDisplay = %q", first.ModeDisplay())
	}
}
