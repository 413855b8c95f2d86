// Package stats summarises revealed votes.
package stats

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/mcdev12/planningpoker/go/internal/models"
)

// Summary of one round of votes.
type Summary struct {
	Mean   float64
	Median float64
	// Mode holds the most frequent original vote strings. Ties keep the
	// order in which the values were first met while scanning voters by
	// name.
	Mode   []string
	Votes  int // non-pass votes
	Passes int
}

// Compute summarises votes. It reports false when every vote is a pass or
// there are no votes at all.
func Compute(votes map[string]string) (Summary, bool) {
	names := make([]string, 0, len(votes))
	for name := range votes {
		names = append(names, name)
	}
	sort.Strings(names)

	var (
		sum     Summary
		values  []string
		numbers []float64
	)
	for _, name := range names {
		v := votes[name]
		if v == models.PassVote {
			sum.Passes++
			continue
		}
		values = append(values, v)
		numbers = append(numbers, numeric(v))
	}
	sum.Votes = len(values)
	if sum.Votes == 0 {
		return sum, false
	}

	total := 0.0
	for _, n := range numbers {
		total += n
	}
	sum.Mean = total / float64(len(numbers))

	sorted := append([]float64(nil), numbers...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		sum.Median = (sorted[mid-1] + sorted[mid]) / 2
	} else {
		sum.Median = sorted[mid]
	}

	sum.Mode = mode(values)
	return sum, true
}

// numeric converts a card to a number. The half-point card is 0.5 and
// anything that is not a number (T-shirt sizes) counts as 0.
func numeric(v string) float64 {
	if v == models.HalfPointVote {
		return 0.5
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return 0
	}
	return f
}

func mode(values []string) []string {
	counts := make(map[string]int, len(values))
	var order []string
	best := 0
	for _, v := range values {
		if counts[v] == 0 {
			order = append(order, v)
		}
		counts[v]++
		if counts[v] > best {
			best = counts[v]
		}
	}
	var out []string
	for _, v := range order {
		if counts[v] == best {
			out = append(out, v)
		}
	}
	return out
}

func (s Summary) MeanDisplay() string {
	return fmt.Sprintf("%.2f", s.Mean)
}

func (s Summary) MedianDisplay() string {
	return fmt.Sprintf("%.2f", s.Median)
}

func (s Summary) ModeDisplay() string {
	return strings.Join(s.Mode, ", ")
}
