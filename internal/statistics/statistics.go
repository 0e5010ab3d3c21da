package statistics

import (
	"fmt"
	"math"
	"sort"

	"github.com/lox/bingoforbots/internal/evaluator"
)

// RoundResult represents the outcome of a single round
type RoundResult struct {
	RoundID   string
	Seed      uint64 // Round seed (for replay)
	Draws     int    // Numbers drawn when the round ended
	Winner    string // Empty when the pool was exhausted
	Line      evaluator.Line
	Exhausted bool
	Rejected  int // Claims rejected during the round
}

// Statistics tracks draws-to-win across many rounds
type Statistics struct {
	Rounds    int
	Wins      int
	Exhausted int
	Rejected  int

	SumDraws  float64
	SumDraws2 float64   // Sum of squares for variance calculation
	Values    []float64 // Draws-to-win of every won round

	MinDraws int
	MaxDraws int

	// Winning line breakdown
	LineKinds [3]int // indexed by evaluator.LineKind
	Winners   map[string]int
}

// Mean returns the mean number of draws to a win
func (s *Statistics) Mean() float64 {
	if s.Wins == 0 {
		return 0
	}
	return s.SumDraws / float64(s.Wins)
}

// Variance returns the sample variance of draws to a win
func (s *Statistics) Variance() float64 {
	if s.Wins < 2 {
		return 0
	}
	mean := s.Mean()
	return (s.SumDraws2 - float64(s.Wins)*mean*mean) / float64(s.Wins-1)
}

// StdDev returns the sample standard deviation
func (s *Statistics) StdDev() float64 {
	return math.Sqrt(s.Variance())
}

// StdError returns the standard error of the mean
func (s *Statistics) StdError() float64 {
	if s.Wins == 0 {
		return 0
	}
	return s.StdDev() / math.Sqrt(float64(s.Wins))
}

// ConfidenceInterval95 returns the 95% confidence interval for the mean
func (s *Statistics) ConfidenceInterval95() (float64, float64) {
	mean := s.Mean()
	margin := 1.96 * s.StdError()
	return mean - margin, mean + margin
}

// Add incorporates a round result into the statistics
func (s *Statistics) Add(result RoundResult) {
	s.Rounds++
	s.Rejected += result.Rejected

	if result.Exhausted {
		s.Exhausted++
		return
	}

	draws := result.Draws
	s.Wins++
	s.SumDraws += float64(draws)
	s.SumDraws2 += float64(draws * draws)
	s.Values = append(s.Values, float64(draws))

	if s.Wins == 1 || draws < s.MinDraws {
		s.MinDraws = draws
	}
	if draws > s.MaxDraws {
		s.MaxDraws = draws
	}

	if k := int(result.Line.Kind); k >= 0 && k < len(s.LineKinds) {
		s.LineKinds[k]++
	}
	if s.Winners == nil {
		s.Winners = make(map[string]int)
	}
	s.Winners[result.Winner]++
}

// WinRate returns the fraction of rounds that ended in a win
func (s *Statistics) WinRate() float64 {
	if s.Rounds == 0 {
		return 0
	}
	return float64(s.Wins) / float64(s.Rounds)
}

// Median returns the median draws to a win
func (s *Statistics) Median() float64 {
	return s.Percentile(0.5)
}

// Percentile returns the value at the given percentile (0.0 to 1.0)
func (s *Statistics) Percentile(p float64) float64 {
	if len(s.Values) == 0 {
		return 0
	}
	sorted := make([]float64, len(s.Values))
	copy(sorted, s.Values)
	sort.Float64s(sorted)

	index := p * float64(len(sorted)-1)
	lower := int(index)
	upper := lower + 1

	if upper >= len(sorted) {
		return sorted[len(sorted)-1]
	}

	weight := index - float64(lower)
	return sorted[lower]*(1-weight) + sorted[upper]*weight
}

// Validate performs consistency checks on the collected data
func (s *Statistics) Validate() error {
	if s.Rounds <= 0 {
		return fmt.Errorf("invalid rounds count: %d", s.Rounds)
	}
	if s.Wins+s.Exhausted != s.Rounds {
		return fmt.Errorf("wins (%d) plus exhausted (%d) does not match rounds (%d)",
			s.Wins, s.Exhausted, s.Rounds)
	}
	if len(s.Values) != s.Wins {
		return fmt.Errorf("values array length (%d) does not match wins (%d)",
			len(s.Values), s.Wins)
	}

	lines := 0
	for _, n := range s.LineKinds {
		lines += n
	}
	if lines != s.Wins {
		return fmt.Errorf("winning lines (%d) do not match wins (%d)", lines, s.Wins)
	}

	winners := 0
	for _, n := range s.Winners {
		winners += n
	}
	if winners != s.Wins {
		return fmt.Errorf("winner tally (%d) does not match wins (%d)", winners, s.Wins)
	}

	// No card can hold a line with fewer than four numbers drawn.
	if s.Wins > 0 && s.MinDraws < 4 {
		return fmt.Errorf("impossible win after %d draws", s.MinDraws)
	}
	return nil
}
