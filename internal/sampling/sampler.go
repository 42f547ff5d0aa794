// Package sampling picks the next token from a logits vector.
package sampling

import (
	"math"
	"math/rand"
	"slices"
)

// TopP is the nucleus mass kept when sampling with a positive temperature.
const TopP = 0.95

// Policy chooses token ids. Greedy selection is stateless; nucleus sampling draws
// from the Policy's random source, so a Policy must not be shared between
// goroutines without external locking.
type Policy struct {
	rng  *rand.Rand
	topP float64

	cand []candidate
}

type candidate struct {
	id int
	p  float64
}

// New returns a Policy seeded with seed.
func New(seed int64) *Policy { return NewWithSource(rand.NewSource(seed)) }

// NewWithSource returns a Policy drawing from src.
func NewWithSource(src rand.Source) *Policy {
	return &Policy{rng: rand.New(src), topP: TopP}
}

// Sample returns the chosen index of logits, or -1 when logits is empty.
//
// A temperature <= 0 selects the argmax. Otherwise logits are scaled by
// 1/temperature, reduced to the smallest high-probability set whose mass reaches
// TopP and sampled from the renormalised remainder. NaN entries are never chosen;
// when no usable distribution exists the first valid index is returned.
func (p *Policy) Sample(logits []float32, temperature float32) int {
	if len(logits) == 0 {
		return -1
	}
	if temperature <= 0 || math.IsNaN(float64(temperature)) {
		return Greedy(logits)
	}
	return p.nucleus(logits, float64(temperature))
}

// Greedy returns the index of the largest non-NaN logit, ties going to the lowest
// index. It returns 0 when every entry is NaN and -1 for an empty slice.
func Greedy(logits []float32) int {
	if len(logits) == 0 {
		return -1
	}
	best := -1
	var bestV float32
	for i, v := range logits {
		if isNaN(v) {
			continue
		}
		if best < 0 || v > bestV {
			best, bestV = i, v
		}
	}
	if best < 0 {
		return 0
	}
	return best
}

func (p *Policy) nucleus(logits []float32, temp float64) int {
	first := firstValid(logits)
	if first < 0 {
		return 0
	}
	// +Inf swamps the distribution; it wins outright
	for i, v := range logits {
		if math.IsInf(float64(v), 1) {
			return i
		}
	}

	maxv := math.Inf(-1)
	for _, v := range logits {
		if isNaN(v) {
			continue
		}
		if x := float64(v) / temp; x > maxv {
			maxv = x
		}
	}
	if math.IsInf(maxv, -1) {
		return first
	}

	cand := p.cand[:0]
	var sum float64
	for i, v := range logits {
		if isNaN(v) {
			continue
		}
		e := math.Exp(float64(v)/temp - maxv)
		if e == 0 {
			continue
		}
		cand = append(cand, candidate{id: i, p: e})
		sum += e
	}
	p.cand = cand
	if len(cand) == 0 || sum == 0 || math.IsNaN(sum) || math.IsInf(sum, 0) {
		return first
	}

	slices.SortStableFunc(cand, func(a, b candidate) int {
		switch {
		case a.p > b.p:
			return -1
		case a.p < b.p:
			return 1
		}
		return 0
	})

	cut := len(cand)
	var c float64
	for i := range cand {
		c += cand[i].p / sum
		if c >= p.topP {
			cut = i + 1
			break
		}
	}
	kept := cand[:cut]
	var keptSum float64
	for _, k := range kept {
		keptSum += k.p
	}

	r := p.rng.Float64() * keptSum
	c = 0
	for _, k := range kept {
		c += k.p
		if r < c {
			return k.id
		}
	}
	return kept[len(kept)-1].id
}

func firstValid(logits []float32) int {
	for i, v := range logits {
		if !isNaN(v) {
			return i
		}
	}
	return -1
}

func isNaN(v float32) bool { return v != v }
