// Package forest trains and applies a Random Forest classifier over
// band-value tuples.
package forest

import (
	"fmt"
	"math"
	"math/rand/v2"
	"slices"
)

// DefaultNumTrees is the ensemble size used when Config.NumTrees is unset.
const DefaultNumTrees = 100

// leaf marks a terminal node in Node.Feature.
const leaf = -1

// Node is one entry of a flattened decision tree. Internal nodes route a
// tuple to Left when tuple[Feature] <= Threshold and to Right otherwise;
// leaves carry Class.
type Node struct {
	Feature   int     `json:"f"`
	Threshold float64 `json:"t,omitempty"`
	Left      int     `json:"l,omitempty"`
	Right     int     `json:"r,omitempty"`
	Class     int     `json:"c,omitempty"`
}

// IsLeaf reports whether n is terminal.
func (n Node) IsLeaf() bool { return n.Feature == leaf }

// Tree is a decision tree stored as a node array rooted at index 0.
type Tree struct {
	Nodes []Node `json:"nodes"`
}

// Classify walks the tree for values and returns the leaf class.
func (t *Tree) Classify(values []float64) int {
	i := 0
	for {
		n := t.Nodes[i]
		if n.IsLeaf() {
			return n.Class
		}
		if values[n.Feature] <= n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}
}

// Depth returns the number of edges on the longest root-to-leaf path.
func (t *Tree) Depth() int {
	var walk func(i int) int
	walk = func(i int) int {
		n := t.Nodes[i]
		if n.IsLeaf() {
			return 0
		}
		return 1 + max(walk(n.Left), walk(n.Right))
	}
	return walk(0)
}

// Forest is a trained Random Forest. It is immutable after training and
// safe for concurrent use.
type Forest struct {
	Bands   []string `json:"bands"`
	Classes []int    `json:"classes"` // ascending
	Seed    int64    `json:"seed"`
	Trees   []Tree   `json:"trees"`
}

// ClassIDs returns the classes the forest can predict, ascending.
func (f *Forest) ClassIDs() []int { return f.Classes }

// Classify returns the mode of the trees' votes for values. Ties go to the
// lowest class id.
func (f *Forest) Classify(values []float64) int {
	return f.vote(values, make([]int, len(f.Classes)))
}

// vote tallies into counts, which must have len(f.Classes) entries.
func (f *Forest) vote(values []float64, counts []int) int {
	clear(counts)
	for i := range f.Trees {
		c := f.Trees[i].Classify(values)
		if k, ok := slices.BinarySearch(f.Classes, c); ok {
			counts[k]++
		}
	}
	return f.Classes[argmax(counts)]
}

// InsufficientSamplesError reports a class with too few training samples.
type InsufficientSamplesError struct {
	ClassID int
	Count   int
}

func (e *InsufficientSamplesError) Error() string {
	return fmt.Sprintf("forest: class %d has %d training samples, need at least 2", e.ClassID, e.Count)
}

// builder grows one tree from a bootstrap resample.
type builder struct {
	x        [][]float64 // sample values
	y        []int       // dense class index per sample
	nClasses int
	classes  []int
	cfg      Config
	rng      *rand.Rand
	nodes    []Node

	// scratch
	counts, left []int
	order        []int
}

func (b *builder) grow(idx []int, depth int) int {
	at := len(b.nodes)
	b.nodes = append(b.nodes, Node{Feature: leaf})

	counts := make([]int, b.nClasses)
	for _, i := range idx {
		counts[b.y[i]]++
	}
	majority := argmax(counts)

	pure := counts[majority] == len(idx)
	if pure || len(idx) < 2*b.cfg.MinLeafSize || (b.cfg.MaxDepth > 0 && depth >= b.cfg.MaxDepth) {
		b.nodes[at].Class = b.classes[majority]
		return at
	}

	feature, threshold, ok := b.bestSplit(idx, counts)
	if !ok {
		b.nodes[at].Class = b.classes[majority]
		return at
	}

	var lo, hi []int
	for _, i := range idx {
		if b.x[i][feature] <= threshold {
			lo = append(lo, i)
		} else {
			hi = append(hi, i)
		}
	}
	if len(lo) == 0 || len(hi) == 0 {
		b.nodes[at].Class = b.classes[majority]
		return at
	}
	l := b.grow(lo, depth+1)
	r := b.grow(hi, depth+1)
	b.nodes[at] = Node{Feature: feature, Threshold: threshold, Left: l, Right: r}
	return at
}

// bestSplit evaluates a random subset of features and returns the
// (feature, threshold) with the lowest weighted Gini impurity. ok is false
// when no candidate feature separates the samples.
func (b *builder) bestSplit(idx []int, parent []int) (feature int, threshold float64, ok bool) {
	nFeatures := len(b.x[idx[0]])
	candidates := b.rng.Perm(nFeatures)[:b.cfg.FeaturesPerSplit]

	n := len(idx)
	bestScore := math.Inf(1)
	b.order = append(b.order[:0], idx...)

	for _, f := range candidates {
		slices.SortFunc(b.order, func(i, j int) int {
			switch a, c := b.x[i][f], b.x[j][f]; {
			case a < c:
				return -1
			case a > c:
				return 1
			}
			return i - j
		})

		clear(b.left)
		copy(b.counts, parent)
		for k := 0; k < n-1; k++ {
			cls := b.y[b.order[k]]
			b.left[cls]++
			b.counts[cls]--

			v, next := b.x[b.order[k]][f], b.x[b.order[k+1]][f]
			if v == next {
				continue
			}
			nl := k + 1
			nr := n - nl
			if nl < b.cfg.MinLeafSize || nr < b.cfg.MinLeafSize {
				continue
			}
			score := (float64(nl)*gini(b.left, nl) + float64(nr)*gini(b.counts, nr)) / float64(n)
			if score < bestScore {
				bestScore = score
				feature = f
				threshold = v + (next-v)/2
				if threshold >= next {
					threshold = v
				}
				ok = true
			}
		}
	}
	return feature, threshold, ok
}

// gini returns the Gini impurity of a class histogram with total n.
func gini(counts []int, n int) float64 {
	if n == 0 {
		return 0
	}
	s := 0.0
	for _, c := range counts {
		p := float64(c) / float64(n)
		s += p * p
	}
	return 1 - s
}

// argmax returns the first index of the largest value, so ties resolve to
// the lowest class.
func argmax(counts []int) int {
	best := 0
	for k := 1; k < len(counts); k++ {
		if counts[k] > counts[best] {
			best = k
		}
	}
	return best
}
