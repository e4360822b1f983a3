package rlnccoding

import (
	"fmt"
	"math/rand"
	"sync"

	"gonum.org/v1/gonum/mat"
)

// row is one pivot row of a generation's decoding matrix, kept in
// reduced row-echelon form: once rows[i] is set, its coefficient at i is
// 1 and it is 0 in every other column that has a pivot row, so at full
// rank every row's coefficient vector is the i-th unit vector.
type row struct {
	coeffs  []byte
	payload []byte
}

// Generation is one (src, dst, block)'s decoding state: up to g linearly
// independent coded symbols, reduced incrementally as each arrives.
type Generation struct {
	mu         sync.Mutex
	g          int
	symbolSize int
	rows       []*row
	rank       int
}

// NewGeneration returns an empty decoding state for a block of g symbols
// of symbolSize bytes each.
func NewGeneration(g, symbolSize int) *Generation {
	return &Generation{g: g, symbolSize: symbolSize, rows: make([]*row, g)}
}

// G returns the generation size.
func (d *Generation) G() int { return d.g }

// Rank returns the number of linearly independent coded symbols received
// so far.
func (d *Generation) Rank() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.rank
}

// Full reports whether the generation has reached full rank and can be
// decoded.
func (d *Generation) Full() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.rank == d.g
}

// AddCoded folds one coded symbol into the decoding matrix via Gaussian
// elimination, returning whether it was innovative (increased rank).
// coeffs must have length g and payload must have length symbolSize.
func (d *Generation) AddCoded(coeffs, payload []byte) (bool, error) {
	if len(coeffs) != d.g {
		return false, fmt.Errorf("rlnccoding: coeffs has length %d, want %d", len(coeffs), d.g)
	}
	if len(payload) != d.symbolSize {
		return false, fmt.Errorf("rlnccoding: payload has length %d, want %d", len(payload), d.symbolSize)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	rc := make([]byte, d.g)
	copy(rc, coeffs)
	rp := make([]byte, d.symbolSize)
	copy(rp, payload)

	for j := 0; j < d.g; j++ {
		if rc[j] != 0 && d.rows[j] != nil {
			factor := rc[j]
			AxpySymbol(rc, d.rows[j].coeffs, factor)
			AxpySymbol(rp, d.rows[j].payload, factor)
		}
	}

	for i := 0; i < d.g; i++ {
		if rc[i] == 0 {
			continue
		}

		inv := gfInv(rc[i])
		ScaleSymbol(rc, inv)
		ScaleSymbol(rp, inv)
		pivot := &row{coeffs: rc, payload: rp}
		d.rows[i] = pivot
		d.rank++

		for j, other := range d.rows {
			if j == i || other == nil {
				continue
			}
			factor := other.coeffs[i]
			if factor == 0 {
				continue
			}
			AxpySymbol(other.coeffs, pivot.coeffs, factor)
			AxpySymbol(other.payload, pivot.payload, factor)
		}
		return true, nil
	}

	return false, nil
}

// Decode returns the g decoded source symbols once Full reports true.
func (d *Generation) Decode() ([][]byte, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.rank != d.g {
		return nil, false
	}

	out := make([][]byte, d.g)
	for i, r := range d.rows {
		sym := make([]byte, d.symbolSize)
		copy(sym, r.payload)
		out[i] = sym
	}
	return out, true
}

// DecodePartial returns whichever source symbols are already fully
// resolved (their pivot row's coefficient vector is a unit vector with
// no other non-zero entries beyond position i), even before the
// generation reaches full rank. This lets a decoder release systematic
// packets (Testable Property: partial decode) as soon as they become
// available rather than waiting for the whole generation.
func (d *Generation) DecodePartial() map[int][]byte {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make(map[int][]byte)
	for i, r := range d.rows {
		if r == nil {
			continue
		}
		resolved := true
		for j, c := range r.coeffs {
			if j == i {
				continue
			}
			if c != 0 {
				resolved = false
				break
			}
		}
		if resolved {
			sym := make([]byte, d.symbolSize)
			copy(sym, r.payload)
			out[i] = sym
		}
	}
	return out
}

// Recode produces a new coded symbol as a random linear combination of
// whatever pivot rows have been established so far: unlike Decode, this
// does not require full rank, since a relay should forward a useful
// combination of what it has decoded towards even mid-generation.
func (d *Generation) Recode(rng *rand.Rand) (coeffs, payload []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()

	coeffs = make([]byte, d.g)
	payload = make([]byte, d.symbolSize)

	var firstPivot *row
	for _, r := range d.rows {
		if r == nil {
			continue
		}
		if firstPivot == nil {
			firstPivot = r
		}
		c := byte(rng.Intn(256))
		if c == 0 {
			continue
		}
		AxpySymbol(coeffs, r.coeffs, c)
		AxpySymbol(payload, r.payload, c)
	}

	if firstPivot != nil && allZero(coeffs) {
		AxpySymbol(coeffs, firstPivot.coeffs, 1)
		AxpySymbol(payload, firstPivot.payload, 1)
	}
	return coeffs, payload
}

func allZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}

// RandomCoeffs returns a freshly sampled, typically-non-zero coefficient
// vector of length g for an encoder or recoder to code a new symbol
// with.
func RandomCoeffs(g int, rng *rand.Rand) []byte {
	coeffs := make([]byte, g)
	anyNonZero := false
	for i := range coeffs {
		coeffs[i] = byte(rng.Intn(256))
		if coeffs[i] != 0 {
			anyNonZero = true
		}
	}
	if !anyNonZero {
		coeffs[rng.Intn(g)] = 1
	}
	return coeffs
}

// Combine linearly combines symbols (each symbolSize bytes) by coeffs,
// producing one coded payload. Used by an encoder to produce a new
// coded symbol from its stored source symbols, and by a recoder/helper
// to produce a new coded symbol from coded symbols it has already
// received.
func Combine(symbols [][]byte, coeffs []byte, symbolSize int) []byte {
	out := make([]byte, symbolSize)
	for i, c := range coeffs {
		if c == 0 || symbols[i] == nil {
			continue
		}
		AxpySymbol(out, symbols[i], c)
	}
	return out
}

// CombineCoeffVectors linearly combines generation-relative coefficient
// vectors the same way Combine combines payloads; a recoder must keep
// the coefficient vector consistent with whatever linear combination it
// applies to the payloads it is recoding.
func CombineCoeffVectors(vectors [][]byte, coeffs []byte, g int) []byte {
	out := make([]byte, g)
	for i, c := range coeffs {
		if c == 0 || vectors[i] == nil {
			continue
		}
		AxpySymbol(out, vectors[i], c)
	}
	return out
}

// LooksInnovative is a cheap pre-check against the real-valued rank of
// the coefficient matrix seen so far, used to skip the exact GF(256)
// elimination for symbols that are almost certainly redundant (e.g. a
// duplicate retransmission). It mirrors the network-coding demo's own
// SVD-based innovativeness check; unlike AddCoded, it operates over
// reals and is therefore only a heuristic, never a substitute for the
// exact elimination above.
func LooksInnovative(existingCoeffs [][]byte, candidate []byte) bool {
	rows := len(existingCoeffs) + 1
	cols := len(candidate)
	data := make([]float64, rows*cols)
	for i, c := range append(append([][]byte{}, existingCoeffs...), candidate) {
		for j, v := range c {
			data[i*cols+j] = float64(v)
		}
	}
	m := mat.NewDense(rows, cols, data)
	var svd mat.SVD
	if !svd.Factorize(m, mat.SVDNone) {
		return true // can't tell; fall through to the exact check
	}
	const threshold = 1e-6
	rank := 0
	for _, v := range svd.Values(nil) {
		if v > threshold {
			rank++
		}
	}
	return rank == rows
}
