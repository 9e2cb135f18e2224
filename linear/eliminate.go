package linear

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Method selects the factorization used by the elimination engine.
type Method int

const (
	// Cholesky accumulates information (Hessian) blocks and factorizes them.
	// Cheaper than QR, but fails on rank-deficient systems.
	Cholesky Method = iota
	// QR operates directly on Jacobian blocks and is numerically more robust.
	QR
)

// String returns the method name.
func (m Method) String() string {
	switch m {
	case Cholesky:
		return "Cholesky"
	case QR:
		return "QR"
	default:
		return "Unknown"
	}
}

// pivotTol is the absolute threshold below which a diagonal pivot is treated
// as zero, signaling an underconstrained variable.
const pivotTol = 1e-10

// ErrIndeterminateSystem indicates elimination hit a non-positive or zero
// pivot: the variable carries no (or numerically singular) information, for
// example because it lacks a prior.
type ErrIndeterminateSystem struct {
	Variable int
}

func (e *ErrIndeterminateSystem) Error() string {
	return fmt.Sprintf("indeterminate linear system near variable %d", e.Variable)
}

// Elimination is the result of factorizing a linear subgraph: one conditional
// per eliminated variable, in elimination order, plus the remainder factor
// each step produced over its separator (nil when a step consumed the last
// variables of its connected component).
type Elimination struct {
	Order        []int
	Conditionals []*GaussianConditional
	Remainders   []GaussianFactor
}

// Eliminate factorizes the given factors by eliminating the variables of
// order one at a time. Every index referenced by a factor must appear in
// order. Each step consumes all factors currently touching the variable and
// produces a conditional plus the marginal over the remaining separator,
// which is fed to later steps.
func Eliminate(factors []GaussianFactor, order []int, method Method) (*Elimination, error) {
	pos := make(map[int]int, len(order))
	for i, v := range order {
		pos[v] = i
	}

	buckets := make([][]GaussianFactor, len(order))
	anchor := func(f GaussianFactor) (int, error) {
		a := -1
		for _, v := range f.Indices() {
			p, ok := pos[v]
			if !ok {
				return 0, fmt.Errorf("linear: factor references variable %d outside the elimination order", v)
			}
			if a < 0 || p < a {
				a = p
			}
		}
		if a < 0 {
			return 0, fmt.Errorf("linear: factor touches no variables")
		}
		return a, nil
	}
	for _, f := range factors {
		a, err := anchor(f)
		if err != nil {
			return nil, err
		}
		buckets[a] = append(buckets[a], f)
	}

	res := &Elimination{
		Order:        append([]int(nil), order...),
		Conditionals: make([]*GaussianConditional, 0, len(order)),
		Remainders:   make([]GaussianFactor, len(order)),
	}

	for k, v := range order {
		fs := buckets[k]
		buckets[k] = nil
		if len(fs) == 0 {
			return nil, &ErrIndeterminateSystem{Variable: v}
		}

		involved, dims := involvedVariables(fs, pos)
		if involved[0] != v {
			// The bucket anchor is by construction the first remaining
			// variable, so this indicates a corrupted factor set.
			return nil, fmt.Errorf("linear: bucket anchor mismatch at variable %d", v)
		}

		var (
			cond *GaussianConditional
			rem  GaussianFactor
			err  error
		)
		switch method {
		case QR:
			cond, rem, err = eliminateQR(fs, involved, dims)
		case Cholesky:
			cond, rem, err = eliminateCholesky(fs, involved, dims)
		default:
			err = fmt.Errorf("linear: unknown elimination method %d", method)
		}
		if err != nil {
			return nil, err
		}

		res.Conditionals = append(res.Conditionals, cond)
		res.Remainders[k] = rem
		if rem != nil {
			a, err := anchor(rem)
			if err != nil {
				return nil, err
			}
			buckets[a] = append(buckets[a], rem)
		}
	}
	return res, nil
}

// involvedVariables returns the union of the factors' indices sorted by
// elimination position, along with each variable's dimension.
func involvedVariables(fs []GaussianFactor, pos map[int]int) (vars, dims []int) {
	dimOf := make(map[int]int)
	for _, f := range fs {
		fi, fd := f.Indices(), f.Dims()
		for i, v := range fi {
			dimOf[v] = fd[i]
		}
	}
	vars = make([]int, 0, len(dimOf))
	for v := range dimOf {
		vars = append(vars, v)
	}
	for i := 1; i < len(vars); i++ {
		for j := i; j > 0 && pos[vars[j]] < pos[vars[j-1]]; j-- {
			vars[j], vars[j-1] = vars[j-1], vars[j]
		}
	}
	dims = make([]int, len(vars))
	for i, v := range vars {
		dims[i] = dimOf[v]
	}
	return vars, dims
}

func eliminateQR(fs []GaussianFactor, involved, dims []int) (*GaussianConditional, GaussianFactor, error) {
	offsets := blockOffsets(dims)
	total := offsets[len(offsets)-1]
	colOf := make(map[int]int, len(involved))
	for i, v := range involved {
		colOf[v] = offsets[i]
	}

	rows := 0
	jacs := make([]*JacobianFactor, len(fs))
	for i, f := range fs {
		jf, ok := f.(*JacobianFactor)
		if !ok {
			return nil, nil, fmt.Errorf("linear: QR elimination requires Jacobian factors, got %T", f)
		}
		jacs[i] = jf
		rows += jf.Rows()
	}

	// gonum's QR wants at least as many rows as columns; zero padding does
	// not change R or the leading entries of Qᵀb.
	m := rows
	if m < total {
		m = total
	}
	a := mat.NewDense(m, total, nil)
	b := mat.NewVecDense(m, nil)
	row := 0
	for _, jf := range jacs {
		fr := jf.Rows()
		for bi, v := range jf.Indices() {
			src := jf.ColOffset(bi)
			dst := colOf[v]
			for r := 0; r < fr; r++ {
				for c := 0; c < jf.Dims()[bi]; c++ {
					a.Set(row+r, dst+c, jf.A().At(r, src+c))
				}
			}
		}
		for r := 0; r < fr; r++ {
			b.SetVec(row+r, jf.B().AtVec(r))
		}
		row += fr
	}

	var qr mat.QR
	qr.Factorize(a)
	r := mat.NewDense(m, total, nil)
	qr.RTo(r)
	q := mat.NewDense(m, m, nil)
	qr.QTo(q)
	qtb := mat.NewVecDense(m, nil)
	qtb.MulVec(q.T(), b)

	dv := dims[0]
	for i := 0; i < dv; i++ {
		if math.Abs(r.At(i, i)) < pivotTol {
			return nil, nil, &ErrIndeterminateSystem{Variable: involved[0]}
		}
	}

	rf := mat.NewDense(dv, dv, nil)
	for i := 0; i < dv; i++ {
		for j := i; j < dv; j++ {
			rf.Set(i, j, r.At(i, j))
		}
	}
	d := mat.NewVecDense(dv, nil)
	for i := 0; i < dv; i++ {
		d.SetVec(i, qtb.AtVec(i))
	}
	var s *mat.Dense
	if total > dv {
		s = mat.NewDense(dv, total-dv, nil)
		for i := 0; i < dv; i++ {
			for j := dv; j < total; j++ {
				s.Set(i, j-dv, r.At(i, j))
			}
		}
	}
	cond := NewGaussianConditional(involved[0], dv, involved[1:], dims[1:], rf, s, d)

	if total == dv {
		return cond, nil, nil
	}

	// Remainder: surviving rows of R over the separator columns.
	var keep []int
	for i := dv; i < total; i++ {
		norm := math.Abs(qtb.AtVec(i))
		for j := dv; j < total; j++ {
			norm += math.Abs(r.At(i, j))
		}
		if norm > pivotTol {
			keep = append(keep, i)
		}
	}
	if len(keep) == 0 {
		// Keep a single zero row so the separator marginal still names its
		// variables for downstream bucket anchoring.
		keep = []int{dv}
	}
	ra := mat.NewDense(len(keep), total-dv, nil)
	rb := mat.NewVecDense(len(keep), nil)
	for ri, i := range keep {
		for j := dv; j < total; j++ {
			ra.Set(ri, j-dv, r.At(i, j))
		}
		rb.SetVec(ri, qtb.AtVec(i))
	}
	rem := NewJacobianFactor(involved[1:], dims[1:], ra, rb)
	return cond, rem, nil
}

func eliminateCholesky(fs []GaussianFactor, involved, dims []int) (*GaussianConditional, GaussianFactor, error) {
	offsets := blockOffsets(dims)
	total := offsets[len(offsets)-1]
	colOf := make(map[int]int, len(involved))
	for i, v := range involved {
		colOf[v] = offsets[i]
	}

	h := mat.NewDense(total, total, nil)
	g := mat.NewVecDense(total, nil)

	for _, f := range fs {
		switch jf := f.(type) {
		case *JacobianFactor:
			fcols := 0
			for _, d := range jf.Dims() {
				fcols += d
			}
			ata := mat.NewDense(fcols, fcols, nil)
			ata.Mul(jf.A().T(), jf.A())
			atb := mat.NewVecDense(fcols, nil)
			atb.MulVec(jf.A().T(), jf.B())
			scatter(h, g, ata, atb, jf.Indices(), jf.Dims(), colOf, jf.ColOffset)
		case *HessianFactor:
			scatter(h, g, jf.Info(), jf.G(), jf.Indices(), jf.Dims(), colOf, jf.ColOffset)
		default:
			return nil, nil, fmt.Errorf("linear: unsupported factor type %T", f)
		}
	}

	dv := dims[0]
	symData := make([]float64, dv*dv)
	for i := 0; i < dv; i++ {
		for j := 0; j < dv; j++ {
			symData[i*dv+j] = 0.5 * (h.At(i, j) + h.At(j, i))
		}
	}
	var chol mat.Cholesky
	if ok := chol.Factorize(mat.NewSymDense(dv, symData)); !ok {
		return nil, nil, &ErrIndeterminateSystem{Variable: involved[0]}
	}
	u := mat.NewTriDense(dv, mat.Upper, nil)
	chol.UTo(u)
	rf := mat.NewDense(dv, dv, nil)
	rf.Copy(u)
	for i := 0; i < dv; i++ {
		if math.Abs(rf.At(i, i)) < pivotTol {
			return nil, nil, &ErrIndeterminateSystem{Variable: involved[0]}
		}
	}

	// d = R⁻ᵀ g1
	dvec := make([]float64, dv)
	for i := range dvec {
		dvec[i] = g.AtVec(i)
	}
	forwardSolveLower(rf, dvec)
	d := mat.NewVecDense(dv, dvec)

	rest := total - dv
	var s *mat.Dense
	if rest > 0 {
		// S = R⁻ᵀ H12, column by column.
		s = mat.NewDense(dv, rest, nil)
		col := make([]float64, dv)
		for j := 0; j < rest; j++ {
			for i := 0; i < dv; i++ {
				col[i] = h.At(i, dv+j)
			}
			forwardSolveLower(rf, col)
			for i := 0; i < dv; i++ {
				s.Set(i, j, col[i])
			}
		}
	}
	cond := NewGaussianConditional(involved[0], dv, involved[1:], dims[1:], rf, s, d)
	if rest == 0 {
		return cond, nil, nil
	}

	// Schur complement: H22' = H22 − SᵀS, g2' = g2 − Sᵀd.
	h22 := mat.NewDense(rest, rest, nil)
	for i := 0; i < rest; i++ {
		for j := 0; j < rest; j++ {
			h22.Set(i, j, h.At(dv+i, dv+j))
		}
	}
	var sts mat.Dense
	sts.Mul(s.T(), s)
	h22.Sub(h22, &sts)
	g2 := mat.NewVecDense(rest, nil)
	for i := 0; i < rest; i++ {
		g2.SetVec(i, g.AtVec(dv+i))
	}
	var std mat.VecDense
	std.MulVec(s.T(), d)
	g2.SubVec(g2, &std)

	rem := NewHessianFactor(involved[1:], dims[1:], h22, g2)
	return cond, rem, nil
}

// scatter accumulates a factor-local symmetric system into the global one.
func scatter(h *mat.Dense, g *mat.VecDense, fh mat.Matrix, fg mat.Vector, indices, dims []int, colOf map[int]int, localOff func(int) int) {
	for bi, vi := range indices {
		li, gi := localOff(bi), colOf[vi]
		for bj, vj := range indices {
			lj, gj := localOff(bj), colOf[vj]
			for r := 0; r < dims[bi]; r++ {
				for c := 0; c < dims[bj]; c++ {
					h.Set(gi+r, gj+c, h.At(gi+r, gj+c)+fh.At(li+r, lj+c))
				}
			}
		}
		for r := 0; r < dims[bi]; r++ {
			g.SetVec(gi+r, g.AtVec(gi+r)+fg.AtVec(li+r))
		}
	}
}

func blockOffsets(dims []int) []int {
	offsets := make([]int, len(dims)+1)
	for i, d := range dims {
		offsets[i+1] = offsets[i] + d
	}
	return offsets
}
