package isamgo

import (
	"context"
	"encoding/gob"
	"fmt"
	"io"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/hupe1980/isamgo/bayestree"
	"github.com/hupe1980/isamgo/core"
	"github.com/hupe1980/isamgo/linear"
	"github.com/hupe1980/isamgo/nonlinear"
)

// snapshotState is the persisted form of a smoother. The factorization and
// delta are not stored; LoadSnapshot rebuilds them by a full elimination at
// the stored linearization point, which also washes out any accumulated
// numerical drift.
type snapshotState struct {
	Keys         []core.Key
	Theta        map[core.Key]nonlinear.Value
	Factors      map[int]nonlinear.Factor
	Slots        int
	UpdateCount  int
	DoglegRadius float64
}

// SaveSnapshot writes the smoother state to w as a zstd-compressed gob
// stream. Concrete value and factor types must be registered with gob by
// the caller.
func (i *ISAM) SaveSnapshot(ctx context.Context, w io.Writer) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	start := time.Now()
	err := i.saveSnapshot(w)

	i.opts.logger.LogSnapshot(ctx, "save", err)
	i.opts.metricsCollector.RecordSnapshot(time.Since(start), err)
	return err
}

func (i *ISAM) saveSnapshot(w io.Writer) error {
	state := snapshotState{
		Keys:         i.ordering.Keys(),
		Theta:        make(map[core.Key]nonlinear.Value, i.theta.Len()),
		Factors:      make(map[int]nonlinear.Factor, i.graph.Len()),
		Slots:        i.graph.Slots(),
		UpdateCount:  i.updateCount,
		DoglegRadius: i.doglegRadius,
	}
	for _, k := range i.theta.Keys() {
		v, _ := i.theta.At(k)
		state.Theta[k] = v
	}
	for s := 0; s < i.graph.Slots(); s++ {
		if f := i.graph.At(s); f != nil {
			state.Factors[s] = f
		}
	}

	zw, err := zstd.NewWriter(w)
	if err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}
	if err := gob.NewEncoder(zw).Encode(&state); err != nil {
		zw.Close()
		return fmt.Errorf("snapshot encode: %w", err)
	}
	return zw.Close()
}

// LoadSnapshot restores a smoother from a snapshot stream and refactorizes
// it from scratch at the stored linearization point.
func LoadSnapshot(ctx context.Context, r io.Reader, optFns ...Option) (*ISAM, error) {
	zr, err := zstd.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	defer zr.Close()

	var state snapshotState
	if err := gob.NewDecoder(zr).Decode(&state); err != nil {
		return nil, fmt.Errorf("snapshot decode: %w", err)
	}

	i := New(optFns...)
	i.updateCount = state.UpdateCount
	if state.DoglegRadius > 0 {
		i.doglegRadius = state.DoglegRadius
	}

	for _, k := range state.Keys {
		v, ok := state.Theta[k]
		if !ok {
			return nil, fmt.Errorf("snapshot: no value for variable %s", k)
		}
		i.theta.Insert(k, v)
		i.ordering.Extend(k)
		i.delta.Append(v.Dim())
		i.deltaNewton.Append(v.Dim())
		i.deltaDescent.Append(v.Dim())
	}

	slots := make([]nonlinear.Factor, state.Slots)
	for s, f := range state.Factors {
		if s < 0 || s >= state.Slots {
			return nil, fmt.Errorf("snapshot: factor slot %d out of range", s)
		}
		slots[s] = f
	}
	i.graph = nonlinear.NewGraphFromSlots(slots)
	for s := 0; s < i.graph.Slots(); s++ {
		f := i.graph.At(s)
		if f == nil {
			continue
		}
		for _, k := range f.Keys() {
			i.varIndex[k] = append(i.varIndex[k], s)
		}
	}

	if err := i.refactorize(ctx); err != nil {
		i.opts.logger.LogSnapshot(ctx, "load", err)
		return nil, err
	}
	i.opts.logger.LogSnapshot(ctx, "load", nil)
	return i, nil
}

// refactorize rebuilds the tree and delta by eliminating the whole graph in
// the current variable ordering.
func (i *ISAM) refactorize(ctx context.Context) error {
	if i.ordering.Len() == 0 {
		return nil
	}

	slots := make([]int, 0, i.graph.Len())
	for s := 0; s < i.graph.Slots(); s++ {
		if i.graph.At(s) != nil {
			slots = append(slots, s)
		}
	}
	linearized, err := i.graph.Linearize(ctx, slots, i.theta, i.ordering, i.opts.workers)
	if err != nil {
		return i.translateError(err)
	}
	factors := make([]linear.GaussianFactor, 0, len(linearized))
	for _, f := range linearized {
		if f != nil {
			factors = append(factors, f)
		}
	}

	order := make([]int, i.ordering.Len())
	for v := range order {
		order[v] = v
	}
	elim, err := linear.Eliminate(factors, order, i.opts.method)
	if err != nil {
		return i.translateError(err)
	}
	tree := bayestree.New()
	if _, err := tree.BuildFragment(elim); err != nil {
		return err
	}
	i.tree = tree
	i.tree.SolveFull(i.delta)
	i.deltaNewton = i.delta.Clone()
	i.deltaDescent = i.delta.Clone()
	return nil
}
