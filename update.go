package isamgo

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/isamgo/bayestree"
	"github.com/hupe1980/isamgo/core"
	"github.com/hupe1980/isamgo/linear"
	"github.com/hupe1980/isamgo/nonlinear"
	"github.com/hupe1980/isamgo/ordering"
)

// UpdateResult reports what one incremental update did.
type UpdateResult struct {
	// FactorIndices are the graph slots assigned to the new factors, in
	// input order. Slots stay valid for later removal.
	FactorIndices []int
	// Relinearized is the number of variables whose linearization point
	// was refreshed.
	Relinearized int
	// Reeliminated is the number of variables refactorized.
	Reeliminated int
	// CliquesRecomputed is the number of cliques touched by
	// back-substitution.
	CliquesRecomputed int
	// DoglegRadius is the trust region radius after the update. Zero under
	// Gauss-Newton.
	DoglegRadius float64
}

// Update absorbs new factors and variables, removes the factors named by
// removeIndices, refactorizes the affected part of the tree and refreshes
// the solution.
//
// newValues must hold an initial value for every variable not yet known.
// constrainedKeys optionally pins variables to ordering groups; higher
// groups are eliminated later. New variables default to the last group,
// which keeps them near the root.
//
// On error a non-nil result may be returned alongside it; its
// FactorIndices then report the slots already assigned to new factors, so
// a caller can remove them or pass extra constraints on the next Update.
func (i *ISAM) Update(ctx context.Context, newFactors []nonlinear.Factor, newValues map[core.Key]nonlinear.Value, removeIndices []int, constrainedKeys map[core.Key]int) (*UpdateResult, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	start := time.Now()
	res, err := i.update(ctx, newFactors, newValues, removeIndices, constrainedKeys)
	err = i.translateError(err)

	i.opts.logger.LogUpdate(ctx, res, err)
	relin, reelim := 0, 0
	if res != nil {
		relin, reelim = res.Relinearized, res.Reeliminated
	}
	i.opts.metricsCollector.RecordUpdate(time.Since(start), relin, reelim, err)
	return res, err
}

func (i *ISAM) update(ctx context.Context, newFactors []nonlinear.Factor, newValues map[core.Key]nonlinear.Value, removeIndices []int, constrainedKeys map[core.Key]int) (*UpdateResult, error) {
	res := &UpdateResult{}
	marked := roaring.New()

	// Drop removed factors first; their variables need re-elimination so
	// the factorization forgets them.
	for _, idx := range removeIndices {
		f := i.graph.At(idx)
		if err := i.graph.Remove(idx); err != nil {
			return res, err
		}
		for _, k := range f.Keys() {
			i.varIndex[k] = removeSlot(i.varIndex[k], idx)
			if v, ok := i.ordering.IndexOf(k); ok {
				marked.Add(uint32(v))
			}
		}
	}

	// New variables extend the ordering and the delta at the end.
	newVars := make([]int, 0, len(newValues))
	for key, val := range newValues {
		if i.theta.Has(key) {
			return res, fmt.Errorf("%w: %s", ErrKeyExists, key)
		}
		i.theta.Insert(key, val)
		v := i.ordering.Extend(key)
		i.delta.Append(val.Dim())
		i.deltaNewton.Append(val.Dim())
		i.deltaDescent.Append(val.Dim())
		newVars = append(newVars, v)
		marked.Add(uint32(v))
	}

	res.FactorIndices = make([]int, 0, len(newFactors))
	for _, f := range newFactors {
		for _, k := range f.Keys() {
			if !i.theta.Has(k) {
				return res, &nonlinear.ErrLinearization{Key: k}
			}
		}
		slot := i.graph.Add(f)
		res.FactorIndices = append(res.FactorIndices, slot)
		for _, k := range f.Keys() {
			i.varIndex[k] = append(i.varIndex[k], slot)
			v, _ := i.ordering.IndexOf(k)
			marked.Add(uint32(v))
		}
	}

	// Fluid relinearization: fold the delta into the linearization point
	// of every variable that drifted past its threshold. With propagation
	// on, the set is widened until it is closed under clique membership.
	relin := roaring.New()
	if i.opts.relinearizeSkip > 0 && (i.updateCount+1)%i.opts.relinearizeSkip == 0 {
		for v := 0; v < i.delta.Len(); v++ {
			if i.delta.InfNorm(v) > i.thresholdFor(i.ordering.KeyAt(v)) {
				relin.Add(uint32(v))
			}
		}
		if i.opts.wildfirePropagation {
			i.tree.FindAll(relin)
		}
		relin.Iterate(func(u uint32) bool {
			v := int(u)
			key := i.ordering.KeyAt(v)
			if nv, ok := i.theta.RetractKey(key, i.delta.At(v)); ok {
				i.theta.Insert(key, nv)
			}
			i.delta.SetZero(v)
			i.deltaNewton.SetZero(v)
			i.deltaDescent.SetZero(v)
			marked.Add(u)
			return true
		})
		res.Relinearized = int(relin.GetCardinality())
	}

	// A failed previous elimination left its region detached; pull it back
	// into this update.
	var orphans []bayestree.CliqueID
	if i.pendingValid {
		for _, v := range i.pendingVars {
			marked.Add(uint32(v))
		}
		orphans = append(orphans, i.pendingOrphans...)
		i.pendingVars, i.pendingOrphans, i.pendingValid = nil, nil, false
	}

	i.updateCount++

	if marked.IsEmpty() {
		res.CliquesRecomputed = i.refreshDelta(roaring.New(), res)
		return res, nil
	}

	// Detach every clique holding a marked variable, plus its ancestors.
	markedVars := make([]int, 0, marked.GetCardinality())
	marked.Iterate(func(u uint32) bool {
		markedVars = append(markedVars, int(u))
		return true
	})
	removedVars, moreOrphans := i.tree.RemoveTop(i.tree.FindAffected(markedVars))
	// A carried-over orphan may itself have been removed just now.
	kept := orphans[:0]
	for _, o := range orphans {
		if i.tree.Valid(o) {
			kept = append(kept, o)
		}
	}
	orphans = append(kept, moreOrphans...)

	affected := roaring.New()
	for _, v := range removedVars {
		affected.Add(uint32(v))
	}
	for _, v := range markedVars {
		if _, inTree := i.tree.CliqueOf(v); !inTree {
			affected.Add(uint32(v))
		}
	}
	affectedVars := make([]int, 0, affected.GetCardinality())
	affected.Iterate(func(u uint32) bool {
		affectedVars = append(affectedVars, int(u))
		return true
	})
	res.Reeliminated = len(affectedVars)

	// Original factors fully inside the affected region are relinearized;
	// orphan cliques contribute their cached separator marginals instead.
	slots := i.affectedSlots(affected)

	relabel := i.relabelAffected(affectedVars, newVars, slots, orphans, constrainedKeys)
	i.ordering.Permute(relabel)
	i.tree.Permute(relabel)
	i.delta.Permute(relabel)
	i.deltaNewton.Permute(relabel)
	i.deltaDescent.Permute(relabel)

	linearized, err := i.graph.Linearize(ctx, slots, i.theta, i.ordering, i.opts.workers)
	if err != nil {
		i.stashPending(affectedVars, relabel, orphans)
		return res, err
	}
	factors := make([]linear.GaussianFactor, 0, len(linearized)+len(orphans))
	for _, f := range linearized {
		if f != nil {
			factors = append(factors, f)
		}
	}
	for _, o := range orphans {
		if c := i.tree.Cached(o); c != nil {
			factors = append(factors, c)
		}
	}

	elimOrder := make([]int, len(affectedVars))
	copy(elimOrder, affectedVars)
	sort.Ints(elimOrder)

	elim, err := linear.Eliminate(factors, elimOrder, i.opts.method)
	if err != nil {
		i.stashPending(affectedVars, relabel, orphans)
		return res, err
	}
	if _, err := i.tree.BuildFragment(elim); err != nil {
		i.stashPending(affectedVars, relabel, orphans)
		return res, err
	}
	i.tree.AttachOrphans(orphans)

	replaced := roaring.New()
	for _, v := range elimOrder {
		replaced.Add(uint32(v))
	}
	res.CliquesRecomputed = i.refreshDelta(replaced, res)
	return res, nil
}

// thresholdFor returns the relinearization threshold for a variable,
// honoring per-kind overrides.
func (i *ISAM) thresholdFor(key core.Key) float64 {
	if t, ok := i.opts.thresholdMap[key.Chr()]; ok {
		return t
	}
	return i.opts.relinearizeThreshold
}

// affectedSlots returns the graph slots of factors whose variables all lie
// inside the affected set, sorted and deduplicated.
func (i *ISAM) affectedSlots(affected *roaring.Bitmap) []int {
	seen := make(map[int]bool)
	var slots []int
	affected.Iterate(func(u uint32) bool {
		key := i.ordering.KeyAt(int(u))
		for _, slot := range i.varIndex[key] {
			if seen[slot] {
				continue
			}
			seen[slot] = true
			f := i.graph.At(slot)
			if f == nil {
				continue
			}
			inside := true
			for _, k := range f.Keys() {
				v, ok := i.ordering.IndexOf(k)
				if !ok || !affected.Contains(uint32(v)) {
					inside = false
					break
				}
			}
			if inside {
				slots = append(slots, slot)
			}
		}
		return true
	})
	sort.Ints(slots)
	return slots
}

// relabelAffected computes the permutation mapping the affected variables
// onto their own label set so that elimination order coincides with
// ascending labels. Unaffected variables keep their labels.
func (i *ISAM) relabelAffected(affectedVars, newVars, slots []int, orphans []bayestree.CliqueID, constrainedKeys map[core.Key]int) ordering.Permutation {
	// Adjacency as seen by the ordering heuristic: original factors plus
	// orphan marginals.
	var factorSets [][]int
	for _, slot := range slots {
		f := i.graph.At(slot)
		set := make([]int, 0, len(f.Keys()))
		for _, k := range f.Keys() {
			v, _ := i.ordering.IndexOf(k)
			set = append(set, v)
		}
		factorSets = append(factorSets, set)
	}
	inAffected := make(map[int]bool, len(affectedVars))
	for _, v := range affectedVars {
		inAffected[v] = true
	}
	for _, o := range orphans {
		c := i.tree.Cached(o)
		if c == nil {
			continue
		}
		set := make([]int, 0, len(c.Indices()))
		for _, v := range c.Indices() {
			if inAffected[v] {
				set = append(set, v)
			}
		}
		if len(set) > 0 {
			factorSets = append(factorSets, set)
		}
	}

	// New variables go last by default; an explicit constraint map takes
	// over group assignment entirely.
	groups := make(map[int]int)
	if constrainedKeys == nil {
		for _, v := range newVars {
			groups[v] = 1
		}
	} else {
		for key, g := range constrainedKeys {
			if v, ok := i.ordering.IndexOf(key); ok && inAffected[v] {
				groups[v] = g
			}
		}
	}

	elimSeq := i.opts.strategy.ComputeOrdering(affectedVars, factorSets, groups)

	sorted := make([]int, len(affectedVars))
	copy(sorted, affectedVars)
	sort.Ints(sorted)

	relabel := ordering.Identity(i.ordering.Len())
	for k, v := range elimSeq {
		relabel[v] = sorted[k]
	}
	return relabel
}

// stashPending records the detached region after a failed elimination so the
// next update re-eliminates it.
func (i *ISAM) stashPending(affectedVars []int, relabel ordering.Permutation, orphans []bayestree.CliqueID) {
	vars := make([]int, len(affectedVars))
	for k, v := range affectedVars {
		vars[k] = relabel[v]
	}
	i.pendingVars = vars
	i.pendingOrphans = orphans
	i.pendingValid = true
}

// refreshDelta propagates the new factorization into the solution delta.
func (i *ISAM) refreshDelta(replaced *roaring.Bitmap, res *UpdateResult) int {
	if i.opts.optimizer == Dogleg {
		n := i.updateDogleg(replaced)
		res.DoglegRadius = i.doglegRadius
		return n
	}
	return i.tree.OptimizeWildfire(i.delta, replaced, i.opts.wildfireThreshold)
}

func removeSlot(slots []int, idx int) []int {
	for j, s := range slots {
		if s == idx {
			return append(slots[:j], slots[j+1:]...)
		}
	}
	return slots
}
