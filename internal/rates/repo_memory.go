package rates

import (
	"context"
	"sync/atomic"
)

// MemoryRepo holds rate rules in an immutable snapshot with a precomputed
// prefix index. Reads are lock-free; ReplaceAll swaps the whole snapshot, so
// a call that already resolved its rate never observes a partial update.
type MemoryRepo struct {
	v atomic.Value // *ruleSnap
}

type ruleSnap struct {
	rules        []RateRule
	byPrefix     map[string][]int
	maxPrefixLen int
}

func NewMemoryRepo() *MemoryRepo {
	r := &MemoryRepo{}
	r.v.Store(&ruleSnap{byPrefix: map[string][]int{}})
	return r
}

// ReplaceAll validates and installs a new rule set. Misconfigured rules
// reject the whole set; billing must never run against partial rates.
func (r *MemoryRepo) ReplaceAll(ctx context.Context, rules []RateRule) error {
	_ = ctx

	rs := make([]RateRule, len(rules))
	copy(rs, rules)

	byPrefix := make(map[string][]int, len(rs))
	maxL := 0

	for i := range rs {
		if err := rs[i].Validate(); err != nil {
			return err
		}
		p := rs[i].Prefix
		byPrefix[p] = append(byPrefix[p], i)
		if len(p) > maxL {
			maxL = len(p)
		}
	}

	r.v.Store(&ruleSnap{
		rules:        rs,
		byPrefix:     byPrefix,
		maxPrefixLen: maxL,
	})
	return nil
}

// VisitByDestination walks candidate rules from the longest matching prefix
// to the shortest. digits must already be normalized. Returning false from
// visit stops the walk.
func (r *MemoryRepo) VisitByDestination(ctx context.Context, digits string, visit func(rule *RateRule, prefixLen int) bool) error {
	_ = ctx

	s := r.v.Load().(*ruleSnap)
	if len(s.rules) == 0 || digits == "" {
		return nil
	}

	maxL := s.maxPrefixLen
	if maxL > len(digits) {
		maxL = len(digits)
	}

	for l := maxL; l >= 1; l-- {
		idxs := s.byPrefix[digits[:l]]
		for _, idx := range idxs {
			if !visit(&s.rules[idx], l) {
				return nil
			}
		}
	}
	return nil
}
