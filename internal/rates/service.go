package rates

import (
	"context"
	"time"
)

// RuleRepository abstracts rate rule storage.
//
// Implementations must present an immutable view per visit: a resolution in
// flight never sees a half-applied rule update.
type RuleRepository interface {
	ReplaceAll(ctx context.Context, rules []RateRule) error
	VisitByDestination(ctx context.Context, digits string, visit func(rule *RateRule, prefixLen int) bool) error
}

// Service resolves destinations to rate rules.
//
// Resolution contract:
// - destination is cleaned to digits first
// - among active rules with effective_from <= at, the longest prefix wins
// - equal-length prefixes tie-break on the most recent effective_from
// - no match is a hard billing error (ErrRateNotFound): an unratable call
//   must not proceed.
type Service struct {
	repo  RuleRepository
	clock func() time.Time
}

func NewService(repo RuleRepository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

// Resolve returns the applicable rule for destination at the given time.
// A zero `at` uses the service clock.
func (s *Service) Resolve(ctx context.Context, destination string, at time.Time) (RateRule, error) {
	digits := NormalizeDestination(destination)
	if digits == "" {
		return RateRule{}, ErrEmptyDestination
	}
	if at.IsZero() {
		at = s.clock().UTC()
	}

	var best RateRule
	bestLen := -1
	found := false

	err := s.repo.VisitByDestination(ctx, digits, func(rule *RateRule, prefixLen int) bool {
		if !rule.Active || at.Before(rule.EffectiveFrom) {
			return true
		}
		// The repo walks longest-first, so the first matching length wins;
		// within a length, prefer the most recent effective_from.
		if prefixLen < bestLen {
			return false
		}
		if !found || prefixLen > bestLen || rule.EffectiveFrom.After(best.EffectiveFrom) {
			best = *rule
			bestLen = prefixLen
			found = true
		}
		return true
	})
	if err != nil {
		return RateRule{}, err
	}
	if !found {
		return RateRule{}, ErrRateNotFound
	}
	return best, nil
}
