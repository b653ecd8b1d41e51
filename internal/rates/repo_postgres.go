package rates

import (
	"context"
	"database/sql"
	"fmt"
)

// LoadRules reads the full rate table. Callers hand the result to
// MemoryRepo.ReplaceAll; lookups always run against the in-memory snapshot,
// never against the database.
func LoadRules(ctx context.Context, db *sql.DB) ([]RateRule, error) {
	const q = `
SELECT id, prefix, display_name, rate_per_minute,
       minimum_duration_seconds, billing_increment_seconds,
       effective_from, active, created_at, updated_at
FROM rate_rules
ORDER BY prefix ASC, effective_from ASC
`
	rows, err := db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("rates: load rules: %w", err)
	}
	defer rows.Close()

	var out []RateRule
	for rows.Next() {
		var r RateRule
		if err := rows.Scan(
			&r.ID, &r.Prefix, &r.DisplayName, &r.RatePerMinute,
			&r.MinimumDurationSeconds, &r.BillingIncrementSeconds,
			&r.EffectiveFrom, &r.Active, &r.CreatedAt, &r.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("rates: scan rule: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rates: load rules: %w", err)
	}
	return out, nil
}

// Reload replaces the active snapshot from the database in one step.
func Reload(ctx context.Context, db *sql.DB, repo *MemoryRepo) (int, error) {
	rules, err := LoadRules(ctx, db)
	if err != nil {
		return 0, err
	}
	if err := repo.ReplaceAll(ctx, rules); err != nil {
		return 0, err
	}
	return len(rules), nil
}
