package importer

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"example.com/backuprestore/internal/domain"
)

// Scope controls whose exercises a name reference may resolve to.
type Scope string

const (
	// ScopeGlobal matches any non-deleted exercise regardless of owner.
	ScopeGlobal Scope = "global"
	// ScopeOwner matches the importer's own exercises and system exercises only.
	ScopeOwner Scope = "owner"
)

// ParseScope validates a configured scope name.
func ParseScope(value string) (Scope, error) {
	switch Scope(strings.ToLower(strings.TrimSpace(value))) {
	case "", ScopeGlobal:
		return ScopeGlobal, nil
	case ScopeOwner:
		return ScopeOwner, nil
	default:
		return "", fmt.Errorf("unknown resolver scope %q", value)
	}
}

// Resolver maps exercise names found in a backup to stored exercises.
type Resolver struct {
	scope Scope
}

// NewResolver constructs a Resolver for the given scope.
func NewResolver(scope Scope) *Resolver {
	if scope == "" {
		scope = ScopeGlobal
	}
	return &Resolver{scope: scope}
}

// Scope reports the configured scope.
func (r *Resolver) Scope() Scope {
	return r.scope
}

// session returns a lookup bound to one unit of work. Results are memoised for the
// lifetime of the lookup, so it must only be opened once no more exercises will be
// created in that unit of work.
func (r *Resolver) session(tx domain.Tx, ownerID string) *lookup {
	return &lookup{
		scope:   r.scope,
		tx:      tx,
		ownerID: ownerID,
		memo:    make(map[string]*domain.Exercise),
	}
}

type lookup struct {
	scope   Scope
	tx      domain.Tx
	ownerID string
	memo    map[string]*domain.Exercise
}

// Resolve returns the best match for name, or nil when nothing matches.
func (l *lookup) Resolve(ctx context.Context, name string) (*domain.Exercise, error) {
	// Same normalisation as the store lookup: case-insensitive, whitespace significant.
	key := strings.ToLower(name)
	if cached, ok := l.memo[key]; ok {
		return cached, nil
	}

	candidates, err := l.tx.FindExercisesByName(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("resolve exercise %q: %w", name, err)
	}

	best := pick(candidates, l.ownerID, l.scope)
	l.memo[key] = best
	return best, nil
}

// pick prefers the owner's exercise, then a system exercise, then the oldest match.
func pick(candidates []domain.Exercise, ownerID string, scope Scope) *domain.Exercise {
	eligible := make([]domain.Exercise, 0, len(candidates))
	for _, ex := range candidates {
		if ex.IsDeleted {
			continue
		}
		if scope == ScopeOwner && !ex.IsSystem && !ex.OwnedBy(ownerID) {
			continue
		}
		eligible = append(eligible, ex)
	}
	if len(eligible) == 0 {
		return nil
	}

	rank := func(ex domain.Exercise) int {
		switch {
		case ex.OwnedBy(ownerID):
			return 0
		case ex.IsSystem:
			return 1
		default:
			return 2
		}
	}
	sort.SliceStable(eligible, func(i, j int) bool {
		ri, rj := rank(eligible[i]), rank(eligible[j])
		if ri != rj {
			return ri < rj
		}
		if !eligible[i].CreatedAt.Equal(eligible[j].CreatedAt) {
			return eligible[i].CreatedAt.Before(eligible[j].CreatedAt)
		}
		return eligible[i].ID < eligible[j].ID
	})
	return &eligible[0]
}
