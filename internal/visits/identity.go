package visits

import (
	"context"
	"fmt"

	"gorm.io/gorm"
)

// Scope names the identifier column a first-seen check runs against.
type Scope string

const (
	ScopeDevice  Scope = "device_id"
	ScopeSession Scope = "session_id"
)

func (s Scope) valid() bool {
	return s == ScopeDevice || s == ScopeSession
}

// IdentityTracker answers whether a device or session has been seen before.
type IdentityTracker struct {
	db *gorm.DB
}

func NewIdentityTracker(db *gorm.DB) *IdentityTracker {
	return &IdentityTracker{db: db}
}

// IsFirstVisit reports whether no stored visit carries identifier in the
// given scope. An empty identifier is never a first visit. The check runs
// before the current visit is inserted, so two concurrent first requests
// may both see true.
func (t *IdentityTracker) IsFirstVisit(ctx context.Context, identifier string, scope Scope) (bool, error) {
	if identifier == "" {
		return false, nil
	}
	if !scope.valid() {
		return false, fmt.Errorf("unknown identity scope %q", scope)
	}

	var count int64
	err := t.db.WithContext(ctx).
		Model(&Visit{}).
		Where(string(scope)+" = ?", identifier).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("count visits by %s: %w", scope, err)
	}
	return count == 0, nil
}
