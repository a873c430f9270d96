// Package invalidation describes cache invalidation events for the registry
// statistics and applies them to a cache.
package invalidation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mohammed-shakir/burial-registry/internal/core/model"
)

const (
	ScopeHierarchy = "hierarchy"
	ScopeDistrict  = "district"
	ScopeAll       = "all"
)

// Event announces that archival data changed. Version is a revision that
// increases per scope key; a redelivered or older version is ignored.
type Event struct {
	Version    uint64    `json:"version"`
	Op         string    `json:"op"`
	Scope      string    `json:"scope"`
	DistrictID model.ID  `json:"district_id,omitempty"`
	TS         time.Time `json:"ts"`
	Source     string    `json:"source,omitempty"`
}

func (e Event) Validate() error {
	if e.Version == 0 {
		return fmt.Errorf("version must be > 0")
	}
	switch e.Op {
	case "insert", "update", "delete":
	default:
		return fmt.Errorf("op must be insert|update|delete")
	}
	if e.TS.IsZero() {
		return fmt.Errorf("ts is required")
	}
	switch e.Scope {
	case ScopeDistrict:
		if strings.TrimSpace(string(e.DistrictID)) == "" {
			return fmt.Errorf("district_id is required for scope %q", e.Scope)
		}
	case ScopeHierarchy, ScopeAll:
		if e.DistrictID != "" {
			return fmt.Errorf("district_id is not allowed for scope %q", e.Scope)
		}
	default:
		return fmt.Errorf("scope must be hierarchy|district|all")
	}
	return nil
}

// Key identifies what the event invalidates; versions are compared per key.
func (e Event) Key() string {
	if e.Scope == ScopeDistrict {
		return ScopeDistrict + ":" + string(e.DistrictID)
	}
	return e.Scope
}

// Target drops cached data.
type Target interface {
	InvalidateHierarchy(ctx context.Context) error
	InvalidateDistrict(ctx context.Context, districtID model.ID) error
	InvalidateAll(ctx context.Context) error
}

// Apply routes a validated event to t.
func Apply(ctx context.Context, t Target, ev Event) error {
	switch ev.Scope {
	case ScopeHierarchy:
		return t.InvalidateHierarchy(ctx)
	case ScopeDistrict:
		return t.InvalidateDistrict(ctx, ev.DistrictID)
	case ScopeAll:
		return t.InvalidateAll(ctx)
	default:
		return fmt.Errorf("unsupported scope %q", ev.Scope)
	}
}
