package pricing

import (
	"context"
	"errors"
	"strings"
)

// Mode selects whether a calculation may mutate usage counters.
type Mode string

const (
	// ModeSimulate checks limits against current counts without mutating them.
	ModeSimulate Mode = "simulate"
	// ModeCommit atomically reserves one use of every applied rule.
	ModeCommit Mode = "commit"
)

// ErrUsageStoreUnavailable is returned when a commit runs without a usage store.
var ErrUsageStoreUnavailable = errors.New("pricing: usage store unavailable")

// Reservation is one conditional increment request.
type Reservation struct {
	RuleID        string
	CustomerID    string
	GlobalLimit   *int64
	CustomerLimit *int64
	// CurrentCount is the global count known when the rule was loaded.
	CurrentCount int64
}

// ReservedAll is the denied index reported when a whole batch was reserved.
const ReservedAll = -1

// UsageStore owns usage counters. Reserve consumes one use per reservation
// atomically: either every reservation is taken, or none is and denied is the
// index of the first reservation without room.
type UsageStore interface {
	CustomerUsage(ctx context.Context, ruleID, customerID string) (int64, error)
	Reserve(ctx context.Context, rs []Reservation) (denied int, err error)
}

// GlobalCounter is implemented by stores that track the global count themselves.
type GlobalCounter interface {
	GlobalUsage(ctx context.Context, ruleID string) (int64, bool, error)
}

// UsageGuard gates rules on their usage limits.
type UsageGuard struct {
	Store UsageStore
}

// Check reports whether rule still has room for customerID. It never mutates.
func (g UsageGuard) Check(ctx context.Context, rule PriceRule, customerID string) (bool, error) {
	if rule.UsageLimit != nil {
		used := rule.UsageCount
		if counter, ok := g.Store.(GlobalCounter); ok {
			n, found, err := counter.GlobalUsage(ctx, rule.ID)
			if err != nil {
				return false, err
			}
			if found && n > used {
				used = n
			}
		}
		if used >= *rule.UsageLimit {
			return false, nil
		}
	}
	customerID = strings.TrimSpace(customerID)
	if rule.UsageLimitPerCustomer == nil || customerID == "" || g.Store == nil {
		return true, nil
	}
	used, err := g.Store.CustomerUsage(ctx, rule.ID, customerID)
	if err != nil {
		return false, err
	}
	return used < *rule.UsageLimitPerCustomer, nil
}

// Reserve consumes one use of every rule for customerID, all or nothing.
func (g UsageGuard) Reserve(ctx context.Context, rules []PriceRule, customerID string) (int, error) {
	if g.Store == nil {
		return ReservedAll, ErrUsageStoreUnavailable
	}
	customerID = strings.TrimSpace(customerID)
	rs := make([]Reservation, len(rules))
	for i, rule := range rules {
		rs[i] = Reservation{
			RuleID:        rule.ID,
			CustomerID:    customerID,
			GlobalLimit:   rule.UsageLimit,
			CustomerLimit: rule.UsageLimitPerCustomer,
			CurrentCount:  rule.UsageCount,
		}
	}
	return g.Store.Reserve(ctx, rs)
}
