package engine

import (
	"sort"
	"sync"
	"time"

	"voucher-reconciliation-engine/internal/models"
	"voucher-reconciliation-engine/pkg/errors"
)

// DateRange bounds a record listing. Zero From or To means unbounded on
// that side.
type DateRange struct {
	From time.Time
	To   time.Time
}

// Contains reports whether t falls inside the range
func (r DateRange) Contains(t time.Time) bool {
	if !r.From.IsZero() && t.Before(r.From) {
		return false
	}
	if !r.To.IsZero() && t.After(r.To) {
		return false
	}
	return true
}

// RecordStore is the contract to the upstream entity store that owns source
// vouchers and external target records. The engine reads both sides and
// writes back only target status transitions.
type RecordStore interface {
	// ListUnmatchedSources returns the tenant's vouchers still awaiting
	// reconciliation, inside the date range
	ListUnmatchedSources(tenantID string, window DateRange) ([]*models.Voucher, error)

	// ListUnmatchedTargets returns the tenant's matchable target records
	// inside the date range
	ListUnmatchedTargets(tenantID string, window DateRange) ([]*models.ExternalRecord, error)

	// MarkTargetStatus transitions one target's status. Marking an
	// already-consumed target as Matched fails with a target_consumed
	// error.
	MarkTargetStatus(tenantID, targetID string, status models.RecordStatus) error

	// MarkSourceReconciled excludes a settled voucher from future
	// ListUnmatchedSources results
	MarkSourceReconciled(tenantID, voucherID string) error
}

// MemoryStore is the in-memory RecordStore used by the CLI host and tests
type MemoryStore struct {
	mu         sync.RWMutex
	vouchers   map[string][]*models.Voucher
	targets    map[string][]*models.ExternalRecord
	reconciled map[string]bool
}

// NewMemoryStore creates an empty in-memory record store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		vouchers:   make(map[string][]*models.Voucher),
		targets:    make(map[string][]*models.ExternalRecord),
		reconciled: make(map[string]bool),
	}
}

// AddVouchers loads source vouchers into the store
func (ms *MemoryStore) AddVouchers(vouchers []*models.Voucher) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	for _, v := range vouchers {
		if err := v.Validate(); err != nil {
			return errors.ValidationError(errors.CodeMissingField, "voucher", v.ID, err)
		}
		cp := *v
		ms.vouchers[v.TenantID] = append(ms.vouchers[v.TenantID], &cp)
	}

	return nil
}

// AddTargets loads external target records into the store
func (ms *MemoryStore) AddTargets(targets []*models.ExternalRecord) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	for _, t := range targets {
		if t.Status == "" {
			t.Status = models.StatusUnmatched
		}
		if err := t.Validate(); err != nil {
			return errors.ValidationError(errors.CodeMissingField, "external_record", t.ID, err)
		}
		cp := *t
		ms.targets[t.TenantID] = append(ms.targets[t.TenantID], &cp)
	}

	return nil
}

// ListUnmatchedSources returns copies of the tenant's pending vouchers,
// ordered by date then ID for reproducible batches.
func (ms *MemoryStore) ListUnmatchedSources(tenantID string, window DateRange) ([]*models.Voucher, error) {
	if tenantID == "" {
		return nil, errors.ValidationError(errors.CodeInvalidTenant, "tenant_id", tenantID, nil)
	}

	ms.mu.RLock()
	defer ms.mu.RUnlock()

	var pending []*models.Voucher
	for _, v := range ms.vouchers[tenantID] {
		if ms.reconciled[sourceKey(tenantID, v.ID)] {
			continue
		}
		if !window.Contains(v.Date) {
			continue
		}
		cp := *v
		pending = append(pending, &cp)
	}

	sort.SliceStable(pending, func(i, j int) bool {
		if !pending[i].Date.Equal(pending[j].Date) {
			return pending[i].Date.Before(pending[j].Date)
		}
		return pending[i].ID < pending[j].ID
	})

	return pending, nil
}

// ListUnmatchedTargets returns copies of the tenant's matchable targets
// inside the window
func (ms *MemoryStore) ListUnmatchedTargets(tenantID string, window DateRange) ([]*models.ExternalRecord, error) {
	if tenantID == "" {
		return nil, errors.ValidationError(errors.CodeInvalidTenant, "tenant_id", tenantID, nil)
	}

	ms.mu.RLock()
	defer ms.mu.RUnlock()

	var pool []*models.ExternalRecord
	for _, t := range ms.targets[tenantID] {
		if !t.Status.Matchable() {
			continue
		}
		if !window.Contains(t.Date) {
			continue
		}
		cp := *t
		pool = append(pool, &cp)
	}

	sort.SliceStable(pool, func(i, j int) bool {
		if !pool[i].Date.Equal(pool[j].Date) {
			return pool[i].Date.Before(pool[j].Date)
		}
		return pool[i].ID < pool[j].ID
	})

	return pool, nil
}

// MarkTargetStatus transitions a target's status. A Matched target can never
// be re-matched; attempting to do so reports a consistency violation.
func (ms *MemoryStore) MarkTargetStatus(tenantID, targetID string, status models.RecordStatus) error {
	if !status.IsValid() {
		return errors.ValidationError(errors.CodeMissingField, "status", status, nil)
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	for _, t := range ms.targets[tenantID] {
		if t.ID != targetID {
			continue
		}

		if status == models.StatusMatched && !t.Status.Matchable() {
			return errors.ReconciliationError(errors.CodeTargetConsumed, "mark target status", nil).
				WithContext("target_id", targetID).
				WithContext("current_status", string(t.Status))
		}

		t.Status = status
		return nil
	}

	return errors.ReconciliationError(errors.CodeDecisionUnknown, "mark target status", nil).
		WithContext("target_id", targetID)
}

// MarkSourceReconciled excludes a voucher from future unmatched listings
func (ms *MemoryStore) MarkSourceReconciled(tenantID, voucherID string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	ms.reconciled[sourceKey(tenantID, voucherID)] = true
	return nil
}

// TargetStatus returns one target's current status, for tests and reports
func (ms *MemoryStore) TargetStatus(tenantID, targetID string) (models.RecordStatus, bool) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	for _, t := range ms.targets[tenantID] {
		if t.ID == targetID {
			return t.Status, true
		}
	}
	return "", false
}

func sourceKey(tenantID, voucherID string) string {
	return tenantID + "/" + voucherID
}
