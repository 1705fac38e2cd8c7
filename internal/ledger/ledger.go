// Package ledger provides the append-only audit log of reconciliation
// decisions. The ledger is the system of record: once a decision is written
// it is never mutated or deleted, and no API surface for mutation exists.
// Corrections are expressed as new decisions that reference the superseded
// one.
package ledger

import (
	"sort"
	"sync"
	"time"

	"voucher-reconciliation-engine/internal/models"
	"voucher-reconciliation-engine/pkg/errors"

	"github.com/google/uuid"
)

// Ledger is the narrow persistence contract for match decisions. There is
// deliberately no update or delete operation.
type Ledger interface {
	// Record appends one decision and returns its assigned ID
	Record(decision *models.MatchDecision) (string, error)

	// History returns every decision for a source record in chronological
	// order, for audit and replay
	History(tenantID, sourceID string) ([]*models.MatchDecision, error)

	// Get returns one decision by ID, scoped to a tenant
	Get(tenantID, decisionID string) (*models.MatchDecision, error)
}

// MemoryLedger is the in-memory Ledger used by the CLI host and tests.
// A SQL-backed implementation satisfies the same interface in production.
type MemoryLedger struct {
	mu       sync.RWMutex
	byTenant map[string][]*models.MatchDecision
	byID     map[string]*models.MatchDecision
	seq      uint64
}

// NewMemoryLedger creates an empty in-memory ledger
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		byTenant: make(map[string][]*models.MatchDecision),
		byID:     make(map[string]*models.MatchDecision),
	}
}

// Record appends one decision. The stored copy is deep-cloned so later
// changes to the caller's value cannot alter written history.
func (ml *MemoryLedger) Record(decision *models.MatchDecision) (string, error) {
	if decision == nil {
		return "", errors.ValidationError(errors.CodeMissingField, "decision", nil, nil)
	}

	if err := decision.Validate(); err != nil {
		return "", errors.ValidationError(errors.CodeMissingField, "decision", decision.SourceID, err)
	}

	stored := decision.Clone()
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}

	ml.mu.Lock()
	defer ml.mu.Unlock()

	if _, exists := ml.byID[stored.ID]; exists {
		return "", errors.PersistenceError(errors.CodeLedgerWriteFailed, "memory ledger", nil).
			WithContext("decision_id", stored.ID)
	}

	ml.seq++
	ml.byTenant[stored.TenantID] = append(ml.byTenant[stored.TenantID], stored)
	ml.byID[stored.ID] = stored

	return stored.ID, nil
}

// History returns the chronological decision history for one source record.
// Entries are returned as copies; the stored history cannot be modified
// through the returned values.
func (ml *MemoryLedger) History(tenantID, sourceID string) ([]*models.MatchDecision, error) {
	if tenantID == "" {
		return nil, errors.ValidationError(errors.CodeInvalidTenant, "tenant_id", tenantID, nil)
	}

	ml.mu.RLock()
	defer ml.mu.RUnlock()

	var history []*models.MatchDecision
	for _, decision := range ml.byTenant[tenantID] {
		if decision.SourceID == sourceID {
			history = append(history, decision.Clone())
		}
	}

	sort.SliceStable(history, func(i, j int) bool {
		return history[i].CreatedAt.Before(history[j].CreatedAt)
	})

	return history, nil
}

// Get returns one decision by ID. Lookups across tenant boundaries fail the
// same way as missing decisions, so IDs do not leak between tenants.
func (ml *MemoryLedger) Get(tenantID, decisionID string) (*models.MatchDecision, error) {
	ml.mu.RLock()
	defer ml.mu.RUnlock()

	decision, ok := ml.byID[decisionID]
	if !ok || decision.TenantID != tenantID {
		return nil, errors.ReconciliationError(errors.CodeDecisionUnknown, "ledger lookup", nil).
			WithContext("decision_id", decisionID)
	}

	return decision.Clone(), nil
}

// Count returns the number of decisions recorded for a tenant
func (ml *MemoryLedger) Count(tenantID string) int {
	ml.mu.RLock()
	defer ml.mu.RUnlock()

	return len(ml.byTenant[tenantID])
}
