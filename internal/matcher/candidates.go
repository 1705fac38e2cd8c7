package matcher

import (
	"sort"

	"voucher-reconciliation-engine/internal/models"
)

// CandidateGenerator selects the subset of a tenant's external records worth
// scoring against one voucher. Filtering is deliberately coarse: same tenant,
// matchable status, date within the configured window.
type CandidateGenerator struct {
	config *MatchingConfig
}

// NewCandidateGenerator creates a candidate generator with the given config
func NewCandidateGenerator(config *MatchingConfig) *CandidateGenerator {
	if config == nil {
		config = DefaultMatchingConfig()
	}

	return &CandidateGenerator{config: config}
}

// Generate returns the ordered candidate list for one voucher. Candidates are
// ordered nearest-date-first with record ID as a stable tie-break, so the
// result is deterministic for a fixed pool.
//
// When the filtered pool exceeds the candidate cap it is truncated and the
// second return value is true; truncation is a performance warning for the
// batch summary, not an error. An empty result is likewise not an error.
func (cg *CandidateGenerator) Generate(source *models.Voucher, pool []*models.ExternalRecord) ([]*models.ExternalRecord, bool) {
	var candidates []*models.ExternalRecord

	for _, target := range pool {
		if target.TenantID != source.TenantID {
			continue
		}

		if !target.Status.Matchable() {
			continue
		}

		if DaysBetween(source.Date, target.Date) > cg.config.DateWindowDays {
			continue
		}

		candidates = append(candidates, target)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		di := DaysBetween(source.Date, candidates[i].Date)
		dj := DaysBetween(source.Date, candidates[j].Date)
		if di != dj {
			return di < dj
		}
		return candidates[i].ID < candidates[j].ID
	})

	if len(candidates) > cg.config.CandidateCap {
		return candidates[:cg.config.CandidateCap], true
	}

	return candidates, false
}
