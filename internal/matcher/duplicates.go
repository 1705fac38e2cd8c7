package matcher

import (
	"fmt"
	"math"

	"voucher-reconciliation-engine/internal/models"

	"github.com/texttheater/golang-levenshtein/levenshtein"
)

// DuplicateGroup is a set of vouchers that look like the same economic
// transaction entered more than once: identical amount, identical date and
// highly similar narration.
type DuplicateGroup struct {
	Key      string           `json:"key"`
	Vouchers []*models.Voucher `json:"vouchers"`
}

// duplicateNarrationThreshold is the text similarity above which two
// same-amount, same-date vouchers are flagged as probable duplicates.
const duplicateNarrationThreshold = 0.8

// DetectDuplicateVouchers scans a batch of vouchers for probable duplicates.
// Duplicates are surfaced as batch warnings so a reviewer can exclude them;
// they are never removed automatically.
func DetectDuplicateVouchers(vouchers []*models.Voucher) []DuplicateGroup {
	buckets := make(map[string][]*models.Voucher)
	var order []string

	for _, v := range vouchers {
		key := fmt.Sprintf("%s|%s", v.Amount.Abs().String(), v.Date.Format("2006-01-02"))
		if _, seen := buckets[key]; !seen {
			order = append(order, key)
		}
		buckets[key] = append(buckets[key], v)
	}

	var groups []DuplicateGroup
	for _, key := range order {
		bucket := buckets[key]
		if len(bucket) < 2 {
			continue
		}

		group := []*models.Voucher{bucket[0]}
		for _, other := range bucket[1:] {
			if narrationsSimilar(bucket[0].Narration, other.Narration) {
				group = append(group, other)
			}
		}

		if len(group) >= 2 {
			groups = append(groups, DuplicateGroup{Key: key, Vouchers: group})
		}
	}

	return groups
}

func narrationsSimilar(a, b string) bool {
	na := normalizeText(a)
	nb := normalizeText(b)

	// Two blank narrations with the same amount and date are suspicious
	// enough to flag on their own.
	if na == "" && nb == "" {
		return true
	}

	if na == nb {
		return true
	}

	// Same combined signal as the text scorer: token overlap misses a
	// narration that merely gained a trailing word, edit distance catches it.
	overlap := tokenOverlapRatio(na, nb)
	ratio := levenshtein.RatioForStrings([]rune(na), []rune(nb), levenshtein.DefaultOptions)

	return math.Max(overlap, ratio) >= duplicateNarrationThreshold
}
