package accounting

import (
	"context"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"golang.org/x/text/cases"
)

// ---------------------------------------------------------------------------
// VendorMapping Entity
// ---------------------------------------------------------------------------

// VendorMapping maps a tenant's normalized vendor key to the vendor record on
// the external accounting system. Mappings are created lazily on the first
// successful vendor resolution and are never deleted, only superseded.
type VendorMapping struct {
	// ID is the unique identifier of this mapping
	ID uuid.UUID
	// TenantID is the tenant this mapping belongs to
	TenantID uuid.UUID
	// NormalizedKey is the normalized vendor name key (unique per tenant)
	NormalizedKey string
	// DisplayName is the vendor name as first observed (for reference)
	DisplayName string
	// ExternalVendorID is the vendor ID on the accounting system
	ExternalVendorID string
	// SupersededBy is set when a later mapping replaces this one
	SupersededBy *uuid.UUID
	// CreatedAt is when this mapping was created
	CreatedAt time.Time
	// UpdatedAt is when this mapping was last updated
	UpdatedAt time.Time
}

// NewVendorMapping creates a new vendor mapping
func NewVendorMapping(tenantID uuid.UUID, normalizedKey, displayName, externalVendorID string) (*VendorMapping, error) {
	if tenantID == uuid.Nil {
		return nil, ErrInvalidTenantID
	}
	if normalizedKey == "" {
		return nil, ErrInvalidVendorKey
	}
	now := time.Now()
	return &VendorMapping{
		ID:               uuid.New(),
		TenantID:         tenantID,
		NormalizedKey:    normalizedKey,
		DisplayName:      displayName,
		ExternalVendorID: externalVendorID,
		CreatedAt:        now,
		UpdatedAt:        now,
	}, nil
}

// Supersede marks this mapping as replaced by another
func (m *VendorMapping) Supersede(byID uuid.UUID) {
	m.SupersededBy = &byID
	m.UpdatedAt = time.Now()
}

// IsCurrent returns true if this mapping has not been superseded
func (m *VendorMapping) IsCurrent() bool {
	return m.SupersededBy == nil
}

// ---------------------------------------------------------------------------
// VendorMappingRepository Interface
// ---------------------------------------------------------------------------

// VendorMappingRepository defines the interface for persisting vendor mappings.
// All lookups and writes are scoped to a single tenant.
type VendorMappingRepository interface {
	// Save creates or updates a mapping
	Save(ctx context.Context, mapping *VendorMapping) error

	// FindByKey finds the current mapping for a normalized vendor key
	FindByKey(ctx context.Context, tenantID uuid.UUID, normalizedKey string) (*VendorMapping, error)

	// FindCurrentForTenant returns all current (not superseded) mappings for a tenant
	FindCurrentForTenant(ctx context.Context, tenantID uuid.UUID) ([]VendorMapping, error)
}

// ---------------------------------------------------------------------------
// Vendor Name Normalization
// ---------------------------------------------------------------------------

var vendorCaseFolder = cases.Fold()

// NormalizeVendorKey normalizes a raw vendor name into the stable lookup key:
// Unicode case folding, punctuation stripped, whitespace collapsed to single
// spaces. "Acme Corp" and "ACME CORP." normalize to the same key.
func NormalizeVendorKey(name string) string {
	folded := vendorCaseFolder.String(name)
	var b strings.Builder
	b.Grow(len(folded))
	lastSpace := true
	for _, r := range folded {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastSpace = false
		case unicode.IsSpace(r) || unicode.IsPunct(r) || unicode.IsSymbol(r):
			if !lastSpace {
				b.WriteRune(' ')
				lastSpace = true
			}
		}
	}
	return strings.TrimSpace(b.String())
}

// ---------------------------------------------------------------------------
// Similarity
// ---------------------------------------------------------------------------

// VendorSimilarity scores how likely two normalized vendor keys refer to the
// same vendor, in [0,1]. It takes the better of a token-set Jaccard overlap
// and a normalized Levenshtein ratio, so both word reordering ("Corp Acme")
// and small typos ("Acme Crop") score high.
func VendorSimilarity(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1
	}
	j := tokenSetJaccard(a, b)
	l := levenshteinRatio(a, b)
	if j > l {
		return j
	}
	return l
}

// tokenSetJaccard computes |A∩B| / |A∪B| over whitespace-separated tokens
func tokenSetJaccard(a, b string) float64 {
	setA := make(map[string]struct{})
	for _, t := range strings.Fields(a) {
		setA[t] = struct{}{}
	}
	setB := make(map[string]struct{})
	for _, t := range strings.Fields(b) {
		setB[t] = struct{}{}
	}
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}
	intersect := 0
	for t := range setA {
		if _, ok := setB[t]; ok {
			intersect++
		}
	}
	union := len(setA) + len(setB) - intersect
	return float64(intersect) / float64(union)
}

// levenshteinRatio returns 1 - editDistance/maxLen over runes
func levenshteinRatio(a, b string) float64 {
	ra := []rune(a)
	rb := []rune(b)
	maxLen := len(ra)
	if len(rb) > maxLen {
		maxLen = len(rb)
	}
	if maxLen == 0 {
		return 1
	}
	return 1 - float64(levenshtein(ra, rb))/float64(maxLen)
}

// levenshtein computes the edit distance with a two-row matrix
func levenshtein(a, b []rune) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := 0; j <= len(b); j++ {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = minInt(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}

func minInt(vals ...int) int {
	m := vals[0]
	for _, v := range vals[1:] {
		if v < m {
			m = v
		}
	}
	return m
}
