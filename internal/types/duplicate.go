package types

import (
	"time"

	"github.com/google/uuid"
)

// CandidateStatus tracks the review lifecycle of a duplicate pair.
type CandidateStatus string

const (
	CandidatePending  CandidateStatus = "pending"
	CandidateReviewed CandidateStatus = "reviewed"
	CandidateMerged   CandidateStatus = "merged"
	CandidateRejected CandidateStatus = "rejected"
)

// ConfidenceBand is a presentation label derived from the numeric
// confidence score; it never changes scoring.
type ConfidenceBand string

const (
	BandHigh   ConfidenceBand = "high"
	BandMedium ConfidenceBand = "medium"
	BandLow    ConfidenceBand = "low"
)

// DuplicateCandidate matches the duplicate_candidates table structure.
// VenueAID/VenueBID are canonically ordered (VenueAID < VenueBID) and
// unique as a pair; detector re-runs upsert rather than duplicate.
type DuplicateCandidate struct {
	ID                 uuid.UUID       `json:"id"`
	VenueAID           uuid.UUID       `json:"venue_a_id"`
	VenueBID           uuid.UUID       `json:"venue_b_id"`
	NameSimilarity     float64         `json:"name_similarity"`
	LocationSimilarity float64         `json:"location_similarity"`
	ConfidenceScore    float64         `json:"confidence_score"`
	MatchCriteria      []string        `json:"match_criteria"`
	Status             CandidateStatus `json:"status"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

// Band labels the confidence score: high >= 0.90, medium >= 0.75,
// low below that.
func (c *DuplicateCandidate) Band() ConfidenceBand {
	switch {
	case c.ConfidenceScore >= 0.90:
		return BandHigh
	case c.ConfidenceScore >= 0.75:
		return BandMedium
	default:
		return BandLow
	}
}

// ScanSummary reports what one detector pass did.
type ScanSummary struct {
	BucketsScanned     int           `json:"buckets_scanned"`
	BucketsFailed      int           `json:"buckets_failed"`
	PairsCompared      int           `json:"pairs_compared"`
	CandidatesUpserted int           `json:"candidates_upserted"`
	Duration           time.Duration `json:"duration"`
}
