package dedupe

import (
	"math"
	"net/url"
	"strings"

	"github.com/agnivade/levenshtein"
	"github.com/xrash/smetrics"

	"github.com/triviahound/venue-directory/internal/types"
)

// Policy holds the scoring weights and thresholds. They are
// configuration, not logic baked into the scorer: the container builds
// a Policy from config and passes it through every call.
type Policy struct {
	// NameWeight and LocationWeight combine the two signals into the
	// confidence score.
	NameWeight     float64
	LocationWeight float64
	// JaroWinklerWeight and LevenshteinWeight blend the two string
	// measures inside name similarity.
	JaroWinklerWeight float64
	LevenshteinWeight float64
	// PostcodeBonus is added to the confidence when both venues share a
	// postcode.
	PostcodeBonus float64
	// RadiusMeters is the distance at which location similarity decays
	// to zero.
	RadiusMeters float64
	// MinConfidence is the floor below which a pair is not persisted.
	MinConfidence float64
	// Workers bounds how many locality buckets are scanned in parallel.
	Workers int
}

// DefaultPolicy returns the weights used when config leaves them unset.
func DefaultPolicy() Policy {
	return Policy{
		NameWeight:        0.6,
		LocationWeight:    0.4,
		JaroWinklerWeight: 0.7,
		LevenshteinWeight: 0.3,
		PostcodeBonus:     0.05,
		RadiusMeters:      500,
		MinConfidence:     0.5,
		Workers:           4,
	}
}

// PairScore is the detector's verdict on one candidate pair.
type PairScore struct {
	NameSimilarity     float64
	LocationSimilarity float64
	Confidence         float64
	Criteria           []string
}

// normalizeName case-folds and strips punctuation so "The King's Head"
// and "the kings head" compare equal.
func normalizeName(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ' || r == '\t':
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// NameSimilarity blends Jaro-Winkler and a Levenshtein ratio over the
// normalized names, in [0,1].
func NameSimilarity(a, b string, p Policy) float64 {
	na, nb := normalizeName(a), normalizeName(b)
	if na == "" || nb == "" {
		return 0
	}
	if na == nb {
		return 1
	}
	jw := smetrics.JaroWinkler(na, nb, 0.7, 4)
	dist := levenshtein.ComputeDistance(na, nb)
	maxLen := len(na)
	if len(nb) > maxLen {
		maxLen = len(nb)
	}
	lev := 1.0 - float64(dist)/float64(maxLen)
	return clamp01(p.JaroWinklerWeight*jw + p.LevenshteinWeight*lev)
}

// LocationSimilarity decays linearly from 1.0 at distance zero to 0 at
// radiusMeters and beyond. Missing coordinates score 0.
func LocationSimilarity(aLat, aLng, bLat, bLng, radiusMeters float64) float64 {
	if (aLat == 0 && aLng == 0) || (bLat == 0 && bLng == 0) {
		return 0
	}
	d := haversineMeters(aLat, aLng, bLat, bLng)
	if d >= radiusMeters {
		return 0
	}
	return 1 - d/radiusMeters
}

const earthRadiusMeters = 6371000

// haversineMeters returns the great-circle distance between two points.
func haversineMeters(lat1, lng1, lat2, lng2 float64) float64 {
	rad := math.Pi / 180
	dLat := (lat2 - lat1) * rad
	dLng := (lng2 - lng1) * rad
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*rad)*math.Cos(lat2*rad)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusMeters * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// ScorePair scores one candidate pair and records which heuristics
// fired, for transparency in review.
func ScorePair(a, b types.Venue, p Policy) PairScore {
	score := PairScore{
		NameSimilarity:     NameSimilarity(a.Name, b.Name, p),
		LocationSimilarity: LocationSimilarity(a.Lat, a.Lng, b.Lat, b.Lng, p.RadiusMeters),
	}
	score.Confidence = p.NameWeight*score.NameSimilarity + p.LocationWeight*score.LocationSimilarity

	na, nb := normalizeName(a.Name), normalizeName(b.Name)
	switch {
	case na != "" && na == nb:
		score.Criteria = append(score.Criteria, "name exact match")
	case na != "" && nb != "" && (strings.Contains(na, nb) || strings.Contains(nb, na)):
		score.Criteria = append(score.Criteria, "name substring match")
	}

	if a.Postcode != nil && b.Postcode != nil && *a.Postcode == *b.Postcode {
		score.Criteria = append(score.Criteria, "same postcode")
		score.Confidence += p.PostcodeBonus
	}
	if a.Phone != nil && b.Phone != nil && phoneDigits(*a.Phone) == phoneDigits(*b.Phone) && phoneDigits(*a.Phone) != "" {
		score.Criteria = append(score.Criteria, "same phone")
	}
	if ha, hb := websiteHost(a.Website), websiteHost(b.Website); ha != "" && ha == hb {
		score.Criteria = append(score.Criteria, "same website domain")
	}
	if score.LocationSimilarity > 0 {
		score.Criteria = append(score.Criteria, "within locality radius")
	}

	score.Confidence = clamp01(score.Confidence)
	return score
}

func phoneDigits(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func websiteHost(website *string) string {
	if website == nil {
		return ""
	}
	raw := *website
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
