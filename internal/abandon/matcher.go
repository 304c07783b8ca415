package abandon

import (
	"math"
	"sort"

	"github.com/Spatial-NVR/bagwatch/internal/detection"
)

// PersonMatch is a person detection paired with its distance to a bag
type PersonMatch struct {
	PersonID int64
	Center   detection.Point
	Distance float64
}

// NearestPerson returns the person whose center is closest to point.
// Persons without a track id are skipped; ok is false when none remain.
func NearestPerson(persons []detection.Detection, point detection.Point) (match PersonMatch, ok bool) {
	best := math.Inf(1)
	for _, p := range persons {
		if !p.HasTrackID() {
			continue
		}
		center := p.Center()
		dist := center.DistanceTo(point)
		if dist < best || (dist == best && *p.TrackID < match.PersonID) {
			best = dist
			match = PersonMatch{PersonID: *p.TrackID, Center: center, Distance: dist}
			ok = true
		}
	}
	return match, ok
}

// PersonsWithin returns every identified person strictly closer than threshold,
// nearest first with ties broken by the lower track id.
func PersonsWithin(persons []detection.Detection, point detection.Point, threshold float64) []PersonMatch {
	var matches []PersonMatch
	for _, p := range persons {
		if !p.HasTrackID() {
			continue
		}
		center := p.Center()
		dist := center.DistanceTo(point)
		if dist < threshold {
			matches = append(matches, PersonMatch{PersonID: *p.TrackID, Center: center, Distance: dist})
		}
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Distance != matches[j].Distance {
			return matches[i].Distance < matches[j].Distance
		}
		return matches[i].PersonID < matches[j].PersonID
	})
	return matches
}
