package abandon

import "github.com/Spatial-NVR/bagwatch/internal/detection"

// resolveOwner decides whether the bag's owner is present in this frame.
//
// Without an owner, the nearest identified person inside the threshold is
// assigned and counts as present. With an owner, only that person's proximity
// matters. The owner write is the only mutation performed here.
func resolveOwner(track *BagTrack, persons []detection.Detection, threshold float64) (present, assigned bool) {
	if track.OwnerID == nil {
		matches := PersonsWithin(persons, track.LastPosition, threshold)
		if len(matches) == 0 {
			return false, false
		}
		owner := matches[0].PersonID
		track.OwnerID = &owner
		return true, true
	}

	for _, p := range persons {
		if !p.HasTrackID() || *p.TrackID != *track.OwnerID {
			continue
		}
		if p.Center().DistanceTo(track.LastPosition) < threshold {
			return true, false
		}
	}
	return false, false
}
