package abandon

// transition is the edge taken by one state machine step
type transition int

const (
	transitionNone transition = iota
	// transitionAbandoned is the IDLE -> ABANDONED edge
	transitionAbandoned
	// transitionReturned is the ABANDONED -> FRESH edge
	transitionReturned
)

// step advances a bag track by one observed frame
func step(track *BagTrack, ownerPresent bool, abandonThreshold int) transition {
	if ownerPresent {
		track.IdleFrames = 0
		if track.Alerted {
			return transitionReturned
		}
		return transitionNone
	}

	track.IdleFrames++
	if track.IdleFrames >= abandonThreshold && !track.Alerted {
		return transitionAbandoned
	}
	return transitionNone
}
