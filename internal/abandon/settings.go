package abandon

import "strings"

// Default thresholds and labels
const (
	DefaultDistanceThreshold = 75.0
	DefaultAbandonThreshold  = 30
	DefaultPersonLabel       = "person"
)

// DefaultBagLabels are the carryable-item classes treated as bags
var DefaultBagLabels = []string{"backpack", "suitcase", "handbag", "bag"}

// Settings holds the thresholds applied uniformly to every bag track of a session
type Settings struct {
	// DistanceThreshold is the owner proximity radius in pixels (strictly less than)
	DistanceThreshold float64 `json:"distance_threshold"`
	// AbandonThreshold is the number of idle frames that raises an alert
	AbandonThreshold int `json:"abandon_threshold"`
	BagLabels        []string `json:"bag_labels"`
	PersonLabel      string   `json:"person_label"`
	// EvictionFrames removes a bag track after this many frames of absence (0 disables)
	EvictionFrames int `json:"eviction_frames"`
	// ClearOwnerOnCancel forgets the owner once their return cancels an alert
	ClearOwnerOnCancel bool `json:"clear_owner_on_cancel"`
}

// DefaultSettings returns the stock thresholds
func DefaultSettings() Settings {
	labels := make([]string, len(DefaultBagLabels))
	copy(labels, DefaultBagLabels)
	return Settings{
		DistanceThreshold: DefaultDistanceThreshold,
		AbandonThreshold:  DefaultAbandonThreshold,
		BagLabels:         labels,
		PersonLabel:       DefaultPersonLabel,
	}
}

// withDefaults fills zero values so a partially populated Settings is usable
func (s Settings) withDefaults() Settings {
	if s.DistanceThreshold <= 0 {
		s.DistanceThreshold = DefaultDistanceThreshold
	}
	if s.AbandonThreshold <= 0 {
		s.AbandonThreshold = DefaultAbandonThreshold
	}
	if len(s.BagLabels) == 0 {
		s.BagLabels = DefaultSettings().BagLabels
	}
	if s.PersonLabel == "" {
		s.PersonLabel = DefaultPersonLabel
	}
	if s.EvictionFrames < 0 {
		s.EvictionFrames = 0
	}
	return s
}

// IsBag reports whether a label belongs to the bag class set
func (s Settings) IsBag(label string) bool {
	for _, l := range s.BagLabels {
		if strings.EqualFold(l, label) {
			return true
		}
	}
	return false
}

// IsPerson reports whether a label is the person class
func (s Settings) IsPerson(label string) bool {
	return strings.EqualFold(s.PersonLabel, label)
}
