package dataset

import (
	"fmt"
	"slices"
)

// SpeakerIndex maps speaker ids to class labels. Labels follow the sorted
// order of the ids.
type SpeakerIndex struct {
	ids   []string
	index map[string]int
}

func NewSpeakerIndex(ids []string) *SpeakerIndex {
	var sorted = slices.Clone(ids)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)
	var index = make(map[string]int, len(sorted))
	for i, id := range sorted {
		index[id] = i
	}
	return &SpeakerIndex{ids: sorted, index: index}
}

func (s *SpeakerIndex) Len() int { return len(s.ids) }

func (s *SpeakerIndex) IDs() []string { return slices.Clone(s.ids) }

func (s *SpeakerIndex) Label(id string) (int, bool) {
	var label, ok = s.index[id]
	return label, ok
}

// Check fails when there are more speakers than label slots.
func (s *SpeakerIndex) Check(numSpeakers int) error {
	if len(s.ids) > numSpeakers {
		return fmt.Errorf("dataset: found %v speakers %v, num_speakers is %v", len(s.ids), s.ids, numSpeakers)
	}
	if len(s.ids) == 0 {
		return fmt.Errorf("dataset: no speakers found")
	}
	return nil
}

// DiscoverSpeakers returns the speaker ids of the feature files in folder
// without reading them.
func DiscoverSpeakers(folder string) ([]string, error) {
	paths, err := featureFiles(folder, nil)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, path := range paths {
		if id, ok := SpeakerFromFilename(path); ok {
			ids = append(ids, id)
		}
	}
	return ids, nil
}
