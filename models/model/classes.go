package model

import (
	"fmt"
	"sort"
	"strings"
)

// OutputClass represents one segmentation label.
type OutputClass struct {
	// The integer index returned by the model.
	Index int
	// The human-readable label.
	Name string
}

// OutputClassSet ties a dataset to its full list of labels.
type OutputClassSet struct {
	// Dataset identifier.
	Dataset string
	// Classes that are supported and mappable, ordered by index.
	Classes []OutputClass
	// nameToIdx for fast lookup by lowercased name
	nameToIdx map[string]int
}

// BuildNameIndexMap builds or rebuilds the name->index map.
func (s *OutputClassSet) BuildNameIndexMap() {
	s.nameToIdx = make(map[string]int, len(s.Classes))
	for _, c := range s.Classes {
		s.nameToIdx[strings.ToLower(c.Name)] = c.Index
	}
}

// Len returns the number of classes.
func (s *OutputClassSet) Len() int {
	return len(s.Classes)
}

// Name returns the class name for an index.
func (s *OutputClassSet) Name(idx int) (string, error) {
	if idx < 0 || idx >= len(s.Classes) {
		return "", fmt.Errorf("index %d out of range for %q", idx, s.Dataset)
	}
	return s.Classes[idx].Name, nil
}

// Index returns the class index for a name, ignoring case.
func (s *OutputClassSet) Index(name string) (int, error) {
	if s.nameToIdx == nil {
		s.BuildNameIndexMap()
	}
	idx, ok := s.nameToIdx[strings.ToLower(name)]
	if !ok {
		return -1, fmt.Errorf("name %q not found in %q", name, s.Dataset)
	}
	return idx, nil
}

// Names returns the class names ordered by index.
func (s *OutputClassSet) Names() []string {
	names := make([]string, len(s.Classes))
	for i, c := range s.Classes {
		names[i] = c.Name
	}
	return names
}

// FindByKeywords returns the indices of every class whose name contains
// one of the keywords, case-insensitively. The result is sorted and has no
// duplicates.
//
// Example:
//
//	ids := set.FindByKeywords("water", "river") // [31] for Mapillary Vistas
func (s *OutputClassSet) FindByKeywords(keywords ...string) []int {
	seen := make(map[int]struct{})
	for _, c := range s.Classes {
		label := strings.ToLower(c.Name)
		for _, key := range keywords {
			if strings.Contains(label, strings.ToLower(key)) {
				seen[c.Index] = struct{}{}
			}
		}
	}

	ids := make([]int, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}
