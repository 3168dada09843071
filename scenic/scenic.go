// Package scenic turns a semantic segmentation of a street-level image into a
// scenic score for cycling.
//
// The score starts neutral at 0.5, rewards nature, water and painted bike
// lanes, penalises built-up and traffic classes, and is clamped to [0, 1].
// A status names the context that decided the bonus or penalty.
package scenic

import (
	"github.com/pkg/errors"

	"github.com/scenic-viber/viber/models/model"
	"github.com/scenic-viber/viber/models/postprocess"
)

// Group is a set of classes that count together towards the score.
type Group string

// Class groups.
const (
	GroupBikeLane Group = "bike_lane"
	GroupWater    Group = "water"
	GroupNature   Group = "nature"
	GroupRoad     Group = "road"
	GroupUgly     Group = "ugly"
)

// Keywords are matched case-insensitively against class names to build the groups.
var Keywords = map[Group][]string{
	GroupBikeLane: {"bike lane"},
	GroupWater:    {"water"},
	GroupNature:   {"vegetation", "terrain", "mountain", "sand", "sky"},
	GroupRoad:     {"road", "service lane", "crosswalk"},
	GroupUgly:     {"building", "wall", "fence", "car", "truck", "bus", "barrier"},
}

// Status describes the context of a scored image.
type Status string

// Statuses, in the order the rules are checked.
const (
	StatusWaterfront  Status = "Waterfront"
	StatusBikeLane    Status = "Dedicated Bike Lane"
	StatusGreenTunnel Status = "Green Tunnel"
	StatusCityStreet  Status = "City St (No Bike Lane)"
	StatusMixed       Status = "Mixed / Urban"
	// StatusError marks an image that could not be read or segmented.
	StatusError Status = "Error"
	// StatusNoData marks a location without street imagery.
	StatusNoData Status = "No Data"
)

const (
	// NeutralScore is the starting score, and the score reported for errors.
	NeutralScore = 0.5
	// BreakdownRatio is the minimum coverage for a class to appear in a report breakdown.
	BreakdownRatio = 0.02
)

// Rule thresholds and weights.
const (
	waterThreshold  = 0.10
	bikeThreshold   = 0.05
	natureThreshold = 0.40
	roadThreshold   = 0.40

	natureWeight = 0.5
	waterWeight  = 1.5
	bikeWeight   = 2.0
	uglyWeight   = 0.5
)

// ErrNotSemantic is returned when a result carries no per-pixel class map.
var ErrNotSemantic = errors.New("scenic score needs a semantic segmentation")

// Ratios are the shares of the image covered by each group.
type Ratios struct {
	BikeLane float64 `json:"bike_lane"`
	Water    float64 `json:"water"`
	Nature   float64 `json:"nature"`
	Road     float64 `json:"road"`
	Ugly     float64 `json:"ugly"`
}

// Report is the outcome of scoring one image.
type Report struct {
	Score     float64                     `json:"score"`
	Status    Status                      `json:"status"`
	Ratios    Ratios                      `json:"ratios"`
	Breakdown []postprocess.ClassCoverage `json:"breakdown,omitempty"`
}

// ErrorReport is the report for an image that could not be scored.
func ErrorReport() *Report {
	return &Report{Score: NeutralScore, Status: StatusError}
}

// Scorer scores semantic results against class groups resolved once from a label set.
type Scorer struct {
	groups map[Group][]int
}

// NewScorer resolves the keyword groups against the label set.
//
// Arguments:
//   - labels: The label set the segmentation model predicts.
//
// Returns:
//   - *Scorer: The scorer.
func NewScorer(labels *model.OutputClassSet) *Scorer {
	groups := make(map[Group][]int, len(Keywords))
	for g, keywords := range Keywords {
		groups[g] = labels.FindByKeywords(keywords...)
	}
	return &Scorer{groups: groups}
}

// Groups returns the class ids of a group.
func (s *Scorer) Groups(g Group) []int {
	return s.groups[g]
}

// Score computes the scenic score of a semantic result.
//
// Arguments:
//   - result: A semantic segmentation.
//
// Returns:
//   - *Report: Score, status, group ratios and the class breakdown.
//   - error: ErrNotSemantic for other tasks or empty maps.
func (s *Scorer) Score(result *postprocess.Result) (*Report, error) {
	if result == nil || result.Task != postprocess.TaskSemantic {
		return nil, ErrNotSemantic
	}
	total := result.TotalPixels()
	if total == 0 || len(result.Labels) != total {
		return nil, errors.Wrapf(ErrNotSemantic, "label map has %d of %d pixels", len(result.Labels), total)
	}

	hist := result.ClassHistogram()
	pixels := func(g Group) float64 {
		n := 0
		for _, id := range s.groups[g] {
			n += hist[id]
		}
		return float64(n)
	}

	t := float64(total)
	ratios := Ratios{
		BikeLane: pixels(GroupBikeLane) / t,
		Water:    pixels(GroupWater) / t,
		Nature:   pixels(GroupNature) / t,
		Road:     pixels(GroupRoad) / t,
		Ugly:     pixels(GroupUgly) / t,
	}

	status, bonus, penalty, ugly := classify(ratios)

	score := NeutralScore +
		ratios.Nature*natureWeight +
		ratios.Water*waterWeight +
		ratios.BikeLane*bikeWeight -
		ugly*uglyWeight +
		bonus - penalty

	return &Report{
		Score:     clamp(score),
		Status:    status,
		Ratios:    ratios,
		Breakdown: result.Breakdown(BreakdownRatio),
	}, nil
}

// classify applies the context rules; the first match wins. It returns the
// ugly ratio to score with, since water halves it.
func classify(r Ratios) (status Status, bonus, penalty, ugly float64) {
	ugly = r.Ugly
	switch {
	case r.Water > waterThreshold:
		return StatusWaterfront, 0.3, 0, ugly * 0.5
	case r.BikeLane > bikeThreshold:
		return StatusBikeLane, 0.2, 0, ugly
	case r.Nature > natureThreshold:
		return StatusGreenTunnel, 0.1, 0, ugly
	case r.Road > roadThreshold:
		return StatusCityStreet, 0, 0.2, ugly
	default:
		return StatusMixed, 0, 0, ugly
	}
}

func clamp(v float64) float64 {
	return max(0, min(1, v))
}
