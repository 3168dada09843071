// Package postprocess - Segmentation results produced from raw model outputs.
package postprocess

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/scenic-viber/viber/images"
)

// Task selects how raw mask predictions are turned into a result.
type Task string

const (
	// TaskSemantic labels every pixel with a class.
	TaskSemantic Task = "semantic"
	// TaskInstance returns one scored segment per detected object.
	TaskInstance Task = "instance"
	// TaskPanoptic returns non-overlapping segments covering things and stuff.
	TaskPanoptic Task = "panoptic"
)

// ErrUnknownTask is returned for unsupported task names.
var ErrUnknownTask = errors.New("unknown task")

// ParseTask parses a task name, ignoring case. Empty selects TaskSemantic.
func ParseTask(s string) (Task, error) {
	switch Task(strings.ToLower(strings.TrimSpace(s))) {
	case "", TaskSemantic:
		return TaskSemantic, nil
	case TaskInstance:
		return TaskInstance, nil
	case TaskPanoptic:
		return TaskPanoptic, nil
	default:
		return "", errors.Wrapf(ErrUnknownTask, "%q", s)
	}
}

// Thresholds control which predictions survive post-processing.
type Thresholds struct {
	// Score is the minimum segment score for instance and panoptic results.
	Score float32 `json:"score" yaml:"score"`
	// Mask is the probability above which a mask pixel is considered set.
	Mask float32 `json:"mask" yaml:"mask"`
	// OverlapArea is the minimum ratio of a panoptic segment's visible area
	// to its full mask area.
	OverlapArea float32 `json:"overlap_area" yaml:"overlap_area"`
	// FuseLabels are panoptic label ids merged into one segment per label.
	FuseLabels []int `json:"fuse_labels" yaml:"fuse_labels"`
}

// DefaultThresholds returns the thresholds used by the reference Mask2Former post-processing.
func DefaultThresholds() Thresholds {
	return Thresholds{Score: 0.5, Mask: 0.5, OverlapArea: 0.8}
}

// WithDefaults fills zero values with DefaultThresholds.
func (t Thresholds) WithDefaults() Thresholds {
	d := DefaultThresholds()
	if t.Score <= 0 {
		t.Score = d.Score
	}
	if t.Mask <= 0 {
		t.Mask = d.Mask
	}
	if t.OverlapArea <= 0 {
		t.OverlapArea = d.OverlapArea
	}
	return t
}

// Segment is one region of an instance or panoptic result.
type Segment struct {
	// ID is the value used for this segment in Result.SegmentIDs, starting at 1.
	ID int32 `json:"id"`
	// LabelID is the class index.
	LabelID int `json:"label_id"`
	// Label is the class name.
	Label string `json:"label"`
	// Score is the segment confidence.
	Score float32 `json:"score"`
	// Area is the number of pixels assigned to the segment.
	Area int `json:"area"`
	// Box bounds the assigned pixels.
	Box images.Rect `json:"box"`
}

// Result is the segmentation of one image at its original resolution.
type Result struct {
	Task   Task `json:"task"`
	Width  int  `json:"width"`
	Height int  `json:"height"`
	// Labels holds the class id of every pixel, row-major. Semantic only.
	Labels []int32 `json:"-"`
	// SegmentIDs holds the segment id of every pixel, 0 where no segment
	// was kept. Instance and panoptic only.
	SegmentIDs []int32 `json:"-"`
	// Segments lists the kept segments, highest score first.
	Segments []Segment `json:"segments,omitempty"`
	// ClassNames maps class ids to names.
	ClassNames []string `json:"-"`
}

// ClassCoverage is the share of an image covered by one class.
type ClassCoverage struct {
	LabelID int     `json:"label_id"`
	Label   string  `json:"label"`
	Pixels  int     `json:"pixels"`
	Ratio   float64 `json:"ratio"`
}

// TotalPixels returns the number of pixels in the image.
func (r *Result) TotalPixels() int {
	return r.Width * r.Height
}

// LabelName returns the name of a class id, or "class_<id>" when unknown.
func (r *Result) LabelName(id int) string {
	if id >= 0 && id < len(r.ClassNames) {
		return r.ClassNames[id]
	}
	return fmt.Sprintf("class_%d", id)
}

// ClassHistogram counts pixels per class id.
//
// Semantic results count the label map; instance and panoptic results sum
// segment areas per label.
func (r *Result) ClassHistogram() map[int]int {
	hist := make(map[int]int)
	if r.Task == TaskSemantic {
		for _, l := range r.Labels {
			hist[int(l)]++
		}
		return hist
	}
	for _, s := range r.Segments {
		hist[s.LabelID] += s.Area
	}
	return hist
}

// ClassPixels returns the number of pixels labelled with any of the ids.
func (r *Result) ClassPixels(ids ...int) int {
	if len(ids) == 0 {
		return 0
	}
	hist := r.ClassHistogram()
	total := 0
	for _, id := range uniqueInts(ids) {
		total += hist[id]
	}
	return total
}

// Breakdown lists the classes covering more than minRatio of the image,
// largest first.
func (r *Result) Breakdown(minRatio float64) []ClassCoverage {
	total := r.TotalPixels()
	if total == 0 {
		return nil
	}

	var out []ClassCoverage
	for id, pixels := range r.ClassHistogram() {
		ratio := float64(pixels) / float64(total)
		if ratio <= minRatio {
			continue
		}
		out = append(out, ClassCoverage{
			LabelID: id,
			Label:   r.LabelName(id),
			Pixels:  pixels,
			Ratio:   ratio,
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Pixels == out[j].Pixels {
			return out[i].LabelID < out[j].LabelID
		}
		return out[i].Pixels > out[j].Pixels
	})
	return out
}

func uniqueInts(ids []int) []int {
	seen := make(map[int]struct{}, len(ids))
	out := ids[:0:0]
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
