package mask2former

import (
	"sort"

	"github.com/chewxy/math32"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"github.com/scenic-viber/viber/models/model"
	"github.com/scenic-viber/viber/models/model/preprocess"
	"github.com/scenic-viber/viber/models/postprocess"
)

// predictions holds the decoded query outputs of one image.
type predictions struct {
	queries int
	// classes excludes the trailing "no object" class.
	classes int
	height  int
	width   int
	// classProbs is [queries, classes+1], softmax over each row.
	classProbs []float32
	// maskProbs is [queries, height*width], sigmoid of the mask logits.
	maskProbs []float32
}

type candidate struct {
	query int
	label int
	score float32
}

// PostProcess turns the raw class and mask logits into a result at the
// original image resolution.
//
// Arguments:
//   - outputs: The model outputs keyed by tensor name.
//   - meta: The preprocessing metadata of the same image.
//   - task: The segmentation task to produce.
//
// Returns:
//   - The segmentation result.
//   - An error if the outputs are malformed or the task is unknown.
func (m *Mask2Former) PostProcess(
	outputs map[string]model.Tensor,
	meta *preprocess.PreprocessingResult,
	task postprocess.Task,
) (*postprocess.Result, error) {
	if meta == nil || meta.OriginalWidth <= 0 || meta.OriginalHeight <= 0 {
		return nil, errors.New("mask2former: missing preprocessing metadata")
	}

	p, err := decodeOutputs(outputs)
	if err != nil {
		return nil, err
	}

	result := &postprocess.Result{
		Task:       task,
		Width:      meta.OriginalWidth,
		Height:     meta.OriginalHeight,
		ClassNames: m.labels.Names(),
	}

	th := m.options.Thresholds
	switch task {
	case postprocess.TaskSemantic:
		labels, err := p.semantic(result.Width, result.Height)
		if err != nil {
			return nil, err
		}
		result.Labels = labels
	case postprocess.TaskInstance:
		ids, segments := p.instance(th)
		result.SegmentIDs = upsampleLabels(ids, p.width, p.height, result.Width, result.Height)
		result.Segments = finalizeSegments(result, segments)
	case postprocess.TaskPanoptic:
		ids, segments := p.panoptic(th)
		result.SegmentIDs = upsampleLabels(ids, p.width, p.height, result.Width, result.Height)
		result.Segments = finalizeSegments(result, segments)
	default:
		return nil, errors.Wrapf(postprocess.ErrUnknownTask, "%q", task)
	}

	return result, nil
}

func decodeOutputs(outputs map[string]model.Tensor) (*predictions, error) {
	cls, ok := outputs[OutputClassLogits]
	if !ok {
		return nil, errors.Errorf("mask2former: missing output %q", OutputClassLogits)
	}
	masks, ok := outputs[OutputMaskLogits]
	if !ok {
		return nil, errors.Errorf("mask2former: missing output %q", OutputMaskLogits)
	}

	if len(cls.Shape) != 3 || len(masks.Shape) != 4 {
		return nil, errors.Errorf("mask2former: unexpected output ranks %v and %v", cls.Shape, masks.Shape)
	}
	if cls.Shape[0] != 1 || masks.Shape[0] != 1 {
		return nil, errors.Errorf("mask2former: expected batch size 1, got %d", cls.Shape[0])
	}

	queries := int(cls.Shape[1])
	withNull := int(cls.Shape[2])
	height, width := int(masks.Shape[2]), int(masks.Shape[3])

	if int(masks.Shape[1]) != queries {
		return nil, errors.Errorf("mask2former: %d class queries but %d mask queries", queries, masks.Shape[1])
	}
	if queries <= 0 || withNull < 2 || height <= 0 || width <= 0 {
		return nil, errors.Errorf("mask2former: degenerate output shapes %v and %v", cls.Shape, masks.Shape)
	}
	if len(cls.Data) != queries*withNull || len(masks.Data) != queries*height*width {
		return nil, errors.New("mask2former: output data does not match its shape")
	}

	p := &predictions{
		queries:    queries,
		classes:    withNull - 1,
		height:     height,
		width:      width,
		classProbs: make([]float32, len(cls.Data)),
		maskProbs:  make([]float32, len(masks.Data)),
	}
	for q := 0; q < queries; q++ {
		softmax(cls.Data[q*withNull:(q+1)*withNull], p.classProbs[q*withNull:(q+1)*withNull])
	}
	for i, v := range masks.Data {
		p.maskProbs[i] = sigmoid(v)
	}

	return p, nil
}

// semantic computes per pixel class scores sum_q p(q, c) * m(q, px),
// resizes the score maps bilinearly to the target size and takes the argmax
// over classes there.
func (p *predictions) semantic(dstWidth, dstHeight int) ([]int32, error) {
	k, q, hw := p.classes, p.queries, p.height*p.width

	// [classes, queries] without the null class.
	weights := make([]float32, k*q)
	for qi := 0; qi < q; qi++ {
		row := p.classProbs[qi*(k+1):]
		for c := 0; c < k; c++ {
			weights[c*q+qi] = row[c]
		}
	}

	a := tensor.New(tensor.WithShape(k, q), tensor.WithBacking(weights))
	b := tensor.New(tensor.WithShape(q, hw), tensor.WithBacking(p.maskProbs))

	scores, err := tensor.MatMul(a, b)
	if err != nil {
		return nil, errors.Wrap(err, "mask2former: class-mask product")
	}
	dense, ok := scores.(*tensor.Dense)
	if !ok {
		return nil, errors.Errorf("mask2former: unexpected tensor type %T", scores)
	}
	data, ok := dense.Data().([]float32)
	if !ok {
		return nil, errors.Errorf("mask2former: unexpected score data %T", dense.Data())
	}

	return resizeArgmax(data, k, p.width, p.height, dstWidth, dstHeight), nil
}

// tap is one axis of a bilinear sample: the two source indices and the
// weight of the second.
type tap struct {
	lo, hi int
	frac   float32
}

// bilinearTaps maps every destination index to its source taps using half
// pixel centres (align_corners=false).
func bilinearTaps(src, dst int) []tap {
	scale := float64(src) / float64(dst)
	taps := make([]tap, dst)
	for i := range taps {
		pos := (float64(i)+0.5)*scale - 0.5
		if pos < 0 {
			pos = 0
		}
		lo := min(int(pos), src-1)
		taps[i] = tap{lo: lo, hi: min(lo+1, src-1), frac: float32(pos - float64(lo))}
	}
	return taps
}

// resizeArgmax bilinearly resizes the [classes, height, width] score maps
// to dstWidth x dstHeight and returns the best class per pixel. It works one
// output row at a time so only a row of running maxima is held.
func resizeArgmax(scores []float32, classes, width, height, dstWidth, dstHeight int) []int32 {
	xs := bilinearTaps(width, dstWidth)
	ys := bilinearTaps(height, dstHeight)
	plane := width * height

	labels := make([]int32, dstWidth*dstHeight)
	best := make([]float32, dstWidth)
	for y, ty := range ys {
		out := labels[y*dstWidth : (y+1)*dstWidth]
		for c := 0; c < classes; c++ {
			top := scores[c*plane+ty.lo*width:]
			bottom := scores[c*plane+ty.hi*width:]
			for x, tx := range xs {
				t := top[tx.lo] + (top[tx.hi]-top[tx.lo])*tx.frac
				b := bottom[tx.lo] + (bottom[tx.hi]-bottom[tx.lo])*tx.frac
				v := t + (b-t)*ty.frac
				if c == 0 || v > best[x] {
					best[x] = v
					out[x] = int32(c)
				}
			}
		}
	}
	return labels
}

// instance keeps one segment per query, scored by class probability times
// the mean mask probability inside the binarized mask.
func (p *predictions) instance(th postprocess.Thresholds) ([]int32, []postprocess.Segment) {
	k, hw := p.classes, p.height*p.width

	var candidates []candidate
	for q := 0; q < p.queries; q++ {
		classScore, label := argmax(p.classProbs[q*(k+1) : q*(k+1)+k])
		mask := p.maskProbs[q*hw : (q+1)*hw]

		var sum float32
		area := 0
		for _, v := range mask {
			if v > th.Mask {
				sum += v
				area++
			}
		}
		if area == 0 {
			continue
		}

		score := classScore * sum / (float32(area) + 1e-6)
		if score < th.Score {
			continue
		}
		candidates = append(candidates, candidate{query: q, label: label, score: score})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})

	ids := make([]int32, hw)
	segments := make([]postprocess.Segment, 0, len(candidates))
	for i, c := range candidates {
		id := int32(i + 1)
		mask := p.maskProbs[c.query*hw : (c.query+1)*hw]
		for px, v := range mask {
			if v > th.Mask && ids[px] == 0 {
				ids[px] = id
			}
		}
		segments = append(segments, postprocess.Segment{ID: id, LabelID: c.label, Score: c.score})
	}

	return ids, segments
}

// panoptic assigns every pixel to the kept query with the highest
// score-weighted mask probability, then drops segments that lost too much of
// their own mask to others.
func (p *predictions) panoptic(th postprocess.Thresholds) ([]int32, []postprocess.Segment) {
	k, hw := p.classes, p.height*p.width
	ids := make([]int32, hw)

	var kept []candidate
	for q := 0; q < p.queries; q++ {
		score, label := argmax(p.classProbs[q*(k+1) : (q+1)*(k+1)])
		if label == k || score <= th.Score {
			continue
		}
		kept = append(kept, candidate{query: q, label: label, score: score})
	}
	if len(kept) == 0 {
		return ids, nil
	}

	owner := make([]int, hw)
	for px := 0; px < hw; px++ {
		best := float32(-1)
		for i, c := range kept {
			if v := c.score * p.maskProbs[c.query*hw+px]; v > best {
				best = v
				owner[px] = i
			}
		}
	}

	fuse := make(map[int]bool, len(th.FuseLabels))
	for _, l := range th.FuseLabels {
		fuse[l] = true
	}
	fused := make(map[int]int32)

	var segments []postprocess.Segment
	nextID := int32(1)
	for i, c := range kept {
		visible, original := 0, 0
		for px := 0; px < hw; px++ {
			if owner[px] == i {
				visible++
			}
			if p.maskProbs[c.query*hw+px] >= th.Mask {
				original++
			}
		}
		if visible == 0 || original == 0 || float32(visible)/float32(original) <= th.OverlapArea {
			continue
		}

		id := nextID
		existing, merged := fused[c.label]
		if merged {
			id = existing
		} else if fuse[c.label] {
			fused[c.label] = id
		}

		for px := 0; px < hw; px++ {
			if owner[px] == i {
				ids[px] = id
			}
		}

		if merged {
			for s := range segments {
				if segments[s].ID == id && c.score > segments[s].Score {
					segments[s].Score = c.score
				}
			}
			continue
		}
		segments = append(segments, postprocess.Segment{ID: id, LabelID: c.label, Score: c.score})
		nextID++
	}

	return ids, segments
}

// finalizeSegments measures segments on the full resolution id map, names
// them, drops empty ones and orders them by score.
func finalizeSegments(result *postprocess.Result, segments []postprocess.Segment) []postprocess.Segment {
	if len(segments) == 0 {
		return nil
	}

	byID := make(map[int32]int, len(segments))
	for i := range segments {
		byID[segments[i].ID] = i
		segments[i].Label = result.LabelName(segments[i].LabelID)
	}

	for px, id := range result.SegmentIDs {
		i, ok := byID[id]
		if !ok {
			continue
		}
		segments[i].Area++
		segments[i].Box = segments[i].Box.ExtendTo(px%result.Width, px/result.Width)
	}

	out := segments[:0]
	for _, s := range segments {
		if s.Area > 0 {
			out = append(out, s)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Score > out[j].Score
	})
	return out
}

// upsampleLabels scales a segment id map with nearest neighbour sampling so
// no new ids are invented.
func upsampleLabels(labels []int32, width, height, dstWidth, dstHeight int) []int32 {
	if width == dstWidth && height == dstHeight {
		return labels
	}

	srcX := make([]int, dstWidth)
	for x := range srcX {
		srcX[x] = min(width-1, int((float64(x)+0.5)*float64(width)/float64(dstWidth)))
	}

	out := make([]int32, dstWidth*dstHeight)
	for y := 0; y < dstHeight; y++ {
		sy := min(height-1, int((float64(y)+0.5)*float64(height)/float64(dstHeight)))
		row := labels[sy*width : (sy+1)*width]
		for x, sx := range srcX {
			out[y*dstWidth+x] = row[sx]
		}
	}
	return out
}

func softmax(in, out []float32) {
	maxV := in[0]
	for _, v := range in[1:] {
		if v > maxV {
			maxV = v
		}
	}

	var sum float32
	for i, v := range in {
		e := math32.Exp(v - maxV)
		out[i] = e
		sum += e
	}
	for i := range out {
		out[i] /= sum
	}
}

func sigmoid(x float32) float32 {
	return 1 / (1 + math32.Exp(-x))
}

func argmax(values []float32) (float32, int) {
	best, idx := values[0], 0
	for i, v := range values[1:] {
		if v > best {
			best, idx = v, i+1
		}
	}
	return best, idx
}
