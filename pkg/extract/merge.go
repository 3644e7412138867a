package extract

import "github.com/MarwannAhmed/webbased-testing-agent/pkg/model"

// MergeStrategy combines structural (DOM-derived) and visual
// (segmentation-derived) element candidates in hybrid mode. Implemented
// as a pluggable interface so DOM-only or vision-only pipelines can be
// substituted without touching the exploration agent.
type MergeStrategy interface {
	Merge(structural, visual []model.ElementCandidate) []model.ElementCandidate
}

// IoUMerge matches visual candidates to structural ones by bounding-box
// overlap. When a visual and a structural candidate refer to the same
// region (IoU at or above Threshold), the structural candidate wins
// because DOM-derived stability scores are more trustworthy; unmatched
// visual candidates are appended and flagged VisualOnly.
type IoUMerge struct {
	Threshold float64
}

// DefaultIoUThreshold is used when no threshold is configured.
const DefaultIoUThreshold = 0.8

// Merge implements MergeStrategy.
func (m IoUMerge) Merge(structural, visual []model.ElementCandidate) []model.ElementCandidate {
	threshold := m.Threshold
	if threshold <= 0 {
		threshold = DefaultIoUThreshold
	}

	out := make([]model.ElementCandidate, 0, len(structural)+len(visual))
	out = append(out, structural...)

	for _, v := range visual {
		matched := false
		for i := range structural {
			if structural[i].Bounds.IoU(v.Bounds) >= threshold {
				matched = true
				break
			}
		}
		if !matched {
			v.VisualOnly = true
			out = append(out, v)
		}
	}
	return out
}
