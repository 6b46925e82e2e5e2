package detector

import (
	"sort"

	"github.com/MeKo-Tech/endzone/internal/utils"
)

// DefaultNMSThreshold is the IoU above which overlapping detections merge.
const DefaultNMSThreshold = 0.5

// NonMaxSuppression performs greedy NMS: the most confident remaining
// detection suppresses every other whose IoU with it exceeds iouThreshold.
// The result is sorted by descending confidence.
func NonMaxSuppression(dets []Detection, iouThreshold float64) []Detection {
	if len(dets) == 0 {
		return nil
	}
	sorted := make([]Detection, len(dets))
	copy(sorted, dets)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Confidence > sorted[j].Confidence
	})

	suppressed := make([]bool, len(sorted))
	kept := make([]Detection, 0, len(sorted))
	for i := range sorted {
		if suppressed[i] {
			continue
		}
		kept = append(kept, sorted[i])
		for j := i + 1; j < len(sorted); j++ {
			if !suppressed[j] && utils.IoU(sorted[i].Box, sorted[j].Box) > iouThreshold {
				suppressed[j] = true
			}
		}
	}
	return kept
}
