package detector

import (
	"testing"

	"github.com/MeKo-Tech/endzone/internal/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNonMaxSuppression(t *testing.T) {
	dets := []Detection{
		{Box: utils.NewBox(1, 1, 9, 9), Confidence: 0.8},
		{Box: utils.NewBox(0, 0, 10, 10), Confidence: 0.9},
		{Box: utils.NewBox(20, 20, 30, 30), Confidence: 0.7},
	}
	kept := NonMaxSuppression(dets, 0.5)
	require.Len(t, kept, 2)
	assert.Equal(t, 0.9, kept[0].Confidence)
	assert.Equal(t, 0.7, kept[1].Confidence)
	// Input order untouched.
	assert.Equal(t, 0.8, dets[0].Confidence)
}

func TestNonMaxSuppression_ThresholdIsExclusive(t *testing.T) {
	// IoU of these boxes is exactly 1/3.
	dets := []Detection{
		{Box: utils.NewBox(0, 0, 10, 10), Confidence: 0.9},
		{Box: utils.NewBox(5, 0, 15, 10), Confidence: 0.8},
	}
	assert.Len(t, NonMaxSuppression(dets, 1.0/3), 2)
	assert.Len(t, NonMaxSuppression(dets, 0.3), 1)
}

func TestNonMaxSuppression_Empty(t *testing.T) {
	assert.Empty(t, NonMaxSuppression(nil, 0.5))
}

func TestFilter(t *testing.T) {
	dets := []Detection{
		{Confidence: 0.9, ClassName: "person"},
		{Confidence: 0.2, ClassName: "person"},
		{Confidence: 0.95, ClassName: "frisbee"},
	}
	assert.Len(t, Filter(dets, 0.35, "person"), 1)
	assert.Len(t, Filter(dets, 0.35, ""), 2)
	assert.Len(t, Filter(dets, 0, ""), 3)
}
