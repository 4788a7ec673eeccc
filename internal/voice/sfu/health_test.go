package sfu

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHealthScore_PerfectSampleIsMax(t *testing.T) {
	score := HealthScore(HealthSample{JoinSuccessRate: 1, LossP95: 0, JitterP95Ms: 0, CrashRate: 0})
	assert.InDelta(t, 100, score, 0.001)
}

func TestHealthScore_WorstSampleIsZero(t *testing.T) {
	score := HealthScore(HealthSample{JoinSuccessRate: 0, LossP95: 1, JitterP95Ms: 200, CrashRate: 1})
	assert.InDelta(t, 0, score, 0.001)
}

func TestHealthScore_MissingDataNeutralized(t *testing.T) {
	allMissing := HealthScore(HealthSample{JoinSuccessRate: -1, LossP95: -1, JitterP95Ms: -1, CrashRate: -1})
	assert.InDelta(t, 100, allMissing, 0.001)
}

func TestHealthScore_JitterClampsAtCeiling(t *testing.T) {
	atCeiling := HealthScore(HealthSample{JoinSuccessRate: 1, LossP95: 0, JitterP95Ms: 50, CrashRate: 0})
	beyondCeiling := HealthScore(HealthSample{JoinSuccessRate: 1, LossP95: 0, JitterP95Ms: 500, CrashRate: 0})
	assert.InDelta(t, atCeiling, beyondCeiling, 0.001)
}

func TestRecommendQuality_ThresholdsAndCap(t *testing.T) {
	assert.Equal(t, QualityPremium, RecommendQuality(90, QualityPremium))
	assert.Equal(t, QualityHigh, RecommendQuality(90, QualityHigh), "capped at max even with a high score")
	assert.Equal(t, QualityHigh, RecommendQuality(70, QualityPremium))
	assert.Equal(t, QualityMedium, RecommendQuality(50, QualityPremium))
	assert.Equal(t, QualityLow, RecommendQuality(10, QualityPremium))
}
