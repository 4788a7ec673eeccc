package sfu

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQuality_String(t *testing.T) {
	assert.Equal(t, "low", QualityLow.String())
	assert.Equal(t, "premium", QualityPremium.String())
}

func TestQuality_Downgrade(t *testing.T) {
	assert.Equal(t, QualityMedium, QualityHigh.Downgrade())
	assert.Equal(t, QualityLow, QualityLow.Downgrade())
}

func TestQuality_Upgrade(t *testing.T) {
	assert.Equal(t, QualityHigh, QualityMedium.Upgrade(QualityPremium))
	assert.Equal(t, QualityHigh, QualityHigh.Upgrade(QualityHigh), "upgrade is capped at max")
	assert.Equal(t, QualityPremium, QualityPremium.Upgrade(QualityPremium))
}

func TestClamp_PremiumWithoutFlagDowngradesToHigh(t *testing.T) {
	assert.Equal(t, QualityHigh, Clamp(QualityPremium, false))
}

func TestClamp_PremiumWithFlagAllowed(t *testing.T) {
	assert.Equal(t, QualityPremium, Clamp(QualityPremium, true))
}

func TestClamp_OtherTiersUnaffectedByFlag(t *testing.T) {
	assert.Equal(t, QualityMedium, Clamp(QualityMedium, false))
	assert.Equal(t, QualityLow, Clamp(QualityLow, true))
}

func TestQuality_ProfileBounds(t *testing.T) {
	low := QualityLow.Profile()
	assert.Equal(t, 480, low.Height)
	assert.Equal(t, 15, low.FrameRate)

	premium := QualityPremium.Profile()
	assert.Equal(t, 60, premium.FrameRate)
	assert.Equal(t, 8_000_000, premium.MaxBitrate)
}
