package trigger

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clementpouget/DeepLabStream/internal/pose"
)

func socialConfig() SocialConfig {
	return SocialConfig{
		Active:      Role{Animal: 0, BodyParts: []string{"nose"}},
		Passive:     Role{Animal: 1, BodyParts: []string{"nose", "tailroot"}},
		Interaction: Proximity,
		Threshold:   30,
	}
}

func TestSocial_Proximity(t *testing.T) {
	trig, err := NewSocial(socialConfig())
	require.NoError(t, err)

	near := []pose.Skeleton{
		{"nose": {X: 100, Y: 100}},
		{"nose": {X: 110, Y: 100}, "tailroot": {X: 130, Y: 100}},
	}
	// Passive centroid (120,100) is 20px from the active nose.
	matched, resp := trig.CheckAll(near)
	assert.True(t, matched)
	assert.True(t, resp.Active)

	apart := []pose.Skeleton{
		{"nose": {X: 100, Y: 100}},
		{"nose": {X: 300, Y: 100}, "tailroot": {X: 340, Y: 100}},
	}
	matched, _ = trig.CheckAll(apart)
	assert.False(t, matched)
}

func TestSocial_ThresholdIsInclusive(t *testing.T) {
	trig, err := NewSocial(socialConfig())
	require.NoError(t, err)

	matched, _ := trig.CheckAll([]pose.Skeleton{
		{"nose": {X: 0, Y: 0}},
		{"nose": {X: 30, Y: 0}, "tailroot": {X: 30, Y: 0}},
	})
	assert.True(t, matched)
}

func TestSocial_TooFewAnimals(t *testing.T) {
	trig, err := NewSocial(socialConfig())
	require.NoError(t, err)

	matched, _ := trig.CheckAll([]pose.Skeleton{{"nose": {X: 100, Y: 100}}})
	assert.False(t, matched)

	matched, _ = trig.CheckAll(nil)
	assert.False(t, matched)
}

func TestSocial_UntrackedRole(t *testing.T) {
	trig, err := NewSocial(socialConfig())
	require.NoError(t, err)

	nan := math.NaN()
	matched, _ := trig.CheckAll([]pose.Skeleton{
		{"nose": {X: nan, Y: nan}},
		{"nose": {X: 100, Y: 100}, "tailroot": {X: 120, Y: 100}},
	})
	assert.False(t, matched, "a role with no tracked parts cannot interact")
}

func TestSocial_PartialRoleStillCounts(t *testing.T) {
	trig, err := NewSocial(socialConfig())
	require.NoError(t, err)

	// The passive tailroot is lost; the centroid falls back to the nose.
	nan := math.NaN()
	matched, _ := trig.CheckAll([]pose.Skeleton{
		{"nose": {X: 100, Y: 100}},
		{"nose": {X: 110, Y: 100}, "tailroot": {X: nan, Y: nan}},
	})
	assert.True(t, matched)
}

func TestNewSocial_Validation(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*SocialConfig)
	}{
		{"unknown interaction", func(c *SocialConfig) { c.Interaction = "grooming" }},
		{"no active parts", func(c *SocialConfig) { c.Active.BodyParts = nil }},
		{"no passive parts", func(c *SocialConfig) { c.Passive.BodyParts = nil }},
		{"negative animal", func(c *SocialConfig) { c.Active.Animal = -1 }},
		{"same animal", func(c *SocialConfig) { c.Passive.Animal = c.Active.Animal }},
		{"zero threshold", func(c *SocialConfig) { c.Threshold = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := socialConfig()
			tc.mutate(&cfg)
			_, err := NewSocial(cfg)
			assert.Error(t, err)
		})
	}
}
