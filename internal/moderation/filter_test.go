package moderation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolftown-io/canis-server/internal/store"
)

func TestBuild_EnabledKindOnly(t *testing.T) {
	e, err := Build([]store.FilterConfig{
		{Kind: "invite_link", Enabled: true},
		{Kind: "mass_mention", Enabled: false},
	}, nil)
	require.NoError(t, err)

	assert.True(t, e.Match("join my server at discord.gg/abc123"))
	assert.False(t, e.Match("hey @everyone check this out"))
}

func TestBuild_UnknownKindIgnored(t *testing.T) {
	e, err := Build([]store.FilterConfig{{Kind: "not_a_real_kind", Enabled: true}}, nil)
	require.NoError(t, err)
	assert.False(t, e.Match("anything at all"))
}

func TestBuild_CustomPattern(t *testing.T) {
	e, err := Build(nil, []string{`banned-\d+`})
	require.NoError(t, err)
	assert.True(t, e.Match("this is banned-42 content"))
	assert.False(t, e.Match("totally fine content"))
}

func TestBuild_InvalidCustomPattern(t *testing.T) {
	_, err := Build(nil, []string{"("})
	assert.Error(t, err)
}

func TestEngine_NilMatchIsFalse(t *testing.T) {
	var e *Engine
	assert.False(t, e.Match("anything"))
}

func TestCache_InvalidateEvictsEntry(t *testing.T) {
	c := NewCache(nil)

	gen := c.guildGeneration("guild-1")
	before := gen.Load()

	c.engines.Store("guild-1", &cachedEngine{engine: &Engine{}, generation: before})
	if _, ok := c.engines.Load("guild-1"); !ok {
		t.Fatal("expected entry to be present before invalidate")
	}

	c.Invalidate("guild-1")

	_, ok := c.engines.Load("guild-1")
	assert.False(t, ok, "invalidate should evict the cached engine")
	assert.Greater(t, c.guildGeneration("guild-1").Load(), before)
}

func TestCache_InvalidateIsPerGuild(t *testing.T) {
	c := NewCache(nil)
	c.engines.Store("guild-a", &cachedEngine{engine: &Engine{}})
	c.engines.Store("guild-b", &cachedEngine{engine: &Engine{}})

	c.Invalidate("guild-a")

	_, aOK := c.engines.Load("guild-a")
	_, bOK := c.engines.Load("guild-b")
	assert.False(t, aOK)
	assert.True(t, bOK, "invalidating one guild must not evict another guild's cache entry")
}
