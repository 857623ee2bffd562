package chunk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevelOrdering(t *testing.T) {
	assert.Greater(t, Ticking, Active)
	assert.Greater(t, Active, Minimal)
	assert.Greater(t, Minimal, Loaded)
	assert.False(t, Level(0).Valid())
}

func TestSuccessiveLevels(t *testing.T) {
	assert.Equal(t, []Level{Active, Minimal, Loaded}, Ticking.SuccessiveLevels())
	assert.Equal(t, []Level{Minimal, Loaded}, Active.SuccessiveLevels())
	assert.Equal(t, []Level{Loaded}, Minimal.SuccessiveLevels())
	assert.Empty(t, Loaded.SuccessiveLevels())
}

func TestParameterizedLevel(t *testing.T) {
	p := TickingRadius(3)
	assert.Equal(t, Ticking, p.Plain())
	assert.Equal(t, "Ticking(radius=3)", p.String())
	assert.Equal(t, "Minimal", At(Minimal).String())

	require.NoError(t, p.Validate())
	require.NoError(t, At(Loaded).Validate())
	assert.Error(t, TickingRadius(-1).Validate())
	assert.Error(t, ParameterizedLevel{Level: Active, Radius: 2}.Validate())
	assert.Error(t, At(Level(9)).Validate())
}

func TestParseLevel(t *testing.T) {
	for _, l := range Levels {
		text, err := l.MarshalText()
		require.NoError(t, err)
		var got Level
		require.NoError(t, got.UnmarshalText(text))
		assert.Equal(t, l, got)
	}
	got, err := ParseLevel(" ticking ")
	require.NoError(t, err)
	assert.Equal(t, Ticking, got)

	_, err = ParseLevel("FROZEN")
	assert.Error(t, err)
}
