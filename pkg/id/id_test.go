package id

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGeneratorIsMonotonic(t *testing.T) {
	t.Parallel()

	at := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	g := NewGenerator(42, func() time.Time { return at })

	prev := g.New()
	for i := 0; i < 100; i++ {
		next := g.New()
		assert.Len(t, next, 26)
		assert.Less(t, prev, next)
		prev = next
	}

	ts, err := Time(prev)
	require.NoError(t, err)
	assert.True(t, ts.Equal(at))
}

func TestSeededGeneratorsAgree(t *testing.T) {
	t.Parallel()

	at := func() time.Time { return time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC) }
	a := NewGenerator(7, at)
	b := NewGenerator(7, at)
	assert.Equal(t, a.New(), b.New())
}

func TestEngineInstance(t *testing.T) {
	t.Parallel()

	before := time.Now().UTC().Truncate(time.Millisecond)
	got := EngineInstance()
	assert.True(t, strings.HasPrefix(got, "eng-"))
	assert.Equal(t, strings.ToLower(got), got)

	ts, err := Time(got)
	require.NoError(t, err)
	assert.False(t, ts.Before(before))

	_, err = Time("eng-not-a-ulid")
	assert.Error(t, err)
}
