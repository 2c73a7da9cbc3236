package cache

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSearchHistory(t *testing.T) {
	ctx := context.Background()
	h := NewSearchHistory(openTestStore(t))

	terms, err := h.Terms(ctx, "general")
	require.NoError(t, err)
	assert.Empty(t, terms)

	require.NoError(t, h.Remember(ctx, "general", "popcorn"))
	require.NoError(t, h.Remember(ctx, "general", "trailer"))
	require.NoError(t, h.Remember(ctx, "general", " popcorn "))
	require.NoError(t, h.Remember(ctx, "general", "  "))
	require.NoError(t, h.Remember(ctx, "movies", "dune"))

	terms, err = h.Terms(ctx, "general")
	require.NoError(t, err)
	assert.Equal(t, []string{"popcorn", "trailer"}, terms)

	for i := range 15 {
		require.NoError(t, h.Remember(ctx, "movies", fmt.Sprintf("t%d", i)))
	}
	terms, err = h.Terms(ctx, "movies")
	require.NoError(t, err)
	assert.Len(t, terms, 10)
	assert.Equal(t, "t14", terms[0])
}

func TestSearchHistory_CorruptEntry(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	require.NoError(t, s.Set(ctx, "search:general", []byte("{not json"), 0))

	h := NewSearchHistory(s)
	terms, err := h.Terms(ctx, "general")
	require.NoError(t, err)
	assert.Nil(t, terms)

	v, err := s.Get(ctx, "search:general")
	require.NoError(t, err)
	assert.Nil(t, v)
}
