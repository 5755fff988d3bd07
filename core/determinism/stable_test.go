package determinism

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSortedKeys(t *testing.T) {
	m := map[string]int{"il": 1, "de": 2, "gr": 3}
	assert.Equal(t, []string{"de", "gr", "il"}, SortedKeys(m))
	assert.Empty(t, SortedKeys(map[int]bool{}))

	var seen []string
	RangeMapSorted(m, func(k string, _ int) bool {
		seen = append(seen, k)
		return len(seen) < 2
	})
	assert.Equal(t, []string{"de", "gr"}, seen)
}

func TestHashJSON(t *testing.T) {
	a, err := HashJSON(map[string]interface{}{"x": 1, "y": []string{"a"}})
	require.NoError(t, err)
	b, err := HashJSON(map[string]interface{}{"y": []string{"a"}, "x": 1})
	require.NoError(t, err)
	c, err := HashJSON(map[string]interface{}{"x": 2, "y": []string{"a"}})
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a.Hex(), 64)
	assert.Equal(t, a.Hex()[:12], a.String())

	_, err = HashJSON(make(chan int))
	assert.Error(t, err)
}
