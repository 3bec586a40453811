package preview

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetStableWithinProcess(t *testing.T) {
	var cache Cache

	first, err := cache.Get()
	require.NoError(t, err)
	second, err := cache.Get()
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestGetShapes(t *testing.T) {
	var cache Cache

	props, err := cache.Get()
	require.NoError(t, err)

	// 16 and 32 random bytes, hex encoded.
	assert.Len(t, props.PreviewModeID, 32)
	assert.Len(t, props.SigningKey, 64)
	assert.Len(t, props.EncryptionKey, 64)
	assert.Regexp(t, "^[0-9a-f]+$", props.PreviewModeID)
	assert.Regexp(t, "^[0-9a-f]+$", props.SigningKey)
	assert.Regexp(t, "^[0-9a-f]+$", props.EncryptionKey)
}

func TestDistinctCachesDiffer(t *testing.T) {
	var a, b Cache

	pa, err := a.Get()
	require.NoError(t, err)
	pb, err := b.Get()
	require.NoError(t, err)

	assert.NotEqual(t, pa.PreviewModeID, pb.PreviewModeID)
	assert.NotEqual(t, pa.SigningKey, pb.SigningKey)
	assert.NotEqual(t, pa.EncryptionKey, pb.EncryptionKey)
}

func TestConcurrentFirstAccess(t *testing.T) {
	var cache Cache

	const callers = 16
	results := make([]Props, callers)

	var wg sync.WaitGroup
	wg.Add(callers)
	for i := 0; i < callers; i++ {
		go func(i int) {
			defer wg.Done()
			props, err := cache.Get()
			assert.NoError(t, err)
			results[i] = props
		}(i)
	}
	wg.Wait()

	for i := 1; i < callers; i++ {
		assert.Equal(t, results[0], results[i])
	}
}
