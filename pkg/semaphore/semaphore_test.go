package semaphore_test

import (
	"testing"

	"github.com/caster-hub/validator-core/pkg/runtime"
	"github.com/caster-hub/validator-core/pkg/semaphore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireUpToCapacitySucceeds(t *testing.T) {
	s := semaphore.New(3)
	for i := 0; i < 3; i++ {
		require.NoError(t, s.Acquire("tok-a"))
	}
	assert.Equal(t, 3, s.InFlight("tok-a"))
}

func TestAcquireBeyondCapacityFailsFastWithoutMutatingCounter(t *testing.T) {
	s := semaphore.New(2)
	require.NoError(t, s.Acquire("tok-a"))
	require.NoError(t, s.Acquire("tok-a"))

	err := s.Acquire("tok-a")
	require.Error(t, err)
	assert.Equal(t, runtime.ErrConcurrencyLimit, runtime.KindOf(err))
	assert.Equal(t, 2, s.InFlight("tok-a"), "the (k+1)-th failed acquire must leave the counter unchanged")
}

func TestReleaseDecrementsAndEvictsZeroEntries(t *testing.T) {
	s := semaphore.New(1)
	require.NoError(t, s.Acquire("tok-a"))
	s.Release("tok-a")
	assert.Equal(t, 0, s.InFlight("tok-a"))
	// a fresh acquire after release must succeed since the counter was freed
	require.NoError(t, s.Acquire("tok-a"))
}

func TestDefaultCapacityIsOne(t *testing.T) {
	s := semaphore.New(0)
	require.NoError(t, s.Acquire("tok-a"))
	err := s.Acquire("tok-a")
	require.Error(t, err)
}

func TestTokensAreIndependent(t *testing.T) {
	s := semaphore.New(1)
	require.NoError(t, s.Acquire("tok-a"))
	require.NoError(t, s.Acquire("tok-b"))
}

func TestReleaseWithoutAcquirePanics(t *testing.T) {
	s := semaphore.New(1)
	assert.Panics(t, func() {
		s.Release("tok-never-acquired")
	})
}
