package job

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_RegisterAndLookup(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	require.NoError(t, r.Register(TypeSendEmail, HandlerFunc(succeed)))

	h, err := r.Lookup(TypeSendEmail)
	require.NoError(t, err)
	assert.NoError(t, h.Execute(context.Background(), uuid.New(), nil))
	assert.True(t, r.Has(TypeSendEmail))
	assert.False(t, r.Has(TypeAITagging))
}

func TestRegistry_Errors(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	require.NoError(t, r.Register(TypeSendEmail, HandlerFunc(succeed)))

	err := r.Register(TypeSendEmail, HandlerFunc(succeed))
	assert.ErrorIs(t, err, ErrDuplicateHandler)
	assert.True(t, IsConfigurationError(err))

	err = r.Register(Type("not_in_catalog"), HandlerFunc(succeed))
	assert.ErrorIs(t, err, ErrUnknownJobType)

	assert.Error(t, r.Register(TypeAITagging, nil))

	_, err = r.Lookup(TypeAITagging)
	assert.ErrorIs(t, err, ErrUnknownJobType)

	r.Freeze()
	err = r.Register(TypeAITagging, HandlerFunc(succeed))
	assert.ErrorIs(t, err, ErrRegistryFrozen)
}

func TestNewRegistryFrom(t *testing.T) {
	t.Parallel()

	r, err := NewRegistryFrom(map[Type]Handler{
		TypeSendEmail:   HandlerFunc(succeed),
		TypeIndexSearch: HandlerFunc(succeed),
	})
	require.NoError(t, err)
	assert.Equal(t, []Type{TypeIndexSearch, TypeSendEmail}, r.Types())
	assert.ErrorIs(t, r.Register(TypeAITagging, HandlerFunc(succeed)), ErrRegistryFrozen)

	_, err = NewRegistryFrom(map[Type]Handler{Type("bogus"): HandlerFunc(succeed)})
	assert.ErrorIs(t, err, ErrUnknownJobType)
}

func TestRegistry_ConcurrentLookups(t *testing.T) {
	t.Parallel()

	r, err := NewRegistryFrom(map[Type]Handler{TypeSendEmail: HandlerFunc(succeed)})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := r.Lookup(TypeSendEmail); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()
}
