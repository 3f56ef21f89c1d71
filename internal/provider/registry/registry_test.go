package registry_test

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/davidbz/creditmeter/internal/domain"
	"github.com/davidbz/creditmeter/internal/mocks"
	"github.com/davidbz/creditmeter/internal/provider/registry"
)

// stubProvider returns a mock provider that advertises models.
func stubProvider(t *testing.T, name string, models ...string) *mocks.MockProvider {
	t.Helper()

	p := mocks.NewMockProvider(t)
	p.EXPECT().Name().Return(name).Maybe()
	p.EXPECT().SupportedModels(mock.Anything).Return(models).Maybe()
	p.EXPECT().IsModelSupported(mock.Anything, mock.Anything).
		RunAndReturn(func(_ context.Context, model string) bool {
			return slices.Contains(models, model)
		}).Maybe()
	return p
}

func TestRegistry_Register(t *testing.T) {
	ctx := context.Background()

	t.Run("should register provider successfully", func(t *testing.T) {
		reg := registry.NewRegistry()

		require.NoError(t, reg.Register(ctx, stubProvider(t, "echo", "echo4")))

		registered, err := reg.Get(ctx, "echo")
		require.NoError(t, err)
		require.Equal(t, "echo", registered.Name())
	})

	t.Run("should reject invalid providers", func(t *testing.T) {
		reg := registry.NewRegistry()

		err := reg.Register(ctx, nil)
		require.ErrorContains(t, err, "provider cannot be nil")

		err = reg.Register(ctx, stubProvider(t, ""))
		require.ErrorContains(t, err, "provider name cannot be empty")
	})

	t.Run("should reject duplicate names", func(t *testing.T) {
		reg := registry.NewRegistry()

		require.NoError(t, reg.Register(ctx, stubProvider(t, "openai", "gpt-4o")))
		err := reg.Register(ctx, stubProvider(t, "openai", "gpt-4o-mini"))
		require.ErrorContains(t, err, "already registered")
	})
}

func TestRegistry_Get(t *testing.T) {
	ctx := context.Background()
	reg := registry.NewRegistry()
	require.NoError(t, reg.Register(ctx, stubProvider(t, "echo", "echo4")))

	_, err := reg.Get(ctx, "")
	require.ErrorContains(t, err, "provider name cannot be empty")

	_, err = reg.Get(ctx, "anthropic")
	require.True(t, errors.Is(err, domain.ErrProviderNotFound))
}

func TestRegistry_List(t *testing.T) {
	ctx := context.Background()

	t.Run("should be empty for a new registry", func(t *testing.T) {
		names, err := registry.NewRegistry().List(ctx)
		require.NoError(t, err)
		require.NotNil(t, names)
		require.Empty(t, names)
	})

	t.Run("should keep registration order", func(t *testing.T) {
		reg := registry.NewRegistry()
		for _, name := range []string{"openai", "echo", "azure"} {
			require.NoError(t, reg.Register(ctx, stubProvider(t, name)))
		}

		names, err := reg.List(ctx)
		require.NoError(t, err)
		require.Equal(t, []string{"openai", "echo", "azure"}, names)
	})
}

func TestRegistry_GetByModel(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name     string
		model    string
		expected string
		found    bool
	}{
		{name: "advertised by first provider", model: "gpt-4o-mini", expected: "openai", found: true},
		{name: "advertised by second provider", model: "echo4", expected: "echo", found: true},
		{name: "shared model keeps first owner", model: "gpt-4o", expected: "openai", found: true},
		{name: "unknown model", model: "claude-2", found: false},
	}

	reg := registry.NewRegistry()
	require.NoError(t, reg.Register(ctx, stubProvider(t, "openai", "gpt-4o", "gpt-4o-mini")))
	require.NoError(t, reg.Register(ctx, stubProvider(t, "echo", "echo4", "gpt-4o")))

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider, err := reg.GetByModel(ctx, tt.model)
			if !tt.found {
				require.ErrorIs(t, err, domain.ErrProviderNotFound)
				require.ErrorContains(t, err, "no provider found for model")
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.expected, provider.Name())
		})
	}

	t.Run("should reject an empty model", func(t *testing.T) {
		_, err := reg.GetByModel(ctx, "")
		require.ErrorContains(t, err, "model cannot be empty")
	})

	t.Run("should ask providers about unadvertised models", func(t *testing.T) {
		reg := registry.NewRegistry()
		quiet := mocks.NewMockProvider(t)
		quiet.EXPECT().Name().Return("finetune").Maybe()
		quiet.EXPECT().SupportedModels(mock.Anything).Return(nil)
		quiet.EXPECT().IsModelSupported(mock.Anything, "ft:gpt-4o-mini:district").Return(true)
		require.NoError(t, reg.Register(ctx, quiet))

		provider, err := reg.GetByModel(ctx, "ft:gpt-4o-mini:district")
		require.NoError(t, err)
		require.Equal(t, "finetune", provider.Name())
	})
}

func TestRegistry_Concurrent(t *testing.T) {
	ctx := context.Background()
	reg := registry.NewRegistry()

	var wg sync.WaitGroup
	for i := range 10 {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			_ = reg.Register(ctx, stubProvider(t, fmt.Sprintf("provider-%d", idx)))
			_, _ = reg.GetByModel(ctx, "gpt-4o")
		}(i)
	}
	wg.Wait()

	names, err := reg.List(ctx)
	require.NoError(t, err)
	require.Len(t, names, 10)
}
