package adapter_test

import (
	"errors"
	"testing"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/smoker/internal/adapter"
	"github.com/mattjoyce/smoker/internal/adapter/mocks"
	"github.com/mattjoyce/smoker/internal/smoke"
)

func TestRegistryResolve(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	npm := mocks.NewMockProvider(ctrl)
	npm.EXPECT().Name().Return("node").AnyTimes()
	npm.EXPECT().PkgManagers().Return([]string{"npm", "pnpm"}).AnyTimes()

	npmAdapter := mocks.NewMockAdapter(ctrl)
	npm.EXPECT().New(smoke.StaticPkgManagerSpec{Name: "npm", Version: "10", Adapter: "node"}).Return(npmAdapter, nil)
	npm.EXPECT().New(smoke.StaticPkgManagerSpec{Name: "pnpm", Adapter: "node"}).Return(mocks.NewMockAdapter(ctrl), nil)

	reg := adapter.NewRegistry(npm)

	resolved, err := reg.Resolve([]string{"npm@10", "pnpm", "bun", "npm@10"})
	require.Error(t, err)

	var unsupported *smoke.UnsupportedPkgManagerError
	require.True(t, errors.As(err, &unsupported))
	assert.Equal(t, []string{"bun"}, unsupported.Requested)
	assert.Equal(t, []string{"npm", "pnpm"}, unsupported.Supported)

	require.Len(t, resolved, 2)
	assert.Equal(t, "npm@10", resolved[0].Spec.String())
	assert.Same(t, npmAdapter, resolved[0].Adapter)
	assert.Equal(t, "node", resolved[1].Spec.Adapter)
}

func TestRegistryResolveProviderError(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	p := mocks.NewMockProvider(ctrl)
	p.EXPECT().Name().Return("broken").AnyTimes()
	p.EXPECT().PkgManagers().Return([]string{"yarn"}).AnyTimes()
	p.EXPECT().New(gomock.Any()).Return(nil, errors.New("no yarn binary"))

	_, err := adapter.NewRegistry(p).Resolve([]string{"yarn"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no yarn binary")
}

func TestRegistryResolveInvalidSpec(t *testing.T) {
	_, err := adapter.NewRegistry().Resolve([]string{"@1"})
	require.Error(t, err)
}
