package registry_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/hongdown/hongdown-ls/internal/formatting"
	"github.com/hongdown/hongdown-ls/internal/registry"
	"github.com/hongdown/hongdown-ls/internal/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.lsp.dev/protocol"
)

type stubProvider struct{}

func (stubProvider) ProvideEdits(context.Context, formatting.Document, protocol.FormattingOptions) []protocol.TextEdit {
	return nil
}

type fakeHandle struct {
	registrar *fakeRegistrar
	id        int
	err       error
}

func (h *fakeHandle) Release(context.Context) error {
	h.registrar.released = append(h.registrar.released, h.id)
	return h.err
}

type fakeRegistrar struct {
	next        int
	registered  []registry.Selector
	released    []int
	registerErr error
	releaseErr  error
}

func (r *fakeRegistrar) Register(_ context.Context, selector registry.Selector) (registry.Handle, error) {
	if r.registerErr != nil {
		return nil, r.registerErr
	}
	r.next++
	r.registered = append(r.registered, selector)
	return &fakeHandle{registrar: r, id: r.next, err: r.releaseErr}, nil
}

type toggle struct {
	enabled bool
}

func (t *toggle) IsEnabled() bool {
	return t.enabled
}

func TestController_Refresh(t *testing.T) {
	tests := []struct {
		name           string
		enabled        bool
		expectedRoutes int
	}{
		{name: "enabled registers every selector", enabled: true, expectedRoutes: 2},
		{name: "disabled registers nothing", enabled: false, expectedRoutes: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			registrar := &fakeRegistrar{}
			controller := registry.New((&toggle{enabled: tt.enabled}).IsEnabled, stubProvider{}, registrar, nil, nil)

			require.NoError(t, controller.Refresh(context.Background()))

			assert.Equal(t, tt.expectedRoutes, controller.Len())
			assert.Len(t, registrar.registered, tt.expectedRoutes)

			_, fileOK := controller.Lookup(utils.SchemeFile, utils.LanguageMarkdown)
			_, untitledOK := controller.Lookup(utils.SchemeUntitled, utils.LanguageMarkdown)
			assert.Equal(t, tt.enabled, fileOK)
			assert.Equal(t, tt.enabled, untitledOK)
		})
	}
}

func TestController_RefreshReleasesFirst(t *testing.T) {
	registrar := &fakeRegistrar{}
	state := &toggle{enabled: true}
	controller := registry.New(state.IsEnabled, stubProvider{}, registrar, nil, nil)

	require.NoError(t, controller.Refresh(context.Background()))
	require.NoError(t, controller.Refresh(context.Background()))

	assert.Equal(t, 2, controller.Len(), "refresh must not accumulate registrations")
	assert.Equal(t, []int{1, 2}, registrar.released)

	state.enabled = false
	require.NoError(t, controller.Refresh(context.Background()))

	assert.Equal(t, 0, controller.Len())
	assert.Equal(t, []int{1, 2, 3, 4}, registrar.released)
	_, ok := controller.Lookup(utils.SchemeFile, utils.LanguageMarkdown)
	assert.False(t, ok)
}

func TestController_ReleaseErrors(t *testing.T) {
	registrar := &fakeRegistrar{releaseErr: errors.New("connection closed")}
	controller := registry.New(func() bool { return true }, stubProvider{}, registrar, nil, nil)
	require.NoError(t, controller.Refresh(context.Background()))

	err := controller.Release(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection closed")
	assert.Equal(t, []int{1, 2}, registrar.released, "every handle is released even after a failure")
	assert.Equal(t, 0, controller.Len())
}

func TestController_RegisterErrorKeepsLocalRoute(t *testing.T) {
	registrar := &fakeRegistrar{registerErr: fmt.Errorf("client refused")}
	controller := registry.New(func() bool { return true }, stubProvider{}, registrar, nil, nil)

	err := controller.Refresh(context.Background())

	require.Error(t, err)
	assert.Equal(t, 2, controller.Len())
	_, ok := controller.Lookup(utils.SchemeUntitled, utils.LanguageMarkdown)
	assert.True(t, ok)

	// Entries without a client handle release cleanly.
	assert.NoError(t, controller.Release(context.Background()))
	assert.Equal(t, 0, controller.Len())
}

func TestController_LocalOnly(t *testing.T) {
	controller := registry.New(func() bool { return true }, stubProvider{}, nil, nil, nil)
	require.NoError(t, controller.Refresh(context.Background()))

	_, ok := controller.Lookup(utils.SchemeFile, utils.LanguageMarkdown)
	assert.True(t, ok)
	_, ok = controller.Lookup(utils.SchemeFile, "go")
	assert.False(t, ok)
	_, ok = controller.Lookup("vscode-remote", utils.LanguageMarkdown)
	assert.False(t, ok)
}

func TestController_SetRegistrar(t *testing.T) {
	controller := registry.New(func() bool { return true }, stubProvider{}, nil, nil, nil)
	require.NoError(t, controller.Refresh(context.Background()))

	registrar := &fakeRegistrar{}
	controller.SetRegistrar(registrar)
	assert.Empty(t, registrar.registered)

	require.NoError(t, controller.Refresh(context.Background()))
	assert.Equal(t, registry.DefaultSelectors, registrar.registered)
}

// blockingRegistrar waits for proceed before answering, like a client that
// has not yet replied to client/registerCapability.
type blockingRegistrar struct {
	started chan struct{}
	proceed chan struct{}
}

func (r *blockingRegistrar) Register(ctx context.Context, _ registry.Selector) (registry.Handle, error) {
	select {
	case r.started <- struct{}{}:
	default:
	}
	select {
	case <-r.proceed:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return &fakeHandle{registrar: &fakeRegistrar{}}, nil
}

func TestController_ReadsDoNotWaitForRegistrar(t *testing.T) {
	registrar := &blockingRegistrar{started: make(chan struct{}, 1), proceed: make(chan struct{})}
	controller := registry.New(func() bool { return true }, stubProvider{}, registrar, nil, nil)

	refreshed := make(chan error, 1)
	go func() { refreshed <- controller.Refresh(context.Background()) }()

	select {
	case <-registrar.started:
	case <-time.After(5 * time.Second):
		t.Fatal("registration never started")
	}

	read := make(chan int, 1)
	go func() {
		controller.Lookup(utils.SchemeFile, utils.LanguageMarkdown)
		read <- controller.Len()
	}()

	select {
	case n := <-read:
		assert.Equal(t, 0, n)
	case <-time.After(3 * time.Second):
		t.Fatal("Len blocked while a registration was pending")
	}

	close(registrar.proceed)
	require.NoError(t, <-refreshed)
	assert.Equal(t, 2, controller.Len())
}

func TestController_Close(t *testing.T) {
	registrar := &fakeRegistrar{}
	controller := registry.New(func() bool { return true }, stubProvider{}, registrar, nil, nil)
	require.NoError(t, controller.Refresh(context.Background()))

	require.NoError(t, controller.Close(context.Background()))
	assert.Equal(t, []int{1, 2}, registrar.released)

	require.NoError(t, controller.Refresh(context.Background()))
	assert.Equal(t, 0, controller.Len(), "a closed controller does not register again")
	assert.Len(t, registrar.registered, 2)
}
