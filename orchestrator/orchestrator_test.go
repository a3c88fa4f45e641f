package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/callbacks"
	"github.com/tmc/langchaingo/llms"

	"github.com/smallnest/memorigo/provider"
)

func TestRegisterProviderMovesToAvailable(t *testing.T) {
	o := New(nil, nil, nil, nil, provider.NewRegistry())
	o.RegisterProvider(stubProvider{name: "stub", available: true})

	st, ok := o.Status("stub")
	require.True(t, ok)
	assert.Equal(t, StateAvailable, st.State)
	assert.True(t, st.Enabled)
}

func TestSetEnabledReportsDisabledState(t *testing.T) {
	o := New(nil, nil, nil, nil, provider.NewRegistry())
	o.RegisterProvider(stubProvider{name: "stub", available: true})
	o.SetEnabled("stub", false)

	st, ok := o.Status("stub")
	require.True(t, ok)
	assert.Equal(t, StateDisabled, st.State)
	assert.False(t, st.Enabled)
}

func TestSessionIsCreatedOnceAndReused(t *testing.T) {
	o := New(nil, nil, nil, nil, provider.NewRegistry())
	a := o.Session("sess-1", "ns")
	b := o.Session("sess-1", "ns")
	assert.Same(t, a, b)
}

func TestEndSessionRemovesIt(t *testing.T) {
	o := New(nil, nil, nil, nil, provider.NewRegistry())
	a := o.Session("sess-1", "ns")
	o.EndSession("sess-1")
	b := o.Session("sess-1", "ns")
	assert.NotSame(t, a, b)
}

func TestSessionConsciousInjectedGate(t *testing.T) {
	s := &Session{ID: "s", Namespace: "ns"}
	assert.False(t, s.ConsciousInjected())
	s.markConsciousInjected()
	assert.True(t, s.ConsciousInjected())
}

func TestFlattenEntitiesUnionsAllValues(t *testing.T) {
	got := flattenEntities(map[string][]string{
		"people": {"Alice", "Bob"},
		"places": {"Seattle"},
	})
	assert.ElementsMatch(t, []string{"Alice", "Bob", "Seattle"}, got)
}

// stubProvider is a minimal provider.Provider double used only to exercise the
// state-machine bookkeeping in Orchestrator; its call-path methods are unused
// by these tests.
type stubProvider struct {
	name      string
	available bool
}

func (s stubProvider) Name() string      { return s.name }
func (s stubProvider) IsAvailable() bool { return s.available }
func (stubProvider) SetupAutoIntegration(callbacks.Handler) bool { return false }
func (stubProvider) TeardownAutoIntegration() bool               { return false }
func (stubProvider) ReplaceClient(any) error                     { return nil }
func (stubProvider) CreateWrappedClient(func(provider.ProviderRequest, provider.ProviderResponse)) llms.Model {
	return nil
}
func (stubProvider) ExtractUserInput(provider.ProviderRequest) string { return "" }
func (stubProvider) InjectContext(req provider.ProviderRequest, _ string) provider.ProviderRequest {
	return req
}
func (stubProvider) ParseResponse(*llms.ContentResponse, provider.ProviderRequest) provider.ProviderResponse {
	return provider.ProviderResponse{}
}
func (stubProvider) ParseManualResponse(response, userInput string, meta map[string]any) provider.ProviderResponse {
	return provider.ProviderResponse{AIOutput: response, UserInput: userInput, Metadata: meta}
}
