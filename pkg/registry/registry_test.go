package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubModule struct {
	name    string
	version int
}

func (s *stubModule) Name() string                 { return s.name }
func (s *stubModule) SupportedVersion() int         { return s.version }
func (s *stubModule) NewInstance(map[string]interface{}) (InstanceState, error) {
	return nil, nil
}
func (s *stubModule) NewWorker(InstanceState) (WorkerState, error) { return nil, nil }
func (s *stubModule) TryResume(context.Context, WorkerState) Result {
	return ResultOK
}
func (s *stubModule) DoAction(context.Context, WorkerState, interface{}) Result {
	return ResultOK
}
func (s *stubModule) BeginTransaction(WorkerState) error  { return nil }
func (s *stubModule) CommitTransaction(WorkerState) error { return nil }
func (s *stubModule) FreeWorker(WorkerState) error        { return nil }
func (s *stubModule) FreeInstance(InstanceState) error    { return nil }
func (s *stubModule) ModExit() error                      { return nil }
func (s *stubModule) Rendering() Rendering                 { return RenderBytes }

func TestLookupReturnsRegisteredModule(t *testing.T) {
	r := New()
	r.Register(&stubModule{name: "omfwd", version: 2})

	m, err := r.Lookup("omfwd", 1)
	require.NoError(t, err)
	assert.Equal(t, "omfwd", m.Name())
}

func TestLookupReturnsNotFound(t *testing.T) {
	r := New()
	_, err := r.Lookup("missing", 1)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLookupRejectsVersionTooLow(t *testing.T) {
	r := New()
	r.Register(&stubModule{name: "omkafka", version: 1})

	_, err := r.Lookup("omkafka", 2)
	assert.ErrorIs(t, err, ErrVersionTooLow)
}

func TestRegisterReplacesExisting(t *testing.T) {
	r := New()
	r.Register(&stubModule{name: "omfwd", version: 1})
	r.Register(&stubModule{name: "omfwd", version: 3})

	m, err := r.Lookup("omfwd", 3)
	require.NoError(t, err)
	assert.Equal(t, 3, m.SupportedVersion())
}

func TestClaimResumeWithoutCoordinatorAlwaysSucceeds(t *testing.T) {
	r := New()
	ok, err := r.ClaimResume(context.Background(), "omfwd", 5)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, r.ReleaseResume(context.Background(), "omfwd"))
}

func TestNamesListsAllRegistered(t *testing.T) {
	r := New()
	r.Register(&stubModule{name: "a", version: 1})
	r.Register(&stubModule{name: "b", version: 1})
	assert.ElementsMatch(t, []string{"a", "b"}, r.Names())
}
