package store

import (
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zertoslack/zertoslack/internal/types"
)

func alert(id string) *types.Alert {
	return &types.Alert{Link: types.Link{Identifier: id}, Level: types.LevelWarning}
}

func newStore(t *testing.T, sources ...*types.Source) *Store {
	t.Helper()
	st, err := New(sources, zerolog.Nop())
	require.NoError(t, err)
	return st
}

func TestNew_NoSources(t *testing.T) {
	_, err := New(nil, zerolog.Nop())
	assert.ErrorIs(t, err, ErrNoSources)

	_, err = New([]*types.Source{nil}, zerolog.Nop())
	assert.ErrorIs(t, err, ErrNoSources)
}

func TestNew_DeduplicatesSources(t *testing.T) {
	src := &types.Source{Label: "a"}
	st := newStore(t, src, src)
	assert.Len(t, st.Sources(), 1)
}

func TestFindIndex(t *testing.T) {
	a, b := &types.Source{Label: "a"}, &types.Source{Label: "b"}
	st := newStore(t, a, b)

	assert.Equal(t, 0, st.FindIndex(a))
	assert.Equal(t, 1, st.FindIndex(b))
	assert.Equal(t, -1, st.FindIndex(&types.Source{Label: "a"}))
	assert.Equal(t, -1, st.FindIndex(nil))
}

func TestAddAlert(t *testing.T) {
	src := &types.Source{Label: "a"}
	st := newStore(t, src)

	assert.True(t, st.AddAlert(src, alert("1")))
	assert.True(t, st.AddAlert(src, alert("2")))

	got := st.GetAlerts(src)
	require.Len(t, got, 2)
	assert.Equal(t, "1", got[0].ID())
	assert.Equal(t, "2", got[1].ID())
}

func TestAddAlert_Rejects(t *testing.T) {
	src := &types.Source{Label: "a"}
	st := newStore(t, src)

	assert.False(t, st.AddAlert(src, nil))
	assert.False(t, st.AddAlert(src, &types.Alert{}))
	assert.False(t, st.AddAlert(&types.Source{Label: "other"}, alert("1")))
	assert.Equal(t, 0, st.Total())
}

func TestAddAlert_StoresCopy(t *testing.T) {
	src := &types.Source{Label: "a"}
	st := newStore(t, src)

	a := alert("1")
	require.True(t, st.AddAlert(src, a))
	a.Level = types.LevelRemoved

	got, ok := st.FindAlert(src, alert("1"))
	require.True(t, ok)
	assert.Equal(t, types.LevelWarning, got.Level)

	// Mutating the returned copy must not reach the store either.
	got.Level = types.LevelError
	again, _ := st.FindAlert(src, alert("1"))
	assert.Equal(t, types.LevelWarning, again.Level)
}

func TestRemoveAlert(t *testing.T) {
	src := &types.Source{Label: "a"}
	st := newStore(t, src)
	st.AddAlert(src, alert("1"))
	st.AddAlert(src, alert("2"))
	st.AddAlert(src, alert("3"))

	// Identifier match, not record identity.
	assert.True(t, st.RemoveAlert(src, &types.Alert{Link: types.Link{Identifier: "2"}, IsDismissed: true}))

	got := st.GetAlerts(src)
	require.Len(t, got, 2)
	assert.Equal(t, "1", got[0].ID())
	assert.Equal(t, "3", got[1].ID())
}

func TestRemoveAlert_AtMostOne(t *testing.T) {
	src := &types.Source{Label: "a"}
	st := newStore(t, src)
	st.AddAlert(src, alert("1"))
	st.AddAlert(src, alert("1"))

	assert.True(t, st.RemoveAlert(src, alert("1")))
	assert.Equal(t, 1, st.Count(src))
}

func TestRemoveAlert_Misses(t *testing.T) {
	src := &types.Source{Label: "a"}
	st := newStore(t, src)
	st.AddAlert(src, alert("1"))

	assert.False(t, st.RemoveAlert(src, nil))
	assert.False(t, st.RemoveAlert(src, alert("missing")))
	assert.False(t, st.RemoveAlert(&types.Source{Label: "other"}, alert("1")))
	assert.Equal(t, 1, st.Count(src))
}

func TestRemoveAllAlerts(t *testing.T) {
	a, b := &types.Source{Label: "a"}, &types.Source{Label: "b"}
	st := newStore(t, a, b)
	st.AddAlert(a, alert("1"))
	st.AddAlert(a, alert("2"))
	st.AddAlert(b, alert("3"))

	assert.True(t, st.RemoveAllAlerts(a))
	assert.Empty(t, st.GetAlerts(a))
	assert.Equal(t, 1, st.Count(b))

	assert.False(t, st.RemoveAllAlerts(&types.Source{}))
}

func TestGetAlerts_UnknownSource(t *testing.T) {
	st := newStore(t, &types.Source{Label: "a"})
	got := st.GetAlerts(&types.Source{Label: "b"})
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestFindAlertIndexAndPresence(t *testing.T) {
	src := &types.Source{Label: "a"}
	st := newStore(t, src)
	st.AddAlert(src, alert("1"))
	st.AddAlert(src, alert("2"))

	assert.Equal(t, 1, st.FindAlertIndex(src, alert("2")))
	assert.Equal(t, -1, st.FindAlertIndex(src, alert("9")))
	assert.Equal(t, -1, st.FindAlertIndex(src, nil))
	assert.Equal(t, -1, st.FindAlertIndex(&types.Source{}, alert("1")))

	assert.True(t, st.IsAlertPresent(src, alert("1")))
	assert.False(t, st.IsAlertPresent(src, alert("9")))

	_, ok := st.FindAlert(src, nil)
	assert.False(t, ok)
}

func TestConcurrentMixedOps(t *testing.T) {
	src := &types.Source{Label: "a"}
	st := newStore(t, src)
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			st.AddAlert(src, alert("x"))
		}()
		go func() {
			defer wg.Done()
			st.GetAlerts(src)
			st.Total()
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, st.Count(src))
}
