package window

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odvcencio/cardhost/pkg/logging"
)

func nopLog() *logging.InstanceLogger {
	return (*logging.Logger)(nil).ForInstance("test-1", "test")
}

func TestCreatePrimary(t *testing.T) {
	tk := NewMemoryToolkit()
	owner := NewOwner(OwnerConfig{Toolkit: tk, Log: nopLog()})

	win, err := owner.CreatePrimary(context.Background(), "file:///app/index.html")
	require.NoError(t, err)
	assert.Equal(t, "file:///app/index.html", win.URL())
	assert.Same(t, win, owner.Primary())

	// Primary is created hidden until Show.
	assert.False(t, tk.Window(win.ID()).Visible())

	require.NoError(t, owner.Show(context.Background()))
	assert.True(t, tk.Window(win.ID()).Visible())
}

func TestCreatePrimaryTwice(t *testing.T) {
	tk := NewMemoryToolkit()
	owner := NewOwner(OwnerConfig{Toolkit: tk, Log: nopLog()})

	_, err := owner.CreatePrimary(context.Background(), "file:///a")
	require.NoError(t, err)

	_, err = owner.CreatePrimary(context.Background(), "file:///b")
	assert.ErrorIs(t, err, ErrPrimaryExists)
}

func TestCreatePrimaryToolkitFailure(t *testing.T) {
	tk := NewMemoryToolkit()
	tk.CreateErr = errors.New("compositor gone")
	owner := NewOwner(OwnerConfig{Toolkit: tk, Log: nopLog()})

	_, err := owner.CreatePrimary(context.Background(), "file:///a")
	require.Error(t, err)
	assert.Nil(t, owner.Primary())
}

func TestHeadlessShowIsNoOp(t *testing.T) {
	tk := NewMemoryToolkit()
	owner := NewOwner(OwnerConfig{Toolkit: tk, Log: nopLog(), Headless: true})

	win, err := owner.CreatePrimary(context.Background(), "file:///svc")
	require.NoError(t, err)

	require.NoError(t, owner.Show(context.Background()))
	assert.False(t, tk.Window(win.ID()).Visible(), "headless primary must never become visible")
}

func TestSecondaryAlwaysVisible(t *testing.T) {
	// Even when the owner is headless, a child window is a real card.
	tk := NewMemoryToolkit()
	owner := NewOwner(OwnerConfig{Toolkit: tk, Log: nopLog(), Headless: true})

	_, err := owner.CreatePrimary(context.Background(), "file:///svc")
	require.NoError(t, err)

	sec, err := owner.CreateSecondary(context.Background(), "file:///child")
	require.NoError(t, err)
	mw := tk.Window(sec.ID())
	assert.True(t, mw.Visible())
	assert.Equal(t, KindCard, mw.Kind())
	assert.Len(t, owner.Secondaries(), 1)
}

func TestSecondaryCloseDropsTracking(t *testing.T) {
	tk := NewMemoryToolkit()
	owner := NewOwner(OwnerConfig{Toolkit: tk, Log: nopLog()})

	_, err := owner.CreatePrimary(context.Background(), "file:///a")
	require.NoError(t, err)
	sec, err := owner.CreateSecondary(context.Background(), "file:///child")
	require.NoError(t, err)

	require.True(t, tk.TriggerClose(sec.ID()))
	assert.Empty(t, owner.Secondaries())

	// Primary is untouched.
	assert.NotNil(t, owner.Primary())
}

func TestPrimaryClosedObserverFiresOnce(t *testing.T) {
	tk := NewMemoryToolkit()
	fired := 0
	owner := NewOwner(OwnerConfig{Toolkit: tk, Log: nopLog(), OnPrimaryClosed: func() { fired++ }})

	win, err := owner.CreatePrimary(context.Background(), "file:///a")
	require.NoError(t, err)

	require.True(t, tk.TriggerClose(win.ID()))
	assert.Equal(t, 1, fired)
	assert.Nil(t, owner.Primary())

	// CloseAll afterwards must not refire the observer.
	owner.CloseAll()
	assert.Equal(t, 1, fired)
}

func TestCloseAllOrderAndIdempotence(t *testing.T) {
	tk := NewMemoryToolkit()
	owner := NewOwner(OwnerConfig{Toolkit: tk, Log: nopLog()})

	_, err := owner.CreatePrimary(context.Background(), "file:///a")
	require.NoError(t, err)
	_, err = owner.CreateSecondary(context.Background(), "file:///c1")
	require.NoError(t, err)
	_, err = owner.CreateSecondary(context.Background(), "file:///c2")
	require.NoError(t, err)

	owner.CloseAll()
	assert.Equal(t, 0, tk.Live())
	assert.Nil(t, owner.Primary())
	assert.Empty(t, owner.Secondaries())

	owner.CloseAll()
	assert.Equal(t, 0, tk.Live())

	// A closed owner refuses new windows.
	_, err = owner.CreateSecondary(context.Background(), "file:///late")
	assert.ErrorIs(t, err, ErrWindowClosed)
}

func TestPrimaryKindReachesToolkit(t *testing.T) {
	tests := []struct {
		name string
		kind Kind
		want Kind
	}{
		{"default card", "", KindCard},
		{"popup", KindPopup, KindPopup},
		{"dashboard", KindDashboard, KindDashboard},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tk := NewMemoryToolkit()
			owner := NewOwner(OwnerConfig{Toolkit: tk, Log: nopLog(), PrimaryKind: tt.kind})

			win, err := owner.CreatePrimary(context.Background(), "file:///a")
			require.NoError(t, err)
			assert.Equal(t, tt.want, tk.Window(win.ID()).Kind())

			// Secondaries are cards regardless of the primary's kind.
			sec, err := owner.CreateSecondary(context.Background(), "file:///child")
			require.NoError(t, err)
			assert.Equal(t, KindCard, tk.Window(sec.ID()).Kind())
		})
	}
}

func TestParseKind(t *testing.T) {
	assert.Equal(t, KindPopup, ParseKind("popup"))
	assert.Equal(t, KindDashboard, ParseKind("dashboard"))
	assert.Equal(t, KindCard, ParseKind("card"))
	assert.Equal(t, KindCard, ParseKind(""))
	assert.Equal(t, KindCard, ParseKind("floating"))
}

func TestCountObserverBalances(t *testing.T) {
	tk := NewMemoryToolkit()
	count := 0
	owner := NewOwner(OwnerConfig{
		Toolkit:        tk,
		Log:            nopLog(),
		OnCountChanged: func(delta int) { count += delta },
	})

	_, err := owner.CreatePrimary(context.Background(), "file:///a")
	require.NoError(t, err)
	sec, err := owner.CreateSecondary(context.Background(), "file:///c1")
	require.NoError(t, err)
	_, err = owner.CreateSecondary(context.Background(), "file:///c2")
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	require.True(t, tk.TriggerClose(sec.ID()))
	assert.Equal(t, 2, count)

	owner.CloseAll()
	assert.Equal(t, 0, count)

	// Re-closing already-torn-down windows must not go negative.
	owner.CloseAll()
	tk.TriggerClose(sec.ID())
	assert.Equal(t, 0, count)
}

func TestScriptInjection(t *testing.T) {
	tk := NewMemoryToolkit()
	owner := NewOwner(OwnerConfig{Toolkit: tk, Log: nopLog()})

	win, err := owner.CreatePrimary(context.Background(), "file:///a")
	require.NoError(t, err)
	require.NoError(t, win.ExecuteScript(context.Background(), `_webOS.relaunch("{}");`))

	assert.Equal(t, []string{`_webOS.relaunch("{}");`}, tk.Window(win.ID()).Scripts())
}

func TestToolkitCloseTearsDownWindows(t *testing.T) {
	tk := NewMemoryToolkit()
	owner := NewOwner(OwnerConfig{Toolkit: tk, Log: nopLog()})

	win, err := owner.CreatePrimary(context.Background(), "file:///a")
	require.NoError(t, err)

	require.NoError(t, tk.Close())
	assert.Equal(t, 0, tk.Live())
	assert.Nil(t, owner.Primary())

	_, err = tk.CreateWindow(context.Background(), Config{URL: "file:///b"})
	assert.ErrorIs(t, err, ErrToolkitUnavailable)
	_ = win
}
