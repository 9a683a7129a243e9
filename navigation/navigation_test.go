package navigation_test

import (
	"context"
	"testing"
	"time"

	"github.com/jrsteele09/autopost-client/navigation"
	"github.com/jrsteele09/autopost-client/navigation/navfake"
	"github.com/stretchr/testify/require"
)

func waitDone(t *testing.T, task *navigation.Task) {
	t.Helper()
	select {
	case <-task.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("task did not finish")
	}
}

func TestSchedule_FiresAfterDelay(t *testing.T) {
	nav := navfake.NewRecorder()
	task := navigation.Schedule(context.Background(), nav, 10*time.Millisecond, "/login")

	waitDone(t, task)
	require.True(t, task.Fired())
	require.Equal(t, []string{"/login"}, nav.Routes())
	require.False(t, task.Cancel(), "cannot cancel a fired task")
}

func TestSchedule_CancelBeforeFiring(t *testing.T) {
	nav := navfake.NewRecorder()
	task := navigation.Schedule(context.Background(), nav, time.Hour, "/login")

	require.True(t, task.Cancel())
	require.False(t, task.Cancel(), "second cancel is a no-op")
	waitDone(t, task)
	require.False(t, task.Fired())
	require.Empty(t, nav.Routes())
}

func TestSchedule_OwnerTeardownCancels(t *testing.T) {
	nav := navfake.NewRecorder()
	ctx, cancel := context.WithCancel(context.Background())
	task := navigation.Schedule(ctx, nav, time.Hour, "/login")

	cancel()
	waitDone(t, task)
	require.False(t, task.Fired())
	require.Empty(t, nav.Routes())
}
