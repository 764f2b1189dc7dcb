package sweep

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tasktracker/internal/eventbus"
	"tasktracker/internal/schedule"
	"tasktracker/internal/tracker"
	logx "tasktracker/pkg/logx"
)

type fakeLister struct {
	mu    sync.Mutex
	views []tracker.View
	err   error
}

func (f *fakeLister) List(context.Context) ([]tracker.View, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]tracker.View(nil), f.views...), f.err
}

func (f *fakeLister) set(views ...tracker.View) {
	f.mu.Lock()
	f.views = views
	f.mu.Unlock()
}

func view(id string, st schedule.State) tracker.View {
	return tracker.View{ID: id, Name: id, Status: schedule.Status{State: st}}
}

func TestSweepPublishesOncePerChange(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	events, unsub := bus.Subscribe(16, eventbus.TypeTaskStatus)
	defer unsub()

	l := &fakeLister{}
	svc := New(l, bus, logx.Nop())
	ctx := context.Background()

	l.set(view("bins", schedule.StateUpcoming), view("plants", schedule.StateUnknown))
	changes, err := svc.Sweep(ctx)
	require.NoError(t, err)
	require.Len(t, changes, 2)
	assert.Equal(t, schedule.State(""), changes[0].From)

	changes, err = svc.Sweep(ctx)
	require.NoError(t, err)
	assert.Empty(t, changes, "unchanged states must not republish")

	l.set(view("bins", schedule.StateDueToday), view("plants", schedule.StateUnknown))
	changes, err = svc.Sweep(ctx)
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, StatusChange{
		TaskID: "bins", Name: "bins",
		From: schedule.StateUpcoming, To: schedule.StateDueToday,
		Status: schedule.Status{State: schedule.StateDueToday},
	}, changes[0])

	require.Len(t, events, 3)
	for i := 0; i < 2; i++ {
		<-events
	}
	e := <-events
	assert.Equal(t, "bins", e.TaskID)
	assert.Equal(t, schedule.StateDueToday, e.Data.(StatusChange).To)
}

func TestSweepForgetsRemovedTasks(t *testing.T) {
	t.Parallel()
	l := &fakeLister{}
	svc := New(l, nil, logx.Nop())
	ctx := context.Background()

	l.set(view("bins", schedule.StateOverdue))
	_, err := svc.Sweep(ctx)
	require.NoError(t, err)

	l.set()
	_, err = svc.Sweep(ctx)
	require.NoError(t, err)

	l.set(view("bins", schedule.StateOverdue))
	changes, err := svc.Sweep(ctx)
	require.NoError(t, err)
	require.Len(t, changes, 1, "re-added task is observed afresh")
}

func TestSweepListError(t *testing.T) {
	t.Parallel()
	svc := New(&fakeLister{err: errors.New("store down")}, nil, logx.Nop())
	_, err := svc.Sweep(context.Background())
	require.Error(t, err)
}

func TestStartStop(t *testing.T) {
	t.Parallel()
	l := &fakeLister{}
	l.set(view("bins", schedule.StateUpcoming))
	bus := eventbus.New()
	events, unsub := bus.Subscribe(4, eventbus.TypeTaskStatus)
	defer unsub()

	svc := New(l, bus, logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.Error(t, svc.Start(ctx, "bogus spec!", time.UTC))
	require.NoError(t, svc.Start(ctx, "1h", time.UTC))

	select {
	case e := <-events:
		assert.Equal(t, "bins", e.TaskID)
	case <-time.After(2 * time.Second):
		t.Fatal("initial sweep did not run")
	}

	require.NoError(t, svc.Apply(ctx, "", time.UTC))
	svc.Stop()
}
