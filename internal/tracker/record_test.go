package tracker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tasktracker/internal/ledger"
	"tasktracker/internal/schedule"
)

func day(y int, m time.Month, d int) time.Time { return time.Date(y, m, d, 9, 0, 0, 0, time.UTC) }

var (
	sliding7   = schedule.Task{Mode: schedule.ModeSliding, Params: schedule.SlidingParams{IntervalDays: 7}}
	predictive = schedule.Task{Mode: schedule.ModePredictive, Params: schedule.PredictiveParams{InitialGuessDays: 30}}
)

func TestCompleteSetsDerivedFields(t *testing.T) {
	t.Parallel()
	rec, err := Complete(sliding7, Record{TaskID: "plants"}, day(2024, 1, 1))
	require.NoError(t, err)
	require.NotNil(t, rec.LastDone)
	require.NotNil(t, rec.NextDue)
	assert.Equal(t, "plants", rec.TaskID)
	assert.True(t, rec.LastDone.Equal(day(2024, 1, 1)))
	assert.True(t, rec.NextDue.Equal(day(2024, 1, 8)))
	assert.Equal(t, 1, rec.History.Len())
}

func TestBackdatedCompletionKeepsNewestAnchor(t *testing.T) {
	t.Parallel()
	rec, err := Complete(sliding7, Record{TaskID: "plants"}, day(2024, 1, 10))
	require.NoError(t, err)

	rec, err = Complete(sliding7, rec, day(2024, 1, 5))
	require.NoError(t, err)

	assert.True(t, rec.LastDone.Equal(day(2024, 1, 10)), "last_done = %v", rec.LastDone)
	assert.True(t, rec.NextDue.Equal(day(2024, 1, 17)), "next_due = %v", rec.NextDue)
	assert.Equal(t, []time.Time{day(2024, 1, 5), day(2024, 1, 10)}, rec.History.Snapshot())
}

func TestResetThenCompleteUsesColdStart(t *testing.T) {
	t.Parallel()
	rec := Record{TaskID: "descale", History: ledger.New(day(2024, 1, 1), day(2024, 1, 11), day(2024, 1, 21))}

	rec = Reset(rec)
	assert.Equal(t, 0, rec.History.Len())
	assert.Nil(t, rec.LastDone)
	assert.Nil(t, rec.NextDue)
	assert.Equal(t, schedule.StateUnknown, rec.Status(day(2024, 2, 1)).State)

	rec, err := Complete(predictive, rec, day(2024, 2, 1))
	require.NoError(t, err)
	assert.True(t, rec.NextDue.Equal(day(2024, 3, 2)), "next_due = %v", rec.NextDue)
}

func TestCompleteErrorLeavesRecord(t *testing.T) {
	t.Parallel()
	bad := schedule.Task{Mode: schedule.ModeFixed, Params: schedule.SlidingParams{IntervalDays: 3}}
	in := Record{TaskID: "x", History: ledger.New(day(2024, 1, 1))}

	out, err := Complete(bad, in, day(2024, 1, 2))
	require.ErrorIs(t, err, schedule.ErrConfiguration)
	assert.Equal(t, in, out)
}

func TestRecompute(t *testing.T) {
	t.Parallel()
	empty, err := Recompute(sliding7, Record{TaskID: "x"})
	require.NoError(t, err)
	assert.Nil(t, empty.NextDue)

	rec, err := Complete(sliding7, Record{TaskID: "x"}, day(2024, 1, 1))
	require.NoError(t, err)
	longer := schedule.Task{Mode: schedule.ModeSliding, Params: schedule.SlidingParams{IntervalDays: 14}}
	rec, err = Recompute(longer, rec)
	require.NoError(t, err)
	assert.True(t, rec.NextDue.Equal(day(2024, 1, 15)))
}

func TestRecordStatus(t *testing.T) {
	t.Parallel()
	rec, err := Complete(sliding7, Record{TaskID: "x"}, day(2024, 1, 1))
	require.NoError(t, err)

	assert.Equal(t, schedule.StateUpcoming, rec.Status(day(2024, 1, 2)).State)
	assert.Equal(t, schedule.StateDueToday, rec.Status(day(2024, 1, 8).Add(-time.Hour)).State)
	assert.Equal(t, schedule.StateOverdue, rec.Status(day(2024, 1, 9)).State)
}
