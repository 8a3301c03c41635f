package timeline

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/preventive-health-engine/internal/domain"
)

func newTestStore() *Store {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return NewStore(logger)
}

func day(y, m, d int) time.Time {
	return time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC)
}

func TestStore_GetHistory_OrderedRegardlessOfInsertion(t *testing.T) {
	store := newTestStore()

	dates := []time.Time{
		day(2025, 3, 10),
		day(2025, 1, 5),
		day(2025, 2, 20),
		day(2024, 12, 1),
	}
	for i, d := range dates {
		err := store.AddDataPoint(domain.DataPoint{
			UserID:    "u1",
			Parameter: "glucose",
			Value:     float64(90 + i),
			Unit:      "mg/dL",
			Date:      d,
			SourceID:  "lab-a",
		})
		require.NoError(t, err)
	}

	history, err := store.GetHistory("u1", "glucose")
	require.NoError(t, err)
	require.Len(t, history, 4)
	for i := 1; i < len(history); i++ {
		assert.False(t, history[i].Date.Before(history[i-1].Date),
			"history must be ascending by date")
	}
}

func TestStore_GetHistory_SameDateStableByInsertion(t *testing.T) {
	store := newTestStore()
	d := day(2025, 6, 1)

	for _, src := range []string{"first", "second", "third"} {
		err := store.AddDataPoint(domain.DataPoint{
			UserID:    "u1",
			Parameter: "hba1c",
			Value:     5.5,
			Date:      d,
			SourceID:  src,
		})
		require.NoError(t, err)
	}

	history, err := store.GetHistory("u1", "hba1c")
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, "first", history[0].SourceID)
	assert.Equal(t, "second", history[1].SourceID)
	assert.Equal(t, "third", history[2].SourceID)
}

func TestStore_AddDataPoint_Idempotent(t *testing.T) {
	store := newTestStore()
	point := domain.DataPoint{
		UserID:    "u1",
		Parameter: "glucose",
		Value:     95,
		Unit:      "mg/dL",
		Date:      day(2025, 4, 1),
		SourceID:  "lab-a",
	}

	require.NoError(t, store.AddDataPoint(point))
	require.NoError(t, store.AddDataPoint(point))
	require.NoError(t, store.AddDataPoint(point))

	history, err := store.GetHistory("u1", "glucose")
	require.NoError(t, err)
	assert.Len(t, history, 1, "same identity inserted twice must not duplicate")
}

func TestStore_RoundTrip_PreservesValues(t *testing.T) {
	store := newTestStore()
	point := domain.DataPoint{
		UserID:    "u1",
		Parameter: "ldl_cholesterol",
		Value:     131.5,
		Unit:      "mg/dL",
		Date:      day(2025, 2, 14),
		SourceID:  "lab-b",
	}
	require.NoError(t, store.AddDataPoint(point))

	history, err := store.GetHistory("u1", "ldl_cholesterol")
	require.NoError(t, err)
	require.Len(t, history, 1)

	got := history[0]
	assert.Equal(t, point.Parameter, got.Parameter)
	assert.Equal(t, point.Value, got.Value)
	assert.Equal(t, point.Unit, got.Unit)
	assert.True(t, point.Date.Equal(got.Date))
	assert.Equal(t, point.SourceID, got.SourceID)
}

func TestStore_UnknownUser_NotFound(t *testing.T) {
	store := newTestStore()

	_, err := store.GetHistory("nobody", "glucose")
	require.Error(t, err)
	assert.True(t, domain.IsNotFound(err))

	_, err = store.GetOrderedEvents("nobody")
	require.Error(t, err)
	assert.True(t, domain.IsNotFound(err))
}

func TestStore_EmptyTimeline_IsValid(t *testing.T) {
	store := newTestStore()
	store.CreateTimeline("u1")

	history, err := store.GetHistory("u1", "glucose")
	require.NoError(t, err)
	assert.Empty(t, history)

	events, err := store.GetOrderedEvents("u1")
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestStore_GetOrderedEvents_Sorted(t *testing.T) {
	store := newTestStore()

	events := []domain.Event{
		{UserID: "u1", Type: domain.FOLLOW_UP_DUE_EVENT, Date: day(2025, 5, 1)},
		{UserID: "u1", Type: domain.LAB_TEST_EVENT, TestType: "lipid_panel", Date: day(2025, 1, 15)},
		{UserID: "u1", Type: domain.PRESCRIPTION_EVENT, Date: day(2025, 3, 2)},
	}
	for _, e := range events {
		require.NoError(t, store.AddEvent(e))
	}

	got, err := store.GetOrderedEvents("u1")
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, domain.LAB_TEST_EVENT, got[0].Type)
	assert.Equal(t, domain.PRESCRIPTION_EVENT, got[1].Type)
	assert.Equal(t, domain.FOLLOW_UP_DUE_EVENT, got[2].Type)
}

func TestStore_Snapshot_IsolatedFromLaterWrites(t *testing.T) {
	store := newTestStore()
	require.NoError(t, store.AddDataPoint(domain.DataPoint{
		UserID: "u1", Parameter: "glucose", Value: 90, Date: day(2025, 1, 1), SourceID: "a",
	}))

	snap, err := store.Snapshot("u1")
	require.NoError(t, err)
	require.Len(t, snap.Points, 1)
	firstVersion := snap.Version

	require.NoError(t, store.AddDataPoint(domain.DataPoint{
		UserID: "u1", Parameter: "glucose", Value: 95, Date: day(2025, 2, 1), SourceID: "a",
	}))

	assert.Len(t, snap.Points, 1, "snapshot must not observe later writes")

	version, err := store.Version("u1")
	require.NoError(t, err)
	assert.Greater(t, version, firstVersion)
}

func TestStore_Snapshot_LastOccurrence(t *testing.T) {
	store := newTestStore()
	require.NoError(t, store.AddEvent(domain.Event{
		UserID: "u1", Type: domain.LAB_TEST_EVENT, TestType: "colonoscopy", Date: day(2020, 6, 1),
	}))
	require.NoError(t, store.AddEvent(domain.Event{
		UserID: "u1", Type: domain.LAB_TEST_EVENT, TestType: "colonoscopy", Date: day(2023, 6, 1),
	}))

	snap, err := store.Snapshot("u1")
	require.NoError(t, err)

	last, found := snap.LastOccurrence("colonoscopy")
	require.True(t, found)
	assert.True(t, last.Equal(day(2023, 6, 1)))

	_, found = snap.LastOccurrence("mammogram")
	assert.False(t, found)
}

func TestStore_AddDataPoint_RejectsInvalid(t *testing.T) {
	store := newTestStore()

	tests := []struct {
		name  string
		point domain.DataPoint
	}{
		{"missing user", domain.DataPoint{Parameter: "glucose", Date: day(2025, 1, 1)}},
		{"missing parameter", domain.DataPoint{UserID: "u1", Date: day(2025, 1, 1)}},
		{"zero date", domain.DataPoint{UserID: "u1", Parameter: "glucose"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, store.AddDataPoint(tt.point))
		})
	}
}
