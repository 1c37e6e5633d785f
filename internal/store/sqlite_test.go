package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/mailpost/internal/model"
	"github.com/nhle/mailpost/internal/store"
	"github.com/nhle/mailpost/tests/testutil"
)

var base = time.Date(2024, time.May, 1, 8, 0, 0, 0, time.UTC)

func record(runID, rule string, uid uint32, at time.Time, errText string) model.DispatchRecord {
	return model.DispatchRecord{
		RunID:        runID,
		Rule:         rule,
		URL:          "https://hooks.example.com/" + rule,
		Mailbox:      "INBOX",
		UID:          uid,
		MessageID:    "<m@example.com>",
		StatusCode:   200,
		Digest:       "abc123",
		Error:        errText,
		DispatchedAt: at,
	}
}

func ptr[T any](v T) *T { return &v }

func TestMigrationsApplied(t *testing.T) {
	s := testutil.NewTestStore(t)
	v, err := s.SchemaVersion()
	require.NoError(t, err)
	assert.Equal(t, 2, v)
}

func TestReopenKeepsSchema(t *testing.T) {
	path := t.TempDir() + "/ledger.db"
	s, err := store.NewSQLiteStore(path)
	require.NoError(t, err)
	require.NoError(t, s.RecordDispatch(context.Background(), record("r1", "a", 1, base, "")))
	require.NoError(t, s.Close())

	s, err = store.NewSQLiteStore(path)
	require.NoError(t, err)
	defer s.Close()

	n, err := s.CountDispatches(context.Background(), store.DispatchFilter{})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRecordAndListDispatches(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	first := record("r1", "a", 1, base, "")
	first.ID = "fixed-id"
	require.NoError(t, s.RecordDispatch(ctx, first))
	require.NoError(t, s.RecordDispatch(ctx, record("r1", "b", 2, base.Add(time.Minute), "endpoint returned status 500")))
	require.NoError(t, s.RecordDispatch(ctx, record("r2", "a", 3, base.Add(time.Hour), "")))

	got, err := s.RecentDispatches(ctx, store.DispatchFilter{})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []uint32{3, 2, 1}, []uint32{got[0].UID, got[1].UID, got[2].UID})
	for _, r := range got {
		assert.NotEmpty(t, r.ID)
	}

	if diff := cmp.Diff(first, got[2]); diff != "" {
		t.Errorf("record mismatch (-want +got):\n%s", diff)
	}
}

func TestDispatchFilters(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.RecordDispatch(ctx, record("r1", "a", 1, base, "")))
	require.NoError(t, s.RecordDispatch(ctx, record("r1", "b", 2, base.Add(time.Minute), "boom")))
	require.NoError(t, s.RecordDispatch(ctx, record("r2", "a", 3, base.Add(time.Hour), "")))

	tests := []struct {
		name   string
		filter store.DispatchFilter
		want   []uint32
	}{
		{"by run", store.DispatchFilter{RunID: ptr("r1")}, []uint32{2, 1}},
		{"by rule", store.DispatchFilter{Rule: ptr("a")}, []uint32{3, 1}},
		{"failures", store.DispatchFilter{Failed: ptr(true)}, []uint32{2}},
		{"successes", store.DispatchFilter{Failed: ptr(false)}, []uint32{3, 1}},
		{"mailbox", store.DispatchFilter{Mailbox: ptr("Work")}, nil},
		{"limit", store.DispatchFilter{Limit: 1}, []uint32{3}},
		{"offset", store.DispatchFilter{Offset: 1}, []uint32{2, 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.RecentDispatches(ctx, tt.filter)
			require.NoError(t, err)
			var uids []uint32
			for _, r := range got {
				uids = append(uids, r.UID)
			}
			assert.Equal(t, tt.want, uids)

			n, err := s.CountDispatches(ctx, store.DispatchFilter{RunID: tt.filter.RunID, Rule: tt.filter.Rule, Mailbox: tt.filter.Mailbox, Failed: tt.filter.Failed})
			require.NoError(t, err)
			if tt.filter.Limit == 0 && tt.filter.Offset == 0 {
				assert.Equal(t, len(tt.want), n)
			}
		})
	}
}

func TestPruneDispatches(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.RecordDispatch(ctx, record("r1", "a", 1, base, "")))
	require.NoError(t, s.RecordDispatch(ctx, record("r2", "a", 2, base.Add(48*time.Hour), "")))

	n, err := s.PruneDispatches(ctx, base.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	left, err := s.RecentDispatches(ctx, store.DispatchFilter{})
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, uint32(2), left[0].UID)
}

var _ store.Ledger = (*store.SQLiteStore)(nil)
