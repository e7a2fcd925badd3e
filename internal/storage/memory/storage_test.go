package memorystorage

import (
	"sync"
	"testing"
	"time"

	"github.com/merchlift/email-tracking/internal/storage"
	"github.com/stretchr/testify/require"
)

func TestSendRecords(t *testing.T) {
	s := New()
	createdAt := time.Date(2024, time.March, 1, 10, 0, 0, 0, time.UTC)

	t.Run("create and get", func(t *testing.T) {
		err := s.CreateSendRecord(storage.SendRecord{TrackingID: "t1", RecipientAddress: "a@x.com", CreatedAt: createdAt})
		require.NoError(t, err)

		record, err := s.GetSendRecord("t1")
		require.NoError(t, err)
		require.Equal(t, "a@x.com", record.RecipientAddress)
		require.Equal(t, 0, record.OpenCount)
	})

	t.Run("duplicate tracking id rejected", func(t *testing.T) {
		err := s.CreateSendRecord(storage.SendRecord{TrackingID: "t1"})
		require.Error(t, err)
	})

	t.Run("unknown tracking id", func(t *testing.T) {
		_, err := s.GetSendRecord("missing")
		require.ErrorIs(t, err, storage.ErrTrackingIDNotFound)
	})

	t.Run("list preserves insertion order and filters by time", func(t *testing.T) {
		err := s.CreateSendRecord(storage.SendRecord{TrackingID: "t2", CreatedAt: createdAt.Add(time.Hour)})
		require.NoError(t, err)

		records, err := s.ListSendRecords(time.Time{})
		require.NoError(t, err)
		require.Len(t, records, 2)
		require.Equal(t, "t1", records[0].TrackingID)
		require.Equal(t, "t2", records[1].TrackingID)

		records, err = s.ListSendRecords(createdAt.Add(time.Minute))
		require.NoError(t, err)
		require.Len(t, records, 1)
		require.Equal(t, "t2", records[0].TrackingID)
	})
}

func TestOpenEvents(t *testing.T) {
	s := New()
	now := time.Date(2024, time.March, 1, 10, 0, 0, 0, time.UTC)

	err := s.CreateSendRecord(storage.SendRecord{TrackingID: "t1", CreatedAt: now})
	require.NoError(t, err)

	t.Run("open increments counter and appends event", func(t *testing.T) {
		err := s.AddOpenEvent(storage.OpenEvent{TrackingID: "t1", OpenedAt: now, OriginAddress: "1.2.3.4", ClientSignature: "Mozilla/5.0"})
		require.NoError(t, err)

		record, err := s.GetSendRecord("t1")
		require.NoError(t, err)
		require.Equal(t, 1, record.OpenCount)
		require.NotNil(t, record.LastOpenedAt)
		require.Equal(t, now, *record.LastOpenedAt)
	})

	t.Run("unknown tracking id leaves store unchanged", func(t *testing.T) {
		err := s.AddOpenEvent(storage.OpenEvent{TrackingID: "missing", OpenedAt: now})
		require.ErrorIs(t, err, storage.ErrTrackingIDNotFound)

		record, err := s.GetSendRecord("t1")
		require.NoError(t, err)
		require.Equal(t, 1, record.OpenCount)
	})

	t.Run("events listed newest first", func(t *testing.T) {
		err := s.AddOpenEvent(storage.OpenEvent{TrackingID: "t1", OpenedAt: now.Add(time.Minute), ClientSignature: "Thunderbird"})
		require.NoError(t, err)

		events, err := s.ListOpenEvents("t1")
		require.NoError(t, err)
		require.Len(t, events, 2)
		require.Equal(t, "Thunderbird", events[0].ClientSignature)
		require.Equal(t, "Mozilla/5.0", events[1].ClientSignature)
	})
}

func TestConcurrentOpens(t *testing.T) {
	s := New()
	now := time.Now()

	require.NoError(t, s.CreateSendRecord(storage.SendRecord{TrackingID: "hot", CreatedAt: now}))
	require.NoError(t, s.CreateSendRecord(storage.SendRecord{TrackingID: "cold", CreatedAt: now}))

	const opens = 100

	var wg sync.WaitGroup
	for i := 0; i < opens; i++ {
		wg.Add(2)

		go func() {
			defer wg.Done()
			require.NoError(t, s.AddOpenEvent(storage.OpenEvent{TrackingID: "hot", OpenedAt: time.Now()}))
		}()
		go func() {
			defer wg.Done()
			require.NoError(t, s.AddOpenEvent(storage.OpenEvent{TrackingID: "cold", OpenedAt: time.Now()}))
		}()
	}
	wg.Wait()

	for _, id := range []string{"hot", "cold"} {
		record, err := s.GetSendRecord(id)
		require.NoError(t, err)
		require.Equal(t, opens, record.OpenCount, "no lost updates for %s", id)

		events, err := s.ListOpenEvents(id)
		require.NoError(t, err)
		require.Len(t, events, opens, "exactly one event per open for %s", id)
	}
}

func TestMerchantCohorts(t *testing.T) {
	s := New()
	enrolledAt := time.Date(2024, time.March, 1, 10, 0, 0, 0, time.UTC)

	t.Run("insert", func(t *testing.T) {
		err := s.UpsertMerchantCohort(storage.MerchantCohort{
			MerchantID: "m1", CohortName: "alpha", CohortBatch: 1, TestGroup: "control", Status: "active", EnrolledAt: enrolledAt,
		})
		require.NoError(t, err)

		cohorts, err := s.ListMerchantCohorts()
		require.NoError(t, err)
		require.Len(t, cohorts, 1)
	})

	t.Run("re-enrollment updates in place", func(t *testing.T) {
		err := s.UpsertMerchantCohort(storage.MerchantCohort{
			MerchantID: "m1", CohortName: "alpha", CohortBatch: 2, TestGroup: "variant_a", Status: "active", EnrolledAt: enrolledAt.Add(time.Hour),
		})
		require.NoError(t, err)

		cohorts, err := s.ListMerchantCohorts()
		require.NoError(t, err)
		require.Len(t, cohorts, 1, "no duplicate row for the same merchant and cohort")
		require.Equal(t, "variant_a", cohorts[0].TestGroup)
		require.Equal(t, 2, cohorts[0].CohortBatch)
		require.Equal(t, enrolledAt, cohorts[0].EnrolledAt, "original enrollment time kept")
	})

	t.Run("different cohort inserts new row", func(t *testing.T) {
		err := s.UpsertMerchantCohort(storage.MerchantCohort{
			MerchantID: "m1", CohortName: "beta", TestGroup: "control", Status: "active", EnrolledAt: enrolledAt,
		})
		require.NoError(t, err)

		cohorts, err := s.ListMerchantCohorts()
		require.NoError(t, err)
		require.Len(t, cohorts, 2)
	})

	t.Run("concurrent upserts produce one row", func(t *testing.T) {
		var wg sync.WaitGroup
		for i := 0; i < 50; i++ {
			wg.Add(1)

			go func() {
				defer wg.Done()
				require.NoError(t, s.UpsertMerchantCohort(storage.MerchantCohort{
					MerchantID: "m2", CohortName: "gamma", TestGroup: "control", Status: "active", EnrolledAt: enrolledAt,
				}))
			}()
		}
		wg.Wait()

		cohorts, err := s.ListMerchantCohorts()
		require.NoError(t, err)

		var gamma int
		for _, cohort := range cohorts {
			if cohort.MerchantID == "m2" && cohort.CohortName == "gamma" {
				gamma++
			}
		}
		require.Equal(t, 1, gamma)
	})
}
