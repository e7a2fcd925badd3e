package sqlstorage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/merchlift/email-tracking/internal/storage"
)

type Storage struct {
	db *sqlx.DB
}

func New(ctx context.Context, connectionString string) (*Storage, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("cannot open db, %w", err)
	}

	return &Storage{db}, nil
}

func (s *Storage) Connect(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("cannot connect to db, %w", err)
	}

	return nil
}

func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) Ping() error {
	if err := s.db.Ping(); err != nil {
		return fmt.Errorf("cannot ping db, %w", err)
	}

	return nil
}

func (s *Storage) CreateSendRecord(record storage.SendRecord) error {
	_, err := s.db.NamedExec(`INSERT INTO send_records
		(tracking_id, recipient_address, sender_address, subject, campaign_name, merchant_id,
		cohort_name, cohort_batch, test_group, ramp_phase, enrolled_at, open_count, last_opened_at, created_at)
		VALUES (:tracking_id, :recipient_address, :sender_address, :subject, :campaign_name, :merchant_id,
		:cohort_name, :cohort_batch, :test_group, :ramp_phase, :enrolled_at, :open_count, :last_opened_at, :created_at)`,
		record)
	if err != nil {
		return fmt.Errorf("cannot insert send record, %w", err)
	}

	return nil
}

func (s *Storage) UpsertMerchantCohort(cohort storage.MerchantCohort) error {
	_, err := s.db.NamedExec(`INSERT INTO merchant_cohorts
		(merchant_id, cohort_name, cohort_batch, test_group, status, enrolled_at)
		VALUES (:merchant_id, :cohort_name, :cohort_batch, :test_group, :status, :enrolled_at)
		ON CONFLICT (merchant_id, cohort_name)
		DO UPDATE SET cohort_batch = EXCLUDED.cohort_batch, test_group = EXCLUDED.test_group, status = EXCLUDED.status`,
		cohort)
	if err != nil {
		return fmt.Errorf("cannot upsert merchant cohort, %w", err)
	}

	return nil
}

// AddOpenEvent increments the send record counter and appends the open event
// in one transaction, so concurrent opens of the same tracking id never lose updates.
func (s *Storage) AddOpenEvent(event storage.OpenEvent) error {
	tx, err := s.db.Beginx()
	if err != nil {
		return fmt.Errorf("cannot begin tx, %w", err)
	}

	res, err := tx.Exec(`UPDATE send_records
		SET open_count = open_count + 1, last_opened_at = $1
		WHERE tracking_id = $2`, event.OpenedAt, event.TrackingID)
	if err != nil {
		tx.Rollback()

		return fmt.Errorf("cannot update open count, %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		tx.Rollback()

		return fmt.Errorf("cannot check affected rows, %w", err)
	}

	if affected == 0 {
		tx.Rollback()

		return storage.ErrTrackingIDNotFound
	}

	_, err = tx.Exec(`INSERT INTO open_events (tracking_id, opened_at, origin_address, client_signature)
		VALUES ($1, $2, $3, $4)`, event.TrackingID, event.OpenedAt, event.OriginAddress, event.ClientSignature)
	if err != nil {
		tx.Rollback()

		return fmt.Errorf("cannot insert open event, %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("cannot commit tx, %w", err)
	}

	return nil
}

func (s *Storage) GetSendRecord(trackingID string) (storage.SendRecord, error) {
	var record storage.SendRecord

	err := s.db.Get(&record, "SELECT * FROM send_records WHERE tracking_id=$1", trackingID)
	if errors.Is(err, sql.ErrNoRows) {
		return record, storage.ErrTrackingIDNotFound
	}

	if err != nil {
		return record, fmt.Errorf("cannot get send record, %w", err)
	}

	return record, nil
}

func (s *Storage) ListSendRecords(since time.Time) ([]storage.SendRecord, error) {
	var records []storage.SendRecord

	var err error
	if since.IsZero() {
		err = s.db.Select(&records, "SELECT * FROM send_records ORDER BY created_at")
	} else {
		err = s.db.Select(&records, "SELECT * FROM send_records WHERE created_at >= $1 ORDER BY created_at", since)
	}

	if err != nil {
		return nil, fmt.Errorf("cannot list send records, %w", err)
	}

	return records, nil
}

func (s *Storage) ListOpenEvents(trackingID string) ([]storage.OpenEvent, error) {
	var events []storage.OpenEvent

	err := s.db.Select(&events,
		"SELECT * FROM open_events WHERE tracking_id=$1 ORDER BY opened_at DESC", trackingID)
	if err != nil {
		return nil, fmt.Errorf("cannot list open events, %w", err)
	}

	return events, nil
}

func (s *Storage) ListMerchantCohorts() ([]storage.MerchantCohort, error) {
	var cohorts []storage.MerchantCohort

	err := s.db.Select(&cohorts, "SELECT * FROM merchant_cohorts ORDER BY merchant_id, cohort_name")
	if err != nil {
		return nil, fmt.Errorf("cannot list merchant cohorts, %w", err)
	}

	return cohorts, nil
}
