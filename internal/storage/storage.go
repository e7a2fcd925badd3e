package storage

import (
	"errors"
	"time"
)

var ErrTrackingIDNotFound = errors.New("tracking id not found")

type SendRecord struct {
	TrackingID       string     `db:"tracking_id" json:"tracking_id"`
	RecipientAddress string     `db:"recipient_address" json:"recipient_address"`
	SenderAddress    string     `db:"sender_address" json:"sender_address"`
	Subject          string     `db:"subject" json:"subject"`
	CampaignName     string     `db:"campaign_name" json:"campaign_name"`
	MerchantID       string     `db:"merchant_id" json:"merchant_id"`
	CohortName       string     `db:"cohort_name" json:"cohort_name"`
	CohortBatch      int        `db:"cohort_batch" json:"cohort_batch"`
	TestGroup        string     `db:"test_group" json:"test_group"`
	RampPhase        string     `db:"ramp_phase" json:"ramp_phase"`
	EnrolledAt       time.Time  `db:"enrolled_at" json:"enrolled_at"`
	OpenCount        int        `db:"open_count" json:"open_count"`
	LastOpenedAt     *time.Time `db:"last_opened_at" json:"last_opened_at,omitempty"`
	CreatedAt        time.Time  `db:"created_at" json:"created_at"`
}

type OpenEvent struct {
	TrackingID      string    `db:"tracking_id" json:"tracking_id"`
	OpenedAt        time.Time `db:"opened_at" json:"opened_at"`
	OriginAddress   string    `db:"origin_address" json:"origin_address"`
	ClientSignature string    `db:"client_signature" json:"client_signature"`
}

type MerchantCohort struct {
	MerchantID  string    `db:"merchant_id" json:"merchant_id"`
	CohortName  string    `db:"cohort_name" json:"cohort_name"`
	CohortBatch int       `db:"cohort_batch" json:"cohort_batch"`
	TestGroup   string    `db:"test_group" json:"test_group"`
	Status      string    `db:"status" json:"status"`
	EnrolledAt  time.Time `db:"enrolled_at" json:"enrolled_at"`
}
