package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/merchlift/email-tracking/internal/analytics"
	"github.com/merchlift/email-tracking/internal/cohort"
	"github.com/merchlift/email-tracking/internal/storage"
	"go.uber.org/zap"
)

// Cohort upserts are retried on contention, the caller never sees the conflict.
const upsertAttempts = 3

type App struct {
	logger   Logger
	storage  Storage
	notifier Notifier
	baseURL  string
}

type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	GetInstance() *zap.Logger
}

type Storage interface {
	Ping() error
	CreateSendRecord(record storage.SendRecord) error
	UpsertMerchantCohort(cohort storage.MerchantCohort) error
	AddOpenEvent(event storage.OpenEvent) error
	GetSendRecord(trackingID string) (storage.SendRecord, error)
	ListSendRecords(since time.Time) ([]storage.SendRecord, error)
	ListOpenEvents(trackingID string) ([]storage.OpenEvent, error)
	ListMerchantCohorts() ([]storage.MerchantCohort, error)
}

type Notifier interface {
	Publish(body []byte) error
}

type SendResult struct {
	TrackingID  string `json:"tracking_id"`
	TrackingURL string `json:"tracking_url"`
}

type EmailDetails struct {
	Record storage.SendRecord  `json:"record"`
	Opens  []storage.OpenEvent `json:"opens"`
}

type OpenNotification struct {
	TrackingID      string    `json:"tracking_id"`
	OpenedAt        time.Time `json:"opened_at"`
	OriginAddress   string    `json:"origin_address"`
	ClientSignature string    `json:"client_signature"`
}

func New(logger Logger, storage Storage, notifier Notifier, baseURL string) *App {
	return &App{logger: logger, storage: storage, notifier: notifier, baseURL: baseURL}
}

func (a *App) GetLogger() Logger {
	return a.logger
}

func (a *App) GetStorage() Storage {
	return a.storage
}

// Ping reports whether the backing storage is reachable.
func (a *App) Ping() error {
	return a.storage.Ping()
}

// TrackSend registers one outbound email: resolves the cohort assignment,
// mints a tracking id and writes the send record plus the merchant cohort row.
func (a *App) TrackSend(fields cohort.SendFields) (SendResult, error) {
	now := time.Now()

	assignment, err := cohort.Assign(fields, now)
	if err != nil {
		return SendResult{}, err
	}

	record := storage.SendRecord{
		TrackingID:       uuid.NewString(),
		RecipientAddress: fields.RecipientAddress,
		SenderAddress:    fields.SenderAddress,
		Subject:          fields.Subject,
		CampaignName:     assignment.CampaignName,
		MerchantID:       assignment.MerchantID,
		CohortName:       assignment.CohortName,
		CohortBatch:      assignment.CohortBatch,
		TestGroup:        assignment.TestGroup,
		RampPhase:        assignment.RampPhase,
		EnrolledAt:       assignment.EnrolledAt,
		CreatedAt:        now,
	}

	if err := a.storage.CreateSendRecord(record); err != nil {
		return SendResult{}, err
	}

	merchantCohort := storage.MerchantCohort{
		MerchantID:  assignment.MerchantID,
		CohortName:  assignment.CohortName,
		CohortBatch: assignment.CohortBatch,
		TestGroup:   assignment.TestGroup,
		Status:      cohort.StatusActive,
		EnrolledAt:  assignment.EnrolledAt,
	}

	for i := 0; ; i++ {
		err = a.storage.UpsertMerchantCohort(merchantCohort)
		if err == nil {
			break
		}

		if i+1 >= upsertAttempts {
			return SendResult{}, fmt.Errorf("cannot upsert merchant cohort after %d attempts, %w", upsertAttempts, err)
		}

		a.logger.Warn("retrying merchant cohort upsert",
			"merchant_id", merchantCohort.MerchantID, "cohort_name", merchantCohort.CohortName)
	}

	a.logger.Info("email tracked",
		"tracking_id", record.TrackingID, "recipient", record.RecipientAddress, "campaign", record.CampaignName)

	return SendResult{
		TrackingID:  record.TrackingID,
		TrackingURL: fmt.Sprintf("%s/track/%s", a.baseURL, record.TrackingID),
	}, nil
}

// RecordOpen counts one pixel fetch. Every fetch counts, duplicates from mail
// client prefetching included. An unknown tracking id is reported back so the
// boundary can log it, the pixel response itself never changes.
func (a *App) RecordOpen(trackingID string, originAddress string, clientSignature string, now time.Time) error {
	event := storage.OpenEvent{
		TrackingID:      trackingID,
		OpenedAt:        now,
		OriginAddress:   originAddress,
		ClientSignature: clientSignature,
	}

	if err := a.storage.AddOpenEvent(event); err != nil {
		if errors.Is(err, storage.ErrTrackingIDNotFound) {
			a.logger.Warn("open for unknown tracking id", "tracking_id", trackingID, "origin", originAddress)
		}

		return err
	}

	a.logger.Info("email opened", "tracking_id", trackingID, "origin", originAddress)

	a.notifyOpen(event)

	return nil
}

func (a *App) notifyOpen(event storage.OpenEvent) {
	if a.notifier == nil {
		return
	}

	body, err := json.Marshal(OpenNotification{
		TrackingID:      event.TrackingID,
		OpenedAt:        event.OpenedAt,
		OriginAddress:   event.OriginAddress,
		ClientSignature: event.ClientSignature,
	})
	if err != nil {
		a.logger.Error("cannot marshal open notification: " + err.Error())

		return
	}

	if err := a.notifier.Publish(body); err != nil {
		a.logger.Error("cannot publish open notification: " + err.Error())
	}
}

func (a *App) EmailDetails(trackingID string) (EmailDetails, error) {
	record, err := a.storage.GetSendRecord(trackingID)
	if err != nil {
		return EmailDetails{}, err
	}

	opens, err := a.storage.ListOpenEvents(trackingID)
	if err != nil {
		return EmailDetails{}, err
	}

	return EmailDetails{Record: record, Opens: opens}, nil
}

func (a *App) CohortPerformance(since time.Time) ([]analytics.CohortPerformanceRow, error) {
	records, err := a.storage.ListSendRecords(since)
	if err != nil {
		return nil, err
	}

	return analytics.CohortPerformance(records), nil
}

func (a *App) ABTestResults(since time.Time, groups []string) ([]analytics.ABTestRow, error) {
	records, err := a.storage.ListSendRecords(since)
	if err != nil {
		return nil, err
	}

	return analytics.ABTestResults(records, groups), nil
}

func (a *App) RampDashboard(since time.Time) (analytics.RampDashboard, error) {
	records, err := a.storage.ListSendRecords(since)
	if err != nil {
		return analytics.RampDashboard{}, err
	}

	cohorts, err := a.storage.ListMerchantCohorts()
	if err != nil {
		return analytics.RampDashboard{}, err
	}

	return analytics.Dashboard(records, cohorts), nil
}
