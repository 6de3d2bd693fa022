// services/scheduler.go
package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"rewards-ledger-system/logging"
	"rewards-ledger-system/models"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const payoutBatchSize = 500

// ManifestUploader stores a payout manifest and returns where it went.
type ManifestUploader interface {
	PutJSON(ctx context.Context, key string, body []byte) (string, error)
}

// PayoutManifest is the document handed to the payout operator. It lists
// approved withdrawals that have not been exported yet.
type PayoutManifest struct {
	GeneratedAt time.Time                  `json:"generated_at"`
	Count       int                        `json:"count"`
	Total       int64                      `json:"total"`
	Withdrawals []models.WithdrawalRequest `json:"withdrawals"`
}

// PayoutExporter periodically writes approved withdrawals to object storage
// and stamps them as exported.
type PayoutExporter struct {
	DB       *gorm.DB
	Uploader ManifestUploader
	Prefix   string
	Now      func() time.Time
}

func NewPayoutExporter(db *gorm.DB, uploader ManifestUploader, prefix string) *PayoutExporter {
	return &PayoutExporter{DB: db, Uploader: uploader, Prefix: prefix, Now: time.Now}
}

// Export uploads one manifest of unexported approved withdrawals and returns
// how many it contained. Rows are stamped only after the upload succeeds, so
// a failed run is retried in full by the next one.
func (e *PayoutExporter) Export(ctx context.Context) (int, string, error) {
	var batch []models.WithdrawalRequest
	err := e.DB.WithContext(ctx).
		Where("status = ? AND exported_at IS NULL", models.WithdrawalApproved).
		Order("processed_at ASC").
		Limit(payoutBatchSize).
		Find(&batch).Error
	if err != nil {
		return 0, "", storageErr("load approved withdrawals", err)
	}
	if len(batch) == 0 {
		return 0, "", nil
	}

	now := e.Now().UTC()
	manifest := PayoutManifest{GeneratedAt: now, Count: len(batch), Withdrawals: batch}
	ids := make([]string, 0, len(batch))
	for _, w := range batch {
		manifest.Total += w.Amount
		ids = append(ids, w.ID)
	}
	body, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return 0, "", err
	}

	key := fmt.Sprintf("%s/%s-%s.json", e.Prefix, now.Format("20060102T150405Z"), uuid.NewString()[:8])
	location, err := e.Uploader.PutJSON(ctx, key, body)
	if err != nil {
		return 0, "", err
	}

	if err := e.DB.WithContext(ctx).
		Model(&models.WithdrawalRequest{}).
		Where("id IN ? AND exported_at IS NULL", ids).
		Update("exported_at", now).Error; err != nil {
		return 0, location, storageErr("stamp exported withdrawals", err)
	}
	return len(batch), location, nil
}

// Start schedules Export every interval. The caller shuts the returned
// scheduler down.
func (e *PayoutExporter) Start(interval time.Duration) (gocron.Scheduler, error) {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}

	_, err = sched.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
			defer cancel()

			n, location, err := e.Export(ctx)
			if err != nil {
				logging.Logger.Error("[Scheduler] payout export failed", zap.Error(err))
				return
			}
			if n > 0 {
				logging.Logger.Info("✅ [Scheduler] payout manifest exported",
					zap.Int("count", n), zap.String("location", location))
			}
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = sched.Shutdown()
		return nil, err
	}

	sched.Start()
	return sched, nil
}
