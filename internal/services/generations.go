package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"seevideo/automation/internal/models"
	"seevideo/automation/pkg/logger"
	"seevideo/automation/pkg/metrics"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var ErrRecordNotFound = errors.New("record not found")

// PathUpdate carries the asset locations for one generation. Nil fields keep
// whatever the row already has.
type PathUpdate struct {
	GenerateID     string
	VideoURL       *string
	VideoLocalPath *string
	CoverURL       *string
	CoverLocalPath *string
}

type FailureUpdate struct {
	GenerateID string
	ErrorMsg   string
	VideoURL   *string
	CoverURL   *string
}

type RefundResult struct {
	Success         bool   `json:"success"`
	UserID          string `json:"userId,omitempty"`
	RefundedAmount  int    `json:"refundedAmount"`
	AlreadyRefunded bool   `json:"alreadyRefunded,omitempty"`
	Error           string `json:"error,omitempty"`
}

type FailureResult struct {
	Success  bool          `json:"success"`
	Refunded bool          `json:"refunded"`
	Refund   *RefundResult `json:"refund,omitempty"`
	Error    string        `json:"error,omitempty"`
}

// GenerationStore is the relay's view of the video_generations table.
type GenerationStore struct {
	db  *gorm.DB
	now func() time.Time
}

func NewGenerationStore(db *gorm.DB) *GenerationStore {
	return &GenerationStore{db: db, now: time.Now}
}

func (s *GenerationStore) millis() int64 {
	return s.now().UnixMilli()
}

// UpdateVideoGenerationPaths records downloaded asset paths. Rows created by
// see-video-server are updated in place; videos generated by hand on the site
// get a new row with placeholder task fields.
func (s *GenerationStore) UpdateVideoGenerationPaths(ctx context.Context, upd PathUpdate) error {
	log := logger.Component("DB").WithField("generate_id", upd.GenerateID)
	if upd.GenerateID == "" {
		return fmt.Errorf("generate id is required")
	}
	now := s.millis()

	var existing models.VideoGeneration
	err := s.db.WithContext(ctx).Select("id").Where("generate_id = ?", upd.GenerateID).First(&existing).Error
	switch {
	case err == nil:
		fields := map[string]interface{}{
			"updated_at": now,
			"status":     models.StatusCompleted,
		}
		coalesce(fields, "video_url", upd.VideoURL)
		coalesce(fields, "video_local_path", upd.VideoLocalPath)
		coalesce(fields, "video_thumbnail", upd.CoverURL)
		coalesce(fields, "cover_local_path", upd.CoverLocalPath)

		if err := s.db.WithContext(ctx).Model(&models.VideoGeneration{}).
			Where("generate_id = ?", upd.GenerateID).
			UpdateColumns(fields).Error; err != nil {
			log.WithError(err).Error("Error updating video_generations")
			return fmt.Errorf("update video generation %s: %w", upd.GenerateID, err)
		}
		log.Info("Updated video_generations")
		return nil

	case errors.Is(err, gorm.ErrRecordNotFound):
		generateID := upd.GenerateID
		row := models.VideoGeneration{
			ID:             uuid.New().String(),
			CreationType:   "video",
			Duration:       "5s",
			FrameMode:      "both",
			Model:          "unknown",
			Ratio:          "16:9",
			GenerateID:     &generateID,
			VideoURL:       upd.VideoURL,
			VideoLocalPath: upd.VideoLocalPath,
			VideoThumbnail: upd.CoverURL,
			CoverLocalPath: upd.CoverLocalPath,
			Status:         models.StatusCompleted,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
			log.WithError(err).Error("Error inserting video_generations")
			return fmt.Errorf("insert video generation %s: %w", upd.GenerateID, err)
		}
		log.WithField("id", row.ID).Info("Inserted new video_generations")
		return nil

	default:
		return fmt.Errorf("lookup video generation %s: %w", upd.GenerateID, err)
	}
}

// HandleGenerationFailure marks a generation failed, keeps the site's error
// text and returns the user's credit when the row belongs to a user.
func (s *GenerationStore) HandleGenerationFailure(ctx context.Context, upd FailureUpdate) (*FailureResult, error) {
	log := logger.Component("DB").WithField("generate_id", upd.GenerateID)

	var existing models.VideoGeneration
	err := s.db.WithContext(ctx).Select("id", "user_id").Where("generate_id = ?", upd.GenerateID).First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		log.Warn("No record found for generate_id")
		return &FailureResult{Success: false, Error: ErrRecordNotFound.Error()}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup video generation %s: %w", upd.GenerateID, err)
	}

	fields := map[string]interface{}{
		"error_message": upd.ErrorMsg,
		"status":        models.StatusFailed,
		"updated_at":    s.millis(),
	}
	coalesce(fields, "video_url", upd.VideoURL)
	coalesce(fields, "video_thumbnail", upd.CoverURL)

	if err := s.db.WithContext(ctx).Model(&models.VideoGeneration{}).
		Where("generate_id = ?", upd.GenerateID).
		UpdateColumns(fields).Error; err != nil {
		return nil, fmt.Errorf("mark video generation %s failed: %w", upd.GenerateID, err)
	}
	log.WithField("error", upd.ErrorMsg).Info("Marked generation as failed")

	if existing.UserID == nil || *existing.UserID == "" {
		log.Info("Record has no user, skipping refund")
		return &FailureResult{Success: true, Refunded: false}, nil
	}

	refund, err := s.RefundCredits(ctx, existing.ID, 1, "generation failed: "+upd.ErrorMsg)
	if err != nil {
		log.WithError(err).Error("Refund failed")
		return &FailureResult{Success: true, Refunded: false, Error: err.Error()}, nil
	}
	return &FailureResult{Success: true, Refunded: refund.Success && refund.RefundedAmount > 0, Refund: refund}, nil
}

// RefundCredits returns amount credits to the owner of the generation row.
// The refunded flag is flipped with a conditional update inside the same
// transaction as the credit increment, so concurrent callers refund once.
func (s *GenerationStore) RefundCredits(ctx context.Context, projectID string, amount int, reason string) (*RefundResult, error) {
	log := logger.Component("DB").WithField("project_id", projectID)
	if amount <= 0 {
		amount = 1
	}
	if reason == "" {
		reason = "generation failed"
	}

	var record models.VideoGeneration
	err := s.db.WithContext(ctx).Select("id", "user_id", "refunded").Where("id = ?", projectID).First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) || (err == nil && (record.UserID == nil || *record.UserID == "")) {
		log.Warn("No user found for project")
		return &RefundResult{Success: false, Error: "user not found"}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup project %s: %w", projectID, err)
	}
	userID := *record.UserID

	if record.Refunded == 1 {
		log.Info("Project already refunded, skipping")
		return &RefundResult{Success: true, UserID: userID, RefundedAmount: 0, AlreadyRefunded: true}, nil
	}

	already := false
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.VideoGeneration{}).
			Where("id = ? AND refunded = ?", projectID, 0).
			UpdateColumn("refunded", 1)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			already = true
			return nil
		}
		return tx.Model(&models.User{}).
			Where("id = ?", userID).
			UpdateColumn("credits", gorm.Expr("credits + ?", amount)).Error
	})
	if err != nil {
		log.WithError(err).Error("Refund transaction failed")
		return nil, fmt.Errorf("refund project %s: %w", projectID, err)
	}
	if already {
		return &RefundResult{Success: true, UserID: userID, RefundedAmount: 0, AlreadyRefunded: true}, nil
	}
	metrics.RefundsTotal.Inc()
	log.WithFields(map[string]interface{}{"user_id": userID, "amount": amount}).Infof("Refunded credits: %s", reason)

	// the history table is optional on older see-video-server databases
	entry := models.CreditTransaction{
		ID:        uuid.New().String(),
		UserID:    userID,
		Amount:    amount,
		Type:      "refund",
		Reason:    reason,
		CreatedAt: s.millis(),
	}
	if err := s.db.WithContext(ctx).Create(&entry).Error; err != nil {
		log.WithError(err).Warn("Credit history not recorded")
	}

	return &RefundResult{Success: true, UserID: userID, RefundedAmount: amount}, nil
}

// AttachGenerateID links a freshly submitted job to its task row.
func (s *GenerationStore) AttachGenerateID(ctx context.Context, projectID, generateID string) (bool, error) {
	if projectID == "" || generateID == "" {
		return false, nil
	}
	res := s.db.WithContext(ctx).Model(&models.VideoGeneration{}).
		Where("id = ?", projectID).
		UpdateColumns(map[string]interface{}{
			"generate_id": generateID,
			"updated_at":  s.millis(),
		})
	if res.Error != nil {
		return false, fmt.Errorf("attach generate id to %s: %w", projectID, res.Error)
	}
	return res.RowsAffected > 0, nil
}

// FindByGenerateID is used by the status endpoint and tests.
func (s *GenerationStore) FindByGenerateID(ctx context.Context, generateID string) (*models.VideoGeneration, error) {
	var row models.VideoGeneration
	err := s.db.WithContext(ctx).Where("generate_id = ?", generateID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func coalesce(fields map[string]interface{}, column string, value *string) {
	if value != nil {
		fields[column] = *value
	}
}
