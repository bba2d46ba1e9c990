package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"seevideo/automation/internal/models"
	"seevideo/automation/pkg/database"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, database.AutoMigrate(db))
	return db
}

func newTestStore(t *testing.T) (*GenerationStore, *gorm.DB) {
	db := newTestDB(t)
	store := NewGenerationStore(db)
	store.now = func() time.Time { return time.UnixMilli(1700000000000) }
	return store, db
}

func strp(s string) *string { return &s }

func seedTask(t *testing.T, db *gorm.DB, id string, userID *string, generateID string) {
	t.Helper()
	row := models.VideoGeneration{
		ID:           id,
		UserID:       userID,
		CreationType: "video",
		Duration:     "10s",
		FrameMode:    "first_last",
		Model:        "video-3.0",
		Ratio:        "9:16",
		GenerateID:   strp(generateID),
		VideoURL:     strp("https://cdn.test/old.mp4"),
		Status:       models.StatusPending,
	}
	require.NoError(t, db.Create(&row).Error)
	if userID != nil {
		require.NoError(t, db.Create(&models.User{ID: *userID, Credits: 4}).Error)
	}
}

func TestUpdatePathsCoalescesExistingRow(t *testing.T) {
	store, db := newTestStore(t)
	seedTask(t, db, "task-1", nil, "gen-1")

	err := store.UpdateVideoGenerationPaths(context.Background(), PathUpdate{
		GenerateID:     "gen-1",
		VideoLocalPath: strp("/tmp/gen-1/video.mp4"),
		CoverURL:       strp("https://cdn.test/cover.jpg"),
	})
	require.NoError(t, err)

	var row models.VideoGeneration
	require.NoError(t, db.First(&row, "id = ?", "task-1").Error)
	assert.Equal(t, "https://cdn.test/old.mp4", *row.VideoURL, "nil url keeps stored value")
	assert.Equal(t, "/tmp/gen-1/video.mp4", *row.VideoLocalPath)
	assert.Equal(t, "https://cdn.test/cover.jpg", *row.VideoThumbnail)
	assert.Nil(t, row.CoverLocalPath)
	assert.Equal(t, models.StatusCompleted, row.Status)
	assert.Equal(t, int64(1700000000000), row.UpdatedAt)
	assert.Equal(t, "video-3.0", row.Model, "task fields untouched")
}

func TestUpdatePathsInsertsManualGeneration(t *testing.T) {
	store, db := newTestStore(t)

	err := store.UpdateVideoGenerationPaths(context.Background(), PathUpdate{
		GenerateID:     "manual-1",
		VideoURL:       strp("https://cdn.test/v.mp4"),
		VideoLocalPath: strp("/tmp/manual-1/video.mp4"),
	})
	require.NoError(t, err)

	row, err := store.FindByGenerateID(context.Background(), "manual-1")
	require.NoError(t, err)
	assert.Len(t, row.ID, 36)
	assert.Nil(t, row.UserID)
	assert.Equal(t, "video", row.CreationType)
	assert.Equal(t, "5s", row.Duration)
	assert.Equal(t, "both", row.FrameMode)
	assert.Equal(t, "unknown", row.Model)
	assert.Equal(t, "16:9", row.Ratio)
	assert.Equal(t, models.StatusCompleted, row.Status)
	assert.Equal(t, int64(1700000000000), row.CreatedAt)

	var count int64
	db.Model(&models.VideoGeneration{}).Count(&count)
	assert.Equal(t, int64(1), count)
}

func TestUpdatePathsRequiresGenerateID(t *testing.T) {
	store, _ := newTestStore(t)
	require.Error(t, store.UpdateVideoGenerationPaths(context.Background(), PathUpdate{}))
}

func TestHandleGenerationFailureMissingRecord(t *testing.T) {
	store, _ := newTestStore(t)

	res, err := store.HandleGenerationFailure(context.Background(), FailureUpdate{GenerateID: "nope", ErrorMsg: "x"})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "record not found", res.Error)
}

func TestHandleGenerationFailureWithoutUser(t *testing.T) {
	store, db := newTestStore(t)
	seedTask(t, db, "task-2", nil, "gen-2")

	res, err := store.HandleGenerationFailure(context.Background(), FailureUpdate{
		GenerateID: "gen-2",
		ErrorMsg:   "content moderation",
		CoverURL:   strp("https://cdn.test/c.jpg"),
	})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.False(t, res.Refunded)

	var row models.VideoGeneration
	require.NoError(t, db.First(&row, "id = ?", "task-2").Error)
	assert.Equal(t, models.StatusFailed, row.Status)
	assert.Equal(t, "content moderation", *row.ErrorMessage)
	assert.Equal(t, "https://cdn.test/old.mp4", *row.VideoURL)
	assert.Equal(t, "https://cdn.test/c.jpg", *row.VideoThumbnail)
}

func TestHandleGenerationFailureRefundsOnce(t *testing.T) {
	store, db := newTestStore(t)
	seedTask(t, db, "task-3", strp("user-3"), "gen-3")

	res, err := store.HandleGenerationFailure(context.Background(), FailureUpdate{GenerateID: "gen-3", ErrorMsg: "timeout"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.True(t, res.Refunded)
	require.NotNil(t, res.Refund)
	assert.Equal(t, 1, res.Refund.RefundedAmount)

	again, err := store.HandleGenerationFailure(context.Background(), FailureUpdate{GenerateID: "gen-3", ErrorMsg: "timeout"})
	require.NoError(t, err)
	assert.False(t, again.Refunded)
	assert.True(t, again.Refund.AlreadyRefunded)

	var user models.User
	require.NoError(t, db.First(&user, "id = ?", "user-3").Error)
	assert.Equal(t, 5, user.Credits)

	var history []models.CreditTransaction
	require.NoError(t, db.Find(&history).Error)
	require.Len(t, history, 1)
	assert.Equal(t, "refund", history[0].Type)
	assert.Equal(t, "generation failed: timeout", history[0].Reason)
}

func TestRefundCreditsConcurrentCallersRefundOnce(t *testing.T) {
	store, db := newTestStore(t)
	seedTask(t, db, "task-4", strp("user-4"), "gen-4")

	var wg sync.WaitGroup
	results := make([]*RefundResult, 5)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := store.RefundCredits(context.Background(), "task-4", 1, "")
			assert.NoError(t, err)
			results[i] = res
		}(i)
	}
	wg.Wait()

	refunded := 0
	for _, res := range results {
		require.NotNil(t, res)
		assert.True(t, res.Success)
		refunded += res.RefundedAmount
	}
	assert.Equal(t, 1, refunded)

	var user models.User
	require.NoError(t, db.First(&user, "id = ?", "user-4").Error)
	assert.Equal(t, 5, user.Credits)
}

func TestRefundCreditsUnknownProject(t *testing.T) {
	store, db := newTestStore(t)
	seedTask(t, db, "task-5", nil, "gen-5")

	for _, id := range []string{"missing", "task-5"} {
		res, err := store.RefundCredits(context.Background(), id, 1, "")
		require.NoError(t, err)
		assert.False(t, res.Success, id)
		assert.Equal(t, "user not found", res.Error)
	}
}

func TestAttachGenerateID(t *testing.T) {
	store, db := newTestStore(t)
	seedTask(t, db, "task-6", nil, "")

	ok, err := store.AttachGenerateID(context.Background(), "task-6", "gen-6")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.AttachGenerateID(context.Background(), "unknown", "gen-7")
	require.NoError(t, err)
	assert.False(t, ok)

	row, err := store.FindByGenerateID(context.Background(), "gen-6")
	require.NoError(t, err)
	assert.Equal(t, "task-6", row.ID)

	_, err = store.FindByGenerateID(context.Background(), "gen-7")
	assert.ErrorIs(t, err, ErrRecordNotFound)
}
