package models

// The tables below are owned by see-video-server and shared through the same
// database file. Timestamps are unix milliseconds to match the rows it writes.

const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

type VideoGeneration struct {
	ID             string  `json:"id" gorm:"primaryKey;size:36"`
	UserID         *string `json:"user_id" gorm:"size:36;index"`
	CreationType   string  `json:"creation_type" gorm:"size:32"`
	Duration       string  `json:"duration" gorm:"size:16"`
	FrameMode      string  `json:"frame_mode" gorm:"size:32"`
	Model          string  `json:"model" gorm:"size:64"`
	Ratio          string  `json:"ratio" gorm:"size:16"`
	Prompt         string  `json:"prompt" gorm:"type:text"`
	GenerateID     *string `json:"generate_id" gorm:"size:64;index"`
	VideoURL       *string `json:"video_url" gorm:"type:text"`
	VideoLocalPath *string `json:"video_local_path" gorm:"type:text"`
	VideoThumbnail *string `json:"video_thumbnail" gorm:"type:text"` // cover url
	CoverLocalPath *string `json:"cover_local_path" gorm:"type:text"`
	Status         string  `json:"status" gorm:"size:16;default:pending"`
	ErrorMessage   *string `json:"error_message" gorm:"type:text"`
	Refunded       int     `json:"refunded" gorm:"default:0"`
	CreatedAt      int64   `json:"created_at" gorm:"autoCreateTime:milli"`
	UpdatedAt      int64   `json:"updated_at" gorm:"autoUpdateTime:milli"`
}

func (VideoGeneration) TableName() string { return "video_generations" }

type User struct {
	ID      string `json:"id" gorm:"primaryKey;size:36"`
	Credits int    `json:"credits" gorm:"default:0"`
}

func (User) TableName() string { return "users" }

type CreditTransaction struct {
	ID        string `json:"id" gorm:"primaryKey;size:36"`
	UserID    string `json:"user_id" gorm:"size:36;index"`
	Amount    int    `json:"amount"`
	Type      string `json:"type" gorm:"size:32"`
	Reason    string `json:"reason" gorm:"type:text"`
	CreatedAt int64  `json:"created_at" gorm:"autoCreateTime:milli"`
}

func (CreditTransaction) TableName() string { return "credit_transactions" }
