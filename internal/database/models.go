package database

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// User 表示系统中的账号信息。
type User struct {
	gorm.Model
	Username           string `gorm:"uniqueIndex;size:64"`
	PasswordHash       string `gorm:"size:255"`
	MustChangePassword bool   `gorm:"default:false"`
}

// Subscription 是嵌在 UserProfile 中的订阅值对象，不单独成表。
// 月度用量以 PlanStartDate 为锚点，跨自然月后归零。
type Subscription struct {
	Plan                    string     `gorm:"size:16;default:basic"`
	PlanStartDate           time.Time  `gorm:"not null"`
	PlanExpiryDate          *time.Time
	MonthlyApplicationsUsed int `gorm:"not null;default:0"`
}

// UserProfile 表示用户的求职档案，一人一份。
type UserProfile struct {
	gorm.Model
	UserID uint `gorm:"uniqueIndex"`
	User   User `gorm:"constraint:OnDelete:CASCADE"`

	FirstName  string `gorm:"size:128"`
	MiddleName string `gorm:"size:128"`
	LastName   string `gorm:"size:128"`
	Email      string `gorm:"size:255"`
	Phone      string `gorm:"size:64"`
	Address    string `gorm:"size:255"`
	City       string `gorm:"size:128"`
	State      string `gorm:"size:128"`
	ZipCode    string `gorm:"size:32"`
	Country    string `gorm:"size:128"`

	LinkedinURL  string `gorm:"size:512"`
	PortfolioURL string `gorm:"size:512"`
	GithubURL    string `gorm:"size:512"`

	ExperienceYears string `gorm:"size:32"`
	CurrentCompany  string `gorm:"size:255"`
	CurrentPosition string `gorm:"size:255"`
	EducationLevel  string `gorm:"size:128"`
	AboutMe         string `gorm:"type:text"`

	SearchKeywords string `gorm:"size:255"`
	SearchLocation string `gorm:"size:255"`

	// Extra 存放表单未覆盖的自由字段，核心逻辑不解析其内容。
	Extra datatypes.JSON `gorm:"type:jsonb"`

	Subscription Subscription `gorm:"embedded;embeddedPrefix:subscription_"`
}

// Credential 表示用户在外部求职平台的登录凭据，一人至多一份，覆盖保存。
type Credential struct {
	gorm.Model
	UserID           uint   `gorm:"uniqueIndex"`
	User             User   `gorm:"constraint:OnDelete:CASCADE"`
	PlatformEmail    string `gorm:"size:255"`
	PlatformPassword string `gorm:"size:255"`
	Verified         bool   `gorm:"default:false"`
}

// Resume 记录当前简历的元数据，文件本体在对象存储里。
// UserID 唯一索引保证一人至多一份当前简历。
type Resume struct {
	gorm.Model
	UserID      uint   `gorm:"uniqueIndex"`
	User        User   `gorm:"constraint:OnDelete:CASCADE"`
	Filename    string `gorm:"size:255"`
	ContentType string `gorm:"size:128"`
	Size        int64
	ObjectKey   string `gorm:"size:512"`
}

// Job 表示一次自动投递请求。状态机见 internal/jobs。
type Job struct {
	gorm.Model
	UserID uint   `gorm:"index"`
	User   User   `gorm:"constraint:OnDelete:CASCADE"`
	Status string `gorm:"size:32;index"`

	SearchKeywords  string `gorm:"size:255"`
	SearchLocation  string `gorm:"size:255"`
	MaxApplications int

	// 进度计数由外部自动化机器人回写，本服务只在创建时清零。
	JobsProcessed       int `gorm:"default:0"`
	JobsApplied         int `gorm:"default:0"`
	JobsSkipped         int `gorm:"default:0"`
	JobsBlacklisted     int `gorm:"default:0"`
	JobsAlreadyApplied  int `gorm:"default:0"`
	JobsExtraInfoNeeded int `gorm:"default:0"`

	ErrorMessage string `gorm:"size:1024"`

	StartedAt   *time.Time
	CompletedAt *time.Time
	CancelledAt *time.Time

	Logs         []JobLog         `gorm:"constraint:OnDelete:CASCADE"`
	Applications []JobApplication `gorm:"constraint:OnDelete:CASCADE"`
}

// JobLog 是任务日志的追加式记录，按自增 ID 保持插入顺序。
type JobLog struct {
	ID      uint      `gorm:"primarykey"`
	JobID   uint      `gorm:"index"`
	Time    time.Time `gorm:"not null"`
	Level   string    `gorm:"size:16"`
	Message string    `gorm:"size:1024"`
}

// JobApplication 是单次投递结果的追加式记录，载荷由机器人定义。
type JobApplication struct {
	ID        uint `gorm:"primarykey"`
	JobID     uint `gorm:"index"`
	CreatedAt time.Time
	Payload   datatypes.JSON `gorm:"type:jsonb"`
}
