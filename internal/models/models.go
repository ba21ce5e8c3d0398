package models

import (
	"fmt"
	"time"

	"gorm.io/gorm"
)

type User struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	Email    string `gorm:"uniqueIndex;not null" json:"email"`
	FullName string `json:"full_name"`
}

type Company struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	Name     string `gorm:"uniqueIndex;not null" json:"name"`
	Website  string `json:"website"`
	Industry string `json:"industry"`
}

type Job struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	// Foreign keys. Related rows are resolved through the batch loader,
	// never preloaded, so there are no association fields here.
	CompanyID  uint  `gorm:"index" json:"company_id"`
	PostedByID *uint `gorm:"index" json:"posted_by_id"`

	Title       string `gorm:"not null" json:"title"`
	Description string `gorm:"type:text" json:"description"`
	Location    string `json:"location"`
	JobLink     string `json:"job_link"`
	Status      string `gorm:"default:'OPEN'" json:"status"`
}

type JobEvent struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	JobID     uint      `gorm:"index" json:"job_id"`
	EventType string    `json:"event_type"`
	Details   string    `gorm:"type:text" json:"details"`
}

type JobApplication struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	UserID uint   `gorm:"uniqueIndex:idx_application_user_job;not null" json:"user_id"`
	JobID  uint   `gorm:"uniqueIndex:idx_application_user_job;not null" json:"job_id"`
	Status string `gorm:"default:'APPLIED'" json:"status"`
	Notes  string `gorm:"type:text" json:"notes"`
}

// ApplicationKey identifies one user's application to one job.
type ApplicationKey struct {
	UserID uint
	JobID  uint
}

func (k ApplicationKey) String() string {
	return fmt.Sprintf("%d:%d", k.UserID, k.JobID)
}

// Job statuses accepted by updateJobStatus.
const (
	JobStatusOpen    = "OPEN"
	JobStatusApplied = "APPLIED"
	JobStatusClosed  = "CLOSED"
)

// All lists every model for migration.
func All() []interface{} {
	return []interface{}{&User{}, &Company{}, &Job{}, &JobEvent{}, &JobApplication{}}
}
