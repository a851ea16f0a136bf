package models

import (
	"time"

	"gorm.io/datatypes"
)

// Invoice job statuses. Completed, failed, and cancelled are terminal; paused
// may only return to processing via resume.
const (
	JobStatusPending    = "pending"
	JobStatusProcessing = "processing"
	JobStatusCompleted  = "completed"
	JobStatusFailed     = "failed"
	JobStatusCancelled  = "cancelled"
	JobStatusPaused     = "paused"
)

// InvoiceJob is the persisted record of one invoice generation batch. It is
// the single source of truth for progress: the pipeline writes it back after
// every entity so status queries reflect live progress.
type InvoiceJob struct {
	BaseModel

	JobID  string `gorm:"uniqueIndex;not null" json:"job_id"`
	Status string `gorm:"not null;default:pending;index" json:"status"`

	CreatedBy  string `gorm:"type:uuid;not null" json:"created_by"`
	TemplateID string `gorm:"type:uuid;not null" json:"template_id"`
	Template   *InvoiceTemplate `gorm:"foreignKey:TemplateID" json:"-"`

	InputFileName string `gorm:"not null" json:"input_file_name"`
	InputFilePath string `gorm:"not null" json:"-"`
	InvoiceYear   string `gorm:"not null" json:"invoice_year"`

	TotalEntities     int `gorm:"default:0" json:"total_entities"`
	ProcessedEntities int `gorm:"default:0" json:"processed_entities"`

	OutputDirectory string         `gorm:"not null" json:"-"`
	GeneratedFiles  datatypes.JSON `json:"generated_files"`

	ErrorMessage string     `json:"error_message,omitempty"`
	StartedAt    *time.Time `json:"started_at"`
	CompletedAt  *time.Time `json:"completed_at"`

	// RunGeneration increments on every resume. A worker run whose stored
	// generation moved underneath it is stale and must not write.
	RunGeneration int `gorm:"not null;default:0" json:"-"`
}

// IsTerminal reports whether the job has reached a final state.
func (j *InvoiceJob) IsTerminal() bool {
	switch j.Status {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// Progress returns completion as a percentage, 0 when no entities are known.
func (j *InvoiceJob) Progress() float64 {
	if j.TotalEntities <= 0 {
		return 0
	}
	return float64(j.ProcessedEntities) / float64(j.TotalEntities) * 100
}
