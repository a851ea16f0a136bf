package models

// Workflow access levels controlling which roles see a menu entry.
const (
	WorkflowAccessAdmin = "admin"
	WorkflowAccessUser  = "user"
	WorkflowAccessBoth  = "both"
)

// Workflow is a menu entry on the portal landing page. Availability and role
// access gate what each user sees after login.
type Workflow struct {
	BaseModel

	ImgPath       string `gorm:"not null" json:"img_path"`
	Label         string `gorm:"uniqueIndex;not null" json:"label"`
	FrontendRoute string `gorm:"not null" json:"frontend_route"`
	AccessibleTo  string `gorm:"not null;default:both" json:"accessible_to"`
	IsAvailable   bool   `gorm:"default:true" json:"is_available"`
	Description   string `json:"description"`
}
