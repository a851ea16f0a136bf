package models

// InvoiceTemplate records an uploaded invoice layout file. Exactly one
// template may be flagged as the default; the default cannot be deleted.
type InvoiceTemplate struct {
	BaseModel

	Name        string `gorm:"uniqueIndex;not null" json:"name"`
	Description string `json:"description"`
	FilePath    string `gorm:"not null" json:"-"`
	FileName    string `gorm:"not null" json:"file_name"`
	IsDefault   bool   `gorm:"default:false" json:"is_default"`
	CreatedBy   string `gorm:"type:uuid" json:"created_by"`
}
