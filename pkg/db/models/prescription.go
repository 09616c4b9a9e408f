package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/medcart/pkg/enums"
)

// Prescription is the durable record of one uploaded prescription document.
// The ID is generated by the client before the record store sees it.
type Prescription struct {
	ID         uuid.UUID                `gorm:"column:id;type:uuid;primaryKey"`
	OwnerID    string                   `gorm:"column:owner_id;not null;index"`
	FileName   string                   `gorm:"column:file_name;not null"`
	FileSize   int64                    `gorm:"column:file_size;not null"`
	MediaType  string                   `gorm:"column:media_type;not null"`
	URL        string                   `gorm:"column:url;not null"`
	Status     enums.PrescriptionStatus `gorm:"column:status;not null"`
	OCRText    *string                  `gorm:"column:ocr_text"`
	AdminNote  *string                  `gorm:"column:admin_note"`
	AuditTrail []AuditEntry             `gorm:"column:audit_trail;serializer:json"`
	CreatedAt  time.Time                `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time                `gorm:"column:updated_at;autoUpdateTime"`
}

// AuditEntry records one administrator decision.
type AuditEntry struct {
	AdminID   string            `json:"admin_id"`
	AdminName string            `json:"admin_name"`
	Action    enums.AuditAction `json:"action"`
	Note      string            `json:"note,omitempty"`
	At        time.Time         `json:"at"`
}

func (Prescription) TableName() string { return "prescriptions" }

func (p *Prescription) BeforeCreate(*gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.Status == "" {
		p.Status = enums.PrescriptionStatusUploaded
	}
	if p.AuditTrail == nil {
		p.AuditTrail = []AuditEntry{}
	}
	return nil
}
