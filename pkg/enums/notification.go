package enums

// NotificationType is stored in notifications.type.
type NotificationType string

const (
	NotificationTypePrescriptionUpdate NotificationType = "prescription_update"
	NotificationTypeUpload             NotificationType = "upload"
	NotificationTypeSystem             NotificationType = "system"
)

func (n NotificationType) IsValid() bool {
	switch n {
	case NotificationTypePrescriptionUpdate, NotificationTypeUpload, NotificationTypeSystem:
		return true
	}
	return false
}

// NoticeLevel classifies ephemeral toasts.
type NoticeLevel string

const (
	NoticeLevelSuccess NoticeLevel = "success"
	NoticeLevelError   NoticeLevel = "error"
	NoticeLevelInfo    NoticeLevel = "info"
	NoticeLevelWarning NoticeLevel = "warning"
)
