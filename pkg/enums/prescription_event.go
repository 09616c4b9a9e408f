package enums

// PrescriptionEventType names a change published on the prescriptions topic.
type PrescriptionEventType string

const (
	PrescriptionEventCreated       PrescriptionEventType = "prescription_created"
	PrescriptionEventUpdated       PrescriptionEventType = "prescription_updated"
	PrescriptionEventStatusChanged PrescriptionEventType = "prescription_status_changed"
	PrescriptionEventDeleted       PrescriptionEventType = "prescription_deleted"
)

func (e PrescriptionEventType) IsValid() bool {
	switch e {
	case PrescriptionEventCreated, PrescriptionEventUpdated, PrescriptionEventStatusChanged, PrescriptionEventDeleted:
		return true
	}
	return false
}
