package controllers

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/medcart/api/responses"
	"github.com/angelmondragon/medcart/internal/notifications"
	"github.com/angelmondragon/medcart/internal/uploads"
	"github.com/angelmondragon/medcart/pkg/db/models"
)

type TaskLister interface {
	Tasks() []uploads.Task
}

type NoticeLister interface {
	Items() []notifications.Toast
}

type RecordLister interface {
	Items() []models.Prescription
}

type taskView struct {
	ID           string     `json:"id"`
	BatchID      string     `json:"batch_id"`
	FileName     string     `json:"file_name"`
	MediaType    string     `json:"media_type"`
	Size         int64      `json:"size"`
	Status       string     `json:"status"`
	Progress     int        `json:"progress"`
	Attempt      int        `json:"attempt"`
	URL          string     `json:"url,omitempty"`
	RecordID     *uuid.UUID `json:"record_id,omitempty"`
	Error        string     `json:"error,omitempty"`
	LastActivity *time.Time `json:"last_activity,omitempty"`
}

func toTaskView(t uploads.Task) taskView {
	v := taskView{
		ID:        string(t.ID),
		BatchID:   t.BatchID,
		FileName:  t.File.Name,
		MediaType: t.File.MediaType,
		Size:      t.File.Size,
		Status:    t.Status.String(),
		Progress:  t.Progress,
		Attempt:   t.Attempt,
		URL:       t.URL,
		RecordID:  t.RecordID,
		Error:     t.Err,
	}
	if !t.LastActivity.IsZero() {
		at := t.LastActivity.UTC()
		v.LastActivity = &at
	}
	return v
}

// UploadTasks lists the tracked upload tasks in creation order.
func UploadTasks(src TaskLister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tasks := src.Tasks()
		out := make([]taskView, 0, len(tasks))
		for _, t := range tasks {
			out = append(out, toTaskView(t))
		}
		responses.WriteSuccess(w, out)
	}
}

func RecentNotices(src NoticeLister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		items := src.Items()
		if items == nil {
			items = []notifications.Toast{}
		}
		responses.WriteSuccess(w, items)
	}
}

type prescriptionView struct {
	ID        uuid.UUID `json:"id"`
	FileName  string    `json:"file_name"`
	Status    string    `json:"status"`
	URL       string    `json:"url"`
	HasText   bool      `json:"has_text"`
	CreatedAt time.Time `json:"created_at"`
}

// Prescriptions lists the owner's records as currently known locally.
func Prescriptions(src RecordLister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		recs := src.Items()
		out := make([]prescriptionView, 0, len(recs))
		for _, rec := range recs {
			out = append(out, prescriptionView{
				ID:        rec.ID,
				FileName:  rec.FileName,
				Status:    rec.Status.String(),
				URL:       rec.URL,
				HasText:   rec.OCRText != nil && *rec.OCRText != "",
				CreatedAt: rec.CreatedAt,
			})
		}
		responses.WriteSuccess(w, out)
	}
}
