package uploads

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/angelmondragon/medcart/pkg/storage/gcs"
)

// Uploader moves a file to durable storage and returns its URL. onProgress
// receives percentages as the transfer advances.
type Uploader interface {
	Upload(ctx context.Context, file CandidateFile, ownerID string, onProgress func(pct int)) (string, error)
}

type objectStore interface {
	ObjectName(parts ...string) string
	UploadObject(ctx context.Context, object, contentType string, body io.Reader, size int64, onProgress gcs.ProgressFunc) (string, error)
}

// StorageUploader stores prescriptions under <prefix>/<owner>/<millis>_<name>.
type StorageUploader struct {
	store objectStore
	now   func() time.Time
}

func NewStorageUploader(store objectStore) *StorageUploader {
	return &StorageUploader{store: store, now: time.Now}
}

func (u *StorageUploader) Upload(ctx context.Context, file CandidateFile, ownerID string, onProgress func(pct int)) (string, error) {
	rc, err := file.Open()
	if err != nil {
		return "", fmt.Errorf("open %s: %w", file.Name, err)
	}
	defer rc.Close()

	object := u.store.ObjectName(ownerID, strconv.FormatInt(u.now().UnixMilli(), 10)+"_"+file.Name)
	return u.store.UploadObject(ctx, object, file.MediaType, rc, file.Size, func(sent, total int64) {
		if onProgress == nil {
			return
		}
		onProgress(percent(sent, total))
	})
}

func percent(sent, total int64) int {
	if total <= 0 {
		return 100
	}
	return int(sent * 100 / total)
}
