package enums

// UploadStatus is the lifecycle state of an in-flight upload task.
type UploadStatus string

const (
	UploadStatusPending   UploadStatus = "pending"
	UploadStatusUploading UploadStatus = "uploading"
	UploadStatusStalled   UploadStatus = "stalled"
	UploadStatusDone      UploadStatus = "done"
	UploadStatusFailed    UploadStatus = "failed"
)

// String implements fmt.Stringer.
func (s UploadStatus) String() string {
	return string(s)
}

// IsTerminal reports whether no further transitions happen without a retry.
func (s UploadStatus) IsTerminal() bool {
	return s == UploadStatusDone || s == UploadStatusFailed
}

// IsRetryable reports whether the task may be retried from this state.
func (s UploadStatus) IsRetryable() bool {
	return s == UploadStatusFailed || s == UploadStatusStalled
}
