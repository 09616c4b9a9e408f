package uploads

import (
	"fmt"
	"io"
	"mime"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-playground/validator/v10"

	pkgerrors "github.com/angelmondragon/medcart/pkg/errors"
)

const (
	MediaTypeJPEG = "image/jpeg"
	MediaTypePNG  = "image/png"
	MediaTypeWEBP = "image/webp"
	MediaTypePDF  = "application/pdf"

	DefaultMaxFileBytes int64 = 5 * 1024 * 1024
)

var allowedMediaTypes = map[string]string{
	MediaTypeJPEG: "JPG",
	MediaTypePNG:  "PNG",
	MediaTypeWEBP: "WEBP",
	MediaTypePDF:  "PDF",
}

var allowedOrder = []string{MediaTypeJPEG, MediaTypePNG, MediaTypeWEBP, MediaTypePDF}

// sniffLimit matches mimetype's default read limit.
const sniffLimit = 3072

// Policy decides which candidate files may be uploaded.
type Policy struct {
	maxBytes int64
	validate *validator.Validate
}

// NewPolicy builds a policy with the given per-file ceiling; zero or negative
// falls back to 5 MiB.
func NewPolicy(maxBytes int64) *Policy {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxFileBytes
	}
	return &Policy{maxBytes: maxBytes, validate: validator.New()}
}

func (p *Policy) MaxBytes() int64 {
	return p.maxBytes
}

// Validate reports whether f is an allowed type within the size ceiling.
func (p *Policy) Validate(f CandidateFile) bool {
	// Source is checked by hand: validator treats a source backed by a nil
	// slice as missing.
	if f.Source == nil || p.validate.Struct(f) != nil {
		return false
	}
	if f.Size > p.maxBytes {
		return false
	}
	_, ok := allowedMediaTypes[p.mediaTypeOf(f)]
	return ok
}

// Partition splits files into accepted and rejected, preserving input order.
// Accepted files carry their normalized media type.
func (p *Policy) Partition(files []CandidateFile) (accepted, rejected []CandidateFile) {
	for _, f := range files {
		f.MediaType = p.mediaTypeOf(f)
		if p.Validate(f) {
			accepted = append(accepted, f)
			continue
		}
		rejected = append(rejected, f)
	}
	return accepted, rejected
}

// Admission is the outcome of filtering a selection.
type Admission struct {
	Accepted []CandidateFile
	Rejected []CandidateFile
	notice   string
}

// Notice is the single aggregate message for the rejected files, or "".
func (a Admission) Notice() string {
	if len(a.Rejected) == 0 {
		return ""
	}
	return a.notice
}

// Admit filters files. When nothing is accepted it returns one aggregate
// validation error, never one per file.
func (p *Policy) Admit(files []CandidateFile) (Admission, error) {
	accepted, rejected := p.Partition(files)
	adm := Admission{Accepted: accepted, Rejected: rejected, notice: p.InvalidFilesMessage()}
	if len(accepted) > 0 {
		return adm, nil
	}
	names := make([]string, 0, len(rejected))
	for _, f := range rejected {
		names = append(names, f.Name)
	}
	return adm, pkgerrors.New(pkgerrors.CodeValidation, adm.notice).WithDetails(map[string]any{"rejected": names})
}

// InvalidFilesMessage describes the allowed types and size ceiling.
func (p *Policy) InvalidFilesMessage() string {
	return fmt.Sprintf("Invalid files. Allowed: %s up to %s.", humanReadableList(), humanSize(p.maxBytes))
}

func (p *Policy) mediaTypeOf(f CandidateFile) string {
	mt := normalizeMediaType(f.MediaType)
	if mt != "" || f.Source == nil {
		return mt
	}
	rc, err := f.Source.Open()
	if err != nil {
		return ""
	}
	defer rc.Close()
	detected, err := mimetype.DetectReader(io.LimitReader(rc, sniffLimit))
	if err != nil {
		return ""
	}
	return normalizeMediaType(detected.String())
}

func normalizeMediaType(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	if parsed, _, err := mime.ParseMediaType(value); err == nil {
		return parsed
	}
	if i := strings.IndexByte(value, ';'); i >= 0 {
		value = value[:i]
	}
	return strings.ToLower(strings.TrimSpace(value))
}

func humanReadableList() string {
	labels := make([]string, 0, len(allowedOrder))
	for _, mt := range allowedOrder {
		labels = append(labels, allowedMediaTypes[mt])
	}
	return strings.Join(labels, "/")
}

func humanSize(n int64) string {
	const mb = 1024 * 1024
	if n%mb == 0 {
		return fmt.Sprintf("%dMB", n/mb)
	}
	return fmt.Sprintf("%d bytes", n)
}
