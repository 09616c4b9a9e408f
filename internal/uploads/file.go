package uploads

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/gabriel-vasile/mimetype"
)

// Source yields the bytes of a candidate file. Open may be called more than
// once: for the upload, for a retry and for text extraction.
type Source interface {
	Open() (io.ReadCloser, error)
}

// CandidateFile is a user-selected file before and during upload.
type CandidateFile struct {
	Name      string `validate:"required"`
	Size      int64  `validate:"gte=0"`
	MediaType string
	Source    Source
}

func (f CandidateFile) Open() (io.ReadCloser, error) {
	if f.Source == nil {
		return nil, fmt.Errorf("file %q has no content", f.Name)
	}
	return f.Source.Open()
}

type pathSource string

func (p pathSource) Open() (io.ReadCloser, error) {
	return os.Open(string(p))
}

type bytesSource []byte

func (b bytesSource) Open() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(b)), nil
}

// FromPath describes a file on disk. The media type is sniffed from its content.
func FromPath(path string) (CandidateFile, error) {
	info, err := os.Stat(path)
	if err != nil {
		return CandidateFile{}, err
	}
	if info.IsDir() {
		return CandidateFile{}, fmt.Errorf("%s is a directory", path)
	}
	mtype, err := mimetype.DetectFile(path)
	if err != nil {
		return CandidateFile{}, fmt.Errorf("detect media type for %s: %w", path, err)
	}
	return CandidateFile{
		Name:      filepath.Base(path),
		Size:      info.Size(),
		MediaType: mtype.String(),
		Source:    pathSource(path),
	}, nil
}

// FromBytes describes an in-memory file. An empty mediaType is sniffed later
// by the policy. Nil data is an empty file.
func FromBytes(name, mediaType string, data []byte) CandidateFile {
	if data == nil {
		data = []byte{}
	}
	return CandidateFile{
		Name:      name,
		Size:      int64(len(data)),
		MediaType: mediaType,
		Source:    bytesSource(data),
	}
}
