package ocr

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"os"
	"os/exec"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

const (
	DefaultScale  = 1.5
	pointsPerInch = 72
)

// Ghostscript renders the first page of a PDF to PNG by running the gs
// binary. Scale is relative to 72 DPI, so 1.5 renders at 108 DPI.
type Ghostscript struct {
	Binary string
	Scale  float64
}

func NewGhostscript(binary string, scale float64) *Ghostscript {
	if binary == "" {
		binary = "gs"
	}
	if scale <= 0 {
		scale = DefaultScale
	}
	return &Ghostscript{Binary: binary, Scale: scale}
}

// DPI is the render resolution derived from Scale.
func (g *Ghostscript) DPI() int {
	return int(math.Round(pointsPerInch * g.Scale))
}

func (g *Ghostscript) FirstPage(ctx context.Context, document []byte) ([]byte, string, error) {
	in, err := os.CreateTemp("", "rx-*.pdf")
	if err != nil {
		return nil, "", fmt.Errorf("staging document: %w", err)
	}
	defer os.Remove(in.Name())

	if _, err := in.Write(document); err != nil {
		in.Close()
		return nil, "", fmt.Errorf("staging document: %w", err)
	}
	if err := in.Close(); err != nil {
		return nil, "", fmt.Errorf("staging document: %w", err)
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, g.Binary,
		"-q", "-dSAFER", "-dBATCH", "-dNOPAUSE",
		"-sDEVICE=png16m",
		fmt.Sprintf("-r%d", g.DPI()),
		"-dFirstPage=1", "-dLastPage=1",
		"-sOutputFile=-",
		in.Name(),
	)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, "", fmt.Errorf("ghostscript: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	out := stdout.Bytes()
	if len(out) == 0 {
		return nil, "", fmt.Errorf("ghostscript produced no output")
	}
	if detected := mimetype.Detect(out); !detected.Is("image/png") {
		return nil, "", fmt.Errorf("ghostscript produced %s, expected image/png", detected.String())
	}
	return out, "image/png", nil
}
