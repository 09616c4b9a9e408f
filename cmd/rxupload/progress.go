package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/angelmondragon/medcart/internal/uploads"
	"github.com/angelmondragon/medcart/pkg/enums"
	"github.com/angelmondragon/medcart/pkg/logger"
)

const barWidth = 20

// progressPrinter renders tracker updates as one line per change. A failure
// while rendering one task is logged and never reaches the upload.
type progressPrinter struct {
	out  io.Writer
	logg *logger.Logger

	mu   sync.Mutex
	last map[uploads.TaskID]string
}

func newProgressPrinter(out io.Writer, logg *logger.Logger) *progressPrinter {
	return &progressPrinter{out: out, logg: logg, last: make(map[uploads.TaskID]string)}
}

// Observe is registered as the tracker observer.
func (p *progressPrinter) Observe(task uploads.Task) {
	defer func() {
		if r := recover(); r != nil {
			ctx := p.logg.WithTaskID(context.Background(), string(task.ID))
			p.logg.Warn(ctx, fmt.Sprintf("progress display failed: %v", r))
		}
	}()

	line := formatTask(task)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.last[task.ID] == line {
		return
	}
	p.last[task.ID] = line
	fmt.Fprintln(p.out, line)
}

func formatTask(t uploads.Task) string {
	name := t.File.Name
	switch t.Status {
	case enums.UploadStatusUploading:
		return fmt.Sprintf("%s %s %3d%%", name, bar(t.Progress), t.Progress)
	case enums.UploadStatusStalled:
		return fmt.Sprintf("%s %s stalled", name, bar(t.Progress))
	case enums.UploadStatusDone:
		return fmt.Sprintf("%s %s done", name, bar(100))
	case enums.UploadStatusFailed:
		if t.Err != "" {
			return fmt.Sprintf("%s failed: %s", name, t.Err)
		}
		return name + " failed"
	default:
		return name + " queued"
	}
}

func bar(pct int) string {
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	n := pct * barWidth / 100
	return "[" + strings.Repeat("#", n) + strings.Repeat(".", barWidth-n) + "]"
}
