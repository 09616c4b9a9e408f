package uploads

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/medcart/pkg/enums"
)

// TaskID identifies one upload task. It is generated per task so two files
// sharing a display name never alias.
type TaskID string

func newTaskID() TaskID {
	return TaskID(uuid.NewString())
}

// Task is a point-in-time copy of an upload task.
type Task struct {
	ID           TaskID
	BatchID      string
	File         CandidateFile
	Status       enums.UploadStatus
	Progress     int
	LastActivity time.Time
	URL          string
	RecordID     *uuid.UUID
	Err          string
	Attempt      int
	CreatedAt    time.Time

	seq uint64
}

// Tracker holds the authoritative in-memory state of upload tasks. Every
// operation is atomic with respect to the others.
//
// Updates from an upload attempt carry the attempt number handed out by
// Start; updates from a superseded attempt are ignored.
type Tracker struct {
	mu       sync.Mutex
	tasks    map[TaskID]*Task
	seq      uint64
	now      func() time.Time
	onChange func(Task)
}

type TrackerOption func(*Tracker)

// WithClock overrides the time source.
func WithClock(now func() time.Time) TrackerOption {
	return func(t *Tracker) {
		if now != nil {
			t.now = now
		}
	}
}

// WithObserver registers a callback that receives a copy of every mutation.
// It runs outside the tracker lock.
func WithObserver(fn func(Task)) TrackerOption {
	return func(t *Tracker) {
		t.onChange = fn
	}
}

func NewTracker(opts ...TrackerOption) *Tracker {
	t := &Tracker{
		tasks: make(map[TaskID]*Task),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Add registers a pending task for f and returns its id.
func (t *Tracker) Add(batchID string, f CandidateFile) TaskID {
	id := newTaskID()
	t.mutate(func() (*Task, bool) {
		t.seq++
		task := &Task{
			ID:        id,
			BatchID:   batchID,
			File:      f,
			Status:    enums.UploadStatusPending,
			CreatedAt: t.now(),
			seq:       t.seq,
		}
		t.tasks[id] = task
		return task, true
	})
	return id
}

// ErrNotStartable is returned by Start when the task is not in one of the
// expected states.
var ErrNotStartable = errors.New("upload task cannot start")

// Start resets the task to uploading with zero progress and returns the new
// attempt number. When from is given the task must currently be in one of
// those states; the check and the transition happen under one lock.
func (t *Tracker) Start(id TaskID, from ...enums.UploadStatus) (int, error) {
	attempt := 0
	var refused error
	t.mutate(func() (*Task, bool) {
		task, ok := t.tasks[id]
		if !ok {
			refused = fmt.Errorf("upload task %s not found", id)
			return nil, false
		}
		if len(from) > 0 && !slices.Contains(from, task.Status) {
			refused = fmt.Errorf("%w: %s is %s", ErrNotStartable, task.File.Name, task.Status)
			return nil, false
		}
		task.Attempt++
		task.Status = enums.UploadStatusUploading
		task.Progress = 0
		task.LastActivity = t.now()
		task.URL = ""
		task.Err = ""
		attempt = task.Attempt
		return task, true
	})
	if refused != nil {
		return 0, refused
	}
	return attempt, nil
}

// Progress records pct and refreshes last activity. Values below the current
// progress are ignored so observed progress never decreases; out-of-range
// values are stored as reported. A stalled task resumes uploading.
func (t *Tracker) Progress(id TaskID, attempt, pct int) bool {
	return t.mutate(func() (*Task, bool) {
		task, ok := t.current(id, attempt)
		if !ok {
			return nil, false
		}
		task.LastActivity = t.now()
		if pct >= task.Progress {
			task.Progress = pct
		}
		if task.Status == enums.UploadStatusStalled {
			task.Status = enums.UploadStatusUploading
		}
		return task, true
	})
}

// Complete marks the task done with its durable URL. Legal from uploading or
// stalled, so a late completion overrides the stalled marker.
func (t *Tracker) Complete(id TaskID, attempt int, url string) bool {
	return t.mutate(func() (*Task, bool) {
		task, ok := t.current(id, attempt)
		if !ok || !inFlight(task.Status) {
			return nil, false
		}
		task.Status = enums.UploadStatusDone
		task.URL = url
		task.LastActivity = t.now()
		return task, true
	})
}

// Fail marks the task failed. Progress already recorded is kept.
func (t *Tracker) Fail(id TaskID, attempt int, cause error) bool {
	return t.mutate(func() (*Task, bool) {
		task, ok := t.current(id, attempt)
		if !ok || !inFlight(task.Status) {
			return nil, false
		}
		task.Status = enums.UploadStatusFailed
		if cause != nil {
			task.Err = cause.Error()
		}
		task.LastActivity = t.now()
		return task, true
	})
}

// markStalled flags an uploading task as stalled and reports whether it
// transitioned. A task that is already stalled stays untouched.
func (t *Tracker) markStalled(id TaskID) bool {
	return t.mutate(func() (*Task, bool) {
		task, ok := t.tasks[id]
		return task, ok && t.stall(task)
	})
}

// stall is the only place a task becomes stalled. Callers hold t.mu.
func (t *Tracker) stall(task *Task) bool {
	if task.Status != enums.UploadStatusUploading {
		return false
	}
	task.Status = enums.UploadStatusStalled
	return true
}

// SweepStalled marks every uploading task idle for longer than threshold as
// stalled and returns copies of the tasks that transitioned.
func (t *Tracker) SweepStalled(threshold time.Duration) []Task {
	t.mu.Lock()
	now := t.now()
	var changed []Task
	for _, task := range t.tasks {
		if now.Sub(task.LastActivity) > threshold && t.stall(task) {
			changed = append(changed, *task)
		}
	}
	t.mu.Unlock()

	sortTasks(changed)
	for _, task := range changed {
		t.notify(task)
	}
	return changed
}

// Attach records the persisted prescription id on the task.
func (t *Tracker) Attach(id TaskID, recordID uuid.UUID) bool {
	return t.mutate(func() (*Task, bool) {
		task, ok := t.tasks[id]
		if !ok {
			return nil, false
		}
		rid := recordID
		task.RecordID = &rid
		return task, true
	})
}

// Remove deletes the task in any state.
func (t *Tracker) Remove(id TaskID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.tasks[id]
	delete(t.tasks, id)
	return ok
}

// Clear drops the finished tasks of an acknowledged batch and returns how
// many were dropped. Tasks still in flight stay.
func (t *Tracker) Clear(batchID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for id, task := range t.tasks {
		if task.BatchID == batchID && task.Status.IsTerminal() {
			delete(t.tasks, id)
			n++
		}
	}
	return n
}

func (t *Tracker) Get(id TaskID) (Task, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	task, ok := t.tasks[id]
	if !ok {
		return Task{}, false
	}
	return *task, true
}

// Snapshot returns copies of all tasks in creation order.
func (t *Tracker) Snapshot() []Task {
	t.mu.Lock()
	out := make([]Task, 0, len(t.tasks))
	for _, task := range t.tasks {
		out = append(out, *task)
	}
	t.mu.Unlock()
	sortTasks(out)
	return out
}

func (t *Tracker) current(id TaskID, attempt int) (*Task, bool) {
	task, ok := t.tasks[id]
	if !ok || task.Attempt != attempt {
		return nil, false
	}
	return task, true
}

func (t *Tracker) mutate(fn func() (*Task, bool)) bool {
	t.mu.Lock()
	task, ok := fn()
	var snapshot Task
	if ok && task != nil {
		snapshot = *task
	}
	t.mu.Unlock()
	if ok && task != nil {
		t.notify(snapshot)
	}
	return ok
}

func (t *Tracker) notify(task Task) {
	if t.onChange != nil {
		t.onChange(task)
	}
}

func inFlight(s enums.UploadStatus) bool {
	return s == enums.UploadStatusUploading || s == enums.UploadStatusStalled
}

func sortTasks(tasks []Task) {
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].seq < tasks[j].seq })
}
