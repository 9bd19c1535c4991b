package task

import (
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"convertd/ffmpeg"
	"convertd/metrics"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further transition is allowed out of s.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Request is the caller-supplied configuration of a conversion. Preset is
// either a professional profile name from the catalog or a quality preset
// passed to the encoder.
type Request struct {
	Input      string
	Output     string
	Encoder    string
	GPUIndex   *int
	CPUThreads *int
	Preset     string
}

// Progress is a point-in-time copy of a task's visible state.
type Progress struct {
	ID           string    `json:"id"`
	Status       Status    `json:"status"`
	Percentage   float64   `json:"percentage"`
	CurrentTime  float64   `json:"currentTime"`
	Duration     float64   `json:"duration"`
	Log          []string  `json:"log"`
	ErrorMessage string    `json:"errorMessage,omitempty"`
	Attempt      int       `json:"attempt"`
	Encoder      string    `json:"encoder"`
	Input        string    `json:"input"`
	Output       string    `json:"output"`
	CreatedAt    time.Time `json:"createdAt"`
	StartedAt    time.Time `json:"startedAt"`
	CompletedAt  time.Time `json:"completedAt"`
}

// ConversionTask is one job. The exported fields are fixed at creation; the
// rest is guarded by mu, which is never held across a blocking call.
type ConversionTask struct {
	ID        string
	Bin       string
	Job       ffmpeg.Job
	CreatedAt time.Time

	maxLog int

	mu       sync.Mutex
	progress Progress
	lastStep int
	cmd      *exec.Cmd

	// pid mirrors cmd.Process.Pid so a kill can be issued without mu.
	pid             atomic.Int64
	cancelRequested atomic.Bool
}

func newConversionTask(id, bin string, job ffmpeg.Job, maxLog int) *ConversionTask {
	now := time.Now()
	return &ConversionTask{
		ID:        id,
		Bin:       bin,
		Job:       job,
		CreatedAt: now,
		maxLog:    maxLog,
		progress: Progress{
			ID:        id,
			Status:    StatusPending,
			Log:       []string{},
			Encoder:   job.Encoder,
			Input:     job.Input,
			Output:    job.Output,
			CreatedAt: now,
		},
	}
}

// Snapshot returns a copy of the current progress, waiting for the lock.
func (t *ConversionTask) Snapshot() Progress {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

// TrySnapshot is Snapshot without waiting. ok is false if the lock is held.
func (t *ConversionTask) TrySnapshot() (p Progress, ok bool) {
	if !t.mu.TryLock() {
		return Progress{}, false
	}
	defer t.mu.Unlock()
	return t.snapshotLocked(), true
}

func (t *ConversionTask) snapshotLocked() Progress {
	p := t.progress
	p.Log = append(make([]string, 0, len(t.progress.Log)), t.progress.Log...)
	return p
}

// PID returns the process id of the running attempt, or 0 when none is alive.
func (t *ConversionTask) PID() int {
	return int(t.pid.Load())
}

// CancelRequested reports whether a cancel has been asked for.
func (t *ConversionTask) CancelRequested() bool {
	return t.cancelRequested.Load()
}

func (t *ConversionTask) begin() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancelRequested.Load() {
		return false
	}
	return t.transitionLocked(StatusRunning, "")
}

func (t *ConversionTask) transition(to Status, errMsg string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.transitionLocked(to, errMsg)
}

// transitionLocked moves the status forward. Terminal states are final and
// Running can only be entered from Pending.
func (t *ConversionTask) transitionLocked(to Status, errMsg string) bool {
	from := t.progress.Status
	if from.Terminal() || from == to {
		return false
	}
	if to == StatusRunning && from != StatusPending {
		return false
	}

	t.progress.Status = to
	if errMsg != "" {
		t.progress.ErrorMessage = errMsg
	}
	now := time.Now()
	switch to {
	case StatusRunning:
		t.progress.StartedAt = now
		metrics.TasksRunning.Inc()
	case StatusCompleted:
		t.progress.Percentage = 100
	}
	if to.Terminal() {
		t.progress.CompletedAt = now
		if from == StatusRunning {
			metrics.TasksRunning.Dec()
		}
		metrics.TasksFinishedTotal.WithLabelValues(string(to)).Inc()
	}
	return true
}

func (t *ConversionTask) appendLog(lines ...string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.appendLogLocked(lines...)
}

func (t *ConversionTask) appendLogLocked(lines ...string) {
	t.progress.Log = append(t.progress.Log, lines...)
	if t.maxLog > 0 && len(t.progress.Log) > t.maxLog {
		drop := len(t.progress.Log) - t.maxLog
		t.progress.Log = append(t.progress.Log[:0], t.progress.Log[drop:]...)
	}
}

// startAttempt clears the visible progress of any previous attempt, since
// the new one decodes from the beginning.
func (t *ConversionTask) startAttempt(a ffmpeg.Attempt, lines ...string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.progress.Percentage = 0
	t.progress.CurrentTime = 0
	t.progress.Duration = 0
	t.progress.ErrorMessage = ""
	t.progress.Attempt = a.Index
	t.progress.Encoder = a.Encoder
	t.lastStep = 0
	t.appendLogLocked(lines...)
}

// observe records one diagnostic line and folds its progress signals into
// the task. stepped is true when the percentage crossed a whole number.
func (t *ConversionTask) observe(line string) (pct float64, stepped bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.appendLogLocked(line)

	s := ffmpeg.ParseLine(line, t.progress.Duration)
	if s.Duration > 0 && t.progress.Duration == 0 {
		t.progress.Duration = s.Duration
	}
	if s.HasElapsed && s.Elapsed >= t.progress.CurrentTime {
		t.progress.CurrentTime = s.Elapsed
	}
	if p, ok := ffmpeg.Percentage(t.progress.CurrentTime, t.progress.Duration); ok && p >= t.progress.Percentage {
		t.progress.Percentage = p
	}

	pct = t.progress.Percentage
	if step := int(pct); step > t.lastStep {
		t.lastStep = step
		return pct, true
	}
	return pct, false
}

func (t *ConversionTask) attach(cmd *exec.Cmd) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cmd = cmd
	t.pid.Store(int64(cmd.Process.Pid))
}

// releasePID clears the pid mirror once the diagnostic stream has closed,
// before the child is reaped. A later cancel signals through cmd under mu.
func (t *ConversionTask) releasePID() {
	t.pid.Store(0)
}

func (t *ConversionTask) detach() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cmd = nil
	t.pid.Store(0)
}

// killByPID signals the live attempt, if any, without taking the lock.
func (t *ConversionTask) killByPID() {
	if pid := t.PID(); pid > 0 {
		_ = ffmpeg.Terminate(pid)
	}
}

// cancel records the request, kills the live attempt and marks the task
// Cancelled. It reports whether the status changed now. When the lock is
// busy the supervisor applies the request at its next checkpoint.
func (t *ConversionTask) cancel() (changed, busy bool) {
	t.cancelRequested.Store(true)
	t.killByPID()

	if !t.mu.TryLock() {
		return false, true
	}
	defer t.mu.Unlock()
	if t.cmd != nil && t.cmd.Process != nil {
		_ = t.cmd.Process.Kill()
	}
	if !t.transitionLocked(StatusCancelled, "") {
		return false, false
	}
	t.appendLogLocked("Conversion cancelled.")
	return true, false
}
