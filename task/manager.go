package task

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"convertd/config"
	"convertd/ffmpeg"
	"convertd/metrics"

	"github.com/hashicorp/go-hclog"
	"github.com/lithammer/shortuuid/v4"
)

const defaultProbeTimeout = 15 * time.Second

// Manager owns the registry of conversion tasks. Entries are never removed,
// so finished tasks stay queryable for the life of the process.
type Manager struct {
	cfg   *config.Config
	bin   string
	tasks sync.Map // id -> *ConversionTask
	log   hclog.Logger
	sink  Sink
	wg    sync.WaitGroup
}

// NewManager returns a Manager that runs bin for every task. An empty bin is
// accepted; Start then fails with ErrNoEncoder.
func NewManager(cfg *config.Config, bin string, logger hclog.Logger, sink Sink) *Manager {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	if sink == nil {
		sink = nopSink{}
	}
	return &Manager{
		cfg:  cfg,
		bin:  bin,
		log:  logger.Named("manager"),
		sink: sink,
	}
}

// Watch cancels every task once ctx is done.
func (m *Manager) Watch(ctx context.Context) {
	m.log.Info("task manager started", "encoder_bin", m.bin)
	go func() {
		<-ctx.Done()
		m.log.Info("shutting down, cancelling all tasks")
		m.CancelAll()
	}()
}

// Start validates the request, registers a Pending task and launches its
// supervisor. It returns as soon as the task is registered.
func (m *Manager) Start(req Request) (string, error) {
	if m.bin == "" {
		return "", ErrNoEncoder
	}
	fi, err := os.Stat(req.Input)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrInputNotFound, req.Input)
		}
		return "", fmt.Errorf("failed to stat input: %w", err)
	}
	if fi.IsDir() {
		return "", fmt.Errorf("%w: %s is a directory", ErrInputNotFound, req.Input)
	}

	format := ffmpeg.ResolveFormat(ffmpeg.OutputExt(req.Output))
	if format.AudioOnly() {
		if err := m.requireAudio(req.Input); err != nil {
			return "", err
		}
	}

	if err := os.MkdirAll(filepath.Dir(req.Output), 0o755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}

	job := ffmpeg.Job{
		Input:         req.Input,
		Output:        req.Output,
		Encoder:       req.Encoder,
		GPUIndex:      req.GPUIndex,
		CPUThreads:    req.CPUThreads,
		QualityPreset: req.Preset,
	}
	if job.Encoder == "" {
		job.Encoder = format.DefaultVideoCodec
	}
	if p, ok := ffmpeg.LookupPreset(req.Preset); ok {
		job.Profile = &p
	}

	id := fmt.Sprintf("%s_%d", shortuuid.New(), time.Now().Unix())
	t := newConversionTask(id, m.bin, job, m.cfg.MaxLogLines)
	m.tasks.Store(id, t)
	metrics.TasksStartedTotal.Inc()

	m.log.Info("task started", "task_id", id, "encoder", job.Encoder, "input", job.Input, "output", job.Output)
	m.sink.Publish(Event{Kind: EventStatus, TaskID: id, Status: StatusPending, Encoder: job.Encoder, Time: t.CreatedAt})

	sup := &supervisor{
		task: t,
		cfg:  m.cfg,
		log:  m.log.Named("supervisor").With("task_id", id),
		sink: m.sink,
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		sup.run()
	}()
	return id, nil
}

func (m *Manager) requireAudio(input string) error {
	info, err := m.probe(input)
	if err != nil {
		return err
	}
	if !info.HasAudio() {
		return fmt.Errorf("%w: %s", ErrNoAudioStream, input)
	}
	return nil
}

// Probe reads duration, resolution and streams of input.
func (m *Manager) Probe(input string) (*ffmpeg.MediaInfo, error) {
	if m.bin == "" {
		return nil, ErrNoEncoder
	}
	if _, err := os.Stat(input); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrInputNotFound, input)
		}
		return nil, fmt.Errorf("failed to stat input: %w", err)
	}
	return m.probe(input)
}

func (m *Manager) probe(input string) (*ffmpeg.MediaInfo, error) {
	timeout := m.cfg.ProbeTimeout
	if timeout <= 0 {
		timeout = defaultProbeTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return ffmpeg.ProbeInput(ctx, m.bin, input)
}

// Get returns the task record for id.
func (m *Manager) Get(taskID string) (*ConversionTask, bool) {
	if val, ok := m.tasks.Load(taskID); ok {
		return val.(*ConversionTask), true
	}
	return nil, false
}

// Progress returns a snapshot without waiting on a busy task. ErrTaskBusy
// means the caller should retry shortly.
func (m *Manager) Progress(taskID string) (Progress, error) {
	t, ok := m.Get(taskID)
	if !ok {
		return Progress{}, ErrTaskNotFound
	}
	p, ok := t.TrySnapshot()
	if !ok {
		return Progress{}, ErrTaskBusy
	}
	return p, nil
}

// List returns snapshots of every task, oldest first.
func (m *Manager) List() []Progress {
	list := []Progress{}
	for _, t := range m.all() {
		list = append(list, t.Snapshot())
	}
	return list
}

func (m *Manager) all() []*ConversionTask {
	var tasks []*ConversionTask
	m.tasks.Range(func(key, value interface{}) bool {
		tasks = append(tasks, value.(*ConversionTask))
		return true
	})
	sort.Slice(tasks, func(i, j int) bool {
		if tasks[i].CreatedAt.Equal(tasks[j].CreatedAt) {
			return tasks[i].ID < tasks[j].ID
		}
		return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
	})
	return tasks
}

// Cancel kills the task's live process and marks it Cancelled. Cancelling a
// finished task is a no-op.
func (m *Manager) Cancel(taskID string) error {
	t, ok := m.Get(taskID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	m.cancel(t)
	return nil
}

func (m *Manager) cancel(t *ConversionTask) {
	changed, busy := t.cancel()
	switch {
	case changed:
		m.log.Info("task cancelled", "task_id", t.ID)
		m.sink.Publish(Event{Kind: EventStatus, TaskID: t.ID, Status: StatusCancelled, Time: time.Now()})
	case busy:
		m.log.Debug("task busy, supervisor will apply cancel", "task_id", t.ID)
	}
}

// CancelAll kills every live encoder process, waits a short grace period for
// them to exit, then cancels each task.
func (m *Manager) CancelAll() {
	tasks := m.all()
	killed := 0
	for _, t := range tasks {
		if t.PID() > 0 {
			t.cancelRequested.Store(true)
			t.killByPID()
			killed++
		}
	}
	m.log.Info("cancelling all tasks", "tasks", len(tasks), "killed", killed)
	if killed > 0 && m.cfg.CancelGrace > 0 {
		time.Sleep(m.cfg.CancelGrace)
	}
	for _, t := range tasks {
		m.cancel(t)
	}
}

// Wait blocks until every supervisor has returned.
func (m *Manager) Wait() {
	m.wg.Wait()
}
