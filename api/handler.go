package api

import (
	"errors"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"convertd/config"
	"convertd/ffmpeg"
	"convertd/task"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/go-hclog"
)

const (
	progressRetries    = 3
	progressRetryDelay = 20 * time.Millisecond
)

type Handler struct {
	taskManager *task.Manager
	cfg         *config.Config
	log         hclog.Logger
	// checkResources gates new tasks when throttling is enabled.
	checkResources func(dir string) error
}

func NewHandler(tm *task.Manager, cfg *config.Config, logger hclog.Logger) *Handler {
	return &Handler{
		taskManager:    tm,
		cfg:            cfg,
		log:            logger,
		checkResources: resourceChecker(cfg),
	}
}

type TaskRequest struct {
	Input      string `json:"input" binding:"required"`
	Output     string `json:"output" binding:"required"`
	Encoder    string `json:"encoder"`
	GPUIndex   *int   `json:"gpuIndex"`
	CPUThreads *int   `json:"cpuThreads"`
	Preset     string `json:"preset"`
}

type ProbeRequest struct {
	Input string `json:"input" binding:"required"`
}

// statusFor maps precondition errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, task.ErrTaskNotFound):
		return http.StatusNotFound
	case errors.Is(err, task.ErrNoEncoder), errors.Is(err, task.ErrTaskBusy):
		return http.StatusServiceUnavailable
	case errors.Is(err, task.ErrInputNotFound):
		return http.StatusBadRequest
	case errors.Is(err, task.ErrNoAudioStream):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

// handleCreateTask starts a conversion and returns its id.
func (h *Handler) handleCreateTask(c *gin.Context) {
	var req TaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if h.cfg.ThrottleEnable {
		if err := h.checkResources(filepath.Dir(req.Output)); err != nil {
			h.log.Warn("rejecting task, host is busy", "error", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Insufficient system resources", "details": err.Error()})
			return
		}
	}

	id, err := h.taskManager.Start(task.Request{
		Input:      req.Input,
		Output:     req.Output,
		Encoder:    req.Encoder,
		GPUIndex:   req.GPUIndex,
		CPUThreads: req.CPUThreads,
		Preset:     req.Preset,
	})
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": "Failed to create task", "details": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"taskId": id})
}

// handleListTasks lists all tasks.
func (h *Handler) handleListTasks(c *gin.Context) {
	c.JSON(http.StatusOK, h.taskManager.List())
}

// handleGetTaskStatus returns the progress snapshot of a single task. A
// snapshot is retried briefly while the task is busy.
func (h *Handler) handleGetTaskStatus(c *gin.Context) {
	taskID := c.Param("taskId")

	var (
		p   task.Progress
		err error
	)
	for i := 0; i < progressRetries; i++ {
		p, err = h.taskManager.Progress(taskID)
		if !errors.Is(err, task.ErrTaskBusy) {
			break
		}
		time.Sleep(progressRetryDelay)
	}
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, p)
}

// handleCancelTask cancels a task.
func (h *Handler) handleCancelTask(c *gin.Context) {
	taskID := c.Param("taskId")
	if err := h.taskManager.Cancel(taskID); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Task cancellation requested"})
}

// handleCancelAll cancels every task.
func (h *Handler) handleCancelAll(c *gin.Context) {
	h.taskManager.CancelAll()
	c.JSON(http.StatusOK, gin.H{"message": "All tasks cancelled"})
}

func (h *Handler) handleListPresets(c *gin.Context) {
	c.JSON(http.StatusOK, ffmpeg.Presets())
}

func (h *Handler) handleListFormats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"video": ffmpeg.VideoFormats,
		"audio": ffmpeg.AudioFormats,
	})
}

// handleGetFormat resolves an extension to its container and codec defaults.
func (h *Handler) handleGetFormat(c *gin.Context) {
	ext := strings.ToLower(strings.TrimPrefix(c.Param("ext"), "."))
	c.JSON(http.StatusOK, gin.H{
		"extension": ext,
		"supported": isSupported(ext),
		"format":    ffmpeg.ResolveFormat(ext),
	})
}

func isSupported(ext string) bool {
	for _, f := range ffmpeg.VideoFormats {
		if f == ext {
			return true
		}
	}
	for _, f := range ffmpeg.AudioFormats {
		if f == ext {
			return true
		}
	}
	return false
}

// handleProbe reports the duration, resolution and streams of an input.
func (h *Handler) handleProbe(c *gin.Context) {
	var req ProbeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	info, err := h.taskManager.Probe(req.Input)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, info)
}
