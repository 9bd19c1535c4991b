package task

import "errors"

// Precondition errors returned by Manager. In-job failures never surface
// here; they are recorded on the task itself.
var (
	ErrTaskNotFound  = errors.New("task not found")
	ErrNoEncoder     = errors.New("no encoder binary available")
	ErrInputNotFound = errors.New("input file not found")
	ErrNoAudioStream = errors.New("input has no audio stream")
	ErrTaskBusy      = errors.New("task is busy, retry")
)
