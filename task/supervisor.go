package task

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"

	"convertd/config"
	"convertd/ffmpeg"
	"convertd/metrics"

	"github.com/hashicorp/go-hclog"
)

const (
	defaultValidateTimeout = 30 * time.Second
	initialLineBuffer      = 64 * 1024
)

// supervisor drives one task through its attempt ladder. It is the only
// writer of the task's progress apart from cancellation.
type supervisor struct {
	task *ConversionTask
	cfg  *config.Config
	log  hclog.Logger
	sink Sink
}

type attemptResult struct {
	reason    string
	invalid   bool
	cancelled bool
}

func (r attemptResult) outcome() string {
	switch {
	case r.cancelled:
		return "cancelled"
	case r.invalid:
		return "invalid"
	case r.reason != "":
		return "failed"
	}
	return "success"
}

func (s *supervisor) run() {
	t := s.task
	if !t.begin() {
		// A cancel that found the lock busy is applied here.
		s.markCancelled()
		return
	}
	s.publish(Event{Kind: EventStatus, Status: StatusRunning, Encoder: t.Job.Encoder})

	plan := ffmpeg.PlanAttempts(t.Job.Encoder)
	for _, a := range plan {
		if t.CancelRequested() {
			s.markCancelled()
			return
		}
		last := a.Index == len(plan)-1

		args := ffmpeg.BuildArgs(t.Job, a)
		t.startAttempt(a,
			a.Description(t.Job.Encoder),
			fmt.Sprintf("Command: %s %s", t.Bin, ffmpeg.QuoteArgs(args)),
		)
		s.log.Info("starting attempt", "attempt", a.Index, "strategy", a.Strategy, "encoder", a.Encoder)
		s.publish(Event{Kind: EventAttempt, Status: StatusRunning, Attempt: a.Index, Strategy: string(a.Strategy), Encoder: a.Encoder})

		started := time.Now()
		res := s.runAttempt(a, args)
		metrics.AttemptDuration.WithLabelValues(string(a.Strategy)).Observe(time.Since(started).Seconds())
		metrics.AttemptsTotal.WithLabelValues(string(a.Strategy), res.outcome()).Inc()

		switch {
		case res.cancelled:
			s.markCancelled()
			return
		case res.reason == "":
			if t.transition(StatusCompleted, "") {
				t.appendLog("Conversion completed successfully.")
				s.log.Info("task completed", "attempt", a.Index, "encoder", a.Encoder)
				s.publish(Event{Kind: EventStatus, Status: StatusCompleted, Attempt: a.Index, Encoder: a.Encoder, Percentage: 100})
			}
			return
		case !last:
			s.log.Warn("attempt failed, retrying", "attempt", a.Index, "strategy", a.Strategy, "reason", res.reason)
			t.appendLog(fmt.Sprintf("Attempt %d failed: %s", a.Index+1, res.reason))
			s.removePartial()
		default:
			msg := res.reason
			if len(plan) > 1 {
				msg = fmt.Sprintf("All %d attempts failed. Last error: %s", len(plan), res.reason)
			}
			if t.transition(StatusFailed, msg) {
				t.appendLog(msg)
				s.log.Error("task failed", "attempts", len(plan), "reason", res.reason)
				s.publish(Event{Kind: EventStatus, Status: StatusFailed, Attempt: a.Index, Encoder: a.Encoder, Error: msg})
			}
		}
	}
}

// runAttempt spawns the encoder once, streams its diagnostics into the task
// and validates the result of a clean exit.
func (s *supervisor) runAttempt(a ffmpeg.Attempt, args []string) attemptResult {
	t := s.task
	if t.CancelRequested() {
		return attemptResult{cancelled: true}
	}

	cmd := ffmpeg.Command(context.Background(), t.Bin, args...)
	stderr, err := cmd.StderrPipe()
	if err == nil {
		err = cmd.Start()
	}
	if err != nil {
		return attemptResult{reason: fmt.Sprintf("Failed to start encoder: %v", err)}
	}
	t.attach(cmd)
	s.log.Debug("encoder spawned", "attempt", a.Index, "pid", cmd.Process.Pid)

	cancelled := s.stream(stderr, a)
	t.releasePID()
	waitErr := cmd.Wait()
	t.detach()

	if cancelled || t.CancelRequested() {
		return attemptResult{cancelled: true}
	}
	if waitErr != nil {
		return attemptResult{reason: exitReason(waitErr)}
	}

	timeout := s.cfg.ValidateTimeout
	if timeout <= 0 {
		timeout = defaultValidateTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if reason := ffmpeg.ValidateOutput(ctx, t.Bin, t.Job.Output, s.cfg.ValidateFrames); reason != "" {
		metrics.ValidationFailuresTotal.Inc()
		t.appendLog("Output validation failed: " + reason)
		return attemptResult{reason: reason, invalid: true}
	}
	if t.CancelRequested() {
		return attemptResult{cancelled: true}
	}
	return attemptResult{}
}

// stream feeds diagnostic lines into the task until the encoder closes its
// side. It returns true when a cancel request was seen, after killing the
// encoder and draining what is left.
func (s *supervisor) stream(r io.Reader, a ffmpeg.Attempt) bool {
	t := s.task
	sc := bufio.NewScanner(r)
	maxLine := int(s.cfg.MaxLineSize)
	if maxLine < initialLineBuffer {
		maxLine = initialLineBuffer
	}
	sc.Buffer(make([]byte, 0, initialLineBuffer), maxLine)

	for {
		if t.CancelRequested() {
			t.killByPID()
			_, _ = io.Copy(io.Discard, r)
			return true
		}
		if !sc.Scan() {
			break
		}
		if pct, stepped := t.observe(sc.Text()); stepped {
			s.publish(Event{Kind: EventProgress, Status: StatusRunning, Attempt: a.Index, Encoder: a.Encoder, Percentage: pct})
		}
	}
	if err := sc.Err(); err != nil {
		s.log.Warn("diagnostic stream read failed", "attempt", a.Index, "error", err)
		t.appendLog(fmt.Sprintf("Diagnostic stream error: %v", err))
		_, _ = io.Copy(io.Discard, r)
	}
	return false
}

func (s *supervisor) markCancelled() {
	t := s.task
	t.killByPID()
	if t.transition(StatusCancelled, "") {
		t.appendLog("Conversion cancelled.")
		s.publish(Event{Kind: EventStatus, Status: StatusCancelled})
	}
	s.log.Info("task cancelled")
}

func (s *supervisor) removePartial() {
	err := os.Remove(s.task.Job.Output)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		s.log.Warn("failed to remove partial output", "path", s.task.Job.Output, "error", err)
	}
}

func (s *supervisor) publish(e Event) {
	e.TaskID = s.task.ID
	e.Time = time.Now()
	s.sink.Publish(e)
}

func exitReason(err error) string {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return fmt.Sprintf("Encoder exited with code %d", exitErr.ExitCode())
	}
	return fmt.Sprintf("Encoder did not exit cleanly: %v", err)
}
