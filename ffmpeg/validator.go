package ffmpeg

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// corruptionSignatures are decoder messages that mean the output is unplayable
// even though the encoder exited cleanly.
var corruptionSignatures = []string{
	"invalid nal unit size",
	"error splitting the input into nal units",
	"non existing pps",
	"no frame!",
	"could not find codec parameters",
	"invalid data found",
	"unspecified pixel format",
	"decode_slice_header error",
}

// ValidateOutput reports why a finished output is unusable, or "" when it
// decodes cleanly. It decodes the first frames video frames to a null sink.
func ValidateOutput(ctx context.Context, bin, output string, frames int) string {
	fi, err := os.Stat(output)
	if err != nil {
		return fmt.Sprintf("Cannot stat output file: %v", err)
	}
	if fi.Size() == 0 {
		return "Output file is empty"
	}
	if frames <= 0 {
		frames = 5
	}

	cmd := Command(ctx, bin, "-v", "error", "-i", output, "-frames:v", strconv.Itoa(frames), "-f", "null", "-")
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Start(); err != nil {
		return fmt.Sprintf("Validation probe failed to start: %v", err)
	}
	// The probe's exit code is not the verdict; its diagnostics are.
	_ = cmd.Wait()
	if ctx.Err() != nil {
		return fmt.Sprintf("Validation probe timed out: %v", ctx.Err())
	}
	return MatchCorruption(stderr.String())
}

// MatchCorruption scans decoder diagnostics for known corruption signatures
// and returns a one-line reason, or "".
func MatchCorruption(stderr string) string {
	lower := strings.ToLower(stderr)
	for _, sig := range corruptionSignatures {
		if strings.Contains(lower, sig) {
			first := strings.TrimSpace(strings.SplitN(strings.TrimSpace(stderr), "\n", 2)[0])
			if first == "" {
				first = "unknown error"
			}
			return "Corrupt video stream detected: " + first
		}
	}
	return ""
}
