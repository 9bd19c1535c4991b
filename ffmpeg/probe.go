package ffmpeg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
)

// StreamInfo is one input stream as listed in the encoder banner.
type StreamInfo struct {
	Index    int    `json:"index"`
	Codec    string `json:"codec"`
	Language string `json:"language,omitempty"`
}

// MediaInfo summarizes an input file.
type MediaInfo struct {
	Duration     float64      `json:"duration"`
	Width        int          `json:"width,omitempty"`
	Height       int          `json:"height,omitempty"`
	VideoStreams []StreamInfo `json:"videoStreams"`
	AudioStreams []StreamInfo `json:"audioStreams"`
}

// HasAudio reports whether at least one audio stream was found.
func (m *MediaInfo) HasAudio() bool { return len(m.AudioStreams) > 0 }

var (
	// Stream #0:1[0x2](eng): Audio: aac (LC) ...
	reStream     = regexp.MustCompile(`Stream #0:(\d+)(?:\[[^\]]+\])?(?:\(([^\)]+)\))?: (Video|Audio): ([^,\s]+)([^\n]*)`)
	reResolution = regexp.MustCompile(`(\d{2,5})x(\d{2,5})`)
)

// ParseMediaInfo reads duration, resolution and streams from banner text.
func ParseMediaInfo(output string) *MediaInfo {
	info := &MediaInfo{
		VideoStreams: []StreamInfo{},
		AudioStreams: []StreamInfo{},
	}
	info.Duration, _ = ParseDuration(output)

	for _, m := range reStream.FindAllStringSubmatch(output, -1) {
		idx, _ := strconv.Atoi(m[1])
		s := StreamInfo{Index: idx, Language: m[2], Codec: m[4]}
		switch m[3] {
		case "Video":
			if info.Width == 0 {
				if r := reResolution.FindStringSubmatch(m[5]); r != nil {
					info.Width, _ = strconv.Atoi(r[1])
					info.Height, _ = strconv.Atoi(r[2])
				}
			}
			info.VideoStreams = append(info.VideoStreams, s)
		case "Audio":
			info.AudioStreams = append(info.AudioStreams, s)
		}
	}
	return info
}

// ProbeInput runs the encoder with only an input so it prints the banner and
// exits. The non-zero exit that follows ("at least one output file must be
// specified") is expected and ignored.
func ProbeInput(ctx context.Context, bin, input string) (*MediaInfo, error) {
	cmd := Command(ctx, bin, "-hide_banner", "-i", input)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	err := cmd.Run()
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		return nil, fmt.Errorf("failed to probe input: %w", err)
	}
	if ctx.Err() != nil {
		return nil, fmt.Errorf("failed to probe input: %w", ctx.Err())
	}
	return ParseMediaInfo(stderr.String()), nil
}
