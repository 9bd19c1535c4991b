package ffmpeg

import (
	"path/filepath"
	"strings"
)

// Supported output extensions, grouped by what the container carries.
var (
	VideoFormats = []string{"mp4", "mkv", "avi", "mov", "wmv", "flv", "webm", "ogv"}
	AudioFormats = []string{"mp3", "wav", "aac", "flac", "m4a", "ogg"}
)

// FormatInfo describes container and codec defaults for an output extension.
// An empty DefaultAudioCodec means audio is stream-copied.
type FormatInfo struct {
	Container         string `json:"container"`
	DefaultVideoCodec string `json:"defaultVideoCodec"`
	DefaultAudioCodec string `json:"defaultAudioCodec"`
	SupportsVideo     bool   `json:"supportsVideo"`
	SupportsAudio     bool   `json:"supportsAudio"`
}

// AudioOnly reports whether the container cannot carry video.
func (f FormatInfo) AudioOnly() bool {
	return !f.SupportsVideo && f.SupportsAudio
}

var defaultFormat = FormatInfo{"mp4", "libx264", "aac", true, true}

var formats = map[string]FormatInfo{
	"mp4":  defaultFormat,
	"mkv":  {"matroska", "libx264", "aac", true, true},
	"avi":  {"avi", "libx264", "mp3", true, true},
	"mov":  {"mov", "libx264", "aac", true, true},
	"wmv":  {"asf", "wmv2", "wmav2", true, true},
	"flv":  {"flv", "libx264", "aac", true, true},
	"webm": {"webm", "libvpx-vp9", "libopus", true, true},
	"ogv":  {"ogg", "libtheora", "libvorbis", true, true},
	"mp3":  {"mp3", "", "libmp3lame", false, true},
	"wav":  {"wav", "", "pcm_s16le", false, true},
	"aac":  {"adts", "", "aac", false, true},
	"flac": {"flac", "", "flac", false, true},
	"m4a":  {"ipod", "", "aac", false, true},
	"ogg":  {"ogg", "", "libvorbis", false, true},
}

// ResolveFormat looks up the extension case-insensitively, with or without a
// leading dot. Unknown extensions resolve to the MP4/H.264/AAC default.
func ResolveFormat(ext string) FormatInfo {
	if info, ok := formats[normalizeExt(ext)]; ok {
		return info
	}
	return defaultFormat
}

// OutputExt returns the normalized extension of path, or "" when it has none.
func OutputExt(path string) string {
	return normalizeExt(filepath.Ext(path))
}

func normalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
}

// needsFastStart reports whether the container benefits from moving the
// index atom to the front of the file.
func needsFastStart(ext string) bool {
	switch ext {
	case "mp4", "mov", "m4a":
		return true
	}
	return false
}
