package ffmpeg

import (
	"fmt"
	"strconv"
	"strings"
)

// Family groups encoders by the hardware encode API they drive.
type Family string

const (
	FamilySoftware Family = "software"
	FamilyNVENC    Family = "nvenc"
	FamilyAMF      Family = "amf"
	FamilyQSV      Family = "qsv"
)

// EncoderFamily classifies an encoder name by its vendor marker.
func EncoderFamily(encoder string) Family {
	name := strings.ToLower(encoder)
	switch {
	case strings.Contains(name, "nvenc"):
		return FamilyNVENC
	case strings.Contains(name, "amf"):
		return FamilyAMF
	case strings.Contains(name, "qsv"):
		return FamilyQSV
	}
	return FamilySoftware
}

// IsHardwareEncoder reports whether the encoder runs on a GPU encode API.
func IsHardwareEncoder(encoder string) bool {
	return EncoderFamily(encoder) != FamilySoftware
}

// SoftwareFallback picks the CPU encoder of the same codec family.
func SoftwareFallback(encoder string) string {
	name := strings.ToLower(encoder)
	switch {
	case strings.Contains(name, "h264"), strings.Contains(name, "264"):
		return "libx264"
	case strings.Contains(name, "hevc"), strings.Contains(name, "265"):
		return "libx265"
	case strings.Contains(name, "av1"):
		return "libsvtav1"
	}
	return "libx264"
}

// Strategy names one rung of the fallback ladder.
type Strategy string

const (
	StrategySoftware         Strategy = "software"
	StrategyHardware         Strategy = "hw_decode_hw_encode"
	StrategySoftwareDecode   Strategy = "sw_decode_hw_encode"
	StrategyForcedPixFmt     Strategy = "sw_decode_hw_encode_nv12"
	StrategySoftwareFallback Strategy = "software_fallback"
)

// Attempt is one planned spawn of the encoder.
type Attempt struct {
	Index            int
	Strategy         Strategy
	Encoder          string
	HWDecode         bool
	PixelFormat      string
	SoftwareFallback bool
}

// Description is the human-readable line logged when the attempt starts.
func (a Attempt) Description(configured string) string {
	switch a.Strategy {
	case StrategyHardware:
		return fmt.Sprintf("Starting GPU accelerated conversion (%s).", hardwareLabel(EncoderFamily(configured)))
	case StrategySoftwareDecode:
		return "Retrying with software decode + GPU encode..."
	case StrategyForcedPixFmt:
		return fmt.Sprintf("Retrying with forced %s pixel format...", strings.ToUpper(a.PixelFormat))
	case StrategySoftwareFallback:
		return fmt.Sprintf("GPU encode failed. Falling back to CPU software encoder: %s", a.Encoder)
	}
	return "Starting software conversion."
}

func hardwareLabel(f Family) string {
	switch f {
	case FamilyNVENC:
		return "NVENC + CUDA hardware decode"
	case FamilyAMF:
		return "AMF + hardware decode"
	}
	return "QSV + hardware decode"
}

// PlanAttempts returns the fixed ladder for an encoder: four rungs for
// hardware encoders, a single software attempt otherwise.
func PlanAttempts(encoder string) []Attempt {
	if !IsHardwareEncoder(encoder) {
		return []Attempt{{Index: 0, Strategy: StrategySoftware, Encoder: encoder}}
	}
	return []Attempt{
		{Index: 0, Strategy: StrategyHardware, Encoder: encoder, HWDecode: true},
		{Index: 1, Strategy: StrategySoftwareDecode, Encoder: encoder},
		{Index: 2, Strategy: StrategyForcedPixFmt, Encoder: encoder, PixelFormat: "nv12"},
		{Index: 3, Strategy: StrategySoftwareFallback, Encoder: SoftwareFallback(encoder), SoftwareFallback: true},
	}
}

// Job is the encoder-facing part of a conversion task.
type Job struct {
	Input         string
	Output        string
	Encoder       string
	GPUIndex      *int
	CPUThreads    *int
	QualityPreset string
	Profile       *Preset
}

// Build returns the argument list for attempt index of the job's ladder.
func Build(job Job, index int) ([]string, error) {
	plan := PlanAttempts(job.Encoder)
	if index < 0 || index >= len(plan) {
		return nil, fmt.Errorf("attempt %d out of range, encoder %q has %d attempts", index, job.Encoder, len(plan))
	}
	return BuildArgs(job, plan[index]), nil
}

// BuildArgs produces the full argument list for one attempt. It performs no I/O.
func BuildArgs(job Job, a Attempt) []string {
	ext := OutputExt(job.Output)
	format := ResolveFormat(ext)
	family := EncoderFamily(a.Encoder)
	profile := job.Profile
	if a.SoftwareFallback {
		profile = nil
	}

	// Machine-readable progress goes to stderr alongside the banner; the
	// periodic stats line is suppressed so it cannot interleave.
	args := []string{"-y", "-hide_banner", "-progress", "pipe:2", "-nostats"}

	if a.HWDecode && profile == nil {
		args = append(args, "-hwaccel")
		if family == FamilyNVENC {
			args = append(args, "cuda")
			if job.GPUIndex != nil {
				args = append(args, "-hwaccel_device", strconv.Itoa(*job.GPUIndex))
			}
		} else {
			args = append(args, "auto")
		}
	}

	if job.CPUThreads != nil && *job.CPUThreads > 0 {
		args = append(args, "-threads", strconv.Itoa(*job.CPUThreads))
	}

	args = append(args, "-i", job.Input)

	// Only the first video stream: attached cover art shows up as extra
	// video streams and breaks most muxers when re-encoded.
	if format.SupportsVideo {
		args = append(args, "-map", "0:v:0?")
	}
	if format.SupportsAudio {
		if format.SupportsVideo {
			args = append(args, "-map", "0:a?")
		} else {
			args = append(args, "-map", "0:a:0?")
		}
	}

	if profile != nil {
		if format.SupportsVideo {
			args = append(args, "-c:v", profile.Encoder)
			args = append(args, profile.Options...)
			args = append(args, "-pix_fmt", profile.PixelFormat)
		}
		if profile.RequiresPCMAudio() && format.SupportsAudio {
			args = append(args, "-c:a", "pcm_s16le")
		}
	} else {
		if format.SupportsVideo {
			args = append(args, "-c:v", a.Encoder)
			args = append(args, qualityArgs(a.Encoder, job.QualityPreset)...)
			if family == FamilyNVENC && job.GPUIndex != nil {
				args = append(args, "-gpu", strconv.Itoa(*job.GPUIndex))
			}
			if a.PixelFormat != "" {
				args = append(args, "-pix_fmt", a.PixelFormat)
			}
		}
		if format.SupportsAudio {
			codec := format.DefaultAudioCodec
			if codec == "" {
				codec = "copy"
			}
			args = append(args, "-c:a", codec)
		}
	}

	if needsFastStart(ext) {
		args = append(args, "-movflags", "+faststart")
	}

	return append(args, job.Output)
}

// qualityArgs maps a software-style preset name onto the encoder's own
// preset option. Encoders without a preset vocabulary get nothing.
func qualityArgs(encoder, preset string) []string {
	if preset == "" {
		return nil
	}
	switch EncoderFamily(encoder) {
	case FamilyNVENC:
		return []string{"-preset", TranslateNVENCPreset(preset)}
	case FamilyQSV:
		return []string{"-preset", TranslateQSVPreset(preset)}
	case FamilyAMF:
		return []string{"-quality", TranslateAMFQuality(preset)}
	}
	switch encoder {
	case "libx264", "libx265":
		return []string{"-preset", preset}
	}
	return nil
}

// TranslateNVENCPreset collapses x264 preset names onto NVENC's tiers.
func TranslateNVENCPreset(preset string) string {
	switch preset {
	case "ultrafast", "superfast", "veryfast", "faster":
		return "fast"
	case "fast", "medium":
		return "medium"
	case "slow", "slower", "veryslow":
		return "slow"
	case "default", "hp", "hq", "bd", "ll", "llhq", "llhp", "lossless", "losslesshp",
		"p1", "p2", "p3", "p4", "p5", "p6", "p7":
		return preset
	}
	return "medium"
}

// TranslateQSVPreset keeps the x264 names QSV understands and clamps the two
// it lacks to its fastest tier.
func TranslateQSVPreset(preset string) string {
	switch preset {
	case "ultrafast", "superfast":
		return "veryfast"
	case "veryfast", "faster", "fast", "medium", "slow", "slower", "veryslow":
		return preset
	}
	return "medium"
}

// TranslateAMFQuality maps x264 names onto AMF's speed/balanced/quality.
func TranslateAMFQuality(preset string) string {
	switch preset {
	case "ultrafast", "superfast", "veryfast", "faster":
		return "speed"
	case "fast", "medium":
		return "balanced"
	case "slow", "slower", "veryslow":
		return "quality"
	case "speed", "balanced", "quality":
		return preset
	}
	return "balanced"
}
