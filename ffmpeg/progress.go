package ffmpeg

import (
	"regexp"
	"strconv"
)

var (
	reDuration  = regexp.MustCompile(`Duration: (\d+):(\d+):(\d+\.\d+)`)
	reTime      = regexp.MustCompile(`\btime=(\d+):(\d+):(\d+\.\d+)`)
	reOutTime   = regexp.MustCompile(`out_time=(\d+):(\d+):(\d+\.\d+)`)
	reOutTimeUS = regexp.MustCompile(`out_time_us=(\d+)`)
	// out_time_ms carries microseconds despite its name.
	reOutTimeMS = regexp.MustCompile(`out_time_ms=(\d+)`)
)

// Sample is what one diagnostic line says about progress. Zero fields mean
// the line carried no such signal.
type Sample struct {
	Duration   float64
	Elapsed    float64
	HasElapsed bool
}

// ParseLine extracts progress signals from one line of encoder diagnostics.
// The banner duration is only looked for while knownDuration is still zero.
func ParseLine(line string, knownDuration float64) Sample {
	var s Sample
	if knownDuration == 0 {
		if m := reDuration.FindStringSubmatch(line); m != nil {
			s.Duration = clock(m[1], m[2], m[3])
		}
	}
	s.Elapsed, s.HasElapsed = parseElapsed(line)
	return s
}

func parseElapsed(line string) (float64, bool) {
	if m := reTime.FindStringSubmatch(line); m != nil {
		return clock(m[1], m[2], m[3]), true
	}
	if m := reOutTime.FindStringSubmatch(line); m != nil {
		return clock(m[1], m[2], m[3]), true
	}
	if m := reOutTimeUS.FindStringSubmatch(line); m != nil {
		return micros(m[1])
	}
	if m := reOutTimeMS.FindStringSubmatch(line); m != nil {
		return micros(m[1])
	}
	return 0, false
}

// Percentage derives completion from elapsed and total seconds. ok is false
// while the duration is unknown.
func Percentage(elapsed, duration float64) (pct float64, ok bool) {
	if duration <= 0 {
		return 0, false
	}
	return max(0, min(100, elapsed/duration*100)), true
}

// ParseDuration scans a whole banner for the input duration in seconds.
func ParseDuration(output string) (float64, bool) {
	m := reDuration.FindStringSubmatch(output)
	if m == nil {
		return 0, false
	}
	return clock(m[1], m[2], m[3]), true
}

func clock(h, m, s string) float64 {
	hours, _ := strconv.ParseFloat(h, 64)
	mins, _ := strconv.ParseFloat(m, 64)
	secs, _ := strconv.ParseFloat(s, 64)
	return hours*3600 + mins*60 + secs
}

func micros(v string) (float64, bool) {
	us, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false
	}
	return us / 1_000_000, true
}
