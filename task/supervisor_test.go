//go:build !windows

package task

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"convertd/ffmpeg"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePreamble handles the two side invocations every fake shares: the
// decode probe the validator runs and the banner-only input probe.
const fakePreamble = `#!/bin/sh
for last in "$@"; do :; done
case " $* " in
*" -f null "*)
	VALIDATE
	exit 0 ;;
esac
if [ "$1" = "-hide_banner" ] && [ "$2" = "-i" ] && [ $# -eq 3 ]; then
	echo "Input #0, mov,mp4,m4a,3gp,3g2,mj2, from '$3':" >&2
	echo "  Duration: 00:00:10.00, start: 0.000000, bitrate: 1205 kb/s" >&2
	echo "  Stream #0:0[0x1](und): Video: h264 (High) (avc1 / 0x31637661), yuv420p, 1280x720, 25 fps" >&2
	PROBE_AUDIO
	echo "At least one output file must be specified" >&2
	exit 1
fi
`

const encodeOK = `
echo "  Duration: 00:00:10.00, start: 0.000000, bitrate: 1205 kb/s" >&2
echo "out_time_us=2500000" >&2
echo "out_time=00:00:05.000000" >&2
echo "out_time_ms=10000000" >&2
echo "progress=end" >&2
printf 'encoded' > "$last"
exit 0
`

type fakeOpts struct {
	body       string
	validate   string
	probeAudio bool
}

func writeFakeEncoder(t *testing.T, o fakeOpts) string {
	t.Helper()
	validate := o.validate
	if validate == "" {
		validate = ":"
	}
	probeAudio := ":"
	if o.probeAudio {
		probeAudio = `echo "  Stream #0:1[0x2](eng): Audio: aac (LC) (mp4a / 0x6134706D), 48000 Hz, stereo, fltp, 128 kb/s" >&2`
	}
	script := strings.NewReplacer("VALIDATE", validate, "PROBE_AUDIO", probeAudio).Replace(fakePreamble) + o.body

	p := filepath.Join(t.TempDir(), "fake-ffmpeg")
	require.NoError(t, os.WriteFile(p, []byte(script), 0o755))
	return p
}

func waitDone(t *testing.T, mgr *Manager) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		mgr.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(15 * time.Second):
		t.Fatal("supervisors did not finish")
	}
}

func TestSupervisor_SoftwareEncodeCompletes(t *testing.T) {
	sink := &recordingSink{}
	bin := writeFakeEncoder(t, fakeOpts{body: encodeOK})
	mgr := NewManager(testConfig(), bin, nil, sink)

	out := filepath.Join(t.TempDir(), "out.mkv")
	id, err := mgr.Start(Request{Input: writeInput(t), Output: out, Encoder: "libx264", Preset: "medium"})
	require.NoError(t, err)
	waitDone(t, mgr)

	p, err := mgr.Progress(id)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, p.Status)
	assert.Equal(t, 100.0, p.Percentage)
	assert.InDelta(t, 10.0, p.Duration, 0.001)
	assert.InDelta(t, 10.0, p.CurrentTime, 0.001)
	assert.Empty(t, p.ErrorMessage)
	assert.Equal(t, 0, livePID(mgr, id))

	cmds := commandLines(p.Log)
	require.Len(t, cmds, 1)
	assert.Contains(t, cmds[0], "-c:v libx264 -preset medium")
	assert.Contains(t, p.Log, "Starting software conversion.")
	assert.Contains(t, p.Log, "out_time_us=2500000")
	assert.FileExists(t, out)

	var pcts []float64
	for _, e := range sink.ofKind(EventProgress) {
		pcts = append(pcts, e.Percentage)
	}
	assert.Equal(t, []float64{25, 50, 100}, pcts)
	assert.Len(t, sink.ofKind(EventAttempt), 1)
	statuses := sink.ofKind(EventStatus)
	assert.Equal(t, StatusCompleted, statuses[len(statuses)-1].Status)
}

func TestSupervisor_HardwareFallsBackToSoftware(t *testing.T) {
	sink := &recordingSink{}
	bin := writeFakeEncoder(t, fakeOpts{body: `
case " $* " in
*" h264_nvenc "*)
	echo "[h264_nvenc @ 0x55] OpenEncodeSessionEx failed: unsupported device (2)" >&2
	printf 'partial' > "$last"
	exit 1 ;;
esac
` + encodeOK})
	mgr := NewManager(testConfig(), bin, nil, sink)

	out := filepath.Join(t.TempDir(), "out.mp4")
	id, err := mgr.Start(Request{Input: writeInput(t), Output: out, Encoder: "h264_nvenc", GPUIndex: intPtr(0), Preset: "fast"})
	require.NoError(t, err)
	waitDone(t, mgr)

	p, err := mgr.Progress(id)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, p.Status)
	assert.Equal(t, 100.0, p.Percentage)
	assert.Equal(t, 3, p.Attempt)
	assert.Equal(t, "libx264", p.Encoder)

	cmds := commandLines(p.Log)
	require.Len(t, cmds, 4)
	assert.Contains(t, cmds[0], "-hwaccel cuda")
	assert.NotContains(t, cmds[1], "-hwaccel")
	assert.Contains(t, cmds[2], "-pix_fmt nv12")
	assert.Contains(t, cmds[3], "-c:v libx264")

	attempts := sink.ofKind(EventAttempt)
	require.Len(t, attempts, 4)
	for i, e := range attempts {
		assert.Equal(t, i, e.Attempt)
	}
	assert.Equal(t, string(ffmpeg.StrategySoftwareFallback), attempts[3].Strategy)
	assert.Equal(t, "libx264", attempts[3].Encoder)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "encoded", string(data))
}

func TestSupervisor_ValidationFailure(t *testing.T) {
	bin := writeFakeEncoder(t, fakeOpts{
		body:     encodeOK,
		validate: `echo "[h264 @ 0x7f] Invalid NAL unit size (1184 > 1066)." >&2`,
	})
	mgr := NewManager(testConfig(), bin, nil, nil)

	id, err := mgr.Start(Request{Input: writeInput(t), Output: filepath.Join(t.TempDir(), "out.mkv"), Encoder: "libx264"})
	require.NoError(t, err)
	waitDone(t, mgr)

	p, err := mgr.Progress(id)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, p.Status)
	assert.Equal(t, "Corrupt video stream detected: [h264 @ 0x7f] Invalid NAL unit size (1184 > 1066).", p.ErrorMessage)
}

func TestSupervisor_ValidationFailureMovesToNextRung(t *testing.T) {
	// The hardware rungs leave output the decode check rejects; the partial
	// file must be gone before each retry starts.
	bin := writeFakeEncoder(t, fakeOpts{
		body: `
case " $* " in
*" h264_nvenc "*)
	if [ -e "$last" ]; then
		echo "stale output from previous rung" >&2
		exit 4
	fi
	printf 'bad' > "$last"
	exit 0 ;;
esac
` + encodeOK,
		validate: `prev=""
	for a in "$@"; do
		if [ "$prev" = "-i" ]; then probed="$a"; fi
		prev="$a"
	done
	if [ "$(cat "$probed")" = "bad" ]; then
		echo "[h264 @ 0x7f] Invalid NAL unit size (1184 > 1066)." >&2
	fi`,
	})
	mgr := NewManager(testConfig(), bin, nil, nil)

	out := filepath.Join(t.TempDir(), "out.mp4")
	id, err := mgr.Start(Request{Input: writeInput(t), Output: out, Encoder: "h264_nvenc", GPUIndex: intPtr(0)})
	require.NoError(t, err)
	waitDone(t, mgr)

	p, err := mgr.Progress(id)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, p.Status)
	assert.Equal(t, 3, p.Attempt)
	assert.Equal(t, "libx264", p.Encoder)
	assert.Len(t, commandLines(p.Log), 4)
	assert.NotContains(t, p.Log, "stale output from previous rung")

	var invalid int
	for _, l := range p.Log {
		if strings.HasPrefix(l, "Output validation failed: ") {
			invalid++
		}
	}
	assert.Equal(t, 3, invalid)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "encoded", string(data))
}

func TestSupervisor_EmptyOutputFailsValidation(t *testing.T) {
	bin := writeFakeEncoder(t, fakeOpts{body: `
: > "$last"
exit 0
`})
	mgr := NewManager(testConfig(), bin, nil, nil)

	id, err := mgr.Start(Request{Input: writeInput(t), Output: filepath.Join(t.TempDir(), "out.mkv"), Encoder: "libx265"})
	require.NoError(t, err)
	waitDone(t, mgr)

	p, err := mgr.Progress(id)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, p.Status)
	assert.Equal(t, "Output file is empty", p.ErrorMessage)
}

func TestSupervisor_NonZeroExit(t *testing.T) {
	bin := writeFakeEncoder(t, fakeOpts{body: `
echo "Conversion failed!" >&2
exit 3
`})
	mgr := NewManager(testConfig(), bin, nil, nil)

	id, err := mgr.Start(Request{Input: writeInput(t), Output: filepath.Join(t.TempDir(), "out.webm"), Encoder: "libvpx-vp9"})
	require.NoError(t, err)
	waitDone(t, mgr)

	p, err := mgr.Progress(id)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, p.Status)
	assert.Equal(t, "Encoder exited with code 3", p.ErrorMessage)
	assert.Contains(t, p.Log, "Conversion failed!")
}

const encodeSlow = `
echo "  Duration: 00:00:10.00, start: 0.000000, bitrate: 1205 kb/s" >&2
echo "out_time_us=1000000" >&2
sleep 30
printf 'encoded' > "$last"
exit 0
`

func TestSupervisor_CancelMidAttempt(t *testing.T) {
	sink := &recordingSink{}
	bin := writeFakeEncoder(t, fakeOpts{body: encodeSlow})
	mgr := NewManager(testConfig(), bin, nil, sink)

	id, err := mgr.Start(Request{Input: writeInput(t), Output: filepath.Join(t.TempDir(), "out.mp4"), Encoder: "h264_amf"})
	require.NoError(t, err)

	var pid int
	require.Eventually(t, func() bool {
		p, err := mgr.Progress(id)
		pid = livePID(mgr, id)
		return err == nil && pid > 0 && p.Percentage >= 10
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, mgr.Cancel(id))
	waitDone(t, mgr)

	p, err := mgr.Progress(id)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, p.Status)
	assert.Equal(t, 0, p.Attempt, "a cancelled attempt must not fall through to the next rung")
	assert.Len(t, commandLines(p.Log), 1)
	assert.Equal(t, 0, livePID(mgr, id))
	assert.False(t, ffmpeg.Alive(pid))

	ct, _ := mgr.Get(id)
	assert.False(t, ct.transition(StatusCompleted, ""))
	assert.False(t, ct.transition(StatusFailed, "stale exit"))
	assert.Equal(t, StatusCancelled, ct.Snapshot().Status)

	var cancelled int
	for _, e := range sink.ofKind(EventStatus) {
		if e.Status == StatusCancelled {
			cancelled++
		}
	}
	assert.Equal(t, 1, cancelled)
}

func TestSupervisor_CancelWhileLockBusy(t *testing.T) {
	bin := writeFakeEncoder(t, fakeOpts{body: encodeSlow})
	mgr := NewManager(testConfig(), bin, nil, nil)

	id, err := mgr.Start(Request{Input: writeInput(t), Output: filepath.Join(t.TempDir(), "out.mkv"), Encoder: "libx264"})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return livePID(mgr, id) > 0 }, 5*time.Second, 10*time.Millisecond)

	ct, _ := mgr.Get(id)
	ct.mu.Lock()
	require.NoError(t, mgr.Cancel(id))
	ct.mu.Unlock()

	waitDone(t, mgr)
	assert.Equal(t, StatusCancelled, ct.Snapshot().Status)
}

func TestSupervisor_CancelAfterStreamClosed(t *testing.T) {
	bin := writeFakeEncoder(t, fakeOpts{body: `
echo "  Duration: 00:00:10.00, start: 0.000000, bitrate: 1205 kb/s" >&2
exec 2>&-
exec sleep 30
`})
	mgr := NewManager(testConfig(), bin, nil, nil)

	id, err := mgr.Start(Request{Input: writeInput(t), Output: filepath.Join(t.TempDir(), "out.mkv"), Encoder: "libx264"})
	require.NoError(t, err)
	ct, _ := mgr.Get(id)

	// Once the stream is closed the pid mirror is cleared while the child
	// is still running.
	require.Eventually(t, func() bool {
		p := ct.Snapshot()
		return ct.PID() == 0 && p.Duration > 0
	}, 5*time.Second, 10*time.Millisecond)

	ct.mu.Lock()
	require.NotNil(t, ct.cmd)
	pid := ct.cmd.Process.Pid
	ct.mu.Unlock()
	assert.True(t, ffmpeg.Alive(pid))

	require.NoError(t, mgr.Cancel(id))
	waitDone(t, mgr)

	assert.Equal(t, StatusCancelled, ct.Snapshot().Status)
	assert.False(t, ffmpeg.Alive(pid))
}

func TestManager_CancelAll(t *testing.T) {
	bin := writeFakeEncoder(t, fakeOpts{body: encodeSlow})
	mgr := NewManager(testConfig(), bin, nil, nil)

	var ids []string
	for i := 0; i < 3; i++ {
		id, err := mgr.Start(Request{Input: writeInput(t), Output: filepath.Join(t.TempDir(), "out.mkv"), Encoder: "libx264"})
		require.NoError(t, err)
		ids = append(ids, id)
	}
	require.Eventually(t, func() bool {
		for _, id := range ids {
			if livePID(mgr, id) == 0 {
				return false
			}
		}
		return true
	}, 5*time.Second, 10*time.Millisecond)

	mgr.CancelAll()
	waitDone(t, mgr)

	for _, p := range mgr.List() {
		assert.Equal(t, StatusCancelled, p.Status, p.ID)
		assert.Equal(t, 0, livePID(mgr, p.ID))
	}
}

func TestManager_AudioOnlyTargets(t *testing.T) {
	t.Run("input without audio is rejected before spawning", func(t *testing.T) {
		bin := writeFakeEncoder(t, fakeOpts{body: encodeOK})
		mgr := NewManager(testConfig(), bin, nil, nil)

		out := filepath.Join(t.TempDir(), "song.mp3")
		_, err := mgr.Start(Request{Input: writeInput(t), Output: out, Encoder: "libx264"})
		assert.ErrorIs(t, err, ErrNoAudioStream)
		assert.Empty(t, mgr.List())
		assert.NoFileExists(t, out)
	})

	t.Run("input with audio is extracted", func(t *testing.T) {
		bin := writeFakeEncoder(t, fakeOpts{body: encodeOK, probeAudio: true})
		mgr := NewManager(testConfig(), bin, nil, nil)

		id, err := mgr.Start(Request{Input: writeInput(t), Output: filepath.Join(t.TempDir(), "song.mp3")})
		require.NoError(t, err)
		waitDone(t, mgr)

		p, err := mgr.Progress(id)
		require.NoError(t, err)
		assert.Equal(t, StatusCompleted, p.Status)
		cmds := commandLines(p.Log)
		require.Len(t, cmds, 1)
		assert.Contains(t, cmds[0], "-map 0:a:0? -c:a libmp3lame")
		assert.NotContains(t, cmds[0], "-c:v")
	})
}

func TestManager_WatchCancelsOnShutdown(t *testing.T) {
	bin := writeFakeEncoder(t, fakeOpts{body: encodeSlow})
	mgr := NewManager(testConfig(), bin, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	mgr.Watch(ctx)

	id, err := mgr.Start(Request{Input: writeInput(t), Output: filepath.Join(t.TempDir(), "out.mkv"), Encoder: "libx264"})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return livePID(mgr, id) > 0 }, 5*time.Second, 10*time.Millisecond)

	cancel()
	waitDone(t, mgr)

	p, err := mgr.Progress(id)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, p.Status)
}

func TestSupervisor_PresetProfile(t *testing.T) {
	bin := writeFakeEncoder(t, fakeOpts{body: encodeOK})
	mgr := NewManager(testConfig(), bin, nil, nil)

	id, err := mgr.Start(Request{Input: writeInput(t), Output: filepath.Join(t.TempDir(), "edit.mov"), Encoder: "h264_nvenc", Preset: "prores_422_hq"})
	require.NoError(t, err)
	waitDone(t, mgr)

	p, err := mgr.Progress(id)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, p.Status)
	cmds := commandLines(p.Log)
	require.Len(t, cmds, 1)
	assert.Contains(t, cmds[0], "-c:v prores_ks -profile:v 3 -pix_fmt yuv422p10le")
	assert.Contains(t, cmds[0], "-c:a pcm_s16le")
	assert.NotContains(t, cmds[0], "-hwaccel")
}
