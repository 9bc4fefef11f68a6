// Package loudness measures integrated loudness with ffmpeg's loudnorm filter
// and converts loudness differences into gains.
package loudness

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os/exec"
	"strconv"
	"strings"

	"StemForge/core/audio"
)

// ErrTooShort is returned for audio shorter than one gating block.
var ErrTooShort = errors.New("audio shorter than one gating block")

const (
	blockSeconds = 0.4
	// absoluteGate is the BS.1770 floor; anything at or below it is silence.
	absoluteGate = -70.0
)

// LoudnormStats is the measurement block loudnorm prints with print_format=json.
type LoudnormStats struct {
	InputI      string `json:"input_i"`
	InputTP     string `json:"input_tp"`
	InputLRA    string `json:"input_lra"`
	InputThresh string `json:"input_thresh"`
}

// Meter measures integrated loudness at a fixed sample rate by piping raw
// samples through ffmpeg.
type Meter struct {
	ffmpegPath string
	rate       int
	command    func(name string, args ...string) *exec.Cmd
}

// NewMeter returns a meter for audio sampled at rate.
func NewMeter(ffmpegPath string, rate int) *Meter {
	return &Meter{ffmpegPath: ffmpegPath, rate: rate, command: exec.Command}
}

func (m *Meter) args(channels int) []string {
	return []string{
		"-hide_banner", "-nostats",
		"-f", "f32le",
		"-ar", strconv.Itoa(m.rate),
		"-ac", strconv.Itoa(channels),
		"-i", "pipe:0",
		"-af", "loudnorm=print_format=json",
		"-f", "null", "-",
	}
}

// Integrated returns the gated loudness of buf in LUFS. Silence and audio
// that never rises above the absolute gate measure -Inf.
func (m *Meter) Integrated(buf *audio.Buffer) (float64, error) {
	if buf.SampleRate != m.rate {
		return 0, fmt.Errorf("meter runs at %d Hz, audio is %d Hz", m.rate, buf.SampleRate)
	}
	if buf.Frames() < int(blockSeconds*float64(m.rate)) {
		return 0, fmt.Errorf("%w: %d frames", ErrTooShort, buf.Frames())
	}
	if buf.Peak() == 0 {
		return math.Inf(-1), nil
	}

	cmd := m.command(m.ffmpegPath, m.args(buf.Channels())...)
	cmd.Stdin = newSampleReader(buf)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return 0, fmt.Errorf("ffmpeg loudness measurement failed: %w\nFFmpeg Error: %s", err, tail(stderr.String()))
	}

	stats, err := ParseLoudnorm(stderr.String())
	if err != nil {
		return 0, err
	}
	return stats.Integrated()
}

// ParseLoudnorm extracts the JSON block loudnorm writes at the end of its log.
func ParseLoudnorm(output string) (*LoudnormStats, error) {
	start := strings.LastIndex(output, "{")
	end := strings.LastIndex(output, "}")
	if start == -1 || end == -1 || end <= start {
		return nil, fmt.Errorf("no JSON found in loudnorm output (captured %d bytes)", len(output))
	}

	var stats LoudnormStats
	if err := json.Unmarshal([]byte(output[start:end+1]), &stats); err != nil {
		return nil, fmt.Errorf("failed to parse loudnorm JSON: %w", err)
	}
	return &stats, nil
}

// Integrated converts input_i to LUFS.
func (s *LoudnormStats) Integrated() (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s.InputI), 64)
	if err != nil {
		return 0, fmt.Errorf("loudnorm input_i %q: %w", s.InputI, err)
	}
	if v <= absoluteGate {
		return math.Inf(-1), nil
	}
	return v, nil
}

// sampleReader streams a buffer as interleaved little-endian float32.
type sampleReader struct {
	buf   *audio.Buffer
	frame int
	ch    int
}

func newSampleReader(buf *audio.Buffer) *sampleReader {
	return &sampleReader{buf: buf}
}

func (r *sampleReader) Read(p []byte) (int, error) {
	n := 0
	channels := r.buf.Channels()
	for n+4 <= len(p) {
		if r.frame >= r.buf.Frames() {
			break
		}
		binary.LittleEndian.PutUint32(p[n:], math.Float32bits(float32(r.buf.Data[r.ch][r.frame])))
		n += 4
		if r.ch++; r.ch == channels {
			r.ch = 0
			r.frame++
		}
	}
	if n == 0 && r.frame >= r.buf.Frames() {
		return 0, io.EOF
	}
	return n, nil
}

func tail(s string) string {
	const keep = 2048
	if len(s) > keep {
		return s[len(s)-keep:]
	}
	return s
}

// Gain is the linear factor that moves audio measured at measured LUFS to target LUFS.
func Gain(measured, target float64) float64 {
	return math.Pow(10, (target-measured)/20)
}

// Normalize returns a copy of buf scaled from measured to target loudness.
func Normalize(buf *audio.Buffer, measured, target float64) *audio.Buffer {
	out := buf.Clone()
	out.Scale(Gain(measured, target))
	return out
}
