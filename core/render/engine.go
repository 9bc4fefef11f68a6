// Package render drives the plugin engine over a work manifest, one engine load
// per patch bucket, and persists each rendered stem as soon as it is written.
package render

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"StemForge/config"
	"StemForge/core/audio"
)

var (
	// ErrPluginLoad is returned when the engine refuses a patch.
	ErrPluginLoad = errors.New("plugin load failed")
	// ErrDurationMismatch signals a corrupted engine: the rendered audio is not as
	// long as requested.
	ErrDurationMismatch = errors.New("rendered duration mismatch")
	// ErrNotWritten is returned when the stem file is missing after a write that
	// reported success.
	ErrNotWritten = errors.New("rendered stem not written")
)

// Engine is one loaded instance of the plugin host. It is not safe for
// concurrent use.
type Engine interface {
	LoadPlugin(path string) error
	LoadMIDI(path string) error
	Render(seconds float64) error
	ProgramName() (string, error)
	AudioFrames() (*audio.Buffer, error)
	Close() error
}

type request struct {
	Cmd     string  `json:"cmd"`
	Path    string  `json:"path,omitempty"`
	Seconds float64 `json:"seconds,omitempty"`
}

type reply struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
	Name  string `json:"name"`
	Count int    `json:"count"`
}

const quitTimeout = 5 * time.Second

// ProcessEngine talks to an engine host child process: JSON requests on stdin,
// one JSON reply line per request on stdout, and raw little-endian float32
// samples after a get_audio_frames reply.
type ProcessEngine struct {
	cmd        *exec.Cmd
	stdin      io.WriteCloser
	stdout     *bufio.Reader
	enc        *json.Encoder
	sampleRate int

	closeOnce sync.Once
	closeErr  error
}

// StartProcess launches the configured engine host.
func StartProcess(ctx context.Context, cfg config.EngineConfig) (*ProcessEngine, error) {
	cmd := exec.CommandContext(ctx, cfg.HostPath,
		"--sample-rate", strconv.Itoa(cfg.SampleRate),
		"--buffer-size", strconv.Itoa(cfg.BufferSize))
	cmd.Stderr = os.Stderr
	return NewProcessEngine(cmd, cfg.SampleRate)
}

// NewProcessEngine starts cmd and speaks the engine protocol over its pipes.
func NewProcessEngine(cmd *exec.Cmd, sampleRate int) (*ProcessEngine, error) {
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start engine host %s: %w", cmd.Path, err)
	}
	return &ProcessEngine{
		cmd:        cmd,
		stdin:      stdin,
		stdout:     bufio.NewReader(stdout),
		enc:        json.NewEncoder(stdin),
		sampleRate: sampleRate,
	}, nil
}

func (p *ProcessEngine) call(req request) (reply, error) {
	var r reply
	if err := p.enc.Encode(req); err != nil {
		return r, fmt.Errorf("engine %s: %w", req.Cmd, err)
	}
	line, err := p.stdout.ReadBytes('\n')
	if err != nil {
		return r, fmt.Errorf("engine %s: reading reply: %w", req.Cmd, err)
	}
	if err := json.Unmarshal(line, &r); err != nil {
		return r, fmt.Errorf("engine %s: bad reply %q: %w", req.Cmd, line, err)
	}
	if !r.OK {
		return r, fmt.Errorf("engine %s: %s", req.Cmd, r.Error)
	}
	return r, nil
}

func (p *ProcessEngine) LoadPlugin(path string) error {
	_, err := p.call(request{Cmd: "load_plugin", Path: path})
	return err
}

func (p *ProcessEngine) LoadMIDI(path string) error {
	_, err := p.call(request{Cmd: "load_midi", Path: path})
	return err
}

func (p *ProcessEngine) Render(seconds float64) error {
	_, err := p.call(request{Cmd: "render", Seconds: seconds})
	return err
}

func (p *ProcessEngine) ProgramName() (string, error) {
	r, err := p.call(request{Cmd: "get_program_name"})
	return r.Name, err
}

// AudioFrames returns the last render as a mono buffer.
func (p *ProcessEngine) AudioFrames() (*audio.Buffer, error) {
	r, err := p.call(request{Cmd: "get_audio_frames"})
	if err != nil {
		return nil, err
	}
	if r.Count < 0 {
		return nil, fmt.Errorf("engine get_audio_frames: negative count %d", r.Count)
	}
	raw := make([]byte, 4*r.Count)
	if _, err := io.ReadFull(p.stdout, raw); err != nil {
		return nil, fmt.Errorf("engine get_audio_frames: reading %d samples: %w", r.Count, err)
	}
	samples := make([]float64, r.Count)
	for i := range samples {
		samples[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(raw[4*i:])))
	}
	return audio.FromMono(p.sampleRate, samples), nil
}

// Close asks the host to quit and waits for it, killing it after a timeout.
func (p *ProcessEngine) Close() error {
	p.closeOnce.Do(func() {
		_ = p.enc.Encode(request{Cmd: "quit"})
		p.stdin.Close()

		done := make(chan error, 1)
		go func() { done <- p.cmd.Wait() }()
		select {
		case p.closeErr = <-done:
		case <-time.After(quitTimeout):
			_ = p.cmd.Process.Kill()
			p.closeErr = <-done
		}
	})
	return p.closeErr
}
