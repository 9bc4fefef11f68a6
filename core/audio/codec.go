// Package audio reads and writes stem audio as floating point buffers.
package audio

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"StemForge/logger"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/mewkiz/flac"
)

// OutputBitDepth is the PCM resolution of every file written.
const OutputBitDepth = 24

// ErrUnsupportedFormat is returned for extensions other than .wav and .flac.
var ErrUnsupportedFormat = errors.New("unsupported audio format")

// IsAudioFile reports whether path has a readable audio extension.
func IsAudioFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav", ".flac":
		return true
	}
	return false
}

// ReadFile decodes a WAV or FLAC file.
func ReadFile(path string) (*Buffer, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav":
		return readWAV(path)
	case ".flac":
		return readFLAC(path)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
}

func readWAV(path string) (*Buffer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("%s is not a valid WAV file", path)
	}
	pcm, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}

	channels := int(dec.NumChans)
	if channels == 0 {
		return nil, fmt.Errorf("%s has no channels", path)
	}
	scale := fullScale(int(dec.BitDepth))
	frames := len(pcm.Data) / channels
	buf := NewBuffer(int(dec.SampleRate), channels, frames)
	for i := 0; i < frames; i++ {
		for c := 0; c < channels; c++ {
			buf.Data[c][i] = float64(pcm.Data[i*channels+c]) / scale
		}
	}
	return buf, nil
}

func readFLAC(path string) (*Buffer, error) {
	stream, err := flac.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer stream.Close()

	channels := int(stream.Info.NChannels)
	scale := fullScale(int(stream.Info.BitsPerSample))
	buf := &Buffer{SampleRate: int(stream.Info.SampleRate), Data: make([][]float64, channels)}
	for {
		frame, err := stream.ParseNext()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", path, err)
		}
		for c := 0; c < channels; c++ {
			for _, s := range frame.Subframes[c].Samples {
				buf.Data[c] = append(buf.Data[c], float64(s)/scale)
			}
		}
	}
	return buf, nil
}

func fullScale(bitDepth int) float64 {
	return float64(int64(1) << (bitDepth - 1))
}

// WriteWAV encodes buf as 24-bit PCM. Samples outside [-1, 1] are clipped and
// counted in a warning. The file is written beside path and renamed into place.
func WriteWAV(path string, buf *Buffer) error {
	channels := buf.Channels()
	if channels == 0 {
		return fmt.Errorf("refusing to write %s: no channels", path)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	frames := buf.Frames()
	max24 := fullScale(OutputBitDepth) - 1
	data := make([]int, frames*channels)
	clipped := 0
	for i := 0; i < frames; i++ {
		for c := 0; c < channels; c++ {
			v := buf.Data[c][i]
			if v > 1 || v < -1 {
				clipped++
				v = math.Max(-1, math.Min(1, v))
			}
			data[i*channels+c] = int(math.Round(v * max24))
		}
	}
	if clipped > 0 {
		logger.Warn("Clipped samples while writing WAV",
			logger.String("path", path),
			logger.Int("clipped", clipped),
			logger.Float64("peak", buf.Peak()))
	}

	enc := wav.NewEncoder(tmp, buf.SampleRate, OutputBitDepth, channels, 1)
	err = enc.Write(&goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: channels, SampleRate: buf.SampleRate},
		Data:           data,
		SourceBitDepth: OutputBitDepth,
	})
	if err != nil {
		tmp.Close()
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	if err := enc.Close(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to finish %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
