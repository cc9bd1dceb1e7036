package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/jfreymuth/oggvorbis"
	popus "github.com/pekim/opus"
)

const (
	// MIMETypeWAV is the content type of converted payloads.
	MIMETypeWAV = "audio/wav"

	oggMagic       = "OggS"
	opusSampleRate = 48000
	wavBitDepth    = 16
	wavFormatPCM   = 1
)

// ErrUnsupportedFormat reports input that is not an OGG container.
var ErrUnsupportedFormat = errors.New("audio: unsupported format")

// Converter transcodes OGG Vorbis or Opus voice notes into mono 16-bit WAV.
type Converter struct {
	workspace *Workspace
}

// NewConverter creates one converter staging files in workspace.
func NewConverter(workspace *Workspace) *Converter {
	if workspace == nil {
		workspace = NewWorkspace("")
	}

	return &Converter{workspace: workspace}
}

// OggToWAV decodes one OGG payload and returns the WAV encoding.
//
// Both the staged input and the staged output are removed before returning,
// on success and on every error path.
func (c *Converter) OggToWAV(ctx context.Context, payload []byte) (_ []byte, err error) {
	if c == nil {
		return nil, fmt.Errorf("ogg to wav: nil converter")
	}
	if !bytes.HasPrefix(payload, []byte(oggMagic)) {
		return nil, fmt.Errorf("ogg to wav: %w", ErrUnsupportedFormat)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("ogg to wav: %w", err)
	}

	input, err := c.workspace.Stage(payload, ".ogg")
	if err != nil {
		return nil, fmt.Errorf("ogg to wav: %w", err)
	}
	defer func() {
		err = errors.Join(err, input.Release())
	}()

	samples, sampleRate, err := decodeOgg(input.Path())
	if err != nil {
		return nil, fmt.Errorf("ogg to wav decode: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("ogg to wav: %w", err)
	}

	output, file, err := c.workspace.Create(".wav")
	if err != nil {
		return nil, fmt.Errorf("ogg to wav: %w", err)
	}
	defer func() {
		err = errors.Join(err, output.Release())
	}()

	if err := encodeWAV(file, samples, sampleRate); err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("ogg to wav encode: %w", err)
	}
	if err := file.Close(); err != nil {
		return nil, fmt.Errorf("ogg to wav close: %w", err)
	}

	encoded, err := os.ReadFile(output.Path())
	if err != nil {
		return nil, fmt.Errorf("ogg to wav read: %w", err)
	}

	return encoded, nil
}

// decodeOgg tries Vorbis first and falls back to Opus, returning mono samples.
func decodeOgg(path string) ([]int, int, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("open: %w", err)
	}
	defer func() { _ = file.Close() }()

	samples, sampleRate, vorbisErr := decodeVorbis(file)
	if vorbisErr == nil {
		return samples, sampleRate, nil
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return nil, 0, fmt.Errorf("rewind: %w", err)
	}
	samples, opusErr := decodeOpus(file)
	if opusErr != nil {
		return nil, 0, fmt.Errorf("vorbis: %v; opus: %w", vorbisErr, opusErr)
	}

	return samples, opusSampleRate, nil
}

func decodeVorbis(r io.Reader) ([]int, int, error) {
	pcm, format, err := oggvorbis.ReadAll(r)
	if err != nil {
		return nil, 0, err
	}
	if format == nil || format.Channels <= 0 || format.SampleRate <= 0 {
		return nil, 0, errors.New("invalid vorbis stream")
	}

	mono := downmix(pcm, format.Channels)
	samples := make([]int, len(mono))
	for i, value := range mono {
		samples[i] = int(math.Round(clamp(float64(value), -1, 1) * math.MaxInt16))
	}

	return samples, format.SampleRate, nil
}

func decodeOpus(rs io.ReadSeeker) ([]int, error) {
	decoder, err := popus.NewDecoder(rs)
	if err != nil {
		return nil, err
	}
	defer decoder.Destroy()

	channels := decoder.ChannelCount()
	if channels <= 0 {
		channels = 1
	}

	var (
		samples []int
		buffer  = make([]int16, opusSampleRate/2*channels)
	)
	for {
		n, readErr := decoder.Read(buffer)
		for frame := 0; frame < n; frame++ {
			sum := 0
			for channel := 0; channel < channels; channel++ {
				sum += int(buffer[frame*channels+channel])
			}
			samples = append(samples, sum/channels)
		}
		if errors.Is(readErr, io.EOF) {
			break
		}
		if readErr != nil {
			return nil, readErr
		}
	}
	if len(samples) == 0 {
		return nil, errors.New("empty opus stream")
	}

	return samples, nil
}

func encodeWAV(w io.WriteSeeker, samples []int, sampleRate int) error {
	encoder := wav.NewEncoder(w, sampleRate, wavBitDepth, 1, wavFormatPCM)
	buffer := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:           samples,
		SourceBitDepth: wavBitDepth,
	}
	if err := encoder.Write(buffer); err != nil {
		return fmt.Errorf("write samples: %w", err)
	}
	if err := encoder.Close(); err != nil {
		return fmt.Errorf("finalize header: %w", err)
	}

	return nil
}

func downmix(interleaved []float32, channels int) []float32 {
	if channels <= 1 {
		return interleaved
	}
	frames := len(interleaved) / channels
	mono := make([]float32, frames)
	for i := 0; i < frames; i++ {
		var sum float32
		for channel := 0; channel < channels; channel++ {
			sum += interleaved[i*channels+channel]
		}
		mono[i] = sum / float32(channels)
	}

	return mono
}

func clamp(value, low, high float64) float64 {
	return math.Max(low, math.Min(high, value))
}
