package audio

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"

	"github.com/mattn/go-shellwords"

	"github.com/loqalabs/recon/internal/apperr"
)

// Converter turns an uploaded recording into PCM at a fixed rate and channel
// count. WAV files are handled in process; anything else goes through an
// external command such as ffmpeg.
type Converter struct {
	cmd        []string
	sampleRate int
	channels   int
}

func NewConverter(command string, sampleRate, channels int) (*Converter, error) {
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	if channels <= 0 {
		channels = 1
	}
	c := &Converter{sampleRate: sampleRate, channels: channels}
	if command == "" {
		return c, nil
	}
	args, err := shellwords.NewParser().Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse convert command: %w", err)
	}
	c.cmd = args
	return c, nil
}

// ToPCM converts the file at path. Failures are reported as processing
// errors.
func (c *Converter) ToPCM(ctx context.Context, path string) (PCM, error) {
	f, err := os.Open(path)
	if err != nil {
		return PCM{}, apperr.Processing("open recording", err)
	}
	defer f.Close()

	header := make([]byte, 12)
	n, _ := io.ReadFull(f, header)
	if n == 0 {
		return PCM{}, apperr.Processing("recording is empty", nil)
	}
	if IsWAV(header[:n]) {
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return PCM{}, apperr.Processing("rewind recording", err)
		}
		pcm, err := DecodeWAV(f)
		if err != nil {
			return PCM{}, apperr.Processing("decode wav recording", err)
		}
		return pcm.Normalize(c.sampleRate, c.channels), nil
	}
	return c.external(ctx, path)
}

func (c *Converter) external(ctx context.Context, path string) (PCM, error) {
	if len(c.cmd) == 0 {
		return PCM{}, apperr.Processing("no converter configured for non-wav audio", nil)
	}
	args := append([]string{}, c.cmd[1:]...)
	args = append(args,
		"-i", path,
		"-f", "s16le",
		"-acodec", "pcm_s16le",
		"-ac", strconv.Itoa(c.channels),
		"-ar", strconv.Itoa(c.sampleRate),
		"pipe:1",
	)
	cmd := exec.CommandContext(ctx, c.cmd[0], args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return PCM{}, apperr.Processing("convert recording", fmt.Errorf("%w: %s", err, bytes.TrimSpace(stderr.Bytes())))
	}
	pcm, err := FromBytes(stdout.Bytes(), c.sampleRate, c.channels)
	if err != nil {
		return PCM{}, apperr.Processing("read converted audio", err)
	}
	if len(pcm.Samples) == 0 {
		return PCM{}, apperr.Processing("converted audio is empty", nil)
	}
	return pcm, nil
}
