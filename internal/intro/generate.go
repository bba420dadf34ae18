package intro

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/loqalabs/recon/internal/tts"
)

// Summary reports the outcome of a library generation run.
type Summary struct {
	Greetings   int
	GreetingsOK int
	Prompts     int
	PromptsOK   int
	Failed      []string
}

func (s Summary) Total() int     { return s.Greetings + s.Prompts }
func (s Summary) Succeeded() int { return s.GreetingsOK + s.PromptsOK }
func (s Summary) OK() bool       { return s.Succeeded() == s.Total() }

// Generate synthesizes every clip in the library into its directory. The
// returned manifest carries the file names actually written, which may differ
// in extension from the originals when a backend emits another container.
func Generate(ctx context.Context, renderer *tts.Renderer, lib *Library, concurrency int, logger *slog.Logger) (Summary, Manifest, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if concurrency <= 0 {
		concurrency = 4
	}
	m := lib.Manifest()
	m.Pairs = append([]Pair(nil), m.Pairs...)
	summary := Summary{Greetings: len(m.Pairs), Prompts: len(m.Pairs)}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i := range m.Pairs {
		for _, greeting := range []bool{true, false} {
			i, greeting := i, greeting
			g.Go(func() error {
				mu.Lock()
				clip := m.Pairs[i].Prompt
				if greeting {
					clip = m.Pairs[i].Greeting
				}
				mu.Unlock()

				base := strings.TrimSuffix(clip.File, filepath.Ext(clip.File))
				out, err := renderer.Render(gctx, tts.SynthRequest{Text: clip.Text, Voice: m.Voice}, lib.Dir(), base)

				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					logger.Warn("intro clip failed", slog.String("file", clip.File), slogError(err))
					summary.Failed = append(summary.Failed, clip.File)
					return nil
				}
				logger.Info("intro clip generated", slog.String("file", out.File), slog.String("backend", out.Backend))
				if greeting {
					m.Pairs[i].Greeting.File = out.File
					summary.GreetingsOK++
				} else {
					m.Pairs[i].Prompt.File = out.File
					summary.PromptsOK++
				}
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return summary, m, err
	}
	if err := ctx.Err(); err != nil {
		return summary, m, fmt.Errorf("intro generation interrupted: %w", err)
	}
	return summary, m, nil
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
