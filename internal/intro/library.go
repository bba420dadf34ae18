package intro

import (
	"errors"
	"fmt"
	"io/fs"
	"math/rand/v2"
	"os"
	"path/filepath"
)

// Selection is the pair chosen for one session. Paths are absolute or
// relative to the working directory, as configured.
type Selection struct {
	Index        int
	GreetingPath string
	PromptPath   string
	PromptText   string
	// Canonical is set when the random choice was replaced by the first pair
	// because one of its files was missing.
	Canonical bool
}

// Library is a loaded manifest rooted at the directory holding the audio.
type Library struct {
	dir      string
	manifest Manifest
}

// Open loads the manifest at path. A missing manifest yields the built-in
// default library rooted at the manifest's directory.
func Open(path string) (*Library, error) {
	m, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		m = DefaultManifest()
	} else if err != nil {
		return nil, err
	}
	if err := Validate(m); err != nil {
		return nil, fmt.Errorf("intro manifest %s: %w", path, err)
	}
	return &Library{dir: filepath.Dir(path), manifest: m}, nil
}

func NewLibrary(dir string, m Manifest) *Library {
	return &Library{dir: dir, manifest: m}
}

func (l *Library) Dir() string { return l.dir }

func (l *Library) Manifest() Manifest { return l.manifest }

// Pick chooses a pair uniformly at random. If either file of the chosen pair
// is missing on disk the canonical pair is returned instead.
func (l *Library) Pick(rng *rand.Rand) Selection {
	i := 0
	if n := len(l.manifest.Pairs); n > 1 {
		if rng != nil {
			i = rng.IntN(n)
		} else {
			i = rand.IntN(n)
		}
	}
	sel := l.selection(i)
	if i != 0 && !(exists(sel.GreetingPath) && exists(sel.PromptPath)) {
		sel = l.selection(0)
		sel.Canonical = true
	}
	return sel
}

func (l *Library) selection(i int) Selection {
	p := l.manifest.Pairs[i]
	return Selection{
		Index:        i,
		GreetingPath: filepath.Join(l.dir, p.Greeting.File),
		PromptPath:   filepath.Join(l.dir, p.Prompt.File),
		PromptText:   p.Prompt.Text,
	}
}

func exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
