// Package intro manages the shared library of pre-rendered greeting and
// self-introduction prompts that open every interview.
package intro

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Clip is one pre-rendered audio file and the text it speaks.
type Clip struct {
	File string `yaml:"file"`
	Text string `yaml:"text"`
}

// Pair couples the service greeting with the prompt asking the candidate to
// introduce themselves.
type Pair struct {
	Greeting Clip `yaml:"greeting"`
	Prompt   Clip `yaml:"prompt"`
}

// Manifest describes the introduction library. The first pair is canonical.
type Manifest struct {
	Voice string `yaml:"voice,omitempty"`
	Pairs []Pair `yaml:"pairs"`
}

// Load reads a manifest from disk.
func Load(path string) (Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, err
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("parse intro manifest: %w", err)
	}
	return m, nil
}

// Save writes m to path.
func Save(path string, m Manifest) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Validate ensures every pair names both files and both texts, and that file
// names stay inside the library directory.
func Validate(m Manifest) error {
	if len(m.Pairs) == 0 {
		return fmt.Errorf("at least one intro pair is required")
	}
	for i, p := range m.Pairs {
		for _, c := range []struct {
			field string
			clip  Clip
		}{{"greeting", p.Greeting}, {"prompt", p.Prompt}} {
			if strings.TrimSpace(c.clip.Text) == "" {
				return fmt.Errorf("pairs[%d].%s.text is required", i, c.field)
			}
			if c.clip.File == "" {
				return fmt.Errorf("pairs[%d].%s.file is required", i, c.field)
			}
			if c.clip.File != filepath.Base(c.clip.File) {
				return fmt.Errorf("pairs[%d].%s.file must be a bare file name", i, c.field)
			}
		}
	}
	return nil
}

var greetings = []string{
	"Welcome to Recon AI, your personal coach for interview success. Think of me as your practice partner, here to boost your confidence and sharpen your skills so you can shine in every answer. This is your time to take the spotlight.",
	"Hello and welcome to Recon AI. You're not alone in this. I'm here to support you every step of the way. This is your space to practice, grow, and prepare with confidence. Let's begin on a strong note.",
	"Welcome to Recon AI, where preparation meets progress. Whether you're just starting out or polishing your skills, I'm here to help you bring out your best. Let's ease into this experience together.",
	"Hi there, and welcome aboard Recon AI, your smart partner in nailing every interview. Today is about growth, self-belief, and getting one step closer to your goals. You're in the perfect place to begin.",
	"Hey, and welcome to Recon AI, your space to prepare, practice, and gain confidence. No pressure and no rush, just a relaxed environment focused on you and your journey.",
}

var prompts = []string{
	"To begin, please tell me a little about yourself and what interests you about this opportunity.",
	"Let's start with you introducing yourself. What's your background and what draws you to this field?",
	"I'd love to hear about you first. Could you share your background and what excites you about this role?",
	"Let's kick off with introductions. Tell me about yourself and what motivates you in your career.",
	"To get us started, please introduce yourself and share what you are passionate about in this industry.",
}

// DefaultManifest is the built-in five-pair library.
func DefaultManifest() Manifest {
	m := Manifest{Voice: "en-US-AriaNeural"}
	for i := range greetings {
		m.Pairs = append(m.Pairs, Pair{
			Greeting: Clip{File: fmt.Sprintf("recon_intro_%d.mp3", i+1), Text: greetings[i]},
			Prompt:   Clip{File: fmt.Sprintf("user_intro_%d.mp3", i+1), Text: prompts[i]},
		})
	}
	return m
}
