package prompts

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"gopkg.in/yaml.v3"

	. "github.com/kaundiverse/fear-investigator/internal/logging"
	"github.com/kaundiverse/fear-investigator/internal/session"
)

// Store serves the current prompt set. Reads never block a reload.
type Store struct {
	path    string
	current atomic.Pointer[Set]

	mu        sync.Mutex
	listeners []func(*Set)
}

// NewStore creates a store from path. An empty path uses the built-in
// texts only; a missing file is an error.
func NewStore(path string) (*Store, error) {
	s := &Store{path: path}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Path returns the override file, empty when none.
func (s *Store) Path() string {
	return s.path
}

// Reload reads the override file again. On error the previous set stays.
func (s *Store) Reload() error {
	set, err := Load(s.path)
	if err != nil {
		return err
	}
	s.current.Store(set)

	s.mu.Lock()
	listeners := append([]func(*Set){}, s.listeners...)
	s.mu.Unlock()
	for _, fn := range listeners {
		fn(set)
	}
	return nil
}

// OnReload registers fn to run after every successful reload.
func (s *Store) OnReload(fn func(*Set)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Current returns the active set. Callers must not modify it.
func (s *Store) Current() *Set {
	return s.current.Load()
}

func (s *Store) Persona() string { return s.Current().Persona }
func (s *Store) Opener() string  { return s.Current().Opener }

func (s *Store) Steering(phase session.Phase) string {
	return s.Current().SteeringFor(phase)
}

// Load reads an override file over the built-in texts.
func Load(path string) (*Set, error) {
	if path == "" {
		def := Default()
		return &def, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read prompts %s: %w", path, err)
	}

	var override Set
	if err := yaml.Unmarshal(data, &override); err != nil {
		return nil, fmt.Errorf("failed to parse prompts %s: %w", path, err)
	}
	set, err := withDefaults(override)
	if err != nil {
		return nil, err
	}
	if err := set.Validate(); err != nil {
		return nil, errors.Join(fmt.Errorf("invalid prompts %s", path), err)
	}
	L_debug("prompts: loaded", "path", path)
	return set, nil
}

// Encode renders set as YAML, for writing a starting override file.
func Encode(set Set) ([]byte, error) {
	return yaml.Marshal(set)
}
