package secret

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
)

// Source lazily resolves a secret from an environment variable or by prompting
// the operator without echo. The value is cached after the first successful
// retrieval.
type Source struct {
	envVar string
	label  string

	isTerminal func(fd int) bool
	read       func(fd int) ([]byte, error)

	once  sync.Once
	value string
	err   error
}

// NewSource constructs a source that checks envVar before prompting for label
// on the terminal.
func NewSource(envVar, label string) *Source {
	return &Source{
		envVar:     strings.TrimSpace(envVar),
		label:      strings.TrimSpace(label),
		isTerminal: term.IsTerminal,
		read:       term.ReadPassword,
	}
}

// Get returns the cached secret or resolves it if this is the first call.
// Whitespace-only values are rejected.
func (s *Source) Get() (string, error) {
	s.once.Do(func() {
		if s.envVar != "" {
			if value, ok := os.LookupEnv(s.envVar); ok {
				if strings.TrimSpace(value) == "" {
					s.err = fmt.Errorf("%s is set but empty", s.envVar)
					return
				}
				s.value = strings.TrimSpace(value)
				return
			}
		}

		fd := int(os.Stdin.Fd())
		if !s.isTerminal(fd) {
			if s.envVar != "" {
				s.err = fmt.Errorf("%s required; set %s or run interactively", s.label, s.envVar)
			} else {
				s.err = fmt.Errorf("%s required and no terminal available", s.label)
			}
			return
		}

		fmt.Fprintf(os.Stderr, "Enter %s: ", s.label)
		bytes, err := s.read(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			s.err = fmt.Errorf("failed to read %s: %w", s.label, err)
			return
		}

		value := strings.TrimSpace(string(bytes))
		if value == "" {
			s.err = errors.New(s.label + " cannot be empty")
			return
		}
		s.value = value
	})

	return s.value, s.err
}
