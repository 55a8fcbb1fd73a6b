// Package presets loads watches registered at startup from a YAML file.
package presets

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/rcwatch/rcwatch/internal/watch"
)

// File is the preset file layout.
type File struct {
	// Destination is used by watches that name none
	Destination string `yaml:"destination,omitempty"`

	Watches []Preset `yaml:"watches"`
}

// Preset is one watch definition.
type Preset struct {
	Name        string `yaml:"name"`
	Source      string `yaml:"source"`
	Rule        string `yaml:"rule"`
	Template    string `yaml:"template,omitempty"`
	Destination string `yaml:"destination,omitempty"`
}

// LoadFile reads and validates a preset file.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading presets file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates preset YAML. Unknown keys are rejected.
func Parse(data []byte) (*File, error) {
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return &File{}, nil
		}
		return nil, fmt.Errorf("parsing YAML: %w", err)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Validate checks required fields and name uniqueness. Rules are compiled
// later, on registration.
func (f *File) Validate() error {
	var errs []error
	seen := make(map[string]bool)
	for i, p := range f.Watches {
		name := strings.TrimSpace(p.Name)
		if name == "" {
			errs = append(errs, fmt.Errorf("watch %d: name is required", i))
			continue
		}
		if seen[name] {
			errs = append(errs, fmt.Errorf("watch %q: duplicate name", name))
		}
		seen[name] = true
		if strings.TrimSpace(p.Source) == "" {
			errs = append(errs, fmt.Errorf("watch %q: source is required", name))
		}
		if strings.TrimSpace(p.Rule) == "" {
			errs = append(errs, fmt.Errorf("watch %q: rule is required", name))
		}
		if p.Destination == "" && f.Destination == "" {
			errs = append(errs, fmt.Errorf("watch %q: destination is required", name))
		}
	}
	return errors.Join(errs...)
}

// Registrations converts the presets to watch registrations delivering
// through notify.
func (f *File) Registrations(notify watch.NotifyFunc) []watch.Registration {
	regs := make([]watch.Registration, 0, len(f.Watches))
	for _, p := range f.Watches {
		dest := p.Destination
		if dest == "" {
			dest = f.Destination
		}
		regs = append(regs, watch.Registration{
			Name:        p.Name,
			Source:      p.Source,
			Rule:        p.Rule,
			Template:    p.Template,
			Destination: dest,
			Notify:      notify,
		})
	}
	return regs
}
