// Copyright 2025 The Osmium Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package machine describes and brings up a simulated machine: an
// arena of physical memory, a set of CPUs, and a kernel address space
// with the boot sections mapped.
package machine

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"

	"osmium.dev/osmium/pkg/memtypes"
	"osmium.dev/osmium/pkg/pteflags"
)

// Config is the machine description, typically loaded from YAML.
type Config struct {
	// Arch is "x86_64" or "aarch64".
	Arch string `yaml:"arch"`

	// MemoryFrames is the physical memory size in frames.
	MemoryFrames uint64 `yaml:"memory_frames"`

	// CPUs is the number of cores to start.
	CPUs int `yaml:"cpus"`

	// Sections are the kernel image sections to map at bring-up.
	Sections []SectionConfig `yaml:"sections"`
}

// SectionConfig places one kernel section: its virtual and physical
// addresses, size in bytes, and ELF-style flags.
type SectionConfig struct {
	Name  string   `yaml:"name"`
	Vaddr uint64   `yaml:"vaddr"`
	Paddr uint64   `yaml:"paddr"`
	Size  uint64   `yaml:"size"`
	Flags []string `yaml:"flags"`
}

// ParseConfig parses and validates a YAML machine description.
func ParseConfig(data []byte) (*Config, error) {
	var c Config
	if err := yaml.UnmarshalStrict(data, &c); err != nil {
		return nil, fmt.Errorf("parsing machine config: %w", err)
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// LoadConfig reads and parses a machine description file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseConfig(data)
}

// ParsedArch returns the architecture selected by the config.
func (c *Config) ParsedArch() (pteflags.Arch, error) {
	switch c.Arch {
	case "x86_64":
		return pteflags.X86_64, nil
	case "aarch64":
		return pteflags.Aarch64, nil
	default:
		return 0, fmt.Errorf("unknown arch %q", c.Arch)
	}
}

// SectionFlags translates the config's flag names.
func (s *SectionConfig) SectionFlags() (pteflags.SectionFlags, error) {
	var sf pteflags.SectionFlags
	for _, f := range s.Flags {
		switch f {
		case "alloc":
			sf |= pteflags.SectionAllocated
		case "write":
			sf |= pteflags.SectionWritable
		case "exec":
			sf |= pteflags.SectionExecutable
		default:
			return 0, fmt.Errorf("section %s: unknown flag %q", s.Name, f)
		}
	}
	return sf, nil
}

// FrameCount returns the number of frames (and pages) the section
// covers.
func (s *SectionConfig) FrameCount() uint64 {
	return (s.Size + memtypes.PageSize - 1) / memtypes.PageSize
}

func (c *Config) validate() error {
	if _, err := c.ParsedArch(); err != nil {
		return err
	}
	if c.MemoryFrames == 0 {
		return fmt.Errorf("memory_frames must be positive")
	}
	if c.CPUs <= 0 {
		return fmt.Errorf("cpus must be positive")
	}
	for i := range c.Sections {
		s := &c.Sections[i]
		if s.Name == "" {
			return fmt.Errorf("section %d has no name", i)
		}
		if s.Vaddr%memtypes.PageSize != 0 || s.Paddr%memtypes.PageSize != 0 {
			return fmt.Errorf("section %s is not page aligned", s.Name)
		}
		if _, ok := memtypes.NewVirtualAddress(s.Vaddr); !ok {
			return fmt.Errorf("section %s: non-canonical vaddr %#x", s.Name, s.Vaddr)
		}
		end := s.Paddr + s.FrameCount()*memtypes.PageSize
		if end > c.MemoryFrames*memtypes.PageSize {
			return fmt.Errorf("section %s exceeds physical memory", s.Name)
		}
		if _, err := s.SectionFlags(); err != nil {
			return err
		}
	}
	return nil
}
