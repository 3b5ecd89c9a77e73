// Package config loads the boot configuration spec.md 4.G and 6 describe:
// NumPhysPages, PageSize and ACIAMode, read once at process start from a
// YAML document. This is the module's only user-facing error surface
// (spec.md 7): every other failure mode is either a fatal machine halt or
// an internal assertion, because by the time either of those can occur a
// guest thread already exists to halt.
package config

import (
	"fmt"

	"gopkg.in/yaml.v2"

	"vmkern/acia"
	"vmkern/util"
)

// Boot_t is the validated boot configuration.
type Boot_t struct {
	NumPhysPages int       `yaml:"num_phys_pages"`
	PageSize     int       `yaml:"page_size"`
	ACIAMode     acia.Mode `yaml:"-"`

	rawMode string `yaml:"-"`
}

// document mirrors Boot_t's on-the-wire YAML shape; ACIAMode is decoded
// from a string (acia_mode: interrupt|busy_wait) rather than acia.Mode's
// integer encoding, so the file stays human-writable.
type document struct {
	NumPhysPages int    `yaml:"num_phys_pages"`
	PageSize     int    `yaml:"page_size"`
	ACIAMode     string `yaml:"acia_mode"`
}

// Parse decodes and validates a boot configuration from raw YAML bytes.
func Parse(data []byte) (Boot_t, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return Boot_t{}, fmt.Errorf("config: %w", err)
	}
	return validate(doc)
}

func validate(doc document) (Boot_t, error) {
	if doc.NumPhysPages <= 0 {
		return Boot_t{}, fmt.Errorf("config: num_phys_pages must be positive, got %d", doc.NumPhysPages)
	}
	if doc.PageSize <= 0 || !util.IsPow2(doc.PageSize) {
		return Boot_t{}, fmt.Errorf("config: page_size must be a positive power of two, got %d", doc.PageSize)
	}

	var mode acia.Mode
	switch doc.ACIAMode {
	case "interrupt", "":
		mode = acia.Interrupt
	case "busy_wait":
		mode = acia.BusyWait
	default:
		return Boot_t{}, fmt.Errorf("config: unknown acia_mode %q (want \"interrupt\" or \"busy_wait\")", doc.ACIAMode)
	}

	return Boot_t{
		NumPhysPages: doc.NumPhysPages,
		PageSize:     doc.PageSize,
		ACIAMode:     mode,
		rawMode:      doc.ACIAMode,
	}, nil
}
