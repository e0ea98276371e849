// Package profile loads the camera-profile override table: an optional
// YAML file letting an operator map a device or volume label to one of
// the §4.10 camera profiles, instead of always passing it on the
// command line.
package profile

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/shubham/salvage/internal/model"
)

// Overrides maps a target identity (a source path or volume label) to a
// camera profile.
type Overrides struct {
	Profiles map[string]model.CameraProfile `yaml:"profiles"`
}

// Load reads and parses a YAML overrides file at path.
func Load(path string) (Overrides, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Overrides{}, fmt.Errorf("profile: read %q: %w", path, err)
	}

	var o Overrides
	if err := yaml.Unmarshal(raw, &o); err != nil {
		return Overrides{}, fmt.Errorf("profile: parse %q: %w", path, err)
	}
	return o, nil
}

// Resolve returns the profile configured for targetIdentity, falling
// back to model.ProfileGeneric when no override matches.
func (o Overrides) Resolve(targetIdentity string) model.CameraProfile {
	if p, ok := o.Profiles[targetIdentity]; ok {
		return p
	}
	return model.ProfileGeneric
}
