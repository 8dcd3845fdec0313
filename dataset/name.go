// Package dataset defines dataset names, source descriptors, and the YAML
// manifest envelope used to declare new datasets.
package dataset

import (
	"fmt"
	"regexp"
)

// Names are dot-separated segments of letters and digits with optional
// internal hyphens, e.g. "com.naturalearthdata.admin0".
var namePattern = regexp.MustCompile(`^[a-zA-Z0-9]+(-[a-zA-Z0-9]+)*(\.[a-zA-Z0-9]+(-[a-zA-Z0-9]+)*)*$`)

// ValidateName returns an error if the given dataset name is not valid.
func ValidateName(name string) error {
	if !namePattern.MatchString(name) {
		return fmt.Errorf("invalid dataset name %q", name)
	}
	return nil
}
