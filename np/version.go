package np

import (
	"fmt"

	"github.com/blang/semver"
)

// Version is the semantic version of this engine.
const Version = "1.2.0"

// InterchangeVersion is the version written into exported graph documents.
const InterchangeVersion = "1.0.0"

// SemVer returns the parsed engine version.
func SemVer() semver.Version {
	return semver.MustParse(Version)
}

// CompatibleInterchange returns an error if a graph document version can't be read
// by this engine.  An empty version is treated as the legacy 1.0.0 format.
func CompatibleInterchange(v string) error {
	if v == "" {
		return nil
	}
	got, err := semver.Parse(v)
	if err != nil {
		return fmt.Errorf("bad interchange version %q: %v", v, err)
	}
	want := semver.MustParse(InterchangeVersion)
	if got.Major != want.Major {
		return fmt.Errorf("interchange version %s is not compatible with %s", got, want)
	}
	return nil
}
