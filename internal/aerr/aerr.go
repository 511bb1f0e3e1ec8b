// Package aerr defines the stable error taxonomy shared by every AriaMake
// component (spec §7). Components return *Error instead of panicking;
// panics are reserved for invariant violations that indicate a programmer
// bug rather than a user-facing failure.
package aerr

import (
	"errors"
	"fmt"
)

// Tag is one of the stable error categories from spec §7. CLI front-ends
// map a Tag to a process exit code; nothing else should switch on the
// error string.
type Tag string

const (
	Manifest          Tag = "manifest"
	Cycle             Tag = "cycle"
	DirtyAnalysis     Tag = "dirty_analysis"
	ToolchainMissing  Tag = "toolchain_missing"
	SubprocessFailure Tag = "subprocess_failure"
	Timeout           Tag = "timeout"
	StateCorruption   Tag = "state_corruption"
	IO                Tag = "io"
	Cancelled         Tag = "cancelled"
)

// Error is the sum-type error carried across every component boundary.
// Target is the name of the target the error concerns, empty if the error
// predates target resolution (e.g. a malformed manifest).
type Error struct {
	Tag    Tag
	Target string
	Detail string
	Err    error
}

func (e *Error) Error() string {
	if e.Target == "" {
		return fmt.Sprintf("%s: %s", e.Tag, e.Detail)
	}
	return fmt.Sprintf("%s[%s]: %s", e.Tag, e.Target, e.Detail)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an *Error with no wrapped cause.
func New(tag Tag, target, detail string) *Error {
	return &Error{Tag: tag, Target: target, Detail: detail}
}

// Wrap builds an *Error carrying err as its cause; Detail is err.Error().
func Wrap(tag Tag, target string, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Tag: tag, Target: target, Detail: err.Error(), Err: err}
}

// TagOf extracts the Tag from err if it is (or wraps) an *Error, or the
// zero Tag otherwise.
func TagOf(err error) Tag {
	var e *Error
	if errors.As(err, &e) {
		return e.Tag
	}
	return ""
}
