package policies

import (
	"fmt"
	"strings"

	"github.com/ZanzyTHEbar/errbuilder-go"
	pep440 "github.com/aquasecurity/go-pep440-version"
)

// CheckToolVersion verifies that the running tool satisfies a manifest's
// `partcad` specifier. An empty specifier accepts any version.
func CheckToolVersion(specifier string, version string) error {
	specifier = strings.TrimSpace(specifier)
	if specifier == "" {
		return nil
	}
	current, err := pep440.Parse(version)
	if err != nil {
		return errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg(fmt.Sprintf("invalid tool version %q", version)).
			WithCause(err)
	}
	spec, err := pep440.NewSpecifiers(specifier)
	if err != nil {
		return errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg(fmt.Sprintf("invalid partcad version specifier %q", specifier)).
			WithCause(err)
	}
	if !spec.Check(current) {
		return errbuilder.New().
			WithCode(errbuilder.CodeFailedPrecondition).
			WithMsg(fmt.Sprintf("partcad %s does not satisfy %q", version, specifier))
	}
	return nil
}

// ValidatePythonVersion accepts versions such as "3.11" or "3.10.4".
func ValidatePythonVersion(version string) error {
	if _, err := pep440.Parse(strings.TrimSpace(version)); err != nil {
		return errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg(fmt.Sprintf("invalid python version %q", version)).
			WithCause(err)
	}
	return nil
}
