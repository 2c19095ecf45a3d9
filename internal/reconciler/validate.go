package reconciler

import (
	"regexp"

	"github.com/cockroachdb/errors"

	"github.com/sparkfly/pangolin-operator/api/v1alpha1"
)

const maxPort = 65535

//nolint:gochecknoglobals // compiled once
var subdomainPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Validate checks spec before any remote call and returns the first violation
// marked with ErrInvalidSpec.
func Validate(spec *v1alpha1.PangolinIngressSpec) error {
	switch {
	case spec == nil:
		return invalid("spec is required")
	case spec.Domain == "":
		return invalid("spec.domain is required")
	case spec.Subdomain == "":
		return invalid("spec.subdomain is required")
	case spec.Service == nil:
		return invalid("spec.service is required")
	}

	if !subdomainPattern.MatchString(spec.Subdomain) {
		return invalid("spec.subdomain %q must match %s", spec.Subdomain, subdomainPattern.String())
	}

	if spec.Service.Name == "" {
		return invalid("spec.service.name is required")
	}

	if spec.Service.Port < 0 || spec.Service.Port > maxPort {
		return invalid("spec.service.port %d is out of range 1-%d", spec.Service.Port, maxPort)
	}

	return nil
}

func invalid(format string, args ...any) error {
	return errors.Mark(errors.Newf(format, args...), ErrInvalidSpec)
}
