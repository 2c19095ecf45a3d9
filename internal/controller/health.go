package controller

import (
	"context"
	"net/http"

	"github.com/cockroachdb/errors"
	"sigs.k8s.io/controller-runtime/pkg/healthz"
)

// Pinger is implemented by remotes that can report their own health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingChecker fails while the Pangolin API is unreachable or answers
// with a non-2xx status.
func PingChecker(pinger Pinger) healthz.Checker {
	return func(req *http.Request) error {
		err := pinger.Ping(req.Context())
		if err != nil {
			return errors.Wrap(err, "pangolin API unhealthy")
		}

		return nil
	}
}
