// Package retry provides bounded exponential backoff for Pangolin API calls.
//
// A Policy runs an operation up to Attempts times, sleeping
// BaseDelay * 2^attempt between attempts. There is no jitter. Sleeping
// happens on the calling goroutine and stops early when the context is
// cancelled, so one reconciliation backing off never delays another.
//
// When the last attempt fails, the error is marked with ErrPermanent and the
// collector's api_errors counter is incremented once. ErrPermanent only means
// this policy gave up; redelivery by the controller may still succeed.
//
//	policy := retry.NewPolicy(3, time.Second, collector)
//	resources, err := retry.Do(ctx, policy, "list", client.ListResources)
package retry
