// Package pangolin is a thin client for the Pangolin resource API.
//
// The client issues exactly one HTTP request per call and never retries;
// retrying is the caller's job (see package retry). In dry-run mode every
// call returns a synthetic success without touching the network.
package pangolin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/sparkfly/pangolin-operator/internal/logging"
	"github.com/sparkfly/pangolin-operator/internal/metrics"
)

const (
	// DefaultTimeout is the per-request timeout.
	DefaultTimeout = 10 * time.Second

	// PingTimeout bounds the health probe request.
	PingTimeout = 3 * time.Second

	// DefaultRateLimit is the default request rate in requests per second.
	DefaultRateLimit = 10

	// DefaultRateBurst is the default limiter burst.
	DefaultRateBurst = 5

	// DefaultBreakerFailures is the number of consecutive failures that opens the breaker.
	DefaultBreakerFailures = 5

	// DefaultBreakerTimeout is how long the breaker stays open.
	DefaultBreakerTimeout = 30 * time.Second

	maxResponseBytes = 1 << 20
	dryRunIDPrefix   = "dryrun-"
)

// Operation names used in logs, spans and metrics.
const (
	OpCreate     = "create"
	OpDisableSSO = "disable_sso"
	OpAddTarget  = "add_target"
	OpDelete     = "delete"
	OpList       = "list"
	OpPing       = "ping"
)

// Options configures a Client.
type Options struct {
	// BaseURL is the Pangolin API root, e.g. https://pangolin.example.com/v1.
	BaseURL string

	// Token is sent as a bearer token.
	Token string

	// OrgID is the Pangolin organization id.
	OrgID string

	// SiteID is the Pangolin site resources are created in.
	SiteID int

	// DryRun simulates every call without network I/O.
	DryRun bool

	// Timeout is the per-request timeout. Defaults to DefaultTimeout.
	Timeout time.Duration

	// RateLimit caps requests per second. Zero uses DefaultRateLimit; negative disables limiting.
	RateLimit float64

	// RateBurst is the limiter burst. Defaults to DefaultRateBurst.
	RateBurst int

	// BreakerFailures opens the circuit after this many consecutive failures.
	BreakerFailures uint32

	// BreakerTimeout is how long the open circuit rejects calls.
	BreakerTimeout time.Duration

	// HTTPClient overrides the default HTTP client.
	HTTPClient *http.Client

	// Metrics records per-call metrics. Defaults to a no-op collector.
	Metrics metrics.Collector
}

// Client talks to the Pangolin API.
type Client struct {
	baseURL string
	token   string
	orgID   string
	siteID  int
	dryRun  bool

	httpClient *http.Client
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker
	metrics    metrics.Collector
	tracer     trace.Tracer

	simulated simulatedResources
}

// simulatedResources holds the resources created in dry-run mode.
type simulatedResources struct {
	mu        sync.Mutex
	resources []Resource
}

func (s *simulatedResources) add(resource Resource) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.resources = append(s.resources, resource)
}

func (s *simulatedResources) disableSSO(resourceID string) *Resource {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.resources {
		if s.resources[i].ResourceID.String() == resourceID {
			s.resources[i].SSO = false
			resource := s.resources[i]

			return &resource
		}
	}

	return &Resource{ResourceID: ResourceID(resourceID)}
}

func (s *simulatedResources) remove(resourceID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.resources = slices.DeleteFunc(s.resources, func(resource Resource) bool {
		return resource.ResourceID.String() == resourceID
	})
}

func (s *simulatedResources) list() []Resource {
	s.mu.Lock()
	defer s.mu.Unlock()

	return slices.Clone(s.resources)
}

// NewClient creates a Client from opts.
func NewClient(opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}

	collector := opts.Metrics
	if collector == nil {
		collector = metrics.NewNoopCollector()
	}

	return &Client{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		token:      opts.Token,
		orgID:      opts.OrgID,
		siteID:     opts.SiteID,
		dryRun:     opts.DryRun,
		httpClient: httpClient,
		limiter:    newLimiter(opts.RateLimit, opts.RateBurst),
		breaker:    newBreaker(opts.BreakerFailures, opts.BreakerTimeout),
		metrics:    collector,
		tracer:     otel.Tracer("github.com/sparkfly/pangolin-operator/internal/pangolin"),
	}
}

func newLimiter(limit float64, burst int) *rate.Limiter {
	if limit < 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}

	if limit == 0 {
		limit = DefaultRateLimit
	}

	if burst <= 0 {
		burst = DefaultRateBurst
	}

	return rate.NewLimiter(rate.Limit(limit), burst)
}

func newBreaker(failures uint32, timeout time.Duration) *gobreaker.CircuitBreaker {
	if failures == 0 {
		failures = DefaultBreakerFailures
	}

	if timeout <= 0 {
		timeout = DefaultBreakerTimeout
	}

	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "pangolin-api",
		MaxRequests: 1,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		// Rejected requests say nothing about the API's health.
		IsSuccessful: func(err error) bool {
			var apiErr *APIError
			if errors.As(err, &apiErr) {
				return apiErr.StatusCode < http.StatusInternalServerError &&
					apiErr.StatusCode != http.StatusTooManyRequests
			}

			return err == nil
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.FromContext(context.Background()).Warn("circuit breaker state change",
				"name", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	})
}

// DryRun reports whether the client simulates calls.
func (c *Client) DryRun() bool {
	return c.dryRun
}

// CreateResource creates a resource. Pangolin enables SSO on new resources,
// so unless sso is requested the call is chained with DisableSSO.
// A nil resource with a nil error means the API answered without data.
func (c *Client) CreateResource(ctx context.Context, req CreateResourceRequest, sso bool) (*Resource, error) {
	if c.dryRun {
		resource := &Resource{
			ResourceID: ResourceID(dryRunIDPrefix + uuid.NewString()),
			Name:       req.Name,
			Subdomain:  req.Subdomain,
			FullDomain: req.FullDomain,
			SiteID:     req.SiteID,
			DomainID:   req.DomainID,
			SSO:        sso,
			HTTP:       req.HTTP,
			Protocol:   req.Protocol,
		}
		c.simulated.add(*resource)

		c.logDryRun(ctx, OpCreate, "name", req.Name, "resourceId", resource.ResourceID.String())

		return resource, nil
	}

	path := fmt.Sprintf("/org/%s/site/%d/resource", url.PathEscape(c.orgID), c.siteID)

	var envelope dataEnvelope[Resource]

	err := c.do(ctx, OpCreate, http.MethodPut, path, req, &envelope)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create resource")
	}

	created := envelope.Data
	if created == nil || sso {
		return created, nil
	}

	updated, err := c.DisableSSO(ctx, created.ResourceID.String())
	if err != nil {
		return nil, err
	}

	if updated == nil {
		created.SSO = false

		return created, nil
	}

	if updated.ResourceID == "" {
		updated.ResourceID = created.ResourceID
	}

	return updated, nil
}

// DisableSSO turns off Pangolin SSO for a resource.
func (c *Client) DisableSSO(ctx context.Context, resourceID string) (*Resource, error) {
	if c.dryRun {
		c.logDryRun(ctx, OpDisableSSO, "resourceId", resourceID)

		return c.simulated.disableSSO(resourceID), nil
	}

	var envelope dataEnvelope[Resource]

	err := c.do(ctx, OpDisableSSO, http.MethodPost, "/resource/"+url.PathEscape(resourceID),
		updateResourceRequest{SSO: false}, &envelope)
	if err != nil {
		return nil, errors.Wrap(err, "failed to disable SSO")
	}

	return envelope.Data, nil
}

// AddTarget attaches a routing target to a resource.
func (c *Client) AddTarget(ctx context.Context, resourceID string, target Target) error {
	if c.dryRun {
		c.logDryRun(ctx, OpAddTarget, "resourceId", resourceID, "ip", target.IP, "port", target.Port)

		return nil
	}

	err := c.do(ctx, OpAddTarget, http.MethodPut, "/resource/"+url.PathEscape(resourceID)+"/target", target, nil)
	if err != nil {
		return errors.Wrap(err, "failed to add target")
	}

	return nil
}

// DeleteResource deletes a resource and returns Pangolin's success flag.
func (c *Client) DeleteResource(ctx context.Context, resourceID string) (bool, error) {
	if c.dryRun {
		c.logDryRun(ctx, OpDelete, "resourceId", resourceID)
		c.simulated.remove(resourceID)

		return true, nil
	}

	var response deleteResponse

	err := c.do(ctx, OpDelete, http.MethodDelete, "/resource/"+url.PathEscape(resourceID), nil, &response)
	if err != nil {
		return false, errors.Wrap(err, "failed to delete resource")
	}

	return response.Success, nil
}

// ListResources returns all resources of the organization.
func (c *Client) ListResources(ctx context.Context) ([]Resource, error) {
	if c.dryRun {
		c.logDryRun(ctx, OpList)

		return c.simulated.list(), nil
	}

	var envelope dataEnvelope[resourceList]

	err := c.do(ctx, OpList, http.MethodGet, c.listPath(), nil, &envelope)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list resources")
	}

	if envelope.Data == nil {
		return nil, nil
	}

	return envelope.Data.Resources, nil
}

// Ping issues a short list request and fails on any error or non-2xx status.
func (c *Client) Ping(ctx context.Context) error {
	if c.dryRun {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, PingTimeout)
	defer cancel()

	return c.do(ctx, OpPing, http.MethodGet, c.listPath(), nil, nil)
}

func (c *Client) listPath() string {
	return fmt.Sprintf("/org/%s/resources", url.PathEscape(c.orgID))
}

func (c *Client) logDryRun(ctx context.Context, operation string, args ...any) {
	logging.FromContext(ctx).Info("dry-run: simulated "+operation, args...)
}

func (c *Client) do(ctx context.Context, operation, method, path string, body, out any) error {
	ctx, span := c.tracer.Start(ctx, "pangolin."+operation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", method),
			attribute.String("url.path", path),
		),
	)
	defer span.End()

	startTime := time.Now()

	err := c.limiter.Wait(ctx)
	if err != nil {
		err = errors.Mark(errors.Wrap(err, "rate limiter"), metrics.ErrThrottled)
	} else {
		_, err = c.breaker.Execute(func() (any, error) {
			return nil, c.roundTrip(ctx, method, path, body, out)
		})
	}

	status := "success"
	if err != nil {
		status = "error"

		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	c.metrics.RecordAPICall(ctx, operation, status, time.Since(startTime))

	return err
}

func (c *Client) roundTrip(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader

	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "failed to encode request body")
		}

		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return errors.Wrap(err, "failed to build request")
	}

	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "*/*")
	req.Header.Set("X-Request-ID", uuid.NewString())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s %s", method, path)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return errors.Wrapf(err, "failed to read response of %s %s", method, path)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return newAPIError(method, path, resp.StatusCode, respBody)
	}

	if out == nil || len(bytes.TrimSpace(respBody)) == 0 {
		return nil
	}

	err = json.Unmarshal(respBody, out)
	if err != nil {
		return errors.Wrapf(err, "failed to decode response of %s %s", method, path)
	}

	return nil
}
