package reconciler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"k8s.io/apimachinery/pkg/api/equality"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/sparkfly/pangolin-operator/api/v1alpha1"
	"github.com/sparkfly/pangolin-operator/internal/logging"
	"github.com/sparkfly/pangolin-operator/internal/metrics"
	"github.com/sparkfly/pangolin-operator/internal/pangolin"
	"github.com/sparkfly/pangolin-operator/internal/retry"
)

const (
	// ResourceNamePrefix tags every Pangolin resource owned by the operator.
	ResourceNamePrefix = "k8s.po-"

	// DefaultRequeueDelay is used for transient failures when none is configured.
	DefaultRequeueDelay = 30 * time.Second

	// DefaultClusterDomain is the cluster DNS suffix of service targets.
	DefaultClusterDomain = "cluster.local"

	protocolTCP = "tcp"
	methodHTTP  = "http"
	methodHTTPS = "https"

	messageReady     = "Pangolin resource ready"
	messageNoChanges = "No changes required"
	messageDeleted   = "Pangolin resource deleted"
)

// Remote is the subset of the Pangolin client used by the engine.
type Remote interface {
	CreateResource(ctx context.Context, req pangolin.CreateResourceRequest, sso bool) (*pangolin.Resource, error)
	DisableSSO(ctx context.Context, resourceID string) (*pangolin.Resource, error)
	AddTarget(ctx context.Context, resourceID string, target pangolin.Target) error
	DeleteResource(ctx context.Context, resourceID string) (bool, error)
	ListResources(ctx context.Context) ([]pangolin.Resource, error)
}

// Options configures an Engine.
type Options struct {
	// Client reads and writes PangolinIngress objects.
	Client client.Client

	// Remote talks to Pangolin.
	Remote Remote

	// Retry wraps every remote call. Defaults to retry.NewPolicy(0, 0, Metrics).
	Retry *retry.Policy

	// Metrics receives lifecycle counters. Defaults to a no-op collector.
	Metrics metrics.Collector

	SiteID        int
	DomainID      string
	ClusterDomain string

	// RequeueDelay is attached to transient failures.
	RequeueDelay time.Duration
}

// Engine drives Pangolin resources towards the state declared by PangolinIngress objects.
// It keeps no state between calls; Pangolin is the source of truth for remote resources.
type Engine struct {
	client        client.Client
	remote        Remote
	retry         *retry.Policy
	metrics       metrics.Collector
	siteID        int
	domainID      string
	clusterDomain string
	requeueDelay  time.Duration
}

// NewEngine creates an Engine from opts.
func NewEngine(opts Options) *Engine {
	collector := opts.Metrics
	if collector == nil {
		collector = metrics.NewNoopCollector()
	}

	policy := opts.Retry
	if policy == nil {
		policy = retry.NewPolicy(0, 0, collector)
	}

	clusterDomain := opts.ClusterDomain
	if clusterDomain == "" {
		clusterDomain = DefaultClusterDomain
	}

	requeueDelay := opts.RequeueDelay
	if requeueDelay <= 0 {
		requeueDelay = DefaultRequeueDelay
	}

	return &Engine{
		client:        opts.Client,
		remote:        opts.Remote,
		retry:         policy,
		metrics:       collector,
		siteID:        opts.SiteID,
		domainID:      opts.DomainID,
		clusterDomain: clusterDomain,
		requeueDelay:  requeueDelay,
	}
}

// RequeueDelay returns the delay attached to transient failures.
func (e *Engine) RequeueDelay() time.Duration {
	return e.requeueDelay
}

// createResult describes the remote resource a create sequence ended up with.
type createResult struct {
	resource *pangolin.Resource
	created  bool
}

// Create registers the Pangolin resource for ingress and attaches its target.
func (e *Engine) Create(ctx context.Context, ingress *v1alpha1.PangolinIngress) error {
	spec := &ingress.Spec
	logger := logging.FromContext(ctx).With("name", ingress.Name, "namespace", ingress.Namespace)

	err := Validate(spec)
	if err != nil {
		logger.Warn("rejecting invalid spec", "error", err)

		return e.fail(ctx, ingress, spec, err)
	}

	logger.Info("creating Pangolin resource", "fqdn", spec.FQDN())

	err = e.ensureFinalizer(ctx, ingress)
	if err != nil {
		return err
	}

	result, err := e.createSequence(ctx, ingress, spec)
	if err != nil {
		return e.fail(ctx, ingress, spec, err)
	}

	if result.created {
		e.metrics.RecordResourceCreated(ctx)
	}

	logger.Info("registered Pangolin resource",
		"fqdn", spec.FQDN(),
		"resourceId", result.resource.ResourceID.String(),
		"adopted", !result.created,
	)

	return e.succeed(ctx, ingress, spec, result, messageReady)
}

// Update converges ingress after its spec changed from oldSpec.
// Changes to domain, subdomain or service recreate the remote resource.
func (e *Engine) Update(ctx context.Context, ingress *v1alpha1.PangolinIngress, oldSpec *v1alpha1.PangolinIngressSpec) error {
	if oldSpec == nil {
		return e.Create(ctx, ingress)
	}

	spec := &ingress.Spec
	logger := logging.FromContext(ctx).With("name", ingress.Name, "namespace", ingress.Namespace)

	err := Validate(spec)
	if err != nil {
		logger.Warn("rejecting invalid spec", "error", err)

		return e.fail(ctx, ingress, spec, err)
	}

	err = e.ensureFinalizer(ctx, ingress)
	if err != nil {
		return err
	}

	if !NeedsRecreate(oldSpec, spec, ingress.Namespace) {
		logger.Info("no remote changes required", "fqdn", spec.FQDN())

		e.metrics.RecordResourceUpdated(ctx)

		return e.succeed(ctx, ingress, spec, nil, messageNoChanges)
	}

	logger.Info("recreating Pangolin resource", "oldFqdn", oldSpec.FQDN(), "fqdn", spec.FQDN())

	deleted, err := e.deleteSequence(ctx, oldSpec.FQDN())
	if deleted > 0 {
		e.metrics.RecordResourceDeleted(ctx)
	}

	if err != nil {
		return e.fail(ctx, ingress, spec, err)
	}

	result, err := e.createSequence(ctx, ingress, spec)
	if err != nil {
		return e.fail(ctx, ingress, spec, err)
	}

	if result.created {
		e.metrics.RecordResourceCreated(ctx)
	}

	e.metrics.RecordResourceUpdated(ctx)

	return e.succeed(ctx, ingress, spec, result, messageReady)
}

// Delete removes every tagged Pangolin resource serving ingress and then
// releases the finalizer. On failure the finalizer stays and a
// TransientError is returned.
func (e *Engine) Delete(ctx context.Context, ingress *v1alpha1.PangolinIngress) error {
	logger := logging.FromContext(ctx).With("name", ingress.Name, "namespace", ingress.Namespace)
	fqdns := deletionTargets(ingress)

	logger.Info("deleting Pangolin resources", "fqdns", fqdns)

	total := 0

	for _, fqdn := range fqdns {
		deleted, err := e.deleteSequence(ctx, fqdn)
		total += deleted

		if err != nil {
			if total > 0 {
				e.metrics.RecordResourceDeleted(ctx)
			}

			err = errors.Wrapf(err, "failed to get or delete Pangolin resource for %s", fqdn)
			statusErr := e.writeStatus(ctx, ingress, func(status *v1alpha1.PangolinIngressStatus) {
				setFailed(status, ingress.Spec.FQDN(), err)
			})
			if statusErr != nil {
				logger.Error("failed to write status", "error", statusErr)
			}

			return Transient(err, e.requeueDelay)
		}
	}

	if total > 0 {
		e.metrics.RecordResourceDeleted(ctx)
	}

	err := e.writeStatus(ctx, ingress, func(status *v1alpha1.PangolinIngressStatus) {
		status.Ready = false
		status.Message = messageDeleted
		status.ResourceID = ""
		setReadyCondition(status, false, reasonDeleted, messageDeleted)
	})
	if err != nil && !isNotFound(err) {
		return err
	}

	err = e.removeFinalizer(ctx, ingress)
	if err != nil {
		return err
	}

	logger.Info("released PangolinIngress", "deleted", total)

	return nil
}

// createSequence adopts a tagged resource already serving the fqdn, or
// creates one, and attaches the service target. An adopted resource gets
// spec.sso applied again.
func (e *Engine) createSequence(
	ctx context.Context,
	ingress *v1alpha1.PangolinIngress,
	spec *v1alpha1.PangolinIngressSpec,
) (*createResult, error) {
	fqdn := spec.FQDN()

	existing, err := e.findOwned(ctx, fqdn)
	if err != nil {
		return nil, err
	}

	var result *createResult

	if len(existing) > 0 {
		result = &createResult{resource: &existing[0]}

		_, err = retry.Do(ctx, e.retry, pangolin.OpDisableSSO, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, e.applySSO(ctx, result.resource, spec)
		})
	} else {
		result, err = e.createResource(ctx, ingress, spec)
	}

	if err != nil {
		return nil, err
	}

	if result.resource == nil || result.resource.ResourceID == "" {
		return nil, Transient(errors.Newf("failed to create Pangolin resource for %s: empty response", fqdn),
			e.requeueDelay)
	}

	target := e.target(ingress, spec)

	_, err = retry.Do(ctx, e.retry, pangolin.OpAddTarget, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, e.remote.AddTarget(ctx, result.resource.ResourceID.String(), target)
	})
	if err != nil {
		return nil, errors.Wrapf(err, "resource %s exists without target", result.resource.ResourceID)
	}

	return result, nil
}

// deleteSequence deletes every tagged resource with the given fqdn and
// returns how many deletions Pangolin confirmed.
func (e *Engine) deleteSequence(ctx context.Context, fqdn string) (int, error) {
	logger := logging.FromContext(ctx)

	owned, err := e.findOwned(ctx, fqdn)
	if err != nil {
		return 0, err
	}

	deleted := 0

	for _, resource := range owned {
		id := resource.ResourceID.String()
		if id == "" {
			continue
		}

		success, deleteErr := retry.Do(ctx, e.retry, pangolin.OpDelete, func(ctx context.Context) (bool, error) {
			return e.remote.DeleteResource(ctx, id)
		})
		if deleteErr != nil {
			return deleted, deleteErr
		}

		if !success {
			logger.Warn("Pangolin did not confirm deletion", "resourceId", id, "fqdn", fqdn)

			continue
		}

		deleted++

		logger.Info("deleted Pangolin resource", "resourceId", id, "fqdn", fqdn)
	}

	return deleted, nil
}

// findOwned lists Pangolin resources carrying the operator's tag and the fqdn.
// createResource registers a new resource under the retry policy. Attempts
// after the first look for a resource an earlier attempt left behind before
// creating another one.
func (e *Engine) createResource(
	ctx context.Context,
	ingress *v1alpha1.PangolinIngress,
	spec *v1alpha1.PangolinIngressSpec,
) (*createResult, error) {
	fqdn := spec.FQDN()
	request := pangolin.CreateResourceRequest{
		Name:       ResourceName(ingress.Name),
		Subdomain:  spec.Subdomain,
		SiteID:     e.siteID,
		HTTP:       true,
		Protocol:   protocolTCP,
		DomainID:   e.domainID,
		FullDomain: fqdn,
	}

	attempt := 0

	return retry.Do(ctx, e.retry, pangolin.OpCreate, func(ctx context.Context) (*createResult, error) {
		attempt++

		if attempt > 1 {
			resources, err := e.remote.ListResources(ctx)
			if err != nil {
				return nil, errors.Wrap(err, "failed to list Pangolin resources")
			}

			if owned := FilterOwned(resources, fqdn); len(owned) > 0 {
				err = e.applySSO(ctx, &owned[0], spec)
				if err != nil {
					return nil, err
				}

				return &createResult{resource: &owned[0], created: true}, nil
			}
		}

		resource, err := e.remote.CreateResource(ctx, request, spec.SSO)
		if err != nil {
			return nil, err
		}

		return &createResult{resource: resource, created: true}, nil
	})
}

// applySSO disables SSO on resource unless spec asks for it. Pangolin has no
// call that enables it again, so sso:true leaves the resource untouched.
func (e *Engine) applySSO(ctx context.Context, resource *pangolin.Resource, spec *v1alpha1.PangolinIngressSpec) error {
	if spec.SSO {
		return nil
	}

	_, err := e.remote.DisableSSO(ctx, resource.ResourceID.String())
	if err != nil {
		return errors.Wrapf(err, "failed to disable SSO on resource %s", resource.ResourceID)
	}

	resource.SSO = false

	return nil
}

func (e *Engine) findOwned(ctx context.Context, fqdn string) ([]pangolin.Resource, error) {
	resources, err := retry.Do(ctx, e.retry, pangolin.OpList, e.remote.ListResources)
	if err != nil {
		return nil, err
	}

	return FilterOwned(resources, fqdn), nil
}

func (e *Engine) target(ingress *v1alpha1.PangolinIngress, spec *v1alpha1.PangolinIngressSpec) pangolin.Target {
	method := methodHTTP
	if spec.SSL {
		method = methodHTTPS
	}

	return pangolin.Target{
		IP:      ServiceHost(spec.Service, ingress.Namespace, e.clusterDomain),
		Port:    spec.Service.GetPort(),
		Method:  method,
		Enabled: true,
	}
}

func (e *Engine) succeed(
	ctx context.Context,
	ingress *v1alpha1.PangolinIngress,
	spec *v1alpha1.PangolinIngressSpec,
	result *createResult,
	message string,
) error {
	applied := spec.DeepCopy()

	return e.writeStatus(ctx, ingress, func(status *v1alpha1.PangolinIngressStatus) {
		status.Ready = true
		status.Message = message
		status.FQDN = spec.FQDN()
		status.AppliedSpec = applied

		if result != nil {
			status.ResourceID = result.resource.ResourceID.String()

			if result.created || status.CreatedAt == nil {
				now := nowTime()
				status.CreatedAt = &now
			}
		}

		setReadyCondition(status, true, reasonReconciled, message)
	})
}

// fail records err on the status and returns it. A failing status write is
// logged but does not replace err.
func (e *Engine) fail(
	ctx context.Context,
	ingress *v1alpha1.PangolinIngress,
	spec *v1alpha1.PangolinIngressSpec,
	err error,
) error {
	statusErr := e.writeStatus(ctx, ingress, func(status *v1alpha1.PangolinIngressStatus) {
		setFailed(status, spec.FQDN(), err)
	})
	if statusErr != nil {
		logging.FromContext(ctx).Error("failed to write status",
			"name", ingress.Name,
			"namespace", ingress.Namespace,
			"error", statusErr,
		)
	}

	return err
}

// ResourceName returns the tagged Pangolin name for a PangolinIngress.
func ResourceName(name string) string {
	return ResourceNamePrefix + name
}

// ServiceHost returns the in-cluster DNS name of the target service.
func ServiceHost(service *v1alpha1.ServiceReference, namespace, clusterDomain string) string {
	return fmt.Sprintf("%s.%s.svc.%s", service.Name, service.GetNamespace(namespace), clusterDomain)
}

// FilterOwned returns resources whose name carries the operator's tag and whose
// full domain equals fqdn. The tag alone never selects a resource.
func FilterOwned(resources []pangolin.Resource, fqdn string) []pangolin.Resource {
	var owned []pangolin.Resource

	for _, resource := range resources {
		if resource.FullDomain == fqdn && strings.HasPrefix(resource.Name, ResourceNamePrefix) {
			owned = append(owned, resource)
		}
	}

	return owned
}

// NeedsRecreate reports whether the remote identity of the resource changed
// between oldSpec and newSpec. Service references are compared after defaulting.
func NeedsRecreate(oldSpec, newSpec *v1alpha1.PangolinIngressSpec, namespace string) bool {
	if oldSpec == nil {
		return true
	}

	if oldSpec.Domain != newSpec.Domain || oldSpec.Subdomain != newSpec.Subdomain {
		return true
	}

	return !equality.Semantic.DeepEqual(
		normalizeService(oldSpec.Service, namespace),
		normalizeService(newSpec.Service, namespace),
	)
}

func normalizeService(service *v1alpha1.ServiceReference, namespace string) *v1alpha1.ServiceReference {
	if service == nil {
		return nil
	}

	return &v1alpha1.ServiceReference{
		Name:      service.Name,
		Namespace: service.GetNamespace(namespace),
		Port:      service.GetPort(),
	}
}

// deletionTargets returns the fqdns whose resources belong to ingress: the
// last applied one and the current one, when they differ.
func deletionTargets(ingress *v1alpha1.PangolinIngress) []string {
	current := ingress.Spec.FQDN()

	applied := ingress.Status.AppliedSpec
	if applied == nil || applied.FQDN() == current {
		return []string{current}
	}

	return []string{applied.FQDN(), current}
}
