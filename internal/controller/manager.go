package controller

import (
	"context"
	"net/http"

	"github.com/cockroachdb/errors"
	"k8s.io/apimachinery/pkg/runtime"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/cache"
	"sigs.k8s.io/controller-runtime/pkg/log"
	ctrlmetrics "sigs.k8s.io/controller-runtime/pkg/metrics"
	"sigs.k8s.io/controller-runtime/pkg/metrics/server"

	"github.com/sparkfly/pangolin-operator/api/v1alpha1"
	"github.com/sparkfly/pangolin-operator/internal/config"
	"github.com/sparkfly/pangolin-operator/internal/metrics"
	"github.com/sparkfly/pangolin-operator/internal/pangolin"
	"github.com/sparkfly/pangolin-operator/internal/reconciler"
	"github.com/sparkfly/pangolin-operator/internal/retry"
)

// CountersPath serves the lifecycle counters as JSON on the metrics server.
const CountersPath = "/counters"

// NewScheme returns a scheme with the core and PangolinIngress types.
func NewScheme() (*runtime.Scheme, error) {
	scheme := runtime.NewScheme()

	err := clientgoscheme.AddToScheme(scheme)
	if err != nil {
		return nil, errors.Wrap(err, "failed to add client-go scheme")
	}

	err = v1alpha1.AddToScheme(scheme)
	if err != nil {
		return nil, errors.Wrap(err, "failed to add pangolin scheme")
	}

	return scheme, nil
}

// managerOptions translates the process configuration into manager options.
func managerOptions(cfg *config.Config, scheme *runtime.Scheme, collector metrics.Collector) ctrl.Options {
	opts := ctrl.Options{
		Scheme: scheme,
		Metrics: server.Options{
			BindAddress: cfg.MetricsAddr,
			ExtraHandlers: map[string]http.Handler{
				CountersPath: metrics.SnapshotHandler(collector),
			},
		},
		HealthProbeBindAddress: cfg.HealthAddr,
	}

	if cfg.LeaderElect {
		opts.LeaderElection = true
		opts.LeaderElectionID = cfg.LeaderElectName
		opts.LeaderElectionNamespace = cfg.LeaderElectNS
	}

	if cfg.WatchNamespace != "" {
		opts.Cache = cache.Options{
			DefaultNamespaces: map[string]cache.Config{
				cfg.WatchNamespace: {},
			},
		}
	}

	return opts
}

// Run initializes and starts the controller manager with the provided configuration.
// It blocks until the context is cancelled or the manager fails.
//
// The function performs the following steps:
//  1. Registers the lifecycle counters with the controller-runtime metrics registry
//  2. Creates the Pangolin API client
//  3. Initializes controller-runtime manager with metrics and health endpoints
//  4. Sets up the PangolinIngress reconciler
//  5. Starts the manager and blocks until shutdown
//
//nolint:funlen // controller setup requires multiple steps
func Run(ctx context.Context, cfg *config.Config) error {
	logger := log.FromContext(ctx).WithName("manager")
	logger.Info("initializing controller manager")

	scheme, err := NewScheme()
	if err != nil {
		return err
	}

	collector := metrics.NewCollector(ctrlmetrics.Registry)

	clientOpts := cfg.ClientOptions()
	clientOpts.Metrics = collector
	pangolinClient := pangolin.NewClient(clientOpts)

	if cfg.DryRun {
		logger.Info("dry-run enabled, Pangolin calls are simulated")
	}

	mgrOptions := managerOptions(cfg, scheme, collector)

	if cfg.LeaderElect {
		logger.Info("leader election enabled",
			"id", cfg.LeaderElectName,
			"namespace", cfg.LeaderElectNS,
		)
	}

	if cfg.WatchNamespace != "" {
		logger.Info("watching a single namespace", "namespace", cfg.WatchNamespace)
	}

	mgr, err := ctrl.NewManager(ctrl.GetConfigOrDie(), mgrOptions)
	if err != nil {
		return errors.Wrap(err, "failed to create manager")
	}

	engine := reconciler.NewEngine(reconciler.Options{
		Client:        mgr.GetClient(),
		Remote:        pangolinClient,
		Retry:         retry.NewPolicy(cfg.RetryCount, cfg.RetryBaseDelay, collector),
		Metrics:       collector,
		SiteID:        cfg.SiteID,
		DomainID:      cfg.DomainID,
		ClusterDomain: cfg.ClusterDomain,
		RequeueDelay:  cfg.RequeueDelay,
	})

	ingressReconciler := &PangolinIngressReconciler{
		Client:       mgr.GetClient(),
		Scheme:       mgr.GetScheme(),
		Engine:       engine,
		RequeueDelay: cfg.RequeueDelay,
	}

	err = ingressReconciler.SetupWithManager(mgr)
	if err != nil {
		return errors.Wrap(err, "failed to setup pangoliningress controller")
	}

	err = mgr.AddHealthzCheck("healthz", PingChecker(pangolinClient))
	if err != nil {
		return errors.Wrap(err, "failed to set up health check")
	}

	err = mgr.AddReadyzCheck("readyz", PingChecker(pangolinClient))
	if err != nil {
		return errors.Wrap(err, "failed to set up ready check")
	}

	logger.Info("starting manager")

	err = mgr.Start(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to start manager")
	}

	return nil
}
