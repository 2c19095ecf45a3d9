package controller

import (
	"context"
	"log/slog"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-logr/logr"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/equality"
	"k8s.io/apimachinery/pkg/runtime"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/controller/controllerutil"
	"sigs.k8s.io/controller-runtime/pkg/event"
	"sigs.k8s.io/controller-runtime/pkg/log"
	"sigs.k8s.io/controller-runtime/pkg/predicate"
	"sigs.k8s.io/controller-runtime/pkg/reconcile"

	"github.com/sparkfly/pangolin-operator/api/v1alpha1"
	"github.com/sparkfly/pangolin-operator/internal/logging"
	"github.com/sparkfly/pangolin-operator/internal/reconciler"
	"github.com/sparkfly/pangolin-operator/internal/retry"
)

// Engine runs the Pangolin lifecycle for a single PangolinIngress.
type Engine interface {
	Create(ctx context.Context, ingress *v1alpha1.PangolinIngress) error
	Update(ctx context.Context, ingress *v1alpha1.PangolinIngress, oldSpec *v1alpha1.PangolinIngressSpec) error
	Delete(ctx context.Context, ingress *v1alpha1.PangolinIngress) error
}

// PangolinIngressReconciler turns PangolinIngress changes into lifecycle
// events for the Engine and maps its failures to requeue decisions.
//
// The spec stored in status.appliedSpec by the last successful run is the
// previous spec of an update. Objects without it have never converged and
// are created.
type PangolinIngressReconciler struct {
	client.Client

	Scheme *runtime.Scheme
	Engine Engine

	// RequeueDelay is used when the Engine gave up after exhausting retries.
	RequeueDelay time.Duration
}

func (r *PangolinIngressReconciler) Reconcile(ctx context.Context, req ctrl.Request) (ctrl.Result, error) {
	logger := slog.New(logr.ToSlogHandler(log.FromContext(ctx)))
	ctx = logging.WithLogger(ctx, logger)

	var ingress v1alpha1.PangolinIngress

	err := r.Get(ctx, req.NamespacedName, &ingress)
	if err != nil {
		if apierrors.IsNotFound(err) {
			return ctrl.Result{}, nil
		}

		return ctrl.Result{}, errors.Wrap(err, "failed to get PangolinIngress")
	}

	if !ingress.DeletionTimestamp.IsZero() {
		if !controllerutil.ContainsFinalizer(&ingress, v1alpha1.FinalizerName) {
			return ctrl.Result{}, nil
		}

		logger.Info("handling deletion")

		return r.result(ctx, r.Engine.Delete(ctx, &ingress))
	}

	applied := ingress.Status.AppliedSpec

	switch {
	case applied == nil:
		logger.Info("handling creation")

		return r.result(ctx, r.Engine.Create(ctx, &ingress))
	case !equality.Semantic.DeepEqual(applied, &ingress.Spec):
		logger.Info("handling update")

		return r.result(ctx, r.Engine.Update(ctx, &ingress, applied.DeepCopy()))
	}

	if !controllerutil.ContainsFinalizer(&ingress, v1alpha1.FinalizerName) {
		controllerutil.AddFinalizer(&ingress, v1alpha1.FinalizerName)

		err = r.Update(ctx, &ingress)
		if err != nil {
			return ctrl.Result{}, errors.Wrap(err, "failed to add finalizer")
		}
	}

	return ctrl.Result{}, nil
}

// result maps Engine errors onto controller-runtime results.
func (r *PangolinIngressReconciler) result(ctx context.Context, err error) (ctrl.Result, error) {
	if err == nil {
		return ctrl.Result{}, nil
	}

	logger := logging.FromContext(ctx)

	if reconciler.IsInvalidSpec(err) {
		logger.Warn("spec rejected", "error", err)

		return ctrl.Result{}, reconcile.TerminalError(err)
	}

	if transient, ok := reconciler.AsTransient(err); ok {
		logger.Error("reconciliation failed, retrying", "error", err, "retryAfter", transient.Delay)

		return ctrl.Result{RequeueAfter: transient.Delay}, nil
	}

	if retry.IsPermanent(err) {
		logger.Error("Pangolin calls exhausted their retries", "error", err, "retryAfter", r.requeueDelay())

		return ctrl.Result{RequeueAfter: r.requeueDelay()}, nil
	}

	return ctrl.Result{}, err
}

func (r *PangolinIngressReconciler) requeueDelay() time.Duration {
	if r.RequeueDelay <= 0 {
		return reconciler.DefaultRequeueDelay
	}

	return r.RequeueDelay
}

func (r *PangolinIngressReconciler) SetupWithManager(mgr ctrl.Manager) error {
	err := ctrl.NewControllerManagedBy(mgr).
		For(&v1alpha1.PangolinIngress{}).
		Named("pangoliningress").
		// Status writes do not bump the generation and must not trigger reconciles.
		WithEventFilter(eventFilter()).
		Complete(r)
	if err != nil {
		return errors.Wrap(err, "failed to setup pangoliningress controller")
	}

	return nil
}

// eventFilter passes spec changes and deletions.
func eventFilter() predicate.Predicate {
	return predicate.Or[client.Object](
		predicate.GenerationChangedPredicate{},
		predicate.Funcs{
			UpdateFunc: func(e event.UpdateEvent) bool {
				return e.ObjectNew != nil && !e.ObjectNew.GetDeletionTimestamp().IsZero()
			},
		},
	)
}
