package reconciler

import (
	"context"

	"github.com/cockroachdb/errors"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/meta"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	k8sretry "k8s.io/client-go/util/retry"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/controller/controllerutil"

	"github.com/sparkfly/pangolin-operator/api/v1alpha1"
)

// Ready condition reasons.
const (
	reasonReconciled  = "Reconciled"
	reasonFailed      = "ReconcileFailed"
	reasonInvalidSpec = "InvalidSpec"
	reasonDeleted     = "Deleted"
)

// writeStatus applies mutate to a fresh copy of ingress and writes its status,
// retrying on conflicts. ingress receives the written status.
func (e *Engine) writeStatus(
	ctx context.Context,
	ingress *v1alpha1.PangolinIngress,
	mutate func(status *v1alpha1.PangolinIngressStatus),
) error {
	key := client.ObjectKeyFromObject(ingress)

	//nolint:wrapcheck // retry wrapper returns wrapped errors from the closure
	return k8sretry.RetryOnConflict(k8sretry.DefaultRetry, func() error {
		var fresh v1alpha1.PangolinIngress
		if err := e.client.Get(ctx, key, &fresh); err != nil {
			return errors.Wrap(err, "failed to get fresh PangolinIngress")
		}

		fresh.Status.ObservedGeneration = fresh.Generation
		mutate(&fresh.Status)

		if err := e.client.Status().Update(ctx, &fresh); err != nil {
			return errors.Wrap(err, "failed to update PangolinIngress status")
		}

		fresh.Status.DeepCopyInto(&ingress.Status)
		ingress.ResourceVersion = fresh.ResourceVersion

		return nil
	})
}

func (e *Engine) ensureFinalizer(ctx context.Context, ingress *v1alpha1.PangolinIngress) error {
	if controllerutil.ContainsFinalizer(ingress, v1alpha1.FinalizerName) {
		return nil
	}

	err := e.updateMetadata(ctx, ingress, func(obj *v1alpha1.PangolinIngress) bool {
		return controllerutil.AddFinalizer(obj, v1alpha1.FinalizerName)
	})
	if err != nil {
		return errors.Wrap(err, "failed to add finalizer")
	}

	return nil
}

func (e *Engine) removeFinalizer(ctx context.Context, ingress *v1alpha1.PangolinIngress) error {
	err := e.updateMetadata(ctx, ingress, func(obj *v1alpha1.PangolinIngress) bool {
		return controllerutil.RemoveFinalizer(obj, v1alpha1.FinalizerName)
	})
	if err != nil && !isNotFound(err) {
		return errors.Wrap(err, "failed to remove finalizer")
	}

	controllerutil.RemoveFinalizer(ingress, v1alpha1.FinalizerName)

	return nil
}

// updateMetadata applies mutate to a fresh copy of ingress and updates it
// when mutate reports a change.
func (e *Engine) updateMetadata(
	ctx context.Context,
	ingress *v1alpha1.PangolinIngress,
	mutate func(obj *v1alpha1.PangolinIngress) bool,
) error {
	key := client.ObjectKeyFromObject(ingress)

	//nolint:wrapcheck // retry wrapper returns wrapped errors from the closure
	return k8sretry.RetryOnConflict(k8sretry.DefaultRetry, func() error {
		var fresh v1alpha1.PangolinIngress
		if err := e.client.Get(ctx, key, &fresh); err != nil {
			return errors.Wrap(err, "failed to get fresh PangolinIngress")
		}

		if !mutate(&fresh) {
			ingress.Finalizers = fresh.Finalizers
			ingress.ResourceVersion = fresh.ResourceVersion

			return nil
		}

		if err := e.client.Update(ctx, &fresh); err != nil {
			return errors.Wrap(err, "failed to update PangolinIngress")
		}

		ingress.Finalizers = fresh.Finalizers
		ingress.ResourceVersion = fresh.ResourceVersion

		return nil
	})
}

func setFailed(status *v1alpha1.PangolinIngressStatus, fqdn string, err error) {
	reason := reasonFailed
	if IsInvalidSpec(err) {
		reason = reasonInvalidSpec
	}

	status.Ready = false
	status.Message = err.Error()
	status.FQDN = fqdn
	setReadyCondition(status, false, reason, status.Message)
}

func setReadyCondition(status *v1alpha1.PangolinIngressStatus, ready bool, reason, message string) {
	conditionStatus := metav1.ConditionFalse
	if ready {
		conditionStatus = metav1.ConditionTrue
	}

	meta.SetStatusCondition(&status.Conditions, metav1.Condition{
		Type:               v1alpha1.ConditionTypeReady,
		Status:             conditionStatus,
		ObservedGeneration: status.ObservedGeneration,
		Reason:             reason,
		Message:            message,
	})
}

func nowTime() metav1.Time {
	return metav1.Now()
}

func isNotFound(err error) bool {
	return apierrors.IsNotFound(err)
}
