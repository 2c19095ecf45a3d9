package v1alpha1

import (
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

const (
	// DefaultServicePort is used when the service port is omitted.
	DefaultServicePort int32 = 80

	// FinalizerName guards remote cleanup of a PangolinIngress.
	FinalizerName = "pangolin.sparkfly.dev/cleanup"

	// ConditionTypeReady reports whether the remote resource converged.
	ConditionTypeReady = "Ready"
)

// ServiceReference points at the in-cluster Service that receives proxied traffic.
type ServiceReference struct {
	// Name of the Service.
	// +kubebuilder:validation:Required
	// +kubebuilder:validation:MinLength=1
	Name string `json:"name"`

	// Namespace of the Service. Defaults to the namespace of the PangolinIngress.
	// +optional
	Namespace string `json:"namespace,omitempty"`

	// Port of the Service.
	// +optional
	// +kubebuilder:default=80
	// +kubebuilder:validation:Minimum=1
	// +kubebuilder:validation:Maximum=65535
	Port int32 `json:"port,omitempty"`
}

// PangolinIngressSpec defines the desired state of PangolinIngress.
type PangolinIngressSpec struct {
	// Domain is the base domain registered in Pangolin, e.g. "example.com".
	// +kubebuilder:validation:Required
	Domain string `json:"domain"`

	// Subdomain is the label prepended to Domain.
	// +kubebuilder:validation:Required
	// +kubebuilder:validation:Pattern=`^[A-Za-z0-9_-]+$`
	Subdomain string `json:"subdomain"`

	// Service receives the proxied traffic.
	// +kubebuilder:validation:Required
	Service *ServiceReference `json:"service"`

	// SSL makes Pangolin talk to the target over https.
	// +optional
	// +kubebuilder:default=false
	SSL bool `json:"ssl,omitempty"`

	// SSO keeps Pangolin single sign-on enabled for the resource.
	// +optional
	// +kubebuilder:default=false
	SSO bool `json:"sso,omitempty"`
}

// PangolinIngressStatus defines the observed state of PangolinIngress.
type PangolinIngressStatus struct {
	// ResourceID is the Pangolin resource id.
	// +optional
	ResourceID string `json:"resourceId,omitempty"`

	// FQDN is subdomain.domain.
	// +optional
	FQDN string `json:"fqdn,omitempty"`

	// Ready is true once the remote resource and its target exist.
	Ready bool `json:"ready"`

	// Message is a human-readable description of the last reconciliation.
	// +optional
	Message string `json:"message,omitempty"`

	// CreatedAt is when the remote resource was registered.
	// +optional
	CreatedAt *metav1.Time `json:"createdAt,omitempty"`

	// ObservedGeneration is the generation of the last reconciled spec.
	// +optional
	ObservedGeneration int64 `json:"observedGeneration,omitempty"`

	// AppliedSpec is the last spec that converged in Pangolin.
	// It is compared against Spec to detect updates.
	// +optional
	AppliedSpec *PangolinIngressSpec `json:"appliedSpec,omitempty"`

	// Conditions describe the current state of the PangolinIngress.
	// +optional
	// +listType=map
	// +listMapKey=type
	Conditions []metav1.Condition `json:"conditions,omitempty"`
}

// +kubebuilder:object:root=true
// +kubebuilder:subresource:status
// +kubebuilder:resource:shortName=pingress
// +kubebuilder:printcolumn:name="FQDN",type=string,JSONPath=`.status.fqdn`
// +kubebuilder:printcolumn:name="Ready",type=boolean,JSONPath=`.status.ready`
// +kubebuilder:printcolumn:name="Resource",type=string,JSONPath=`.status.resourceId`
// +kubebuilder:printcolumn:name="Age",type=date,JSONPath=`.metadata.creationTimestamp`

// PangolinIngress exposes an in-cluster Service through a Pangolin resource.
type PangolinIngress struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Spec   PangolinIngressSpec   `json:"spec,omitempty"`
	Status PangolinIngressStatus `json:"status,omitempty"`
}

// +kubebuilder:object:root=true

// PangolinIngressList contains a list of PangolinIngress.
type PangolinIngressList struct {
	metav1.TypeMeta `json:",inline"`
	metav1.ListMeta `json:"metadata,omitempty"`
	Items           []PangolinIngress `json:"items"`
}

func init() {
	SchemeBuilder.Register(&PangolinIngress{}, &PangolinIngressList{})
}

// FQDN returns subdomain.domain.
func (s *PangolinIngressSpec) FQDN() string {
	return s.Subdomain + "." + s.Domain
}

// GetPort returns the service port, defaulting to 80.
func (r *ServiceReference) GetPort() int32 {
	if r.Port == 0 {
		return DefaultServicePort
	}

	return r.Port
}

// GetNamespace returns the service namespace, falling back to fallback.
func (r *ServiceReference) GetNamespace(fallback string) string {
	if r.Namespace == "" {
		return fallback
	}

	return r.Namespace
}
