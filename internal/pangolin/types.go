package pangolin

import (
	"bytes"
	"encoding/json"

	"github.com/cockroachdb/errors"
)

// ResourceID is the opaque id Pangolin assigns to a resource.
// The API returns it as a JSON number; strings are accepted too.
type ResourceID string

// UnmarshalJSON accepts both numeric and string ids.
func (id *ResourceID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)

	switch {
	case bytes.Equal(data, []byte("null")):
		*id = ""
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return errors.Wrap(err, "failed to decode resource id")
		}

		*id = ResourceID(s)
	default:
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return errors.Wrap(err, "failed to decode resource id")
		}

		*id = ResourceID(n.String())
	}

	return nil
}

// String returns the id as a string.
func (id ResourceID) String() string {
	return string(id)
}

// Resource is a Pangolin proxy resource.
type Resource struct {
	ResourceID ResourceID `json:"resourceId"`
	Name       string     `json:"name"`
	Subdomain  string     `json:"subdomain,omitempty"`
	FullDomain string     `json:"fullDomain,omitempty"`
	SiteID     int        `json:"siteId,omitempty"`
	DomainID   string     `json:"domainId,omitempty"`
	SSO        bool       `json:"sso"`
	HTTP       bool       `json:"http"`
	Protocol   string     `json:"protocol,omitempty"`
}

// CreateResourceRequest is the body of PUT /org/{org}/site/{site}/resource.
type CreateResourceRequest struct {
	Name      string `json:"name"`
	Subdomain string `json:"subdomain"`
	SiteID    int    `json:"siteId"`
	HTTP      bool   `json:"http"`
	Protocol  string `json:"protocol"`
	DomainID  string `json:"domainId"`

	// FullDomain is not sent; Pangolin derives it from subdomain and domainId.
	// Dry-run uses it to label simulated resources.
	FullDomain string `json:"-"`
}

// Target is the body of PUT /resource/{id}/target.
type Target struct {
	IP      string `json:"ip"`
	Port    int32  `json:"port"`
	Method  string `json:"method"`
	Enabled bool   `json:"enabled"`
}

type updateResourceRequest struct {
	SSO bool `json:"sso"`
}

type dataEnvelope[T any] struct {
	Data *T `json:"data"`
}

type resourceList struct {
	Resources []Resource `json:"resources"`
}

type deleteResponse struct {
	Success bool `json:"success"`
}
