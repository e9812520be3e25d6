// Package domain defines the core data types shared across the proxy
// service, the upstream client, and the connection store.
package domain

import (
	"strings"
	"time"
)

// ClusterFilterType is the stored filter type that marks a connection as
// cluster-aware.
const ClusterFilterType = "cluster.name"

// Connection is a stored upstream credential record.
type Connection struct {
	ID          string
	URL         string
	Port        int
	Username    string
	Password    string
	FilterType  string
	ClusterName string
	ManagerName string
	CreatedAt   time.Time
}

// Endpoint is a ready-to-use upstream target derived from a [Connection].
// It is built per call and never cached.
type Endpoint struct {
	ConnectionID string
	BaseURL      string
	Username     string
	Password     string
	// VerifyTLS is always false: managers are reached over self-signed,
	// internal certificates.
	VerifyTLS    bool
	ClusterAware bool
}

// HTTP methods the proxy forwards.
const (
	MethodGet    = "GET"
	MethodPost   = "POST"
	MethodPut    = "PUT"
	MethodDelete = "DELETE"
)

// NormalizeMethod upper-cases m and reports whether it is forwardable.
func NormalizeMethod(m string) (string, bool) {
	m = strings.ToUpper(strings.TrimSpace(m))
	switch m {
	case MethodGet, MethodPost, MethodPut, MethodDelete:
		return m, true
	}
	return m, false
}

// ContentKind selects how a POST body is encoded.
type ContentKind string

const (
	ContentDefault ContentKind = ""
	ContentJSON    ContentKind = "json"
	ContentXML     ContentKind = "xml"
	ContentRaw     ContentKind = "raw"
)

// ContentKindForOrigin maps the front end's origin discriminator to a
// content kind.
func ContentKindForOrigin(origin string) (ContentKind, bool) {
	switch origin {
	case "":
		return ContentDefault, true
	case "xmleditor":
		return ContentXML, true
	case "json":
		return ContentJSON, true
	case "raw":
		return ContentRaw, true
	}
	return ContentDefault, false
}

// ContentType returns the request Content-Type for k, or "" for default
// form encoding.
func (k ContentKind) ContentType() string {
	switch k {
	case ContentXML:
		return "application/xml"
	case ContentJSON:
		return "application/json"
	case ContentRaw:
		return "application/octet-stream"
	}
	return ""
}

// Request describes one upstream call. Selector fields used to route the
// call (connection id, endpoint, method, origin) are never part of Params.
type Request struct {
	Method  string
	Path    string
	Params  map[string]any
	Kind    ContentKind
	Content any
}

// Envelope is the upstream's uniform response shape.
type Envelope struct {
	Error   int    `json:"error"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
}

// DataMap returns Data as a JSON object, if it is one.
func (e Envelope) DataMap() (map[string]any, bool) {
	m, ok := e.Data.(map[string]any)
	return m, ok
}

// DaemonStatus maps a daemon name to its reported status.
type DaemonStatus map[string]string
