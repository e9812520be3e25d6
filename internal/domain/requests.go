package domain

// ErrorResponse is the JSON body returned for any failed operation.
type ErrorResponse struct {
	Error string `json:"error"`
}

// NotReadyResponse is returned by the proxy route when the readiness gate
// fails.
type NotReadyResponse struct {
	Status  string `json:"status"`
	Error   int    `json:"error"`
	Message string `json:"message"`
}

// ReadyResponse is returned by the readiness route and pushed by the
// readiness watch stream.
type ReadyResponse struct {
	Status  string `json:"status"`
	Ready   bool   `json:"ready"`
	Message string `json:"message"`
}

// ComplianceEntry is a single requirement lookup result.
type ComplianceEntry struct {
	Requirement string `json:"requirement"`
	Description string `json:"description"`
}

// HostSnapshot aggregates basic syscollector data for one agent. Each field
// is false when the matching upstream call failed or returned no data.
type HostSnapshot struct {
	Hardware      any `json:"hardware"`
	OS            any `json:"os"`
	Netiface      any `json:"netiface"`
	Ports         any `json:"ports"`
	Netaddr       any `json:"netaddr"`
	PackagesDate  any `json:"packagesDate"`
	ProcessesDate any `json:"processesDate"`
}

// NewHostSnapshot returns a snapshot with every field defaulted to false.
func NewHostSnapshot() HostSnapshot {
	return HostSnapshot{
		Hardware:      false,
		OS:            false,
		Netiface:      false,
		Ports:         false,
		Netaddr:       false,
		PackagesDate:  false,
		ProcessesDate: false,
	}
}

// Not-ready and readiness messages shared by the proxy and readiness routes.
const (
	MessageReady          = "Wazuh is now ready."
	MessageNotReady       = "Wazuh not ready yet."
	MessageReadinessError = "Error getting the Wazuh daemons status."
)
