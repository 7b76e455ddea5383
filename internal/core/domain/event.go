package domain

import "time"

const (
	EventTenantProvisioned        = "tenant.provisioned"
	EventTenantProvisioningFailed = "tenant.provisioning_failed"
)

// TenantEvent describes a tenant lifecycle change published to observers.
type TenantEvent struct {
	EventID      string    `json:"event_id"`
	EventType    string    `json:"event_type"`
	TenantID     TenantID  `json:"tenant_id"`
	TenantName   string    `json:"tenant_name"`
	DatabaseName string    `json:"database_name"`
	Stage        string    `json:"stage,omitempty"`
	Error        string    `json:"error,omitempty"`
	OccurredAt   time.Time `json:"occurred_at"`
}

func (e TenantEvent) Topic() string {
	return "tenants." + e.TenantID.String() + "." + e.EventType
}
