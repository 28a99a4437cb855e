package domain

import (
	"encoding/json"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/destiny/internal/engine"
	"gorm.io/datatypes"
)

type Status string

const (
	StatusReady  Status = "ready"
	StatusFailed Status = "failed"
)

// SystemReport is the stored outcome of one system for one user.
// There is at most one row per (user_id, system_type).
type SystemReport struct {
	ID            snowflake.ID                           `gorm:"primaryKey" json:"id"`
	UserID        string                                 `gorm:"type:varchar(128);not null;uniqueIndex:ux_system_reports_user_system" json:"user_id"`
	SystemType    engine.SystemType                      `gorm:"type:varchar(32);not null;uniqueIndex:ux_system_reports_user_system" json:"system_type"`
	Fingerprint   string                                 `gorm:"type:varchar(64);not null;index" json:"fingerprint"`
	EngineVersion string                                 `gorm:"type:varchar(64);not null" json:"engine_version"`
	Status        Status                                 `gorm:"type:varchar(16);not null" json:"status"`
	Payload       datatypes.JSON                         `json:"payload,omitempty"`
	PayloadDigest string                                 `gorm:"type:varchar(64)" json:"payload_digest,omitempty"`
	Diagnostics   datatypes.JSONSlice[engine.Diagnostic] `json:"diagnostics,omitempty"`
	Options       datatypes.JSONMap                      `json:"options,omitempty"`
	ErrorCode     string                                 `gorm:"type:varchar(64)" json:"error_code,omitempty"`
	ErrorDetail   string                                 `json:"error_detail,omitempty"`
	CreatedAt     time.Time                              `gorm:"not null" json:"created_at"`
	UpdatedAt     time.Time                              `gorm:"not null" json:"updated_at"`
}

func (SystemReport) TableName() string { return "system_reports" }

func (r *SystemReport) Ready() bool {
	return r != nil && r.Status == StatusReady
}

// Result is the per-system entry of a generation response.
type Result struct {
	System      engine.SystemType   `json:"system"`
	Status      Status              `json:"status"`
	Fingerprint string              `json:"fingerprint,omitempty"`
	Payload     json.RawMessage     `json:"payload,omitempty"`
	Diagnostics []engine.Diagnostic `json:"diagnostics,omitempty"`
	ErrorCode   string              `json:"error_code,omitempty"`
	ErrorDetail string              `json:"error_detail,omitempty"`
	Cached      bool                `json:"cached"`
	UpdatedAt   time.Time           `json:"updated_at,omitempty"`
}

func (r Result) Ready() bool { return r.Status == StatusReady }

// GenerationJob is an in-flight computation for one (user, system) key. Never persisted.
type GenerationJob struct {
	Token       string            `json:"token"`
	UserID      string            `json:"user_id"`
	System      engine.SystemType `json:"system"`
	Fingerprint string            `json:"fingerprint"`
	Force       bool              `json:"force"`
	StartedAt   time.Time         `json:"started_at"`
	Deadline    time.Time         `json:"deadline"`
}
