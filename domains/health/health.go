package health

import (
	"context"
	"time"
)

type EntityType string

const (
	EntityDatabase EntityType = "database"
	EntityValkey   EntityType = "valkey"
	EntityBroker   EntityType = "broker"
	EntityAMQP     EntityType = "amqp"
)

type Status string

const (
	StatusOk       Status = "OK"
	StatusError    Status = "ERROR"
	StatusUnknown  Status = "UNKNOWN"
	StatusDisabled Status = "DISABLED"
)

type HealthRecord struct {
	EntityType  EntityType `json:"entity_type"`
	Status      Status     `json:"status"`
	LastMessage string     `json:"last_message,omitempty"`
	LastChecked time.Time  `json:"last_checked"`
	LastSuccess *time.Time `json:"last_success,omitempty"`
}

type IHealthUsecase interface {
	CheckAll(ctx context.Context) []HealthRecord
	GetStatus(ctx context.Context) []HealthRecord
	ReportFailure(entityType EntityType, message string)
	ReportSuccess(entityType EntityType)
	StartPeriodicChecks(ctx context.Context)
}
