package usecase

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/atendezap/zapdesk/domains/health"
)

const periodicCheckInterval = 1 * time.Minute

// ValkeyProbe and AMQPProbe report transport liveness. Nil probes mean the
// transport is not configured and its record stays DISABLED.
type ValkeyProbe interface {
	IsConnected() bool
}

type AMQPProbe interface {
	IsConnected() bool
}

// BrokerProbe exposes the session registry counts for the health surface.
type BrokerProbe interface {
	SessionStats() (total, connected int)
}

type healthService struct {
	db     *gorm.DB
	valkey ValkeyProbe
	amqp   AMQPProbe
	broker BrokerProbe

	mu      sync.RWMutex
	records map[health.EntityType]health.HealthRecord
}

// NewHealthService wires the probes that are actually configured; pass nil
// for the rest. The database probe is mandatory: without it nothing in the
// pipeline works anyway.
func NewHealthService(db *gorm.DB, valkey ValkeyProbe, amqp AMQPProbe, broker BrokerProbe) health.IHealthUsecase {
	svc := &healthService{
		db:      db,
		valkey:  valkey,
		amqp:    amqp,
		broker:  broker,
		records: make(map[health.EntityType]health.HealthRecord),
	}
	for _, entity := range []health.EntityType{
		health.EntityDatabase, health.EntityValkey, health.EntityBroker, health.EntityAMQP,
	} {
		svc.records[entity] = health.HealthRecord{
			EntityType: entity,
			Status:     health.StatusUnknown,
		}
	}
	return svc
}

func (s *healthService) CheckAll(ctx context.Context) []health.HealthRecord {
	s.checkDatabase(ctx)
	s.checkValkey()
	s.checkAMQP()
	s.checkBroker()
	return s.GetStatus(ctx)
}

func (s *healthService) GetStatus(_ context.Context) []health.HealthRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]health.HealthRecord, 0, len(s.records))
	for _, entity := range []health.EntityType{
		health.EntityDatabase, health.EntityValkey, health.EntityBroker, health.EntityAMQP,
	} {
		out = append(out, s.records[entity])
	}
	return out
}

func (s *healthService) ReportFailure(entityType health.EntityType, message string) {
	s.update(entityType, health.StatusError, message)
}

func (s *healthService) ReportSuccess(entityType health.EntityType) {
	s.update(entityType, health.StatusOk, "")
}

// StartPeriodicChecks re-probes every transport on a fixed interval until
// the context is cancelled. Failures only flip the record; nothing in the
// pipeline reacts to health transitions automatically.
func (s *healthService) StartPeriodicChecks(ctx context.Context) {
	go func() {
		s.CheckAll(ctx)

		ticker := time.NewTicker(periodicCheckInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.CheckAll(ctx)
			}
		}
	}()
	logrus.Infof("[HEALTH] Periodic checks every %s", periodicCheckInterval)
}

func (s *healthService) checkDatabase(ctx context.Context) {
	if s.db == nil {
		s.setDisabled(health.EntityDatabase)
		return
	}

	sqlDB, err := s.db.DB()
	if err != nil {
		s.update(health.EntityDatabase, health.StatusError, err.Error())
		return
	}

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		s.update(health.EntityDatabase, health.StatusError, err.Error())
		return
	}
	s.update(health.EntityDatabase, health.StatusOk, "")
}

func (s *healthService) checkValkey() {
	if s.valkey == nil {
		s.setDisabled(health.EntityValkey)
		return
	}
	if !s.valkey.IsConnected() {
		s.update(health.EntityValkey, health.StatusError, "ping failed")
		return
	}
	s.update(health.EntityValkey, health.StatusOk, "")
}

func (s *healthService) checkAMQP() {
	if s.amqp == nil {
		s.setDisabled(health.EntityAMQP)
		return
	}
	if !s.amqp.IsConnected() {
		s.update(health.EntityAMQP, health.StatusError, "connection closed")
		return
	}
	s.update(health.EntityAMQP, health.StatusOk, "")
}

// checkBroker reports OK whenever the registry is reachable; zero sessions
// is a valid state for a webhook-only deployment.
func (s *healthService) checkBroker() {
	if s.broker == nil {
		s.setDisabled(health.EntityBroker)
		return
	}
	total, connected := s.broker.SessionStats()
	if total > 0 && connected == 0 {
		s.update(health.EntityBroker, health.StatusError, "no session is connected")
		return
	}
	s.update(health.EntityBroker, health.StatusOk, "")
}

func (s *healthService) update(entity health.EntityType, status health.Status, message string) {
	now := time.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	record := s.records[entity]
	if record.Status == health.StatusOk && status == health.StatusError {
		logrus.Warnf("[HEALTH] %s degraded: %s", entity, message)
	}

	record.EntityType = entity
	record.Status = status
	record.LastMessage = message
	record.LastChecked = now
	if status == health.StatusOk {
		record.LastSuccess = &now
	}
	s.records[entity] = record
}

func (s *healthService) setDisabled(entity health.EntityType) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record := s.records[entity]
	record.EntityType = entity
	record.Status = health.StatusDisabled
	record.LastChecked = time.Now().UTC()
	s.records[entity] = record
}
