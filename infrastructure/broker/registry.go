package broker

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/atendezap/zapdesk/core/config"
	pkgError "github.com/atendezap/zapdesk/pkg/error"
	"github.com/sirupsen/logrus"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	waLog "go.mau.fi/whatsmeow/util/log"
)

type contextKey string

const instanceIDKey contextKey = "instanceID"

func ContextWithInstanceID(ctx context.Context, instanceID string) context.Context {
	return context.WithValue(ctx, instanceIDKey, instanceID)
}

func InstanceIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(instanceIDKey).(string); ok {
		return v
	}
	return ""
}

// Session is one live broker connection: the whatsmeow client plus the
// sqlstore container holding its device state.
type Session struct {
	Client *whatsmeow.Client
	DB     *sqlstore.Container
}

// BrokerID returns the session's device identity, the value instance rows
// are deduplicated on.
func (s *Session) BrokerID() string {
	if s == nil || s.Client == nil || s.Client.Store == nil || s.Client.Store.ID == nil {
		return ""
	}
	return s.Client.Store.ID.String()
}

// Manager owns the instance-id -> session registry. Sessions are created
// lazily and survive until Stop or an explicit cleanup.
type Manager struct {
	cfg config.BrokerConfig

	sessionsMu sync.RWMutex
	sessions   map[string]*Session

	activeMu sync.RWMutex
	activeID string

	// onEvent receives every raw whatsmeow event with the owning instance
	// id already resolved. Set before any session is created.
	onEvent func(ctx context.Context, instanceID string, rawEvt any)
}

func NewManager(cfg config.BrokerConfig) *Manager {
	return &Manager{
		cfg:      cfg,
		sessions: make(map[string]*Session),
	}
}

// SetEventHandler wires the normalization layer in. Must be called before
// GetOrInit creates the first session.
func (m *Manager) SetEventHandler(fn func(ctx context.Context, instanceID string, rawEvt any)) {
	m.onEvent = fn
}

func (m *Manager) GetSession(instanceID string) *Session {
	m.sessionsMu.RLock()
	defer m.sessionsMu.RUnlock()
	return m.sessions[instanceID]
}

func (m *Manager) GetClient(instanceID string) *whatsmeow.Client {
	if s := m.GetSession(instanceID); s != nil {
		return s.Client
	}
	return nil
}

// SessionStats reports how many sessions are registered and how many of
// them hold a live connection. Health and admin surfaces only.
func (m *Manager) SessionStats() (total, connected int) {
	m.sessionsMu.RLock()
	defer m.sessionsMu.RUnlock()
	for _, s := range m.sessions {
		total++
		if s != nil && s.Client != nil && s.Client.IsConnected() {
			connected++
		}
	}
	return total, connected
}

// ClientForContext resolves the client the same way events are attributed:
// explicit context instance first, then the active session, then a sole
// registered session.
func (m *Manager) ClientForContext(ctx context.Context) *whatsmeow.Client {
	if id := strings.TrimSpace(InstanceIDFromContext(ctx)); id != "" {
		if c := m.GetClient(id); c != nil {
			return c
		}
		logrus.WithField("instance_id", id).Warn("[BROKER] No client for context instance; trying active session")
	}
	if active := m.ActiveID(); active != "" {
		if c := m.GetClient(active); c != nil {
			return c
		}
	}
	m.sessionsMu.RLock()
	defer m.sessionsMu.RUnlock()
	if len(m.sessions) == 1 {
		for _, s := range m.sessions {
			if s != nil && s.Client != nil {
				return s.Client
			}
		}
	}
	return nil
}

func (m *Manager) ActiveID() string {
	m.activeMu.RLock()
	defer m.activeMu.RUnlock()
	return m.activeID
}

func (m *Manager) setActive(id string) {
	m.activeMu.Lock()
	m.activeID = id
	m.activeMu.Unlock()
}

// GetOrInit returns the session for an instance, creating and connecting it
// on first use. Each instance gets its own device store at
// <storages>/broker-<instanceID>.db when the configured DSN is sqlite.
func (m *Manager) GetOrInit(ctx context.Context, instanceID string) (*Session, error) {
	trimmed := strings.TrimSpace(instanceID)
	if trimmed == "" {
		return nil, pkgError.ValidationError("instanceID: cannot be blank.")
	}

	m.sessionsMu.RLock()
	existing, ok := m.sessions[trimmed]
	m.sessionsMu.RUnlock()
	if ok && existing != nil {
		m.setActive(trimmed)
		return existing, nil
	}

	m.sessionsMu.Lock()
	defer m.sessionsMu.Unlock()
	if existing, ok := m.sessions[trimmed]; ok && existing != nil {
		m.setActive(trimmed)
		return existing, nil
	}

	dbURI := m.storeURIFor(trimmed)
	logrus.Infof("[BROKER] Creating session for instance %s", trimmed)

	container, err := initSessionStore(ctx, waLog.Stdout(dbLogTag(trimmed), m.cfg.LogLevel, true), dbURI)
	if err != nil {
		return nil, pkgError.InternalServerError(fmt.Sprintf("failed to init session store: %v", err))
	}

	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		container.Close()
		return nil, pkgError.InternalServerError(fmt.Sprintf("failed to get device: %v", err))
	}
	if device == nil {
		container.Close()
		return nil, pkgError.NotFoundError(fmt.Sprintf("no device registered for instance %s", trimmed))
	}

	configureDeviceProps()
	client := whatsmeow.NewClient(device, waLog.Stdout(clientLogTag(trimmed), m.cfg.LogLevel, true))
	client.EnableAutoReconnect = true
	client.AutoTrustIdentity = true

	capturedID := trimmed
	client.AddEventHandler(func(rawEvt interface{}) {
		if m.onEvent != nil {
			m.onEvent(ContextWithInstanceID(context.Background(), capturedID), capturedID, rawEvt)
		}
	})

	session := &Session{Client: client, DB: container}
	m.sessions[trimmed] = session
	m.setActive(trimmed)
	logrus.Infof("[BROKER] Session created for instance %s", trimmed)
	return session, nil
}

// ConnectionStatus reports (connected, loggedIn) for an instance session.
func (m *Manager) ConnectionStatus(instanceID string) (bool, bool) {
	if c := m.GetClient(instanceID); c != nil {
		return c.IsConnected(), c.IsLoggedIn()
	}
	return false, false
}

// CleanupSession disconnects and forgets one instance session.
func (m *Manager) CleanupSession(instanceID string) {
	trimmed := strings.TrimSpace(instanceID)
	if trimmed == "" {
		return
	}

	m.sessionsMu.Lock()
	session := m.sessions[trimmed]
	delete(m.sessions, trimmed)
	m.sessionsMu.Unlock()

	if session != nil && session.Client != nil {
		session.Client.Disconnect()
	}
	if session != nil && session.DB != nil {
		session.DB.Close()
	}

	m.activeMu.Lock()
	if m.activeID == trimmed {
		m.activeID = ""
	}
	m.activeMu.Unlock()
}

// Stop disconnects every session. Called on shutdown after the worker pool
// drained.
func (m *Manager) Stop() {
	m.sessionsMu.Lock()
	defer m.sessionsMu.Unlock()

	for id, session := range m.sessions {
		logrus.Infof("[BROKER] Disconnecting session %s...", id)
		if session != nil && session.Client != nil {
			session.Client.Disconnect()
		}
		if session != nil && session.DB != nil {
			session.DB.Close()
		}
	}
	m.sessions = make(map[string]*Session)
}

func (m *Manager) storeURIFor(instanceID string) string {
	base := strings.TrimSpace(m.cfg.StoreURI)
	if strings.HasPrefix(base, "postgres:") {
		return base
	}
	if base == "" {
		base = "storages"
	}
	// sqlite: one device store per instance
	base = strings.TrimPrefix(base, "file:")
	base = strings.Split(base, "?")[0]
	base = strings.TrimSuffix(base, "/")
	return fmt.Sprintf("file:%s/broker-%s.db?_foreign_keys=on", base, instanceID)
}

func initSessionStore(ctx context.Context, dbLog waLog.Logger, dbURI string) (*sqlstore.Container, error) {
	if strings.HasPrefix(dbURI, "postgres:") {
		return sqlstore.New(ctx, "postgres", dbURI, dbLog)
	}
	return sqlstore.New(ctx, "sqlite3", dbURI, dbLog)
}

func configureDeviceProps() {
	osName := fmt.Sprintf("zapdesk %s", config.Global.App.Version)
	store.DeviceProps.Os = &osName
}

func dbLogTag(instanceID string) string {
	return "DB-" + shortID(instanceID)
}

func clientLogTag(instanceID string) string {
	return "Client-" + shortID(instanceID)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
