package redis

import (
	"fmt"
	"sync"

	"github.com/redis/rueidis"
	"github.com/mellow-sync/mellow/internal/setup/config"
	"go.uber.org/zap"
)

const (
	// CacheDBIndex stores cached identity provider responses
	// in database 0 to keep them separate from coordination data.
	CacheDBIndex = 0

	// LockDBIndex uses database 1 for short lived coordination keys
	// such as the server wide sync lock.
	LockDBIndex = 1
)

// Manager maintains a thread-safe mapping of database indices to Redis clients.
// Each database index gets its own dedicated connection pool through rueidis.
type Manager struct {
	clients map[int]rueidis.Client
	config  *config.Redis
	logger  *zap.Logger
	mu      sync.Mutex
}

// NewManager initializes the Redis connection manager with an empty client pool.
// Actual client connections are created lazily when first requested.
func NewManager(config *config.Redis, logger *zap.Logger) *Manager {
	return &Manager{
		clients: make(map[int]rueidis.Client),
		config:  config,
		logger:  logger.Named("redis"),
	}
}

// GetClient retrieves or creates a Redis client for the specified database index.
func (m *Manager) GetClient(dbIndex int) (rueidis.Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if client, exists := m.clients[dbIndex]; exists {
		return client, nil
	}

	option, err := m.clientOption(dbIndex)
	if err != nil {
		return nil, err
	}

	client, err := rueidis.NewClient(option)
	if err != nil {
		return nil, fmt.Errorf("failed to create Redis client for DB %d: %w", dbIndex, err)
	}

	m.clients[dbIndex] = client
	m.logger.Info("Created new Redis client", zap.Int("dbIndex", dbIndex))

	return client, nil
}

// Close gracefully shuts down all active Redis clients in the pool.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for dbIndex, client := range m.clients {
		client.Close()
		delete(m.clients, dbIndex)
		m.logger.Info("Closed Redis client", zap.Int("dbIndex", dbIndex))
	}
}

// clientOption builds the connection options, preferring the URL form.
func (m *Manager) clientOption(dbIndex int) (rueidis.ClientOption, error) {
	if m.config.URL != "" {
		option, err := rueidis.ParseURL(m.config.URL)
		if err != nil {
			return rueidis.ClientOption{}, fmt.Errorf("failed to parse Redis URL: %w", err)
		}

		option.SelectDB = dbIndex
		option.ClientName = "mellow"

		return option, nil
	}

	return rueidis.ClientOption{
		InitAddress:         []string{fmt.Sprintf("%s:%d", m.config.Host, m.config.Port)},
		Username:            m.config.Username,
		Password:            m.config.Password,
		SelectDB:            dbIndex,
		ClientName:          "mellow",
		ReadBufferEachConn:  1 << 20,
		WriteBufferEachConn: 1 << 20,
	}, nil
}
