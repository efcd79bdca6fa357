// Package cachetest provides an in-memory cache source for tests.
package cachetest

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/mellow-sync/mellow/internal/database/types"
)

// Source is an in-memory cache.Source. Zero values are ready to use.
type Source struct {
	mu sync.Mutex

	Servers     map[uint64]*types.Server
	Users       map[uint64]*types.User
	Connections map[uuid.UUID]*types.Connection
	Settings    map[uint64]map[uuid.UUID]*types.UserServerSettings
	Actions     map[uuid.UUID]*types.SyncAction
	Documents   map[uuid.UUID]*types.Document
	Commands    map[uint64]map[string]*types.ServerCommand

	// Calls counts loader invocations by method name.
	Calls map[string]int
	// Errors makes the named loader fail.
	Errors map[string]error
}

// NewSource creates an empty source.
func NewSource() *Source {
	return &Source{
		Servers:     make(map[uint64]*types.Server),
		Users:       make(map[uint64]*types.User),
		Connections: make(map[uuid.UUID]*types.Connection),
		Settings:    make(map[uint64]map[uuid.UUID]*types.UserServerSettings),
		Actions:     make(map[uuid.UUID]*types.SyncAction),
		Documents:   make(map[uuid.UUID]*types.Document),
		Commands:    make(map[uint64]map[string]*types.ServerCommand),
		Calls:       make(map[string]int),
		Errors:      make(map[string]error),
	}
}

// AddServer stores a server together with its ordered actions.
func (s *Source) AddServer(server *types.Server, actions ...*types.SyncAction) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, action := range actions {
		action.ServerID = server.ID
		s.Actions[action.ID] = action
		server.ActionIDs = append(server.ActionIDs, action.ID)
	}

	s.Servers[server.ID] = server
}

// AddUser registers a user behind a chat platform account and shares the
// given connections with the server.
func (s *Source) AddUser(serverID, discordID uint64, user *types.User, connections ...*types.Connection) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Users[discordID] = user

	settings := &types.UserServerSettings{ServerID: serverID, UserID: user.ID}
	for _, conn := range connections {
		conn.UserID = user.ID
		s.Connections[conn.ID] = conn
		settings.ConnectionIDs = append(settings.ConnectionIDs, conn.ID)
	}

	if s.Settings[serverID] == nil {
		s.Settings[serverID] = make(map[uuid.UUID]*types.UserServerSettings)
	}

	s.Settings[serverID][user.ID] = settings
}

// AddDocument stores a document.
func (s *Source) AddDocument(document *types.Document) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Documents[document.ID] = document
}

// AddCommand stores a custom command.
func (s *Source) AddCommand(command *types.ServerCommand) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Commands[command.ServerID] == nil {
		s.Commands[command.ServerID] = make(map[string]*types.ServerCommand)
	}

	s.Commands[command.ServerID][command.Name] = command
}

// Fail makes the named loader return err.
func (s *Source) Fail(method string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Errors == nil {
		s.Errors = make(map[string]error)
	}

	s.Errors[method] = err
}

// CallCount returns how often a loader method ran.
func (s *Source) CallCount(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.Calls[method]
}

func (s *Source) GetServers(_ context.Context, ids []uint64) (map[uint64]*types.Server, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Calls["GetServers"]++

	if err := s.Errors["GetServers"]; err != nil {
		return nil, err
	}

	result := make(map[uint64]*types.Server)
	for _, id := range ids {
		if server, ok := s.Servers[id]; ok {
			result[id] = server
		}
	}

	return result, nil
}

func (s *Source) GetUsersByDiscordIDs(_ context.Context, discordIDs []uint64) (map[uint64]*types.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Calls["GetUsersByDiscordIDs"]++

	if err := s.Errors["GetUsersByDiscordIDs"]; err != nil {
		return nil, err
	}

	result := make(map[uint64]*types.User)
	for _, id := range discordIDs {
		if user, ok := s.Users[id]; ok {
			result[id] = user
		}
	}

	return result, nil
}

func (s *Source) GetUserConnections(_ context.Context, userID uuid.UUID) ([]*types.Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Calls["GetUserConnections"]++

	if err := s.Errors["GetUserConnections"]; err != nil {
		return nil, err
	}

	var result []*types.Connection
	for _, conn := range s.Connections {
		if conn.UserID == userID {
			result = append(result, conn)
		}
	}

	return result, nil
}

func (s *Source) GetConnections(_ context.Context, ids []uuid.UUID) (map[uuid.UUID]*types.Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Calls["GetConnections"]++

	if err := s.Errors["GetConnections"]; err != nil {
		return nil, err
	}

	result := make(map[uuid.UUID]*types.Connection)
	for _, id := range ids {
		if conn, ok := s.Connections[id]; ok {
			result[id] = conn
		}
	}

	return result, nil
}

func (s *Source) GetServerSettings(
	_ context.Context, serverID uint64, userID uuid.UUID,
) (*types.UserServerSettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Calls["GetServerSettings"]++

	if err := s.Errors["GetServerSettings"]; err != nil {
		return nil, err
	}

	if settings, ok := s.Settings[serverID][userID]; ok {
		return settings, nil
	}

	return &types.UserServerSettings{ServerID: serverID, UserID: userID}, nil
}

func (s *Source) GetActions(_ context.Context, ids []uuid.UUID) (map[uuid.UUID]*types.SyncAction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Calls["GetActions"]++

	if err := s.Errors["GetActions"]; err != nil {
		return nil, err
	}

	result := make(map[uuid.UUID]*types.SyncAction)
	for _, id := range ids {
		if action, ok := s.Actions[id]; ok {
			result[id] = action
		}
	}

	return result, nil
}

func (s *Source) GetDocuments(_ context.Context, ids []uuid.UUID) (map[uuid.UUID]*types.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Calls["GetDocuments"]++

	if err := s.Errors["GetDocuments"]; err != nil {
		return nil, err
	}

	result := make(map[uuid.UUID]*types.Document)
	for _, id := range ids {
		if document, ok := s.Documents[id]; ok {
			result[id] = document
		}
	}

	return result, nil
}

func (s *Source) GetServerDocumentIDs(_ context.Context, serverID uint64) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Calls["GetServerDocumentIDs"]++

	if err := s.Errors["GetServerDocumentIDs"]; err != nil {
		return nil, err
	}

	var ids []uuid.UUID
	for id, document := range s.Documents {
		if document.ServerID == serverID {
			ids = append(ids, id)
		}
	}

	return ids, nil
}

func (s *Source) GetCommand(_ context.Context, serverID uint64, name string) (*types.ServerCommand, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Calls["GetCommand"]++

	if err := s.Errors["GetCommand"]; err != nil {
		return nil, err
	}

	if command, ok := s.Commands[serverID][name]; ok {
		return command, nil
	}

	return nil, types.ErrCommandNotFound
}
