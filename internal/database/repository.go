package database

import (
	"github.com/mellow-sync/mellow/internal/database/models"
	"github.com/uptrace/bun"
	"go.uber.org/zap"
)

// Repository provides access to all database models.
type Repository struct {
	user       *models.UserModel
	connection *models.ConnectionModel
	server     *models.ServerModel
	document   *models.DocumentModel
}

// NewRepository creates a new repository instance with all models.
func NewRepository(db *bun.DB, logger *zap.Logger) *Repository {
	return &Repository{
		user:       models.NewUser(db, logger),
		connection: models.NewConnection(db, logger),
		server:     models.NewServer(db, logger),
		document:   models.NewDocument(db, logger),
	}
}

// User returns the user model repository.
func (r *Repository) User() *models.UserModel {
	return r.user
}

// Connection returns the connection model repository.
func (r *Repository) Connection() *models.ConnectionModel {
	return r.connection
}

// Server returns the server model repository.
func (r *Repository) Server() *models.ServerModel {
	return r.server
}

// Document returns the document model repository.
func (r *Repository) Document() *models.DocumentModel {
	return r.document
}
