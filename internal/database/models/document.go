package models

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/mellow-sync/mellow/internal/database/dbretry"
	"github.com/mellow-sync/mellow/internal/database/types"
	"github.com/uptrace/bun"
	"go.uber.org/zap"
)

// DocumentModel handles database operations for visual scripting documents.
type DocumentModel struct {
	db     *bun.DB
	logger *zap.Logger
}

// NewDocument creates a new document model instance.
func NewDocument(db *bun.DB, logger *zap.Logger) *DocumentModel {
	return &DocumentModel{
		db:     db,
		logger: logger.Named("db_document"),
	}
}

// Get retrieves a document by id.
func (m *DocumentModel) Get(ctx context.Context, id uuid.UUID) (*types.Document, error) {
	documents, err := m.GetMany(ctx, []uuid.UUID{id})
	if err != nil {
		return nil, err
	}

	document, ok := documents[id]
	if !ok {
		return nil, types.ErrDocumentNotFound
	}

	return document, nil
}

// GetMany retrieves documents by id. Unknown ids are absent from the result.
func (m *DocumentModel) GetMany(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*types.Document, error) {
	if len(ids) == 0 {
		return map[uuid.UUID]*types.Document{}, nil
	}

	return dbretry.Operation(ctx, func(ctx context.Context) (map[uuid.UUID]*types.Document, error) {
		var documents []*types.Document
		if err := m.db.NewSelect().Model(&documents).Where("id IN (?)", bun.In(ids)).Scan(ctx); err != nil {
			return nil, fmt.Errorf("failed to get documents: %w", err)
		}

		result := make(map[uuid.UUID]*types.Document, len(documents))
		for _, document := range documents {
			result[document.ID] = document
		}

		return result, nil
	})
}

// GetServerDocumentIDs lists the documents owned by a server.
func (m *DocumentModel) GetServerDocumentIDs(ctx context.Context, serverID uint64) ([]uuid.UUID, error) {
	return dbretry.Operation(ctx, func(ctx context.Context) ([]uuid.UUID, error) {
		var ids []uuid.UUID

		err := m.db.NewSelect().
			Model((*types.Document)(nil)).
			Column("id").
			Where("server_id = ?", serverID).
			Order("name ASC").
			Scan(ctx, &ids)
		if err != nil {
			return nil, fmt.Errorf("failed to get server documents: %w", err)
		}

		return ids, nil
	})
}
