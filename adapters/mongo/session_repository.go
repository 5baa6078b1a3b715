package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/satriahrh/livecaption/domain/entities"
	"github.com/satriahrh/livecaption/domain/repositories"
)

// SessionRepository implements repositories.SessionRepository using MongoDB
type SessionRepository struct {
	collection *mongo.Collection
	logger     *zap.Logger
}

// NewSessionRepository creates a new MongoDB session repository
func NewSessionRepository(db *mongo.Database, logger *zap.Logger) *SessionRepository {
	collection := db.Collection("sessions")

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		_, err := collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
			{Keys: bson.D{{Key: "started_at", Value: -1}}},
			{Keys: bson.D{{Key: "status", Value: 1}}},
		})
		if err != nil {
			logger.Error("Failed to create session indexes", zap.Error(err))
		} else {
			logger.Info("Session indexes created successfully")
		}
	}()

	return &SessionRepository{
		collection: collection,
		logger:     logger,
	}
}

var _ repositories.SessionRepository = (*SessionRepository)(nil)

// Create inserts a new session
func (r *SessionRepository) Create(ctx context.Context, session *entities.Session) error {
	if session == nil {
		return errors.New("session cannot be nil")
	}
	if err := session.Validate(); err != nil {
		return err
	}

	if _, err := r.collection.InsertOne(ctx, session); err != nil {
		r.logger.Error("Failed to create session", zap.Error(err), zap.String("sessionID", session.ID))
		return fmt.Errorf("failed to create session: %w", err)
	}

	r.logger.Info("Session created", zap.String("sessionID", session.ID))
	return nil
}

// GetByID retrieves a session by its ID
func (r *SessionRepository) GetByID(ctx context.Context, id string) (*entities.Session, error) {
	if id == "" {
		return nil, errors.New("session ID cannot be empty")
	}

	var session entities.Session
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&session)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, repositories.ErrSessionNotFound
		}
		r.logger.Error("Failed to get session by ID", zap.Error(err), zap.String("sessionID", id))
		return nil, err
	}
	return &session, nil
}

// Update replaces the stored session
func (r *SessionRepository) Update(ctx context.Context, session *entities.Session) error {
	if session == nil {
		return errors.New("session cannot be nil")
	}
	if err := session.Validate(); err != nil {
		return err
	}

	result, err := r.collection.ReplaceOne(ctx, bson.M{"_id": session.ID}, session)
	if err != nil {
		r.logger.Error("Failed to update session", zap.Error(err), zap.String("sessionID", session.ID))
		return fmt.Errorf("failed to update session: %w", err)
	}
	if result.MatchedCount == 0 {
		return repositories.ErrSessionNotFound
	}

	r.logger.Debug("Session updated", zap.String("sessionID", session.ID))
	return nil
}

// List returns sessions with the most recent first
func (r *SessionRepository) List(ctx context.Context, limit int) ([]*entities.Session, error) {
	opts := options.Find().SetSort(bson.D{{Key: "started_at", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cursor, err := r.collection.Find(ctx, bson.M{}, opts)
	if err != nil {
		r.logger.Error("Failed to list sessions", zap.Error(err))
		return nil, err
	}
	defer cursor.Close(ctx)

	sessions := make([]*entities.Session, 0)
	for cursor.Next(ctx) {
		var session entities.Session
		if err := cursor.Decode(&session); err != nil {
			r.logger.Error("Failed to decode session", zap.Error(err))
			continue
		}
		sessions = append(sessions, &session)
	}

	if err := cursor.Err(); err != nil {
		r.logger.Error("Cursor error", zap.Error(err))
		return nil, err
	}
	return sessions, nil
}

// Delete deletes a session
func (r *SessionRepository) Delete(ctx context.Context, id string) error {
	result, err := r.collection.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		r.logger.Error("Failed to delete session", zap.Error(err), zap.String("sessionID", id))
		return err
	}
	if result.DeletedCount == 0 {
		return repositories.ErrSessionNotFound
	}

	r.logger.Info("Session deleted", zap.String("sessionID", id))
	return nil
}
