package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/RishiKendai/codetrace/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const submissionsCollection = "submissions"

// ErrDuplicateSubmission is returned when a run id was already stored.
var ErrDuplicateSubmission = errors.New("submission already exists")

type SubmissionsRepository struct {
	mongoRepo *MongoRepository
}

func NewSubmissionsRepository(mongoRepo *MongoRepository) *SubmissionsRepository {
	return &SubmissionsRepository{
		mongoRepo: mongoRepo,
	}
}

func (r *SubmissionsRepository) EnsureIndexes(ctx context.Context) error {
	err := r.mongoRepo.CreateIndexes(ctx, submissionsCollection,
		mongo.IndexModel{
			Keys:    bson.D{{Key: "runId", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		mongo.IndexModel{
			Keys: bson.D{{Key: "createdAt", Value: -1}},
		},
	)
	if err != nil {
		return fmt.Errorf("failed to create submission indexes: %w", err)
	}
	return nil
}

func (r *SubmissionsRepository) InsertSubmission(ctx context.Context, submission *models.Submission) error {
	submission.CreatedAt = time.Now()

	err := r.mongoRepo.InsertOne(ctx, submissionsCollection, submission)
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("%w: %s", ErrDuplicateSubmission, submission.RunID)
	}
	if err != nil {
		return fmt.Errorf("failed to insert submission: %w", err)
	}

	return nil
}

// GetSubmission returns nil without error when the run id is unknown.
func (r *SubmissionsRepository) GetSubmission(ctx context.Context, runID string) (*models.Submission, error) {
	filter := bson.M{"runId": runID}

	var submission models.Submission
	err := r.mongoRepo.FindOne(ctx, submissionsCollection, filter).Decode(&submission)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find submission: %w", err)
	}

	return &submission, nil
}

// ListRecent returns the newest submissions first, without their code.
func (r *SubmissionsRepository) ListRecent(ctx context.Context, limit int64) ([]*models.Submission, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: -1}}).
		SetLimit(limit).
		SetProjection(bson.D{{Key: "code", Value: 0}})

	cursor, err := r.mongoRepo.FindMany(ctx, submissionsCollection, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find submissions: %w", err)
	}
	defer cursor.Close(ctx)

	submissions := make([]*models.Submission, 0)
	if err := cursor.All(ctx, &submissions); err != nil {
		return nil, fmt.Errorf("failed to decode submissions: %w", err)
	}

	return submissions, nil
}
