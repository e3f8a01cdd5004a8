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

const reportsCollection = "plagiarism_reports"

type ReportsRepository struct {
	mongoRepo *MongoRepository
}

func NewReportsRepository(mongoRepo *MongoRepository) *ReportsRepository {
	return &ReportsRepository{
		mongoRepo: mongoRepo,
	}
}

func (r *ReportsRepository) EnsureIndexes(ctx context.Context) error {
	err := r.mongoRepo.CreateIndexes(ctx, reportsCollection, mongo.IndexModel{
		Keys:    bson.D{{Key: "runId", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("failed to create report indexes: %w", err)
	}
	return nil
}

// SaveReport stores report, replacing any earlier report of the same run.
func (r *ReportsRepository) SaveReport(ctx context.Context, report *models.Report) error {
	if report.CreatedAt.IsZero() {
		report.CreatedAt = time.Now()
	}

	filter := bson.M{"runId": report.RunID}
	err := r.mongoRepo.ReplaceOne(ctx, reportsCollection, filter, report, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to save report: %w", err)
	}

	return nil
}

// GetReportByRunID returns nil without error when no report exists.
func (r *ReportsRepository) GetReportByRunID(ctx context.Context, runID string) (*models.Report, error) {
	filter := bson.M{"runId": runID}

	var report models.Report
	err := r.mongoRepo.FindOne(ctx, reportsCollection, filter).Decode(&report)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find report: %w", err)
	}

	return &report, nil
}
