package repository

import (
	"context"
	"testing"
	"time"

	"github.com/RishiKendai/codetrace/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"
)

func TestReportsRepository(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("save upserts report", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateSuccessResponse(
			bson.E{Key: "n", Value: 1},
			bson.E{Key: "nModified", Value: 0},
			bson.E{Key: "upserted", Value: bson.A{bson.D{{Key: "index", Value: 0}, {Key: "_id", Value: "x"}}}},
		))
		repo := NewReportsRepository(NewMongoRepository(mt.DB))

		report := &models.Report{RunID: "run-1", Step: models.StepDone, Success: true}
		require.NoError(mt, repo.SaveReport(context.Background(), report))
		assert.False(mt, report.CreatedAt.IsZero())
	})

	mt.Run("get returns stored report", func(mt *mtest.T) {
		ns := mt.DB.Name() + "." + reportsCollection
		mt.AddMockResponses(mtest.CreateCursorResponse(0, ns, mtest.FirstBatch, bson.D{
			{Key: "runId", Value: "run-1"},
			{Key: "step", Value: "failed"},
			{Key: "success", Value: false},
			{Key: "error", Value: "invalid Python code: syntax error at line 1, column 11"},
			{Key: "failedStage", Value: "decomposition"},
			{Key: "totalBlocks", Value: 0},
			{Key: "createdAt", Value: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)},
		}))
		repo := NewReportsRepository(NewMongoRepository(mt.DB))

		report, err := repo.GetReportByRunID(context.Background(), "run-1")
		require.NoError(mt, err)
		require.NotNil(mt, report)
		assert.Equal(mt, "run-1", report.RunID)
		assert.Equal(mt, models.StepFailed, report.Step)
		assert.Equal(mt, "decomposition", report.FailedStage)
	})

	mt.Run("get unknown run", func(mt *mtest.T) {
		ns := mt.DB.Name() + "." + reportsCollection
		mt.AddMockResponses(mtest.CreateCursorResponse(0, ns, mtest.FirstBatch))
		repo := NewReportsRepository(NewMongoRepository(mt.DB))

		report, err := repo.GetReportByRunID(context.Background(), "missing")
		require.NoError(mt, err)
		assert.Nil(mt, report)
	})

	mt.Run("save surfaces command errors", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateCommandErrorResponse(mtest.CommandError{
			Code: 2, Name: "BadValue", Message: "bad value",
		}))
		repo := NewReportsRepository(NewMongoRepository(mt.DB))

		err := repo.SaveReport(context.Background(), &models.Report{RunID: "run-1"})
		require.Error(mt, err)
		assert.Contains(mt, err.Error(), "failed to save report")
	})
}

func TestSubmissionsRepository(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("insert", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateSuccessResponse())
		repo := NewSubmissionsRepository(NewMongoRepository(mt.DB))

		sub := &models.Submission{RunID: "run-1", Code: "def f(): pass", Source: "api"}
		require.NoError(mt, repo.InsertSubmission(context.Background(), sub))
		assert.False(mt, sub.CreatedAt.IsZero())
	})

	mt.Run("duplicate run id", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateWriteErrorsResponse(mtest.WriteError{
			Index: 0, Code: 11000, Message: "duplicate key error",
		}))
		repo := NewSubmissionsRepository(NewMongoRepository(mt.DB))

		err := repo.InsertSubmission(context.Background(), &models.Submission{RunID: "run-1"})
		assert.ErrorIs(mt, err, ErrDuplicateSubmission)
	})

	mt.Run("get and list", func(mt *mtest.T) {
		ns := mt.DB.Name() + "." + submissionsCollection
		doc := func(id string) bson.D {
			return bson.D{
				{Key: "runId", Value: id},
				{Key: "code", Value: "x = 1"},
				{Key: "source", Value: "stream"},
			}
		}
		mt.AddMockResponses(
			mtest.CreateCursorResponse(0, ns, mtest.FirstBatch, doc("run-2")),
			mtest.CreateCursorResponse(0, ns, mtest.FirstBatch, doc("run-2"), doc("run-1")),
		)
		repo := NewSubmissionsRepository(NewMongoRepository(mt.DB))

		sub, err := repo.GetSubmission(context.Background(), "run-2")
		require.NoError(mt, err)
		require.NotNil(mt, sub)
		assert.Equal(mt, "stream", sub.Source)

		subs, err := repo.ListRecent(context.Background(), 10)
		require.NoError(mt, err)
		require.Len(mt, subs, 2)
		assert.Equal(mt, "run-2", subs[0].RunID)
	})

	mt.Run("list leaves code out", func(mt *mtest.T) {
		ns := mt.DB.Name() + "." + submissionsCollection
		mt.AddMockResponses(mtest.CreateCursorResponse(0, ns, mtest.FirstBatch,
			bson.D{{Key: "runId", Value: "run-3"}, {Key: "source", Value: "api"}},
		))
		repo := NewSubmissionsRepository(NewMongoRepository(mt.DB))

		subs, err := repo.ListRecent(context.Background(), 5)
		require.NoError(mt, err)
		require.Len(mt, subs, 1)
		assert.Equal(mt, "run-3", subs[0].RunID)
		assert.Empty(mt, subs[0].Code)

		started := mt.GetStartedEvent()
		require.NotNil(mt, started)
		assert.Equal(mt, "find", started.CommandName)
		projection, err := started.Command.LookupErr("projection")
		require.NoError(mt, err)
		assert.EqualValues(mt, 0, projection.Document().Lookup("code").AsInt64())
		assert.EqualValues(mt, 5, started.Command.Lookup("limit").AsInt64())
	})
}
