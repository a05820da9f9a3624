package mongodb_test

import (
	"context"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"

	"github.com/bouclier/residence-access/internal/domain"
	"github.com/bouclier/residence-access/internal/repo/mongodb"
)

func groupInput() []domain.VisitorInput {
	validUntil := time.Now().Add(time.Hour)
	return []domain.VisitorInput{
		{Name: "Moussa", ValidUntil: validUntil},
		{Name: "Fatou", ValidUntil: validUntil},
	}
}

func TestCreateGroup_RollsBackPartialInsert(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("write error triggers compensating delete", func(mt *mtest.T) {
		repo := mongodb.NewVisitorsRepo(mt.DB)
		mt.AddMockResponses(
			mtest.CreateWriteErrorsResponse(mtest.WriteError{Index: 1, Code: 11000, Message: "duplicate key"}),
			mtest.CreateSuccessResponse(),
		)

		_, err := repo.CreateGroup(context.Background(), primitive.NewObjectID(), "bld-1", groupInput())
		if err == nil {
			mt.Fatal("expected the batch insert to fail")
		}

		var commands []string
		for _, ev := range mt.GetAllStartedEvents() {
			commands = append(commands, ev.CommandName)
		}
		if len(commands) != 2 || commands[0] != "insert" || commands[1] != "delete" {
			mt.Fatalf("expected insert then compensating delete, got %v", commands)
		}
	})

	mt.Run("compensating delete survives a dead batch context", func(mt *mtest.T) {
		repo := mongodb.NewVisitorsRepo(mt.DB)
		mt.AddMockResponses(
			mtest.CreateWriteErrorsResponse(mtest.WriteError{Index: 1, Code: 11000, Message: "duplicate key"}),
			mtest.CreateSuccessResponse(),
		)

		// The caller's context is already gone, the way it would be after a
		// deadline expired mid-batch. The rollback must still be attempted.
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := repo.CreateGroup(ctx, primitive.NewObjectID(), "bld-1", groupInput())
		if err == nil {
			mt.Fatal("expected the batch insert to fail")
		}

		var sawDelete bool
		for _, ev := range mt.GetAllStartedEvents() {
			if ev.CommandName == "delete" {
				sawDelete = true
			}
		}
		if !sawDelete {
			mt.Fatal("expected the compensating delete to run despite the dead caller context")
		}
	})
}
