package mongodb

import (
	"context"
	"time"

	"github.com/bouclier/residence-access/internal/database"
	"github.com/bouclier/residence-access/internal/domain"
	"github.com/bouclier/residence-access/pkg/logger"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type VisitorsRepo interface {
	// CreateGroup persists one pass per visitor under a fresh shared group id,
	// all-or-nothing. Returned passes are in input order.
	CreateGroup(ctx context.Context, creatorID primitive.ObjectID, buildingID string, visitors []domain.VisitorInput) ([]domain.VisitorPass, error)
	FindByAccessID(ctx context.Context, accessID string) (*domain.VisitorPass, error)
	FindByGroupID(ctx context.Context, groupID string) ([]domain.VisitorPass, error)
	ListByCreator(ctx context.Context, creatorID primitive.ObjectID) ([]domain.VisitorPass, error)
	// Redeem transitions an active, unexpired pass to used and records the
	// gate agent. Under concurrent scans of the same accessId exactly one
	// call succeeds; the loser gets domain.ErrPassAlreadyUsed. Terminal
	// passes fail with ErrPassAlreadyUsed / ErrPassExpired without mutation.
	Redeem(ctx context.Context, accessID, agentID string, now time.Time) (*domain.VisitorPass, error)
	// MarkExpired flips stored status to expired for passes past validUntil.
	// Advisory housekeeping: EffectiveStatus never depends on it.
	MarkExpired(ctx context.Context, now time.Time) (int64, error)
}

type VisitorsRepoImpl struct{ col *mongo.Collection }

func NewVisitorsRepo(db *mongo.Database) *VisitorsRepoImpl {
	return &VisitorsRepoImpl{col: db.Collection(database.VisitorsCollection)}
}

func (r *VisitorsRepoImpl) CreateGroup(ctx context.Context, creatorID primitive.ObjectID, buildingID string, visitors []domain.VisitorInput) ([]domain.VisitorPass, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	now := time.Now().UTC()
	groupID := uuid.NewString()

	passes := make([]domain.VisitorPass, len(visitors))
	docs := make([]interface{}, len(visitors))
	for i, v := range visitors {
		passes[i] = domain.VisitorPass{
			ID:         primitive.NewObjectID(),
			Name:       v.Name,
			Phone:      v.Phone,
			Reason:     v.Reason,
			PhotoURL:   v.PhotoURL,
			ValidUntil: v.ValidUntil,
			Status:     domain.PassActive,
			CreatedBy:  creatorID,
			BuildingID: buildingID,
			AccessID:   uuid.NewString(),
			GroupID:    groupID,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		docs[i] = passes[i]
	}

	if _, err := r.col.InsertMany(ctx, docs, options.InsertMany().SetOrdered(true)); err != nil {
		// Roll back any partial insert so a resident never ends up with a
		// half-issued invitation. The batch context may already be dead
		// (a mid-batch deadline is the likeliest failure mode), so the
		// delete runs on its own lifetime.
		cleanupCtx, cancelCleanup := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancelCleanup()
		if _, delErr := r.col.DeleteMany(cleanupCtx, bson.M{"groupId": groupID}); delErr != nil {
			logger.Error("failed to roll back partial visitor group",
				"error", delErr,
				"groupId", groupID,
			)
		}
		return nil, err
	}
	return passes, nil
}

func (r *VisitorsRepoImpl) FindByAccessID(ctx context.Context, accessID string) (*domain.VisitorPass, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	var p domain.VisitorPass
	err := r.col.FindOne(ctx, bson.M{"accessId": accessID}).Decode(&p)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *VisitorsRepoImpl) FindByGroupID(ctx context.Context, groupID string) ([]domain.VisitorPass, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	return r.findAll(ctx, bson.M{"groupId": groupID})
}

func (r *VisitorsRepoImpl) ListByCreator(ctx context.Context, creatorID primitive.ObjectID) ([]domain.VisitorPass, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	return r.findAll(ctx, bson.M{"createdBy": creatorID})
}

func (r *VisitorsRepoImpl) findAll(ctx context.Context, filter bson.M) ([]domain.VisitorPass, error) {
	cur, err := r.col.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var passes []domain.VisitorPass
	if err := cur.All(ctx, &passes); err != nil {
		return nil, err
	}
	return passes, nil
}

func (r *VisitorsRepoImpl) Redeem(ctx context.Context, accessID, agentID string, now time.Time) (*domain.VisitorPass, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	// Conditional transition: only an active pass still inside its validity
	// window flips to used. A plain read-then-write pair would let two gate
	// scans both observe "active" and both admit the visitor.
	var p domain.VisitorPass
	err := r.col.FindOneAndUpdate(ctx,
		bson.M{
			"accessId":   accessID,
			"status":     domain.PassActive,
			"validUntil": bson.M{"$gt": now},
		},
		bson.M{"$set": bson.M{
			"status":     domain.PassUsed,
			"redeemedBy": agentID,
			"redeemedAt": now,
			"updatedAt":  now,
		}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&p)
	if err == nil {
		return &p, nil
	}
	if err != mongo.ErrNoDocuments {
		return nil, err
	}

	// The conditional update matched nothing: the pass is missing, already
	// terminal, or just lost a concurrent race. Re-read to classify.
	existing, err := r.FindByAccessID(ctx, accessID)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, ErrNotFound
	}
	switch existing.EffectiveStatus(now) {
	case domain.PassUsed:
		return existing, domain.ErrPassAlreadyUsed
	default:
		return existing, domain.ErrPassExpired
	}
}

func (r *VisitorsRepoImpl) MarkExpired(ctx context.Context, now time.Time) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	res, err := r.col.UpdateMany(ctx,
		bson.M{"status": domain.PassActive, "validUntil": bson.M{"$lt": now}},
		bson.M{"$set": bson.M{"status": domain.PassExpired, "updatedAt": now}},
	)
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}
