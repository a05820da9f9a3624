package mongodb

import (
	"context"
	"errors"
	"time"

	"github.com/bouclier/residence-access/internal/database"
	"github.com/bouclier/residence-access/internal/domain"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// ErrNotFound is returned by mutations that target a missing document.
// Lookups return (nil, nil) for absence instead, so callers can distinguish
// "no such record" from a store failure without unwrapping.
var ErrNotFound = errors.New("document not found")

type UsersRepo interface {
	// FindOrCreateTemporary upserts a temporary identity for the normalized
	// email and reports whether this call created it. Idempotent: repeated
	// calls return the same identity.
	FindOrCreateTemporary(ctx context.Context, email string) (*domain.User, bool, error)
	FindByEmail(ctx context.Context, email string) (*domain.User, error)
	FindByID(ctx context.Context, id primitive.ObjectID) (*domain.User, error)
	SetPassword(ctx context.Context, email, passwordHash string) error
	CompleteProfile(ctx context.Context, id primitive.ObjectID, fullName, role string) (*domain.User, error)
	AssignResidence(ctx context.Context, id primitive.ObjectID, buildingID, blockID, apartmentID string) (*domain.User, error)
}

type UsersRepoImpl struct{ col *mongo.Collection }

func NewUsersRepo(db *mongo.Database) *UsersRepoImpl {
	return &UsersRepoImpl{col: db.Collection(database.UsersCollection)}
}

func (r *UsersRepoImpl) FindOrCreateTemporary(ctx context.Context, email string) (*domain.User, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	now := time.Now().UTC()
	res, err := r.col.UpdateOne(ctx,
		bson.M{"email": email},
		bson.M{"$setOnInsert": bson.M{
			"email":       email,
			"isTemporary": true,
			"status":      domain.StatusTemporary,
			"createdAt":   now,
			"updatedAt":   now,
		}},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return nil, false, err
	}

	var u domain.User
	if err := r.col.FindOne(ctx, bson.M{"email": email}).Decode(&u); err != nil {
		return nil, false, err
	}
	return &u, res.UpsertedCount == 1, nil
}

func (r *UsersRepoImpl) FindByEmail(ctx context.Context, email string) (*domain.User, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	var u domain.User
	err := r.col.FindOne(ctx, bson.M{"email": email}).Decode(&u)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *UsersRepoImpl) FindByID(ctx context.Context, id primitive.ObjectID) (*domain.User, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	var u domain.User
	err := r.col.FindOne(ctx, bson.M{"_id": id}).Decode(&u)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *UsersRepoImpl) SetPassword(ctx context.Context, email, passwordHash string) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	res, err := r.col.UpdateOne(ctx,
		bson.M{"email": email},
		bson.M{"$set": bson.M{"password": passwordHash, "updatedAt": time.Now().UTC()}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *UsersRepoImpl) CompleteProfile(ctx context.Context, id primitive.ObjectID, fullName, role string) (*domain.User, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	var u domain.User
	err := r.col.FindOneAndUpdate(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{
			"fullName":    fullName,
			"role":        role,
			"status":      domain.StatusActive,
			"isTemporary": false,
			"updatedAt":   time.Now().UTC(),
		}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&u)
	if err == mongo.ErrNoDocuments {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *UsersRepoImpl) AssignResidence(ctx context.Context, id primitive.ObjectID, buildingID, blockID, apartmentID string) (*domain.User, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	set := bson.M{"buildingId": buildingID, "updatedAt": time.Now().UTC()}
	if blockID != "" {
		set["blockId"] = blockID
	}
	if apartmentID != "" {
		set["apartmentId"] = apartmentID
	}

	var u domain.User
	err := r.col.FindOneAndUpdate(ctx,
		bson.M{"_id": id},
		bson.M{"$set": set},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&u)
	if err == mongo.ErrNoDocuments {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}
