package mongodb

import (
	"context"
	"time"

	"github.com/bouclier/residence-access/internal/database"
	"github.com/bouclier/residence-access/internal/domain"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"golang.org/x/crypto/bcrypt"
)

type OtpRepo interface {
	// Create stores a fresh code for the email after deleting every earlier
	// one, keeping at most one live code per identity.
	Create(ctx context.Context, email, codeHash string, expiresAt time.Time) error
	// Consume redeems a code: true exactly once per issued code, false for
	// unknown, wrong, expired or already-used codes. Two concurrent calls
	// with the same code cannot both return true.
	Consume(ctx context.Context, email, code string) (bool, error)
	// DeleteExpired removes stale code documents (maintenance only).
	DeleteExpired(ctx context.Context) (int64, error)
}

type OtpRepoImpl struct{ col *mongo.Collection }

func NewOtpRepo(db *mongo.Database) *OtpRepoImpl {
	return &OtpRepoImpl{col: db.Collection(database.OtpsCollection)}
}

func (r *OtpRepoImpl) Create(ctx context.Context, email, codeHash string, expiresAt time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	if _, err := r.col.DeleteMany(ctx, bson.M{"email": email}); err != nil {
		return err
	}

	_, err := r.col.InsertOne(ctx, domain.OtpCode{
		Email:     email,
		CodeHash:  codeHash,
		ExpiresAt: expiresAt,
		Used:      false,
		CreatedAt: time.Now().UTC(),
	})
	return err
}

func (r *OtpRepoImpl) Consume(ctx context.Context, email, code string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	now := time.Now().UTC()

	// Codes are stored hashed, so the candidate is selected by email and
	// liveness, then checked against the submitted code.
	var rec domain.OtpCode
	err := r.col.FindOne(ctx, bson.M{
		"email":     email,
		"used":      false,
		"expiresAt": bson.M{"$gt": now},
	}).Decode(&rec)
	if err == mongo.ErrNoDocuments {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(rec.CodeHash), []byte(code)); err != nil {
		return false, nil
	}

	// Conditional mark-used: of two concurrent verifications only the one
	// that flips the flag here succeeds.
	res, err := r.col.UpdateOne(ctx,
		bson.M{"_id": rec.ID, "used": false},
		bson.M{"$set": bson.M{"used": true}},
	)
	if err != nil {
		return false, err
	}
	return res.ModifiedCount == 1, nil
}

func (r *OtpRepoImpl) DeleteExpired(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	res, err := r.col.DeleteMany(ctx, bson.M{"expiresAt": bson.M{"$lt": time.Now().UTC()}})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}
