package user

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"stego_chat/internal/cryptographic/hybrid"
	"stego_chat/internal/cryptographic/signature"
	"stego_chat/internal/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var (
	ErrNotFound = errors.New("user not found")
	ErrExists   = errors.New("user already exists")
)

type (
	// UserRepo is the key directory. Private keys are sealed with the
	// server master key and only unsealed inside GetPrivateKey.
	UserRepo struct {
		collection *mongo.Collection
		masterKey  []byte
	}
)

func NewUserRepo(db *mongo.Database, masterKey []byte) *UserRepo {
	return &UserRepo{
		collection: db.Collection("users"),
		masterKey:  masterKey,
	}
}

func (r *UserRepo) EnsureIndexes(ctx context.Context) error {
	_, err := r.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "user_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	return err
}

func (r *UserRepo) GetByID(ctx context.Context, userID string) (*model.User, error) {
	filter := bson.M{
		"user_id": userID,
	}

	var user model.User
	err := r.collection.FindOne(ctx, filter).Decode(&user)
	if err == mongo.ErrNoDocuments {
		return nil, ErrNotFound
	}

	if err != nil {
		return nil, err
	}

	return &user, nil
}

// Register creates a user with fresh key material.
func (r *UserRepo) Register(ctx context.Context, userID, name string) (*model.User, error) {
	user, err := NewUser(r.masterKey, userID, name)
	if err != nil {
		return nil, err
	}
	if _, err := r.Create(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

func (r *UserRepo) Create(ctx context.Context, user *model.User) (primitive.ObjectID, error) {
	res, err := r.collection.InsertOne(ctx, user)
	if mongo.IsDuplicateKeyError(err) {
		return primitive.NilObjectID, ErrExists
	}
	if err != nil {
		return primitive.NilObjectID, err
	}

	id := res.InsertedID.(primitive.ObjectID)
	user.ID = id
	return id, nil
}

func (r *UserRepo) GetPublicKey(ctx context.Context, userID string) (string, error) {
	user, err := r.GetByID(ctx, userID)
	if err != nil {
		return "", err
	}
	return user.PublicKey, nil
}

func (r *UserRepo) GetPrivateKey(ctx context.Context, userID string) (string, error) {
	user, err := r.GetByID(ctx, userID)
	if err != nil {
		return "", err
	}
	return OpenPrivateKey(r.masterKey, user)
}

func (r *UserRepo) GetSharedKey(ctx context.Context, userID string) (*model.SharedKey, error) {
	user, err := r.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return SharedKeyOf(user), nil
}

// NewUser generates the key-wrapping pair and the identity pair for a user
// and seals both private halves with masterKey.
func NewUser(masterKey []byte, userID, name string) (*model.User, error) {
	pair, err := hybrid.GenerateKeyPair()
	if err != nil {
		return nil, fmt.Errorf("generate key pair: %w", err)
	}
	sealedPriv, err := hybrid.SealAtRest(masterKey, []byte(pair.Private))
	if err != nil {
		return nil, fmt.Errorf("seal private key: %w", err)
	}

	identityPub, identityPriv, err := signature.NewEd25519Keypair()
	if err != nil {
		return nil, fmt.Errorf("generate identity key: %w", err)
	}
	defer hybrid.Wipe(identityPriv)
	sealedIdentity, err := hybrid.SealAtRest(masterKey, identityPriv)
	if err != nil {
		return nil, fmt.Errorf("seal identity key: %w", err)
	}

	return &model.User{
		UserID:                userID,
		Name:                  name,
		PublicKey:             pair.Public,
		SealedPrivateKey:      sealedPriv,
		IdentityKey:           base64.StdEncoding.EncodeToString(identityPub),
		SealedIdentityPrivate: sealedIdentity,
		KeySignature:          signature.SignSharedKey(identityPriv, userID, pair.Public),
		CreatedAt:             time.Now().UTC(),
	}, nil
}

func OpenPrivateKey(masterKey []byte, user *model.User) (string, error) {
	raw, err := hybrid.OpenAtRest(masterKey, user.SealedPrivateKey)
	if err != nil {
		return "", fmt.Errorf("open private key of %s: %w", user.UserID, err)
	}
	defer hybrid.Wipe(raw)
	return string(raw), nil
}

func SharedKeyOf(user *model.User) *model.SharedKey {
	return &model.SharedKey{
		UserID:      user.UserID,
		PublicKey:   user.PublicKey,
		IdentityKey: user.IdentityKey,
		Signature:   user.KeySignature,
	}
}
