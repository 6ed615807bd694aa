package contact

import (
	"context"
	"errors"
	"time"

	"stego_chat/internal/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var (
	ErrRequestNotFound = errors.New("friend request not found")
	ErrChatNotFound    = errors.New("chat not found")
	ErrChatExists      = errors.New("chat already exists")
	ErrSelf            = errors.New("cannot target yourself")
	ErrAlreadyContacts = errors.New("already contacts")
)

type (
	// ContactRepo stores friend requests, blocks and chat membership.
	ContactRepo struct {
		contacts *mongo.Collection
		blocks   *mongo.Collection
		chats    *mongo.Collection
	}
)

func NewContactRepo(db *mongo.Database) *ContactRepo {
	return &ContactRepo{
		contacts: db.Collection("contacts"),
		blocks:   db.Collection("blocks"),
		chats:    db.Collection("chats"),
	}
}

func (r *ContactRepo) EnsureIndexes(ctx context.Context) error {
	unique := options.Index().SetUnique(true)
	if _, err := r.contacts.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "contact_user_id", Value: 1}},
		Options: unique,
	}); err != nil {
		return err
	}
	if _, err := r.blocks.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "blocked_user_id", Value: 1}},
		Options: unique,
	}); err != nil {
		return err
	}
	_, err := r.chats.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "chat_id", Value: 1}},
		Options: unique,
	})
	return err
}

// SendFriendRequest records a pending request from userID to contactUserID.
// Re-sending a rejected request makes it pending again. A confirmed pair in
// either direction is never reset.
func (r *ContactRepo) SendFriendRequest(ctx context.Context, userID, contactUserID string) error {
	if userID == contactUserID {
		return ErrSelf
	}
	n, err := r.contacts.CountDocuments(ctx, bson.M{
		"status": model.FriendRequestConfirmed,
		"$or": bson.A{
			bson.M{"user_id": userID, "contact_user_id": contactUserID},
			bson.M{"user_id": contactUserID, "contact_user_id": userID},
		},
	}, options.Count().SetLimit(1))
	if err != nil {
		return err
	}
	if n > 0 {
		return ErrAlreadyContacts
	}

	// a row confirmed since the count fails the status filter, and the
	// upsert then hits the unique index
	filter := bson.M{
		"user_id":         userID,
		"contact_user_id": contactUserID,
		"status":          bson.M{"$ne": model.FriendRequestConfirmed},
	}
	update := bson.M{"$set": bson.M{
		"status":     model.FriendRequestPending,
		"updated_at": time.Now().UTC(),
	}}
	_, err = r.contacts.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	if mongo.IsDuplicateKeyError(err) {
		return ErrAlreadyContacts
	}
	return err
}

// AnswerFriendRequest confirms or rejects the pending request userID sent
// to contactUserID.
func (r *ContactRepo) AnswerFriendRequest(ctx context.Context, userID, contactUserID string, status model.FriendRequestStatus) error {
	filter := bson.M{
		"user_id":         userID,
		"contact_user_id": contactUserID,
		"status":          model.FriendRequestPending,
	}
	update := bson.M{"$set": bson.M{"status": status, "updated_at": time.Now().UTC()}}
	res, err := r.contacts.UpdateOne(ctx, filter, update)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrRequestNotFound
	}
	return nil
}

// Contacts returns the users with a confirmed request in either direction.
func (r *ContactRepo) Contacts(ctx context.Context, userID string) ([]string, error) {
	filter := bson.M{
		"status": model.FriendRequestConfirmed,
		"$or": bson.A{
			bson.M{"user_id": userID},
			bson.M{"contact_user_id": userID},
		},
	}
	cur, err := r.contacts.Find(ctx, filter)
	if err != nil {
		return nil, err
	}

	var reqs []model.FriendRequest
	if err := cur.All(ctx, &reqs); err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(reqs))
	ids := make([]string, 0, len(reqs))
	for _, req := range reqs {
		other := req.ContactUserID
		if other == userID {
			other = req.UserID
		}
		if _, ok := seen[other]; ok {
			continue
		}
		seen[other] = struct{}{}
		ids = append(ids, other)
	}
	return ids, nil
}

func (r *ContactRepo) Block(ctx context.Context, userID, blockedUserID string) error {
	if userID == blockedUserID {
		return ErrSelf
	}
	filter := bson.M{"user_id": userID, "blocked_user_id": blockedUserID}
	update := bson.M{"$setOnInsert": bson.M{"created_at": time.Now().UTC()}}
	_, err := r.blocks.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	return err
}

func (r *ContactRepo) Unblock(ctx context.Context, userID, blockedUserID string) error {
	_, err := r.blocks.DeleteOne(ctx, bson.M{"user_id": userID, "blocked_user_id": blockedUserID})
	return err
}

// IsBlocked reports whether either user blocks the other.
func (r *ContactRepo) IsBlocked(ctx context.Context, a, b string) (bool, error) {
	filter := bson.M{"$or": bson.A{
		bson.M{"user_id": a, "blocked_user_id": b},
		bson.M{"user_id": b, "blocked_user_id": a},
	}}
	n, err := r.blocks.CountDocuments(ctx, filter, options.Count().SetLimit(1))
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *ContactRepo) CreateChat(ctx context.Context, chat *model.Chat) error {
	_, err := r.chats.InsertOne(ctx, chat)
	if mongo.IsDuplicateKeyError(err) {
		return ErrChatExists
	}
	return err
}

func (r *ContactRepo) ChatMembers(ctx context.Context, chatID string) ([]string, error) {
	var chat model.Chat
	err := r.chats.FindOne(ctx, bson.M{"chat_id": chatID}).Decode(&chat)
	if err == mongo.ErrNoDocuments {
		return nil, ErrChatNotFound
	}
	if err != nil {
		return nil, err
	}
	return chat.Members, nil
}
