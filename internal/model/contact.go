package model

import "time"

type FriendRequestStatus string

const (
	FriendRequestPending   FriendRequestStatus = "pending"
	FriendRequestConfirmed FriendRequestStatus = "confirmed"
	FriendRequestRejected  FriendRequestStatus = "rejected"
)

type (
	FriendRequest struct {
		UserID        string              `bson:"user_id" json:"user_id"`
		ContactUserID string              `bson:"contact_user_id" json:"contact_user_id"`
		Status        FriendRequestStatus `bson:"status" json:"status"`
		UpdatedAt     time.Time           `bson:"updated_at" json:"updated_at"`
	}

	Block struct {
		UserID        string    `bson:"user_id" json:"user_id"`
		BlockedUserID string    `bson:"blocked_user_id" json:"blocked_user_id"`
		CreatedAt     time.Time `bson:"created_at" json:"created_at"`
	}

	Chat struct {
		ChatID  string   `bson:"chat_id" json:"chat_id"`
		Name    string   `bson:"name" json:"name"`
		Members []string `bson:"members" json:"members"`
	}
)
