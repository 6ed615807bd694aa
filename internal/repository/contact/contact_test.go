package contact

import (
	"context"
	"testing"

	"stego_chat/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"
)

const ns = "stego.contacts"

func countResponse(n int64) bson.D {
	if n == 0 {
		return mtest.CreateCursorResponse(0, ns, mtest.FirstBatch)
	}
	return mtest.CreateCursorResponse(0, ns, mtest.FirstBatch, bson.D{{Key: "n", Value: n}})
}

func updateResponse(matched int32) bson.D {
	return mtest.CreateSuccessResponse(
		bson.E{Key: "n", Value: matched},
		bson.E{Key: "nModified", Value: matched},
	)
}

func duplicateKeyResponse() bson.D {
	return mtest.CreateWriteErrorsResponse(mtest.WriteError{Index: 0, Code: 11000, Message: "E11000 duplicate key error"})
}

func TestSendFriendRequest(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))
	ctx := context.Background()

	mt.Run("new request", func(mt *mtest.T) {
		repo := NewContactRepo(mt.DB)
		mt.AddMockResponses(countResponse(0), updateResponse(1))
		assert.NoError(mt, repo.SendFriendRequest(ctx, "alice", "bob"))
	})

	mt.Run("confirmed pair is kept", func(mt *mtest.T) {
		repo := NewContactRepo(mt.DB)
		mt.AddMockResponses(countResponse(1))
		assert.ErrorIs(mt, repo.SendFriendRequest(ctx, "bob", "alice"), ErrAlreadyContacts)
		// nothing was written
		require.NotNil(mt, mt.GetStartedEvent())
		assert.Nil(mt, mt.GetStartedEvent())
	})

	mt.Run("confirmed after the count", func(mt *mtest.T) {
		repo := NewContactRepo(mt.DB)
		mt.AddMockResponses(countResponse(0), duplicateKeyResponse())
		assert.ErrorIs(mt, repo.SendFriendRequest(ctx, "alice", "bob"), ErrAlreadyContacts)
	})

	mt.Run("self", func(mt *mtest.T) {
		repo := NewContactRepo(mt.DB)
		assert.ErrorIs(mt, repo.SendFriendRequest(ctx, "alice", "alice"), ErrSelf)
	})
}

func TestAnswerFriendRequest(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))
	ctx := context.Background()

	mt.Run("pending", func(mt *mtest.T) {
		repo := NewContactRepo(mt.DB)
		mt.AddMockResponses(updateResponse(1))
		assert.NoError(mt, repo.AnswerFriendRequest(ctx, "alice", "bob", model.FriendRequestConfirmed))
	})

	mt.Run("no pending request", func(mt *mtest.T) {
		repo := NewContactRepo(mt.DB)
		mt.AddMockResponses(updateResponse(0))
		assert.ErrorIs(mt, repo.AnswerFriendRequest(ctx, "alice", "bob", model.FriendRequestRejected), ErrRequestNotFound)
	})
}

func TestContactsDedupesBothDirections(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("contacts", func(mt *mtest.T) {
		repo := NewContactRepo(mt.DB)
		mt.AddMockResponses(mtest.CreateCursorResponse(0, ns, mtest.FirstBatch,
			bson.D{{Key: "user_id", Value: "alice"}, {Key: "contact_user_id", Value: "bob"}, {Key: "status", Value: "confirmed"}},
			bson.D{{Key: "user_id", Value: "carol"}, {Key: "contact_user_id", Value: "alice"}, {Key: "status", Value: "confirmed"}},
			bson.D{{Key: "user_id", Value: "bob"}, {Key: "contact_user_id", Value: "alice"}, {Key: "status", Value: "confirmed"}},
		))

		ids, err := repo.Contacts(context.Background(), "alice")
		require.NoError(mt, err)
		assert.Equal(mt, []string{"bob", "carol"}, ids)
	})
}

func TestIsBlocked(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))
	ctx := context.Background()

	mt.Run("blocked", func(mt *mtest.T) {
		repo := NewContactRepo(mt.DB)
		mt.AddMockResponses(countResponse(1))
		blocked, err := repo.IsBlocked(ctx, "alice", "bob")
		require.NoError(mt, err)
		assert.True(mt, blocked)
	})

	mt.Run("not blocked", func(mt *mtest.T) {
		repo := NewContactRepo(mt.DB)
		mt.AddMockResponses(countResponse(0))
		blocked, err := repo.IsBlocked(ctx, "alice", "bob")
		require.NoError(mt, err)
		assert.False(mt, blocked)
	})

	mt.Run("block self", func(mt *mtest.T) {
		repo := NewContactRepo(mt.DB)
		assert.ErrorIs(mt, repo.Block(ctx, "alice", "alice"), ErrSelf)
	})
}

func TestChats(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))
	ctx := context.Background()
	chat := &model.Chat{ChatID: "room", Name: "Room", Members: []string{"alice", "bob"}}

	mt.Run("create", func(mt *mtest.T) {
		repo := NewContactRepo(mt.DB)
		mt.AddMockResponses(mtest.CreateSuccessResponse(bson.E{Key: "n", Value: int32(1)}))
		assert.NoError(mt, repo.CreateChat(ctx, chat))
	})

	mt.Run("create existing", func(mt *mtest.T) {
		repo := NewContactRepo(mt.DB)
		mt.AddMockResponses(duplicateKeyResponse())
		assert.ErrorIs(mt, repo.CreateChat(ctx, chat), ErrChatExists)
	})

	mt.Run("members", func(mt *mtest.T) {
		repo := NewContactRepo(mt.DB)
		mt.AddMockResponses(mtest.CreateCursorResponse(0, "stego.chats", mtest.FirstBatch,
			bson.D{{Key: "chat_id", Value: "room"}, {Key: "name", Value: "Room"}, {Key: "members", Value: bson.A{"alice", "bob"}}},
		))
		members, err := repo.ChatMembers(ctx, "room")
		require.NoError(mt, err)
		assert.Equal(mt, []string{"alice", "bob"}, members)
	})

	mt.Run("unknown chat", func(mt *mtest.T) {
		repo := NewContactRepo(mt.DB)
		mt.AddMockResponses(mtest.CreateCursorResponse(0, "stego.chats", mtest.FirstBatch))
		_, err := repo.ChatMembers(ctx, "nowhere")
		assert.ErrorIs(mt, err, ErrChatNotFound)
	})
}
