package notify

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *Redis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, NewRedisWithClient(client)
}

func TestRedis_PublishAndInbox(t *testing.T) {
	_, r := setupTestRedis(t)
	ctx := context.Background()

	visitID := uuid.New()
	err := r.Publish(ctx, Message{
		Kind:       KindEscalation,
		Recipient:  "phc_doctor",
		VisitID:    visitID,
		Status:     "Pending PHC Review",
		RiskLevel:  "Red",
		TotalScore: 8,
		Emergency:  true,
		Actor:      "asha-1",
	})
	require.NoError(t, err)

	msgs, err := r.Inbox(ctx, "phc_doctor", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, visitID, msgs[0].VisitID)
	assert.Equal(t, KindEscalation, msgs[0].Kind)
	assert.True(t, msgs[0].Emergency)
	assert.NotEqual(t, uuid.Nil, msgs[0].ID)
	assert.False(t, msgs[0].OccurredAt.IsZero())
}

func TestRedis_InboxNewestFirst(t *testing.T) {
	_, r := setupTestRedis(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		require.NoError(t, r.Publish(ctx, Message{
			Kind:       KindDecision,
			Recipient:  "asha-7",
			TotalScore: i,
			OccurredAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	msgs, err := r.Inbox(ctx, "asha-7", 2)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, 2, msgs[0].TotalScore)
	assert.Equal(t, 1, msgs[1].TotalScore)
}

func TestRedis_InboxTrimmed(t *testing.T) {
	mr, r := setupTestRedis(t)
	ctx := context.Background()

	for i := 0; i < inboxLimit+5; i++ {
		require.NoError(t, r.Publish(ctx, Message{Kind: KindDecision, Recipient: "asha-9"}))
	}

	items, err := mr.List(InboxKey("asha-9"))
	require.NoError(t, err)
	assert.Len(t, items, inboxLimit)
}

func TestRedis_PublishRequiresRecipient(t *testing.T) {
	_, r := setupTestRedis(t)
	err := r.Publish(context.Background(), Message{Kind: KindDecision})
	assert.Error(t, err)
}

func TestRedis_PublishServerDown(t *testing.T) {
	mr, r := setupTestRedis(t)
	mr.Close()

	err := r.Publish(context.Background(), Message{Kind: KindDecision, Recipient: "asha-1"})
	assert.Error(t, err)
}

func TestNewRedis_AcceptsAddrAndURL(t *testing.T) {
	mr := miniredis.RunT(t)

	plain, err := NewRedis(mr.Addr())
	require.NoError(t, err)
	defer plain.Close()
	assert.NoError(t, plain.Ping(context.Background()))

	viaURL, err := NewRedis("redis://" + mr.Addr() + "/0")
	require.NoError(t, err)
	defer viaURL.Close()
	assert.NoError(t, viaURL.Ping(context.Background()))
}

func TestRecipients(t *testing.T) {
	assert.Equal(t, "rampur:role:phc_doctor", RoleRecipient("rampur", "phc_doctor"))
	assert.Equal(t, "rampur:user:asha-1", UserRecipient("rampur", "asha-1"))
	assert.Equal(t, "phcwatch:inbox:rampur:user:asha-1", InboxKey(UserRecipient("rampur", "asha-1")))
}

func TestNop_Publish(t *testing.T) {
	assert.NoError(t, Nop{}.Publish(context.Background(), Message{}))
}
