package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/lucy-a11y/shuffle/internal/config"
	"github.com/lucy-a11y/shuffle/internal/model"
)

func sampleSession() *model.ShuffleSession {
	return &model.ShuffleSession{
		ID:                "sess-1",
		ProjectID:         7,
		UserID:            "user-1",
		Category:          "dentists",
		Status:            model.SessionStatusCompleted,
		TotalSites:        10,
		ScannedSites:      10,
		NonCompliantSites: 4,
		LeadsGenerated:    9,
	}
}

func TestFromSession(t *testing.T) {
	at := time.Date(2026, 4, 2, 10, 0, 0, 0, time.FixedZone("EST", -5*3600))
	e := FromSession(TypeShuffleFinished, sampleSession(), at)

	assert.Equal(t, TypeShuffleFinished, e.Type)
	assert.Equal(t, "sess-1", e.SessionID)
	assert.Equal(t, int64(7), e.ProjectID)
	assert.Equal(t, model.SessionStatusCompleted, e.Status)
	assert.Equal(t, 4, e.NonCompliantSites)
	assert.Equal(t, 9, e.LeadsGenerated)
	assert.Equal(t, time.UTC, e.OccurredAt.Location())
}

func TestNew_SelectsProvider(t *testing.T) {
	p, err := New(context.Background(), config.EventsConfig{Provider: "none"})
	require.NoError(t, err)
	assert.IsType(t, Nop{}, p)

	p, err = New(context.Background(), config.EventsConfig{Provider: "log"})
	require.NoError(t, err)
	assert.IsType(t, &LogPublisher{}, p)

	_, err = New(context.Background(), config.EventsConfig{Provider: "kafka"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown provider")
}

func TestLogPublisher(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	p := NewLogPublisher(zap.New(core))

	require.NoError(t, p.Publish(context.Background(), FromSession(TypeShuffleStarted, sampleSession(), time.Now())))
	require.NoError(t, p.Close())

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "session event", entry.Message)
	assert.Equal(t, TypeShuffleStarted, entry.ContextMap()["type"])
	assert.Equal(t, "sess-1", entry.ContextMap()["session_id"])
}

func TestPubSubPublisher(t *testing.T) {
	ctx := context.Background()

	srv := pstest.NewServer()
	defer srv.Close() //nolint:errcheck

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close() //nolint:errcheck

	client, err := pubsub.NewClient(ctx, "lucy-test", option.WithGRPCConn(conn))
	require.NoError(t, err)

	topic, err := client.CreateTopic(ctx, "shuffle-events")
	require.NoError(t, err)
	_, err = client.CreateSubscription(ctx, "shuffle-events-sub", pubsub.SubscriptionConfig{Topic: topic})
	require.NoError(t, err)

	p := NewPubSubPublisher(client, "shuffle-events")
	require.NoError(t, p.Publish(ctx, FromSession(TypeShuffleFinished, sampleSession(), time.Now())))
	require.NoError(t, p.Close())

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, TypeShuffleFinished, msgs[0].Attributes["type"])
	assert.Equal(t, "sess-1", msgs[0].Attributes["session_id"])

	var got Event
	require.NoError(t, json.Unmarshal(msgs[0].Data, &got))
	assert.Equal(t, "dentists", got.Category)
	assert.Equal(t, 10, got.ScannedSites)
}
