package handler_test

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/papersim/internal/handler"
	"github.com/papersim/internal/models"
	"github.com/papersim/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamHub_DeliversAccountFrames(t *testing.T) {
	hub := handler.NewStreamHub()
	router := gin.New()
	hub.RegisterRoutes(router.Group("/api/v1"), func(c *gin.Context) { c.Next() })

	srv := httptest.NewServer(router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/stream/acc-1"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.ClientCount("acc-1") == 1 }, time.Second, 5*time.Millisecond)

	// Frames for other accounts are not delivered
	require.NoError(t, hub.Publish(context.Background(), models.OutboxEvent{
		AccountID: "acc-2", EventType: models.EventTradeOpened, Payload: `{"n":0}`, CreatedAt: time.Now(),
	}))
	require.NoError(t, hub.Publish(context.Background(), models.OutboxEvent{
		ID: "evt-1", AccountID: "acc-1", EventType: models.EventTradeClosed, Payload: `{"n":1}`, CreatedAt: time.Now(),
	}))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg handler.StreamMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "event", msg.Type)
	assert.Equal(t, models.EventTradeClosed, msg.EventType)
	assert.JSONEq(t, `{"n":1}`, string(msg.Data))

	hub.OnTick("acc-1", &service.TickResult{Clock: &service.ClockState{AccountID: "acc-1", Speed: 2}})
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "tick", msg.Type)

	var tick service.TickResult
	require.NoError(t, json.Unmarshal(msg.Data, &tick))
	assert.Equal(t, 2.0, tick.Clock.Speed)

	conn.Close()
	require.Eventually(t, func() bool { return hub.ClientCount("acc-1") == 0 }, time.Second, 5*time.Millisecond)
}

func TestStreamHub_PublishWithoutClients(t *testing.T) {
	hub := handler.NewStreamHub()
	assert.NoError(t, hub.Publish(context.Background(), models.OutboxEvent{AccountID: "acc-1", Payload: `{}`}))
	hub.OnTick("acc-1", &service.TickResult{})
	assert.Zero(t, hub.ClientCount("acc-1"))
}
