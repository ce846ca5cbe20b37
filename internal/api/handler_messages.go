package api

import (
	"bytes"
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"vendorflow-backend/internal/ingest"
	"vendorflow-backend/internal/parse"
)

// recentMessageLimit is how many messages GET /api/mqtt/messages returns.
const recentMessageLimit = 50

// inboundEnvelope is the body of POST /api/mqtt/messages.
type inboundEnvelope struct {
	Topic     string          `json:"topic"`
	Payload   json.RawMessage `json:"payload"`
	DeviceID  *string         `json:"device_id"`
	Timestamp any             `json:"timestamp"`
}

// GetMessages handles GET /api/mqtt/messages, newest first.
func (h *Handler) GetMessages(c *gin.Context) {
	msgs, err := h.store.RecentMessages(c.Request.Context(), recentMessageLimit)
	if err != nil {
		h.logger.Error("failed to list messages", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch MQTT messages"})
		return
	}
	c.JSON(http.StatusOK, msgs)
}

// PostMessage handles POST /api/mqtt/messages by running the full pipeline
// before answering.
func (h *Handler) PostMessage(c *gin.Context) {
	env, payload, err := decodeEnvelope(c)
	if err != nil {
		h.logger.Warn("rejecting unparseable message", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Failed to process MQTT message"})
		return
	}

	msg := ingest.RawMessage{
		Topic:     env.Topic,
		Payload:   payload,
		Timestamp: env.Timestamp,
		Source:    ingest.SourceHTTP,
	}
	if env.DeviceID != nil {
		msg.DeviceID = *env.DeviceID
	}

	if _, err := h.ingestor.Process(c.Request.Context(), msg); err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Failed to process MQTT message"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// decodeEnvelope reads the request body. The payload must be a JSON object
// when present; a missing or null payload is treated as empty.
func decodeEnvelope(c *gin.Context) (*inboundEnvelope, map[string]any, error) {
	raw, err := c.GetRawData()
	if err != nil {
		return nil, nil, err
	}
	if _, err := parse.JSONObject(raw); err != nil {
		return nil, nil, err
	}

	var env inboundEnvelope
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&env); err != nil {
		return nil, nil, err
	}

	if len(env.Payload) == 0 || string(env.Payload) == "null" {
		return &env, map[string]any{}, nil
	}
	payload, err := parse.JSONObject(env.Payload)
	if err != nil {
		return nil, nil, err
	}
	return &env, payload, nil
}
