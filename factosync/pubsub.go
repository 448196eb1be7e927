package factosync

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"strings"

	"bitbucket.org/fidunova/cabinet_backend/config"
	"cloud.google.com/go/pubsub"
	"github.com/gin-gonic/gin"
)

// PublishSyncRun hands a queued run off to the async worker via pubsub.
// When FACTO_SYNC_INLINE is truthy the run is processed in-process instead,
// which is what local development and the test suite use.
func PublishSyncRun(ctx context.Context, runId uint, phase string) error {
	if envBoolDefault("FACTO_SYNC_INLINE", false) {
		return ProcessRun(ctx, RunPayload{RunId: runId, Phase: phase})
	}

	topicName := strings.TrimSpace(os.Getenv("FACTO_SYNC_TOPIC"))
	if topicName == "" {
		topicName = "facto-sync"
	}

	client, err := config.GetClient(ctx)
	if err != nil {
		return err
	}

	topic := client.Topic(topicName)
	if envBoolDefault("FACTO_SYNC_CREATE_TOPIC", false) {
		topic, err = config.CreateTopicIfNotExists(client, topicName)
		if err != nil {
			return err
		}
	}

	data, _ := json.Marshal(RunPayload{RunId: runId, Phase: phase})
	res := topic.Publish(ctx, &pubsub.Message{Data: data})
	_, err = res.Get(ctx)
	return err
}

// PubSubPushHandler accepts Google's push delivery. Always answers 204:
// a non-2xx would make pubsub redeliver, and redelivery of a run that
// already moved past queued is a no-op anyway.
func PubSubPushHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !envBoolDefault("ENABLE_FACTO_PUBSUB_PUSH_ENDPOINT", true) {
			c.Status(204)
			return
		}

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.Status(204)
			return
		}

		var envelope PubSubPushEnvelope
		if err := json.Unmarshal(body, &envelope); err != nil {
			c.Status(204)
			return
		}

		var payload RunPayload
		if err := json.Unmarshal(envelope.Message.Data, &payload); err != nil {
			c.Status(204)
			return
		}
		if payload.RunId == 0 || payload.Phase == "" {
			c.Status(204)
			return
		}

		if err := ProcessRun(c.Request.Context(), payload); err != nil {
			config.LogError(config.GetLogger(), "factosync", "PubSubPushHandler", "", payload, err)
		}
		c.Status(204)
	}
}

func envBoolDefault(key string, def bool) bool {
	val := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch val {
	case "true", "1", "yes", "y", "on":
		return true
	case "false", "0", "no", "n", "off":
		return false
	default:
		return def
	}
}
