// Package webhook ingests provider push notifications and turns them into
// synchronization triggers on the event bus.
package webhook

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"

	"depsync/internal"
	"depsync/pkg/storage"
)

// flattenBody decodes a JSON payload into the flattened form trigger rules
// evaluate against. Undecodable bodies yield an empty map, never an error:
// the handler still acknowledges the delivery.
func flattenBody(raw []byte) map[string]interface{} {
	var out map[string]interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return map[string]interface{}{}
	}
	return internal.Flatten(out)
}

// stringField returns the first present key from a flattened payload,
// rendered as a string. JSON numbers arrive as float64 and are printed
// without a fractional part when integral.
func stringField(data map[string]interface{}, keys ...string) string {
	for _, key := range keys {
		value, ok := data[key]
		if !ok {
			continue
		}
		switch typed := value.(type) {
		case string:
			if typed != "" {
				return typed
			}
		case float64:
			if typed == float64(int64(typed)) {
				return strconv.FormatInt(int64(typed), 10)
			}
			return strconv.FormatFloat(typed, 'f', -1, 64)
		}
	}
	return ""
}

// lookupOrganization resolves the organization a delivery belongs to from
// the ?organization= query parameter every registered hook URL carries.
func lookupOrganization(ctx context.Context, store storage.Store, r *http.Request) *storage.OrganizationRecord {
	id := r.URL.Query().Get("organization")
	if id == "" {
		return nil
	}
	org, err := store.GetOrganization(ctx, id)
	if err != nil {
		return nil
	}
	return org
}

func emit(ctx context.Context, rules *internal.RuleEngine, publisher internal.Publisher, logger *log.Logger, event internal.Event) {
	topics := rules.Evaluate(event)
	logger.Printf("event provider=%s name=%s topics=%v", event.Provider, event.Name, topics)
	for _, topic := range topics {
		if err := publisher.Publish(ctx, topic, event); err != nil {
			logger.Printf("publish %s failed: %v", topic, err)
		}
	}
}
