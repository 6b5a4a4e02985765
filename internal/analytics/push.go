// Package analytics accepts already-classified event JSON from an
// external analytics feed and injects it into the realtime stream
// without passing through the normalizer. The payload is validated
// against the streamed-message shape first so one misbehaving producer
// cannot poison every subscriber.
package analytics

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/tidwall/gjson"

	"kiwoomd/internal/logger"
	"kiwoomd/internal/stream"
)

const schemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["type", "timestamp", "data"],
  "properties": {
    "type": {"type": "string", "minLength": 1},
    "code": {"type": "string"},
    "timestamp": {"type": "string", "pattern": "^[0-9]{14}$"},
    "data": {"type": "object"}
  },
  "additionalProperties": false
}`

// Pusher validates and forwards external analytics events.
type Pusher struct {
	hub    *stream.Hub
	schema *jsonschema.Schema
}

func NewPusher(hub *stream.Hub) (*Pusher, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("analytics.json", strings.NewReader(schemaJSON)); err != nil {
		return nil, fmt.Errorf("add analytics schema: %w", err)
	}
	schema, err := compiler.Compile("analytics.json")
	if err != nil {
		return nil, fmt.Errorf("compile analytics schema: %w", err)
	}
	return &Pusher{hub: hub, schema: schema}, nil
}

// Push validates raw and broadcasts it verbatim on the realtime stream.
// Returns the number of subscribers reached.
func (p *Pusher) Push(raw []byte) (int, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, fmt.Errorf("analytics payload is not JSON: %w", err)
	}
	if err := p.schema.Validate(v); err != nil {
		return 0, fmt.Errorf("analytics payload rejected: %w", err)
	}
	evType := gjson.GetBytes(raw, "type").String()
	code := gjson.GetBytes(raw, "code").String()
	logger.Debugf("analytics: push type=%s code=%s", evType, code)
	return p.hub.Broadcast(stream.StreamRealtime, json.RawMessage(raw)), nil
}
