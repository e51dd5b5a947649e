package api

import (
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

// Request body schemas, validated before a workflow is admitted.

const networkPacketSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["source_ip", "destination_ip", "destination_port"],
  "properties": {
    "packet_id": {"type": "string"},
    "source_ip": {"type": "string", "minLength": 1},
    "source_port": {"type": "integer", "minimum": 0, "maximum": 65535},
    "destination_ip": {"type": "string", "minLength": 1},
    "destination_port": {"type": "integer", "minimum": 0, "maximum": 65535},
    "protocol": {"type": "string"},
    "size": {"type": "integer", "minimum": 0},
    "payload": {"type": "string"},
    "timestamp": {"type": "string"},
    "interface": {"type": "string"}
  }
}`

const userActivitySchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["user_id", "ip_address", "activity_type"],
  "properties": {
    "activity_id": {"type": "string"},
    "user_id": {"type": "string", "minLength": 1},
    "ip_address": {"type": "string", "minLength": 1},
    "activity_type": {"type": "string", "minLength": 1},
    "resource_accessed": {"type": "string"},
    "successful": {"type": "boolean"},
    "timestamp": {"type": "string"},
    "user_agent": {"type": "string"},
    "location": {"type": "string"},
    "session_id": {"type": "string"}
  }
}`

const correlationInputSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "properties": {
    "packets": {
      "type": "array",
      "items": {"type": "object"}
    },
    "activities": {
      "type": "array",
      "items": {"type": "object"}
    }
  }
}`

type schemas struct {
	networkPacket    *gojsonschema.Schema
	userActivity     *gojsonschema.Schema
	correlationInput *gojsonschema.Schema
}

func compileSchemas() (*schemas, error) {
	compile := func(name, raw string) (*gojsonschema.Schema, error) {
		schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(raw))
		if err != nil {
			return nil, fmt.Errorf("failed to compile %s schema: %w", name, err)
		}
		return schema, nil
	}

	var s schemas
	var err error
	if s.networkPacket, err = compile("network packet", networkPacketSchema); err != nil {
		return nil, err
	}
	if s.userActivity, err = compile("user activity", userActivitySchema); err != nil {
		return nil, err
	}
	if s.correlationInput, err = compile("correlation input", correlationInputSchema); err != nil {
		return nil, err
	}
	return &s, nil
}

// validate checks body against schema and returns the collected violation
// messages when it does not conform.
func validate(schema *gojsonschema.Schema, body []byte) []string {
	result, err := schema.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return []string{err.Error()}
	}
	if result.Valid() {
		return nil
	}
	violations := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		violations = append(violations, desc.String())
	}
	return violations
}
