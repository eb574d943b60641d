package config

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// schemaJSON is the contract the configuration file must satisfy before any
// field is decoded. Durations accept Go duration strings or millisecond
// numbers; unknown keys are rejected to catch typos early.
const schemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "additionalProperties": false,
  "$defs": {
    "duration": {
      "oneOf": [
        {"type": "string", "pattern": "^[0-9]+(\\.[0-9]+)?(ns|us|ms|s|m|h)$"},
        {"type": "number", "minimum": 0}
      ]
    },
    "skillIDList": {
      "type": "array",
      "items": {"type": "string", "minLength": 1}
    },
    "endpoint": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "subject": {"type": "string", "minLength": 1},
        "timeout": {"$ref": "#/$defs/duration"}
      }
    }
  },
  "properties": {
    "lang": {"type": "string", "minLength": 2},
    "secondary_langs": {
      "type": "array",
      "items": {"type": "string", "minLength": 2}
    },
    "nats": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "urls": {"type": "array", "items": {"type": "string", "minLength": 1}},
        "name": {"type": "string"},
        "max_reconnects": {"type": "integer"},
        "reconnect_wait": {"$ref": "#/$defs/duration"},
        "username": {"type": "string"},
        "password": {"type": "string"},
        "token": {"type": "string"}
      }
    },
    "fallback": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "fallback_priorities": {
          "type": "object",
          "additionalProperties": {"type": "integer", "minimum": 0, "maximum": 100}
        },
        "fallback_mode": {"enum": ["accept_all", "blacklist", "whitelist"]},
        "fallback_blacklist": {"$ref": "#/$defs/skillIDList"},
        "fallback_whitelist": {"$ref": "#/$defs/skillIDList"},
        "discovery_timeout": {"$ref": "#/$defs/duration"},
        "handler_timeout": {"$ref": "#/$defs/duration"},
        "legacy_timeout": {"$ref": "#/$defs/duration"}
      }
    },
    "converse": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "timeout": {"$ref": "#/$defs/duration"}
      }
    },
    "matchers": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "statistical": {"$ref": "#/$defs/endpoint"},
        "keyword": {"$ref": "#/$defs/endpoint"},
        "qa": {"$ref": "#/$defs/endpoint"}
      }
    },
    "metrics": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "enabled": {"type": "boolean"},
        "addr": {"type": "string"}
      }
    }
  }
}`

var compiledSchema = mustCompileSchema()

func mustCompileSchema() *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("config.schema.json", strings.NewReader(schemaJSON)); err != nil {
		panic(fmt.Sprintf("config: add schema resource: %v", err))
	}
	schema, err := compiler.Compile("config.schema.json")
	if err != nil {
		panic(fmt.Sprintf("config: compile schema: %v", err))
	}
	return schema
}

// validateSchema checks raw JSON against the embedded schema.
func validateSchema(data []byte) error {
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("config is not valid JSON: %w", err)
	}
	if err := compiledSchema.Validate(doc); err != nil {
		return fmt.Errorf("config does not match schema: %w", err)
	}
	return nil
}
