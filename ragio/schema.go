package ragio

import (
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const interchangeSchema = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"title": "region adjacency graph",
	"type": "object",
	"required": ["edge_list"],
	"properties": {
		"version": {"type": "string"},
		"run_id": {"type": "string"},
		"edge_list": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["node1", "node2"],
				"properties": {
					"node1": {"type": "integer", "minimum": 1},
					"node2": {"type": "integer", "minimum": 1},
					"size1": {"type": "integer", "minimum": 0},
					"size2": {"type": "integer", "minimum": 0},
					"weight": {"type": "number"},
					"edge_size": {"type": "integer", "minimum": 0},
					"preserve": {"type": ["boolean", "integer"]},
					"false_edge": {"type": ["boolean", "integer"]},
					"location": {
						"type": "array",
						"items": {"type": "integer"},
						"minItems": 3,
						"maxItems": 3
					}
				}
			}
		},
		"node_list": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["node"],
				"properties": {
					"node": {"type": "integer", "minimum": 1},
					"size": {"type": "integer", "minimum": 0},
					"boundary_size": {"type": "integer", "minimum": 0},
					"mito_type": {"type": "integer", "minimum": 0, "maximum": 2}
				}
			}
		}
	}
}`

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		schema, schemaErr = jsonschema.CompileString("ragio.schema.json", interchangeSchema)
	})
	return schema, schemaErr
}

// Validate checks a decoded JSON value against the interchange schema.
func Validate(v interface{}) error {
	sch, err := compiledSchema()
	if err != nil {
		return err
	}
	return sch.Validate(v)
}
