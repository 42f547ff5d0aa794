// Package docs registers the wishmaster OpenAPI document with swag.
// Regenerate with `swag init -g cmd/wishmaster/docs.go -o internal/httpapi/docs`.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "license": {"name": "MIT", "url": "https://opensource.org/licenses/MIT"},
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/models": {
            "get": {
                "produces": ["application/json"],
                "tags": ["models"],
                "summary": "List models",
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/types.ModelsResponse"}}}
            }
        },
        "/status": {
            "get": {
                "produces": ["application/json"],
                "tags": ["engine"],
                "summary": "Engine status",
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/types.StatusResponse"}}}
            }
        },
        "/model/load": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["models"],
                "summary": "Load a model",
                "parameters": [{"name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/types.LoadRequest"}}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/types.StatusResponse"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "422": {"description": "Unprocessable Entity", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "503": {"description": "Service Unavailable", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}
                }
            }
        },
        "/model/unload": {
            "post": {
                "produces": ["application/json"],
                "tags": ["models"],
                "summary": "Unload the model",
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/types.StatusResponse"}}}
            }
        },
        "/generate": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/x-ndjson"],
                "tags": ["engine"],
                "summary": "Generate a reply",
                "parameters": [{"name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/types.GenerateRequest"}}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/types.GenerateChunk"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "415": {"description": "Unsupported Media Type", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}
                }
            }
        },
        "/stop": {
            "post": {
                "produces": ["application/json"],
                "tags": ["engine"],
                "summary": "Stop the running generation",
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/types.StopResponse"}}}
            }
        }
    },
    "definitions": {
        "types.ChatMessage": {
            "type": "object",
            "properties": {"role": {"type": "string", "example": "user"}, "content": {"type": "string"}}
        },
        "types.GenerateRequest": {
            "type": "object",
            "properties": {
                "prompt": {"type": "string", "example": "Write a haiku about the ocean."},
                "raw": {"type": "boolean"},
                "history": {"type": "array", "items": {"$ref": "#/definitions/types.ChatMessage"}},
                "mode": {"type": "string", "example": "chat"},
                "system": {"type": "string"},
                "temperature": {"type": "number", "example": 0.7},
                "max_tokens": {"type": "integer", "example": 128},
                "stop": {"type": "array", "items": {"type": "string"}}
            }
        },
        "types.GenerateChunk": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "token": {"type": "string"},
                "done": {"type": "boolean"},
                "reason": {"type": "string", "example": "eos"},
                "tokens": {"type": "integer"},
                "error": {"type": "string"}
            }
        },
        "types.LoadRequest": {
            "type": "object",
            "properties": {
                "path": {"type": "string"},
                "model": {"type": "string"},
                "context_length": {"type": "integer", "example": 4096}
            }
        },
        "types.Model": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "name": {"type": "string"},
                "path": {"type": "string"},
                "quant": {"type": "string"},
                "family": {"type": "string"},
                "size_bytes": {"type": "integer"},
                "size": {"type": "string"}
            }
        },
        "types.ModelsResponse": {
            "type": "object",
            "properties": {"models": {"type": "array", "items": {"$ref": "#/definitions/types.Model"}}}
        },
        "types.ErrorResponse": {
            "type": "object",
            "properties": {"error": {"type": "string"}, "code": {"type": "integer"}}
        },
        "types.StopResponse": {
            "type": "object",
            "properties": {"stopped": {"type": "boolean"}}
        },
        "types.StatusResponse": {
            "type": "object",
            "properties": {
                "state": {"type": "string"},
                "backend": {"type": "string"},
                "loaded": {"type": "boolean"},
                "model_name": {"type": "string"},
                "model_path": {"type": "string"},
                "context_length": {"type": "integer"},
                "threads": {"type": "integer"},
                "batch_size": {"type": "integer"},
                "vocab_size": {"type": "integer"},
                "gpu_layers": {"type": "integer", "example": 99},
                "memory_mb": {"type": "integer"},
                "generating": {"type": "boolean"},
                "session_id": {"type": "string"},
                "tokens_produced": {"type": "integer"},
                "uptime_seconds": {"type": "integer"},
                "server_time_unix": {"type": "integer"}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it.
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{"http"},
	Title:            "wishmaster API",
	Description:      "HTTP API for local LLM text generation.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
