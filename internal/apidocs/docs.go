// Package apidocs holds the OpenAPI document served under /swagger when
// chatd is built with -tags=swagger.
package apidocs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {
            "name": "chatd maintainers"
        },
        "license": {
            "name": "MIT",
            "url": "https://opensource.org/licenses/MIT"
        },
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
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/types.ModelsResponse"}}
                }
            }
        },
        "/status": {
            "get": {
                "produces": ["application/json"],
                "tags": ["session"],
                "summary": "Session status",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/types.StatusResponse"}}
                }
            }
        },
        "/model": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["session"],
                "summary": "Select the model and start loading it in the background",
                "parameters": [
                    {"description": "model", "name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/types.ModelRequest"}}
                ],
                "responses": {
                    "202": {"description": "Accepted", "schema": {"$ref": "#/definitions/types.AcceptedResponse"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}
                }
            }
        },
        "/load": {
            "post": {
                "produces": ["application/json"],
                "tags": ["session"],
                "summary": "Load the requested model and wait for it",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/types.StatusResponse"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "502": {"description": "Bad Gateway", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "503": {"description": "Service Unavailable", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}
                }
            }
        },
        "/chat": {
            "post": {
                "description": "Streams NDJSON lines: {\"delta\":...} per fragment, then {\"done\":true,\"content\":...}.",
                "consumes": ["application/json"],
                "produces": ["application/x-ndjson"],
                "tags": ["chat"],
                "summary": "Send a message and stream the reply",
                "parameters": [
                    {"description": "message", "name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/types.ChatRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/types.ChatLine"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "429": {"description": "Too Many Requests", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "502": {"description": "Bad Gateway", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}
                }
            }
        },
        "/interrupt": {
            "post": {
                "produces": ["application/json"],
                "tags": ["chat"],
                "summary": "Interrupt the running generation",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/types.AcceptedResponse"}}
                }
            }
        },
        "/reset": {
            "post": {
                "produces": ["application/json"],
                "tags": ["chat"],
                "summary": "Clear the conversation",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/types.AcceptedResponse"}}
                }
            }
        },
        "/events": {
            "get": {
                "produces": ["application/x-ndjson"],
                "tags": ["session"],
                "summary": "Stream session events",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/session.Event"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}
                }
            }
        },
        "/history": {
            "get": {
                "produces": ["application/json"],
                "tags": ["chat"],
                "summary": "Recent recorded exchanges",
                "parameters": [
                    {"type": "integer", "default": 50, "description": "max turns", "name": "limit", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/types.HistoryResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}
                }
            }
        }
    },
    "definitions": {
        "session.Event": {
            "type": "object",
            "properties": {
                "name": {"type": "string", "example": "load_ready"},
                "session_id": {"type": "string"},
                "model_id": {"type": "string"},
                "time": {"type": "string"},
                "fields": {"type": "object", "additionalProperties": true}
            }
        },
        "types.AcceptedResponse": {
            "type": "object",
            "properties": {
                "model": {"type": "string", "example": "tinyllama-1.1b-chat.Q4_K_M.gguf"},
                "status": {"type": "string", "example": "accepted"}
            }
        },
        "types.ChatLine": {
            "type": "object",
            "properties": {
                "content": {"type": "string"},
                "delta": {"type": "string", "example": "Waves"},
                "done": {"type": "boolean"},
                "error": {"type": "string"}
            }
        },
        "types.ChatRequest": {
            "type": "object",
            "properties": {
                "message": {"type": "string", "example": "Write a haiku about the ocean."}
            }
        },
        "types.ErrorResponse": {
            "type": "object",
            "properties": {
                "code": {"type": "integer", "example": 400},
                "error": {"type": "string", "example": "invalid JSON body"}
            }
        },
        "types.HistoryResponse": {
            "type": "object",
            "properties": {
                "turns": {"type": "array", "items": {"$ref": "#/definitions/types.Turn"}}
            }
        },
        "types.Message": {
            "type": "object",
            "properties": {
                "content": {"type": "string", "example": "hello"},
                "role": {"type": "string", "example": "user"}
            }
        },
        "types.Model": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "name": {"type": "string"},
                "path": {"type": "string"},
                "quant": {"type": "string"},
                "size_bytes": {"type": "integer"}
            }
        },
        "types.ModelRequest": {
            "type": "object",
            "properties": {
                "model": {"type": "string", "example": "tinyllama-1.1b-chat.Q4_K_M.gguf"}
            }
        },
        "types.ModelsResponse": {
            "type": "object",
            "properties": {
                "models": {"type": "array", "items": {"$ref": "#/definitions/types.Model"}}
            }
        },
        "types.Progress": {
            "type": "object",
            "properties": {
                "progress": {"type": "number", "example": 0.42},
                "text": {"type": "string"},
                "time_elapsed": {"type": "number", "example": 3.2}
            }
        },
        "types.StatusResponse": {
            "type": "object",
            "properties": {
                "conversation": {"type": "array", "items": {"$ref": "#/definitions/types.Message"}},
                "error": {"type": "string"},
                "generating": {"type": "boolean"},
                "loaded_model": {"type": "string"},
                "loading": {"type": "boolean"},
                "loading_model": {"type": "string"},
                "pending_model": {"type": "string"},
                "progress": {"$ref": "#/definitions/types.Progress"},
                "ready": {"type": "boolean"},
                "requested_model": {"type": "string"},
                "server_time_unix": {"type": "integer", "example": 1700000000},
                "session_id": {"type": "string"},
                "status": {"type": "string", "example": "Ready"},
                "status_color": {"type": "string", "example": "success"},
                "uptime_seconds": {"type": "integer", "example": 3600}
            }
        },
        "types.Turn": {
            "type": "object",
            "properties": {
                "assistant": {"type": "string"},
                "created_unix": {"type": "integer"},
                "finish_reason": {"type": "string", "example": "stop"},
                "id": {"type": "integer"},
                "model": {"type": "string"},
                "session_id": {"type": "string"},
                "user": {"type": "string"}
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
	Title:            "chatd API",
	Description:      "HTTP API for a single-session local LLM chat: model selection, loading and streamed replies.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
