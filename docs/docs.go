// Package docs registers the OpenAPI (Swagger 2.0) document served under
// /swagger when SWAGGER_ENABLED is set. The paths mirror the godoc
// annotations on internal/http/handlers; regenerate with `swag init -g
// cmd/api/main.go` after changing them.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {},
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/auth/register": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["Auth"],
                "summary": "Create an account",
                "operationId": "register",
                "parameters": [
                    {"description": "Account", "name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handlers.RegisterRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/services.AuthResult"}},
                    "400": {"description": "Bad request", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "409": {"description": "EMAIL_TAKEN", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/auth/login": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["Auth"],
                "summary": "Sign in",
                "operationId": "login",
                "parameters": [
                    {"description": "Credentials", "name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handlers.LoginRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/services.AuthResult"}},
                    "401": {"description": "INVALID_EMAIL or INVALID_PASSWORD", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/auth/refresh": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["Auth"],
                "summary": "Rotate tokens",
                "operationId": "refresh",
                "parameters": [
                    {"description": "Refresh token", "name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handlers.RefreshRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/services.AuthResult"}},
                    "401": {"description": "INVALID_REFRESH_TOKEN", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/content/generate": {
            "post": {
                "security": [{"BearerAuth": []}],
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["Content"],
                "summary": "Request content generation",
                "description": "Stores a pending content in a new or existing thread and queues its generation.",
                "operationId": "generateContent",
                "parameters": [
                    {"type": "string", "description": "Replay-safe retry key", "name": "Idempotency-Key", "in": "header"},
                    {"description": "Generation request", "name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handlers.GenerateContentRequest"}}
                ],
                "responses": {
                    "202": {"description": "Accepted", "schema": {"$ref": "#/definitions/domain.Thread"}},
                    "400": {"description": "Bad request", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "404": {"description": "THREAD_NOT_FOUND", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/content/{id}": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["Content"],
                "summary": "Get a content",
                "operationId": "getContent",
                "parameters": [
                    {"type": "string", "description": "Content ID", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/domain.Content"}},
                    "404": {"description": "CONTENT_NOT_FOUND", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            },
            "patch": {
                "security": [{"BearerAuth": []}],
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["Content"],
                "summary": "Set the sentiment of a content",
                "operationId": "updateContent",
                "parameters": [
                    {"type": "string", "description": "Content ID", "name": "id", "in": "path", "required": true},
                    {"description": "Sentiment", "name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handlers.UpdateContentRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/domain.Content"}},
                    "400": {"description": "Bad request", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "404": {"description": "CONTENT_NOT_FOUND", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/threads": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["Threads"],
                "summary": "List threads",
                "operationId": "listThreads",
                "parameters": [
                    {"type": "integer", "default": 1, "name": "page", "in": "query"},
                    {"type": "integer", "default": 20, "name": "page_size", "in": "query"},
                    {"type": "string", "enum": ["active", "archived"], "name": "status", "in": "query"},
                    {"type": "string", "name": "type", "in": "query"},
                    {"type": "string", "name": "search", "in": "query"},
                    {"type": "string", "enum": ["newest", "oldest"], "name": "sort", "in": "query"},
                    {"type": "string", "name": "If-None-Match", "in": "header"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.ListThreadsResponse"}},
                    "304": {"description": "Not modified"},
                    "400": {"description": "Bad request", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/threads/summary": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["Threads"],
                "summary": "Count threads and contents by status",
                "operationId": "threadSummary",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/services.ThreadSummary"}}
                }
            }
        },
        "/threads/{id}": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["Threads"],
                "summary": "Get a thread with its contents",
                "operationId": "getThread",
                "parameters": [
                    {"type": "string", "description": "Thread ID", "name": "id", "in": "path", "required": true},
                    {"type": "string", "description": "Return 304 if ETag matches", "name": "If-None-Match", "in": "header"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/domain.Thread"}},
                    "304": {"description": "Not Modified"},
                    "404": {"description": "THREAD_NOT_FOUND", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            },
            "put": {
                "security": [{"BearerAuth": []}],
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["Threads"],
                "summary": "Rename or archive a thread",
                "operationId": "updateThread",
                "parameters": [
                    {"type": "string", "description": "Thread ID", "name": "id", "in": "path", "required": true},
                    {"description": "Fields", "name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handlers.UpdateThreadRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/domain.Thread"}},
                    "400": {"description": "Bad request", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "404": {"description": "THREAD_NOT_FOUND", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            },
            "delete": {
                "security": [{"BearerAuth": []}],
                "tags": ["Threads"],
                "summary": "Delete a thread",
                "operationId": "deleteThread",
                "parameters": [
                    {"type": "string", "description": "Thread ID", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "204": {"description": "No Content"},
                    "404": {"description": "THREAD_NOT_FOUND", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/sentiment/analyze": {
            "post": {
                "security": [{"BearerAuth": []}],
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["Sentiment"],
                "summary": "Classify and store a sentiment",
                "operationId": "analyzeSentiment",
                "parameters": [
                    {"description": "Content and text", "name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handlers.AnalyzeSentimentRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.AnalyzeSentimentResponse"}},
                    "404": {"description": "CONTENT_NOT_FOUND", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "502": {"description": "AI provider unavailable", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/sse/stream": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["text/event-stream"],
                "tags": ["Events"],
                "summary": "Subscribe to content updates",
                "operationId": "stream",
                "parameters": [
                    {"type": "string", "description": "Must match the authenticated user when set", "name": "userId", "in": "query"},
                    {"type": "string", "description": "Access token for EventSource clients", "name": "access_token", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "Event stream"},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "403": {"description": "Forbidden", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            },
            "delete": {
                "security": [{"BearerAuth": []}],
                "tags": ["Events"],
                "summary": "Close the caller's event streams on this instance",
                "operationId": "closeStreams",
                "responses": {
                    "204": {"description": "No Content"},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        }
    },
    "definitions": {
        "handlers.ErrorResponse": {
            "type": "object",
            "properties": {
                "request_id": {"type": "string"},
                "code": {"type": "string", "example": "CONTENT_NOT_FOUND"},
                "message": {"type": "string", "example": "content not found"}
            }
        },
        "handlers.RegisterRequest": {
            "type": "object",
            "required": ["email", "name", "password"],
            "properties": {
                "name": {"type": "string", "example": "Ada Lovelace"},
                "email": {"type": "string", "example": "ada@example.com"},
                "password": {"type": "string", "minLength": 8}
            }
        },
        "handlers.LoginRequest": {
            "type": "object",
            "required": ["email", "password"],
            "properties": {
                "email": {"type": "string"},
                "password": {"type": "string"}
            }
        },
        "handlers.RefreshRequest": {
            "type": "object",
            "required": ["refresh_token"],
            "properties": {
                "refresh_token": {"type": "string"}
            }
        },
        "handlers.GenerateContentRequest": {
            "type": "object",
            "required": ["content_type", "prompt"],
            "properties": {
                "prompt": {"type": "string", "example": "Write about sustainable travel in Portugal"},
                "content_type": {"type": "string", "enum": ["blog_post", "product_description", "social_media_caption", "article", "other"]},
                "thread_id": {"type": "string", "example": "new-thread"},
                "provider": {"type": "string", "enum": ["gemini", "openrouter"]},
                "sentiment": {"type": "string", "enum": ["positive", "negative", "neutral"]}
            }
        },
        "handlers.UpdateContentRequest": {
            "type": "object",
            "required": ["sentiment"],
            "properties": {
                "sentiment": {"type": "string", "enum": ["positive", "negative", "neutral"]}
            }
        },
        "handlers.UpdateThreadRequest": {
            "type": "object",
            "properties": {
                "title": {"type": "string"},
                "status": {"type": "string", "enum": ["active", "archived"]}
            }
        },
        "handlers.AnalyzeSentimentRequest": {
            "type": "object",
            "required": ["content_id"],
            "properties": {
                "content_id": {"type": "string"},
                "prompt": {"type": "string"}
            }
        },
        "handlers.AnalyzeSentimentResponse": {
            "type": "object",
            "properties": {
                "sentiment": {"type": "string", "example": "positive"}
            }
        },
        "handlers.Pagination": {
            "type": "object",
            "properties": {
                "page": {"type": "integer"},
                "page_size": {"type": "integer"},
                "total": {"type": "integer"},
                "total_pages": {"type": "integer"},
                "has_next": {"type": "boolean"}
            }
        },
        "handlers.ListThreadsResponse": {
            "type": "object",
            "properties": {
                "threads": {"type": "array", "items": {"$ref": "#/definitions/domain.Thread"}},
                "pagination": {"$ref": "#/definitions/handlers.Pagination"}
            }
        },
        "domain.User": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "name": {"type": "string"},
                "email": {"type": "string"},
                "active": {"type": "boolean"},
                "created_at": {"type": "string"},
                "updated_at": {"type": "string"}
            }
        },
        "domain.Content": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "thread_id": {"type": "string"},
                "prompt": {"type": "string"},
                "generated_content": {"type": "string"},
                "status": {"type": "string", "enum": ["pending", "processing", "completed", "failed"]},
                "status_updated_at": {"type": "string"},
                "sentiment": {"type": "string"},
                "created_at": {"type": "string"},
                "updated_at": {"type": "string"}
            }
        },
        "domain.Thread": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "user_id": {"type": "string"},
                "title": {"type": "string"},
                "type": {"type": "string"},
                "status": {"type": "string", "enum": ["active", "archived"]},
                "last_content": {"$ref": "#/definitions/domain.Content"},
                "contents": {"type": "array", "items": {"$ref": "#/definitions/domain.Content"}},
                "created_at": {"type": "string"},
                "updated_at": {"type": "string"}
            }
        },
        "auth.Tokens": {
            "type": "object",
            "properties": {
                "access": {"type": "string"},
                "refresh": {"type": "string"}
            }
        },
        "services.AuthResult": {
            "type": "object",
            "properties": {
                "user": {"$ref": "#/definitions/domain.User"},
                "tokens": {"$ref": "#/definitions/auth.Tokens"}
            }
        },
        "services.ThreadSummary": {
            "type": "object",
            "properties": {
                "total_threads": {"type": "integer"},
                "status_counts": {"type": "object", "additionalProperties": {"type": "integer"}}
            }
        }
    },
    "securityDefinitions": {
        "BearerAuth": {
            "type": "apiKey",
            "name": "Authorization",
            "in": "header"
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/api/v1",
	Schemes:          []string{},
	Title:            "Content Generation API",
	Description:      "Asynchronous AI content generation with threads, sentiment and live updates.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
