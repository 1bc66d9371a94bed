package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "Clinical Attendance API",
        "description": "Time and attendance integrity service for clinical education",
        "version": "1.0.0"
    },
    "basePath": "/api/v1",
    "schemes": [
        "http"
    ],
    "tags": [
        {"name": "Clock", "description": "Clock-in/out lifecycle"},
        {"name": "Breakers", "description": "Circuit breaker administration"}
    ],
    "securityDefinitions": {
        "BearerAuth": {"type": "apiKey", "name": "Authorization", "in": "header"}
    },
    "paths": {
        "/clock/in": {
            "post": {
                "tags": ["Clock"],
                "summary": "Clock in at a rotation",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/ClockInRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "Validation failed", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Already clocked in", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "503": {"description": "Storage unavailable", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/clock/sync-in": {
            "post": {
                "tags": ["Clock"],
                "summary": "Clock in with client clock synchronization",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/SyncClockInRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "Validation or precondition failed", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Already clocked in", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "503": {"description": "Storage unavailable", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/clock/out": {
            "post": {
                "tags": ["Clock"],
                "summary": "Clock out of the open shift",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/ClockOutRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "Validation failed", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Not clocked in or wrong rotation", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/clock/status": {
            "get": {
                "tags": ["Clock"],
                "summary": "Current clock status",
                "security": [{"BearerAuth": []}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/admin/breakers": {
            "get": {
                "tags": ["Breakers"],
                "summary": "Snapshot all circuit breakers",
                "security": [{"BearerAuth": []}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/admin/breakers/reset": {
            "post": {
                "tags": ["Breakers"],
                "summary": "Reset every breaker",
                "security": [{"BearerAuth": []}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/admin/breakers/{name}/reset": {
            "post": {
                "tags": ["Breakers"],
                "summary": "Reset one breaker",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "name", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Unknown breaker", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/admin/breakers/{name}/force-open": {
            "post": {
                "tags": ["Breakers"],
                "summary": "Trip one breaker immediately",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "name", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Unknown breaker", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        }
    },
    "definitions": {
        "LocationPayload": {
            "type": "object",
            "properties": {
                "latitude": {"type": "number"},
                "longitude": {"type": "number"},
                "accuracy_meters": {"type": "number"}
            }
        },
        "ClockInRequest": {
            "type": "object",
            "required": ["rotation_id"],
            "properties": {
                "rotation_id": {"type": "string"},
                "timestamp": {"type": "string", "description": "RFC3339"},
                "notes": {"type": "string"},
                "location": {"$ref": "#/definitions/LocationPayload"}
            }
        },
        "SyncClockInRequest": {
            "type": "object",
            "required": ["rotation_id", "client_id"],
            "properties": {
                "rotation_id": {"type": "string"},
                "client_id": {"type": "string"},
                "timestamp": {"type": "string", "description": "RFC3339"},
                "synced_timestamp": {"type": "string", "description": "RFC3339, preferred over timestamp"},
                "drift_ms": {"type": "integer"},
                "notes": {"type": "string"},
                "location": {"$ref": "#/definitions/LocationPayload"}
            }
        },
        "ClockOutRequest": {
            "type": "object",
            "required": ["rotation_id"],
            "properties": {
                "rotation_id": {"type": "string"},
                "timestamp": {"type": "string", "description": "RFC3339"},
                "activities": {"type": "array", "items": {"type": "string"}},
                "notes": {"type": "string"}
            }
        },
        "APIError": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "message": {"type": "string"},
                "status": {"type": "integer"},
                "details": {"type": "array", "items": {"type": "string"}}
            }
        },
        "ResponseEnvelope": {
            "type": "object",
            "properties": {
                "data": {"type": "object"},
                "error": {"$ref": "#/definitions/APIError"},
                "meta": {"type": "object"}
            }
        }
    }
}`

type swaggerDoc struct{}

// ReadDoc returns the Swagger document.
func (s *swaggerDoc) ReadDoc() string {
	return docTemplate
}

func init() {
	swag.Register(swag.Name, &swaggerDoc{})
}
