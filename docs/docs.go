// Package docs registers the seatlock OpenAPI document with swag.
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
    "securityDefinitions": {
        "BearerAuth": {"type": "apiKey", "name": "Authorization", "in": "header"}
    },
    "paths": {
        "/seats/concert/{concertId}": {
            "get": {
                "tags": ["seats"],
                "summary": "Seat map of a concert",
                "description": "Lapsed locks are expired before the map is returned.",
                "parameters": [{"type": "string", "name": "concertId", "in": "path", "required": true}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/seats.SeatMapResponse"}}
                }
            }
        },
        "/seats/concert/{concertId}/hold": {
            "get": {
                "tags": ["seats"],
                "security": [{"BearerAuth": []}],
                "summary": "Seats the caller holds in a concert",
                "parameters": [{"type": "string", "name": "concertId", "in": "path", "required": true}],
                "responses": {"200": {"description": "OK"}, "401": {"description": "Unauthorized"}}
            }
        },
        "/seats/lock": {
            "post": {
                "tags": ["seats"],
                "security": [{"BearerAuth": []}],
                "summary": "Lock seats for the caller",
                "description": "All or nothing. A conflict returns 409 with the seats that could not be locked.",
                "parameters": [{"name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/seats.LockSeatsRequest"}}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/seats.LockSeatsResponse"}},
                    "400": {"description": "Bad Request"},
                    "409": {"description": "Seat unavailable", "schema": {"$ref": "#/definitions/seats.LockSeatsResponse"}}
                }
            }
        },
        "/seats/unlock": {
            "post": {
                "tags": ["seats"],
                "security": [{"BearerAuth": []}],
                "summary": "Release seats held by the caller",
                "description": "Idempotent. Seats not held by the caller are ignored.",
                "parameters": [{"name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/seats.LockSeatsRequest"}}],
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/seats/concert/{concertId}/stream": {
            "get": {
                "tags": ["realtime"],
                "summary": "Server-sent seat change stream",
                "produces": ["text/event-stream"],
                "parameters": [{"type": "string", "name": "concertId", "in": "path", "required": true}],
                "responses": {"200": {"description": "SNAPSHOT followed by LOCKED, UNLOCKED and BOOKED events"}}
            }
        },
        "/ws/concerts/{concertId}": {
            "get": {
                "tags": ["realtime"],
                "summary": "Websocket seat change stream",
                "parameters": [
                    {"type": "string", "name": "concertId", "in": "path", "required": true},
                    {"type": "string", "name": "token", "in": "query"},
                    {"type": "string", "name": "clientId", "in": "query"}
                ],
                "responses": {"101": {"description": "Switching Protocols"}}
            }
        },
        "/bookings/me": {
            "get": {
                "tags": ["bookings"],
                "security": [{"BearerAuth": []}],
                "summary": "Bookings of the caller",
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/payments/checkout": {
            "post": {
                "tags": ["payments"],
                "security": [{"BearerAuth": []}],
                "summary": "Open a checkout session for held seats",
                "parameters": [{"name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/payments.CheckoutRequest"}}],
                "responses": {"201": {"description": "Created"}, "409": {"description": "Lock expired or stolen"}}
            }
        },
        "/payments/webhook": {
            "post": {
                "tags": ["payments"],
                "summary": "Payment provider notification",
                "description": "Authenticated by the X-Signature header, a hex HMAC-SHA256 of the raw body.",
                "parameters": [{"type": "string", "name": "X-Signature", "in": "header", "required": true}],
                "responses": {"200": {"description": "Booking confirmed"}, "401": {"description": "Invalid signature"}, "409": {"description": "Refund required"}}
            }
        },
        "/admin/seats/concert/{concertId}": {
            "post": {
                "tags": ["admin"],
                "security": [{"BearerAuth": []}],
                "summary": "Bulk import a seat map by category",
                "parameters": [
                    {"type": "string", "name": "concertId", "in": "path", "required": true},
                    {"name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/seats.CreateSeatsRequest"}}
                ],
                "responses": {"201": {"description": "Created"}}
            }
        }
    },
    "definitions": {
        "seats.Seat": {
            "type": "object",
            "properties": {
                "_id": {"type": "string"},
                "concertId": {"type": "string"},
                "row": {"type": "string"},
                "column": {"type": "integer"},
                "seatNumber": {"type": "string"},
                "seatType": {"type": "string", "enum": ["platinum", "gold", "silver"]},
                "price": {"type": "number"},
                "status": {"type": "string", "enum": ["AVAILABLE", "RESERVED", "BOOKED"]},
                "lockedBy": {"type": "string"},
                "lockedAt": {"type": "string", "format": "date-time"},
                "version": {"type": "integer"}
            }
        },
        "seats.SeatMapResponse": {
            "type": "object",
            "properties": {
                "concertId": {"type": "string"},
                "seats": {"type": "array", "items": {"$ref": "#/definitions/seats.Seat"}},
                "serverTime": {"type": "string", "format": "date-time"},
                "ttlSeconds": {"type": "integer"}
            }
        },
        "seats.LockSeatsRequest": {
            "type": "object",
            "required": ["concertId", "seatIds"],
            "properties": {
                "concertId": {"type": "string"},
                "seatIds": {"type": "array", "items": {"type": "string"}}
            }
        },
        "seats.LockSeatsResponse": {
            "type": "object",
            "properties": {
                "success": {"type": "array", "items": {"$ref": "#/definitions/seats.Seat"}},
                "failedSeats": {"type": "array", "items": {"type": "string"}},
                "expiresAt": {"type": "string", "format": "date-time"}
            }
        },
        "seats.CreateSeatsRequest": {
            "type": "object",
            "properties": {
                "categories": {
                    "type": "array",
                    "items": {
                        "type": "object",
                        "properties": {
                            "category": {"type": "string"},
                            "price": {"type": "number"},
                            "rows": {"type": "array", "items": {"type": "string"}},
                            "seatsPerRow": {"type": "integer"}
                        }
                    }
                }
            }
        },
        "payments.CheckoutRequest": {
            "type": "object",
            "required": ["concertId", "seatIds"],
            "properties": {
                "concertId": {"type": "string"},
                "seatIds": {"type": "array", "items": {"type": "string"}}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/api/v1",
	Schemes:          []string{},
	Title:            "Seatlock API",
	Description:      "Seat locking, live seat maps and checkout handoff for concerts.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
