// Package docs registers the OpenAPI description of the status API with swag.
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
        "/": {
            "get": {
                "produces": ["application/json"],
                "tags": ["meta"],
                "summary": "API root info",
                "responses": {"200": {"description": "OK", "schema": {"type": "object"}}}
            }
        },
        "/health": {
            "get": {
                "produces": ["application/json"],
                "tags": ["health"],
                "summary": "Health check",
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "object"}},
                    "503": {"description": "Service Unavailable", "schema": {"type": "object"}}
                }
            }
        },
        "/api/v1/stats": {
            "get": {
                "produces": ["application/json"],
                "tags": ["status"],
                "summary": "Monitor statistics",
                "responses": {"200": {"description": "OK", "schema": {"type": "object"}}}
            }
        },
        "/api/v1/discovery": {
            "get": {
                "produces": ["application/json"],
                "tags": ["status"],
                "summary": "Discovery status",
                "responses": {"200": {"description": "OK", "schema": {"type": "object"}}}
            }
        },
        "/api/v1/scheduled": {
            "get": {
                "produces": ["application/json"],
                "tags": ["status"],
                "summary": "Scheduled alerts",
                "responses": {"200": {"description": "OK", "schema": {"type": "array", "items": {"type": "object"}}}}
            }
        },
        "/api/v1/collections": {
            "get": {
                "produces": ["application/json"],
                "tags": ["collections"],
                "summary": "List collections",
                "parameters": [
                    {"enum": ["regular", "partner", "snowball"], "type": "string", "description": "Partition", "name": "partition", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "array", "items": {"$ref": "#/definitions/collection.Record"}}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/respond.ErrorResponse"}}
                }
            }
        },
        "/api/v1/collections/{slug}": {
            "get": {
                "produces": ["application/json"],
                "tags": ["collections"],
                "summary": "Get collection",
                "parameters": [
                    {"type": "string", "description": "Collection slug", "name": "slug", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/collection.Record"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/respond.ErrorResponse"}}
                }
            }
        },
        "/api/v1/collections/{slug}/history": {
            "get": {
                "produces": ["application/json"],
                "tags": ["collections"],
                "summary": "Collection chart history",
                "parameters": [
                    {"type": "string", "description": "Collection slug", "name": "slug", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "array", "items": {"$ref": "#/definitions/collection.RevenuePoint"}}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/respond.ErrorResponse"}},
                    "501": {"description": "Not Implemented", "schema": {"$ref": "#/definitions/respond.ErrorResponse"}}
                }
            }
        }
    },
    "definitions": {
        "collection.Record": {
            "type": "object",
            "properties": {
                "id": {"type": "integer"},
                "name": {"type": "string"},
                "slug": {"type": "string"},
                "type": {"type": "integer"},
                "percent": {"type": "number"},
                "rewardDate": {"type": "number"},
                "liveDate": {"type": "number"},
                "originalPrice": {"type": "number"},
                "collectionUrl": {"type": "string"},
                "collectionType": {"type": "string"},
                "lastUpdated": {"type": "string"}
            }
        },
        "collection.RevenuePoint": {
            "type": "object",
            "properties": {
                "label": {"type": "string"},
                "percent": {"type": "number"},
                "ggr": {"type": "number"},
                "predictedGgr": {"type": "number"},
                "marketPrice": {"type": "number"}
            }
        },
        "respond.ErrorResponse": {
            "type": "object",
            "properties": {
                "error": {
                    "type": "object",
                    "properties": {
                        "code": {"type": "string"},
                        "message": {"type": "string"},
                        "detail": {"type": "string"}
                    }
                }
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it.
var SwaggerInfo = &swag.Spec{
	Version:          "1.0.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "collection-watch status API",
	Description:      "Read-only view of tracked collections, discovery and scheduled alerts.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
