package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RegisterSwagger registers minimal Swagger/OpenAPI endpoints for the account service.
// - GET /swagger/index.html  -> a small HTML page that loads the OpenAPI JSON
// - GET /swagger/doc.json    -> machine-readable OpenAPI JSON
func RegisterSwagger(rg *gin.Engine) {
	rg.GET("/swagger/index.html", func(c *gin.Context) {
		c.Header("Content-Type", "text/html; charset=utf-8")
		c.String(http.StatusOK, swaggerHTML)
	})

	rg.GET("/swagger/doc.json", func(c *gin.Context) {
		c.JSON(http.StatusOK, swaggerJSON)
	})
}

const swaggerHTML = `<!doctype html>
<html>
  <head>
    <meta charset="utf-8" />
    <title>lookmax-account Swagger</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@4/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@4/swagger-ui-bundle.js"></script>
    <script>
      window.ui = SwaggerUIBundle({
        url: '/swagger/doc.json',
        dom_id: '#swagger-ui',
      })
    </script>
  </body>
</html>`

// Minimal OpenAPI document describing the public endpoints.
const swaggerJSON = `{
  "openapi": "3.0.0",
  "info": { "title": "lookmax-account", "version": "v1.0.0" },
  "components": {
    "securitySchemes": { "bearer": { "type": "http", "scheme": "bearer", "bearerFormat": "JWT" } },
    "schemas": {
      "Error": { "type": "object", "properties": { "error": {"type":"string"}, "code": {"type":"string"} } },
      "Tokens": { "type": "object", "properties": { "access_token": {"type":"string"}, "token_type": {"type":"string"}, "expires_in": {"type":"integer"}, "refresh_token": {"type":"string"} } }
    }
  },
  "paths": {
    "/auth/register": { "post": { "summary": "Create a password account", "requestBody": { "content": { "application/json": { "schema": {"type":"object","properties":{"email":{"type":"string"},"name":{"type":"string"},"password":{"type":"string"}}}}}}, "responses": { "201": { "description": "tokens returned" }, "409": { "description": "email taken" } } } },
    "/auth/login": { "post": { "summary": "Password sign-in", "requestBody": { "content": { "application/json": { "schema": {"type":"object","properties":{"email":{"type":"string"},"password":{"type":"string"}}}}}}, "responses": { "200": { "description": "tokens returned" }, "401": { "description": "invalid credentials" } } } },
    "/auth/oidc": { "post": { "summary": "Sign in with an external ID token", "requestBody": { "content": { "application/json": { "schema": {"type":"object","properties":{"id_token":{"type":"string"}}}}}}, "responses": { "200": { "description": "tokens returned" } } } },
    "/auth/refresh": { "post": { "summary": "Rotate refresh token", "requestBody": { "content": { "application/json": { "schema": {"type":"object","properties":{"refresh_token":{"type":"string"}}}}}}, "responses": { "200": { "description": "new tokens" }, "401": { "description": "invalid refresh" } } } },
    "/auth/logout": { "post": { "summary": "Logout and invalidate refresh token", "requestBody": { "content": { "application/json": { "schema": {"type":"object","properties":{"refresh_token":{"type":"string"}}}}}}, "responses": { "200": { "description": "logged out" } } } },
    "/auth/me": { "get": { "summary": "Current user", "security": [{"bearer": []}], "responses": { "200": { "description": "user" }, "401": { "description": "token_expired, unauthenticated or account_not_found" } } } },
    "/api/v1/users/me": { "put": { "summary": "Update profile", "security": [{"bearer": []}], "responses": { "200": { "description": "user" } } } },
    "/payments/create-checkout": { "post": { "summary": "Start hosted checkout", "security": [{"bearer": []}], "responses": { "200": { "description": "session id and url" }, "503": { "description": "payment provider unavailable" } } } },
    "/payments/create-payment-intent": { "post": { "summary": "Start in-app payment", "security": [{"bearer": []}], "responses": { "200": { "description": "client secret" } } } },
    "/payments/verify": { "post": { "summary": "Confirm a payment intent", "security": [{"bearer": []}], "responses": { "200": { "description": "subscription status" } } } },
    "/payments/cancel": { "post": { "summary": "Cancel at period end", "security": [{"bearer": []}], "responses": { "202": { "description": "requested" } } } },
    "/payments/status": { "get": { "summary": "Subscription status", "security": [{"bearer": []}], "responses": { "200": { "description": "status" } } } },
    "/payments/webhook": { "post": { "summary": "Provider webhook (Stripe-Signature header)", "responses": { "200": { "description": "processed, duplicate or ignored" }, "400": { "description": "invalid signature or payload" }, "500": { "description": "transient failure, retry" } } } },
    "/admin/users": { "get": { "summary": "List users", "security": [{"bearer": []}], "responses": { "200": { "description": "users" }, "403": { "description": "forbidden" } } } },
    "/admin/users/{id}": { "get": { "summary": "Get user", "security": [{"bearer": []}], "responses": { "200": { "description": "user" } } }, "delete": { "summary": "Delete user", "security": [{"bearer": []}], "responses": { "204": { "description": "deleted" } } } },
    "/admin/users/{id}/role": { "put": { "summary": "Set role", "security": [{"bearer": []}], "responses": { "200": { "description": "user" } } } },
    "/health": { "get": { "summary": "Liveness check", "responses": { "200": { "description": "healthy" } } } },
    "/ready": { "get": { "summary": "Readiness check", "responses": { "200": { "description": "ready" }, "503": { "description": "not ready" } } } },
    "/metrics": { "get": { "summary": "Prometheus metrics", "responses": { "200": { "description": "metrics" } } } }
  }
}`
