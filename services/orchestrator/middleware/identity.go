// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package middleware provides HTTP middleware for the orchestrator service.
//
// # Identity Flow
//
// The identity middleware tags every request with a request ID and the
// caller's user ID and stores both in the Gin context for downstream
// handlers. Authentication is delegated to whatever sits in front of the
// orchestrator; the user ID only scopes generated reports.
//
//	Request
//	   │
//	   ▼
//	Identity
//	   │
//	   ├─► X-Request-ID header, or a new UUID
//	   │
//	   ├─► X-User-ID header, or the bearer token subject, or "local-user"
//	   │
//	   └─► Store in context, echo X-Request-ID
//	           │
//	           ▼
//	       Handler (retrieves via GetUserID / GetRequestID)
package middleware

import (
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// DefaultUserID is used when the request carries no identity.
	DefaultUserID = "local-user"

	// HeaderUserID carries the caller's user ID.
	HeaderUserID = "X-User-ID"

	// HeaderRequestID carries the request ID in both directions.
	HeaderRequestID = "X-Request-ID"
)

// Context keys. Using package-prefixed keys prevents collisions with other
// context values.
const (
	userIDKey    = "zynk_user_id"
	requestIDKey = "zynk_request_id"
)

// identifierPattern bounds header-supplied identifiers to a safe charset.
var identifierPattern = regexp.MustCompile(`^[A-Za-z0-9._@:-]{1,128}$`)

// =============================================================================
// Context Helpers
// =============================================================================

// GetUserID retrieves the caller's user ID from the Gin context.
//
// # Description
//
// Returns DefaultUserID when the identity middleware did not run, so
// handlers never see an empty user.
//
// # Inputs
//
//   - c: Gin context. Must not be nil.
//
// # Outputs
//
//   - string: The user ID.
func GetUserID(c *gin.Context) string {
	if id := c.GetString(userIDKey); id != "" {
		return id
	}
	return DefaultUserID
}

// GetRequestID retrieves the request ID, or "" if none was assigned.
func GetRequestID(c *gin.Context) string {
	return c.GetString(requestIDKey)
}

// =============================================================================
// Identity Middleware
// =============================================================================

// Identity creates a Gin middleware that assigns request and user IDs.
//
// # Description
//
// The request ID is taken from X-Request-ID when well formed, otherwise a
// UUID v4 is generated. It is echoed in the response header.
//
// The user ID is resolved in order:
//  1. X-User-ID header
//  2. Authorization: Bearer <token>, used as an opaque subject
//  3. DefaultUserID
//
// Malformed values are ignored rather than rejected.
//
// # Examples
//
//	router.Use(middleware.Identity())
//
// # Thread Safety
//
// Thread-safe. The returned middleware can be used concurrently.
func Identity() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(HeaderRequestID)
		if !identifierPattern.MatchString(requestID) {
			requestID = uuid.NewString()
		}
		c.Set(requestIDKey, requestID)
		c.Header(HeaderRequestID, requestID)

		userID := c.GetHeader(HeaderUserID)
		if !identifierPattern.MatchString(userID) {
			userID = extractBearerToken(c)
		}
		if !identifierPattern.MatchString(userID) {
			userID = DefaultUserID
		}
		c.Set(userIDKey, userID)

		c.Next()
	}
}

// =============================================================================
// Helper Functions
// =============================================================================

// extractBearerToken extracts the token from the Authorization header.
//
// # Description
//
// Parses the Authorization header expecting format: "Bearer <token>".
// Returns empty string if header is missing or malformed.
// The "Bearer" prefix is case-insensitive per RFC 7235.
//
// # Examples
//
//	// Header: "Authorization: Bearer abc123"
//	token := extractBearerToken(c)
//	// token == "abc123"
func extractBearerToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return ""
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}

	return strings.TrimSpace(parts[1])
}
