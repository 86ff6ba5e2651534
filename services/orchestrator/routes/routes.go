// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package routes registers the orchestrator's HTTP routes.
package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AleutianAI/zynk/services/orchestrator/handlers"
	"github.com/AleutianAI/zynk/services/orchestrator/middleware"
)

// Dependencies are the handlers SetupRoutes wires.
type Dependencies struct {
	Stream handlers.StreamingChatHandler
	Chats  *handlers.ChatHandler

	// Gatherer backs /metrics. Nil uses prometheus.DefaultGatherer.
	Gatherer prometheus.Gatherer
}

// SetupRoutes registers every route on router.
//
//	GET    /health
//	GET    /metrics
//	POST   /v1/chat/stream
//	POST   /v1/chats
//	GET    /v1/chats
//	GET    /v1/chats/:chatId
//	DELETE /v1/chats/:chatId
//	GET    /v1/chats/:chatId/messages
//	POST   /v1/chats/:chatId/messages
func SetupRoutes(router *gin.Engine, deps Dependencies) {
	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	// API version 1 group
	v1 := router.Group("/v1")
	v1.Use(middleware.Identity())
	{
		v1.POST("/chat/stream", deps.Stream.HandleChatStream)

		chats := v1.Group("/chats")
		{
			chats.POST("", deps.Chats.CreateChat)
			chats.GET("", deps.Chats.ListChats)
			chats.GET("/:chatId", deps.Chats.GetChat)
			chats.DELETE("/:chatId", deps.Chats.DeleteChat)
			chats.GET("/:chatId/messages", deps.Chats.ListMessages)
			chats.POST("/:chatId/messages", deps.Chats.AppendMessage)
		}
	}
}
