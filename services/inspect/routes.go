// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package inspect

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// RegisterRoutes registers the /inspect endpoints with the router group.
//
// Description:
//
//	The router group should already have any required middleware applied.
//
// Endpoints:
//
//	POST   /v1/inspect/namespaces - Namespaces under a path
//	POST   /v1/inspect/members - Members payload for a path
//	GET    /v1/inspect/reports - List saved reports
//	GET    /v1/inspect/reports/:id - Load a saved report
//	DELETE /v1/inspect/reports/:id - Delete a saved report
//	GET    /v1/inspect/health - Health check
//
// Example:
//
//	v1 := router.Group("/v1")
//	inspect.RegisterRoutes(v1, inspect.NewHandlers(svc))
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers) {
	inspect := rg.Group("/inspect")
	{
		inspect.POST("/namespaces", handlers.HandleNamespaces)
		inspect.POST("/members", handlers.HandleMembers)

		inspect.GET("/reports", handlers.HandleListReports)
		inspect.GET("/reports/:id", handlers.HandleGetReport)
		inspect.DELETE("/reports/:id", handlers.HandleDeleteReport)

		inspect.GET("/health", handlers.HandleHealth)
	}
}

// NewRouter builds the HTTP engine: recovery, tracing, request ids, rate
// limiting, the /v1 API and Prometheus metrics at /metrics.
func NewRouter(svc *Service) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("aleutian-inspect"))
	router.Use(RequestID())

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/v1")
	v1.Use(RateLimit(svc.cfg.HTTP.RateLimit, svc.cfg.HTTP.Burst))
	RegisterRoutes(v1, NewHandlers(svc))
	return router
}
