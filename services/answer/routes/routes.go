// Copyright (C) 2026 Cobalt Labs (eng@cobaltlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cobaltlabs/searchlight/services/answer/handlers"
	"github.com/cobaltlabs/searchlight/services/answer/middleware"
	"github.com/cobaltlabs/searchlight/services/answer/observability"
)

// Deps carries everything route registration needs.
type Deps struct {
	Ask        *handlers.AskHandler
	Validator  middleware.TokenValidator
	RateGate   *middleware.RateGate
	Metrics    *observability.AskMetrics
	TrustProxy bool
}

// SetupRoutes registers all endpoints on the router.
//
// The identity middleware runs on the whole /v1 group so both endpoints see
// the caller identity. The anonymous rate limit guards only /v1/ask; usage
// lookups stay unmetered so a limited client can still see its count.
func SetupRoutes(router *gin.Engine, deps Deps) {
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/v1")
	v1.Use(middleware.IdentityMiddleware(deps.Validator, deps.TrustProxy))
	{
		v1.POST("/ask", middleware.AnonymousRateLimit(deps.RateGate, deps.Metrics), deps.Ask.HandleAsk)
		v1.GET("/usage", deps.Ask.HandleUsage)
	}
}
