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
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianInspect/services/inspect/store"
)

// Handlers serves the inspection API.
type Handlers struct {
	svc *Service
}

// NewHandlers returns handlers over svc.
func NewHandlers(svc *Service) *Handlers {
	return &Handlers{svc: svc}
}

// HandleNamespaces handles POST /v1/inspect/namespaces.
//
// Request Body:
//
//	InspectRequest
//
// Response:
//
//	200 OK: InspectResponse with []schema.NamespaceEntry
//	400 Bad Request: Missing path or unrecognized file extension
//	404 Not Found: Path does not exist
//	422 Unprocessable Entity: A single-file request failed
//	504 Gateway Timeout: The scan exceeded the configured timeout
func (h *Handlers) HandleNamespaces(c *gin.Context) {
	h.handleInspect(c, OperationNamespaces)
}

// HandleMembers handles POST /v1/inspect/members.
//
// Request Body:
//
//	InspectRequest
//
// Response:
//
//	200 OK: InspectResponse with schema.MembersPayload
//	400 Bad Request: Missing path or unrecognized file extension
//	404 Not Found: Path does not exist
//	422 Unprocessable Entity: A single-file request failed
//	504 Gateway Timeout: The scan exceeded the configured timeout
func (h *Handlers) HandleMembers(c *gin.Context) {
	h.handleInspect(c, OperationMembers)
}

func (h *Handlers) handleInspect(c *gin.Context, op Operation) {
	requestID := getOrCreateRequestID(c)
	logger := h.svc.logger.With(slog.String("request_id", requestID), slog.String("operation", string(op)))

	var req InspectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:     "invalid request: " + err.Error(),
			Code:      "INVALID_REQUEST",
			RequestID: requestID,
		})
		return
	}

	rep, err := h.svc.Scan(c.Request.Context(), op, req.Path)
	if err != nil {
		status, code := scanStatus(err)
		logger.Warn("inspection failed", slog.String("path", req.Path), slog.String("error", err.Error()))
		c.JSON(status, ErrorResponse{Error: err.Error(), Code: code, RequestID: requestID})
		return
	}

	resp := InspectResponse{Result: rep.Payload(), Failed: rep.Failed()}
	if req.Save {
		meta, err := h.svc.Save(c.Request.Context(), rep, req.Label)
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, ErrStoreDisabled) {
				status = http.StatusServiceUnavailable
			}
			logger.Error("report save failed", slog.String("error", err.Error()))
			c.JSON(status, ErrorResponse{Error: err.Error(), Code: "REPORT_SAVE_FAILED", RequestID: requestID})
			return
		}
		resp.ReportID = meta.ID
	}

	logger.Info("inspection served",
		slog.String("path", req.Path),
		slog.Int("files", rep.Files),
		slog.Int("failed", rep.Failed()),
	)
	c.JSON(http.StatusOK, resp)
}

func scanStatus(err error) (int, string) {
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound, "PATH_NOT_FOUND"
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest, "INVALID_INPUT"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "SCAN_TIMEOUT"
	default:
		return http.StatusUnprocessableEntity, "INSPECTION_FAILED"
	}
}

// HandleListReports handles GET /v1/inspect/reports.
//
// Query Parameters:
//
//	root: Optional filter by scan root
//	limit: Maximum results, default 100
//
// Response:
//
//	200 OK: ListReportsResponse
//	503 Service Unavailable: Report store not configured
func (h *Handlers) HandleListReports(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	st := h.reportStore(c, requestID)
	if st == nil {
		return
	}

	limit := store.DefaultListLimit
	if limitStr := c.Query("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	reports, err := st.List(c.Request.Context(), c.Query("root"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:     "failed to list reports: " + err.Error(),
			Code:      "REPORT_LIST_FAILED",
			RequestID: requestID,
		})
		return
	}
	c.JSON(http.StatusOK, ListReportsResponse{Reports: reports})
}

// HandleGetReport handles GET /v1/inspect/reports/:id.
//
// Response:
//
//	200 OK: ReportResponse
//	404 Not Found: Unknown report
//	503 Service Unavailable: Report store not configured
func (h *Handlers) HandleGetReport(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	st := h.reportStore(c, requestID)
	if st == nil {
		return
	}

	meta, payload, err := st.Load(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.reportError(c, requestID, err)
		return
	}
	c.JSON(http.StatusOK, ReportResponse{Metadata: meta, Payload: payload})
}

// HandleDeleteReport handles DELETE /v1/inspect/reports/:id.
//
// Response:
//
//	200 OK: {"deleted": true}
//	404 Not Found: Unknown report
//	503 Service Unavailable: Report store not configured
func (h *Handlers) HandleDeleteReport(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	st := h.reportStore(c, requestID)
	if st == nil {
		return
	}

	if err := st.Delete(c.Request.Context(), c.Param("id")); err != nil {
		h.reportError(c, requestID, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

// HandleHealth handles GET /v1/inspect/health.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":        "healthy",
		"store_enabled": h.svc.store != nil,
	})
}

func (h *Handlers) reportStore(c *gin.Context, requestID string) *store.Store {
	if h.svc.store == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{
			Error:     ErrStoreDisabled.Error(),
			Code:      "REPORTS_NOT_AVAILABLE",
			RequestID: requestID,
		})
		return nil
	}
	return h.svc.store
}

func (h *Handlers) reportError(c *gin.Context, requestID string, err error) {
	if errors.Is(err, store.ErrReportNotFound) {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error(), Code: "REPORT_NOT_FOUND", RequestID: requestID})
		return
	}
	h.svc.logger.Error("report operation failed", slog.String("request_id", requestID), slog.String("error", err.Error()))
	c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error(), Code: "REPORT_FAILED", RequestID: requestID})
}
