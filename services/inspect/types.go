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
	"encoding/json"

	"github.com/AleutianAI/AleutianInspect/services/inspect/store"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"request_id,omitempty"`
}

// InspectRequest is the body of the inspection endpoints.
type InspectRequest struct {
	// Path is a file or directory on the server.
	Path string `json:"path" binding:"required"`

	// Save persists the result in the report store.
	Save bool `json:"save"`

	// Label is stored with a saved report.
	Label string `json:"label,omitempty"`
}

// InspectResponse wraps an inspection payload. Per-file failures are
// counted in Failed and logged by the service; their messages stay out of
// the response.
type InspectResponse struct {
	ReportID string `json:"report_id,omitempty"`
	Failed   int    `json:"failed,omitempty"`

	// Result is []schema.NamespaceEntry or *schema.MembersPayload.
	Result any `json:"result"`
}

// ListReportsResponse is returned by GET /v1/inspect/reports.
type ListReportsResponse struct {
	Reports []*store.Metadata `json:"reports"`
}

// ReportResponse is returned by GET /v1/inspect/reports/:id.
type ReportResponse struct {
	Metadata *store.Metadata `json:"metadata"`
	Payload  json.RawMessage `json:"payload"`
}
