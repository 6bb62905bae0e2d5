// Copyright 2026 The Hearth Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/hearth-im/hearth/federation"
)

type contextKey string

const originContextKey contextKey = "origin"

// parseXMatrixOrigin extracts the origin server name from an X-Matrix
// Authorization header of the form
//
//	X-Matrix origin="example.org",key="ed25519:1",sig="..."
//
// Signature verification is the job of the upstream proxy layer; this
// only identifies the caller.
func parseXMatrixOrigin(header string) string {
	scheme, params, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "X-Matrix") {
		return ""
	}
	for _, part := range strings.Split(params, ",") {
		name, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		if strings.EqualFold(name, "origin") {
			return strings.Trim(value, `"`)
		}
	}
	return ""
}

// requireOrigin rejects requests without a parsable X-Matrix origin
// and stores the origin in the request context for handlers.
func requireOrigin(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := parseXMatrixOrigin(r.Header.Get("Authorization"))
		if origin == "" {
			writeFederationError(w, federation.Unauthorized(
				"missing or malformed X-Matrix authorization",
			))
			return
		}
		ctx := context.WithValue(r.Context(), originContextKey, origin)
		next(w, r.WithContext(ctx))
	})
}

// requestOrigin returns the authenticated origin stored by
// requireOrigin, or "" on unauthenticated routes.
func requestOrigin(ctx context.Context) string {
	origin, _ := ctx.Value(originContextKey).(string)
	return origin
}
