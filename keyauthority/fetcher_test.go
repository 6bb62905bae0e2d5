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

package keyauthority

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPFetcherFetchKey(t *testing.T) {
	validUntil := time.Now().Add(time.Hour).UnixMilli()
	srv := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/_matrix/key/v2/server", r.URL.Path)
			w.Header().Set("Content-Type", "application/json")
			//nolint:errcheck
			json.NewEncoder(w).Encode(ServerKeys{
				ServerName: "remote.test",
				VerifyKeys: map[string]VerifyKey{
					"ed25519:1": {Key: "remotekey"},
				},
				OldVerifyKeys: map[string]VerifyKey{},
				ValidUntilTS:  validUntil,
			})
		},
	))
	defer srv.Close()

	fetcher := NewHTTPFetcher(srv.Client())
	fetcher.scheme = "http"
	serverName := strings.TrimPrefix(srv.URL, "http://")

	key, ts, err := fetcher.FetchKey(t.Context(), serverName, "ed25519:1")
	require.NoError(t, err)
	assert.Equal(t, "remotekey", key)
	assert.Equal(t, validUntil, ts)

	_, _, err = fetcher.FetchKey(t.Context(), serverName, "ed25519:other")
	require.Error(t, err)
}

func TestHTTPFetcherErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		},
	))
	defer srv.Close()

	fetcher := NewHTTPFetcher(srv.Client())
	fetcher.scheme = "http"
	serverName := strings.TrimPrefix(srv.URL, "http://")

	_, _, err := fetcher.FetchKey(t.Context(), serverName, "ed25519:1")
	require.Error(t, err)
}
