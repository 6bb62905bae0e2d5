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
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const defaultFetchTimeout = 10 * time.Second

// HTTPFetcher retrieves remote server keys over federation.
type HTTPFetcher struct {
	client *http.Client
	// scheme is overridable for tests.
	scheme string
}

func NewHTTPFetcher(client *http.Client) *HTTPFetcher {
	if client == nil {
		client = &http.Client{Timeout: defaultFetchTimeout}
	}
	return &HTTPFetcher{client: client, scheme: "https"}
}

// FetchKey fetches the remote server's published keys and extracts the
// requested key id.
func (f *HTTPFetcher) FetchKey(
	ctx context.Context,
	serverName string,
	keyID string,
) (string, int64, error) {
	url := fmt.Sprintf(
		"%s://%s/_matrix/key/v2/server", f.scheme, serverName,
	)
	req, err := http.NewRequestWithContext(
		ctx, http.MethodGet, url, nil,
	)
	if err != nil {
		return "", 0, err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return "", 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", 0, fmt.Errorf(
			"key query to %s returned status %d",
			serverName,
			resp.StatusCode,
		)
	}
	var keys ServerKeys
	if err := json.NewDecoder(resp.Body).Decode(&keys); err != nil {
		return "", 0, fmt.Errorf(
			"decoding key response from %s: %w", serverName, err,
		)
	}
	verifyKey, ok := keys.VerifyKeys[keyID]
	if !ok {
		return "", 0, fmt.Errorf(
			"%s does not advertise key %s", serverName, keyID,
		)
	}
	return verifyKey.Key, keys.ValidUntilTS, nil
}
