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

package models

// RemoteKey caches a remote server's verify key so federation trust
// survives restarts. ValidUntilTS is the remote's own validity window;
// expired rows are treated as cache misses, never served.
type RemoteKey struct {
	ID           uint   `gorm:"primarykey"`
	ServerName   string `gorm:"uniqueIndex:idx_remote_key_server_key;size:255;not null"`
	KeyID        string `gorm:"uniqueIndex:idx_remote_key_server_key;size:128;not null"`
	VerifyKey    string `gorm:"size:128;not null"`
	ValidUntilTS int64  `gorm:"not null"`
}

func (RemoteKey) TableName() string {
	return "remote_key"
}
