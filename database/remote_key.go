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

package database

import (
	"context"
	"errors"

	"github.com/hearth-im/hearth/database/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PutRemoteKey caches a remote server's verify key.
func (d *Database) PutRemoteKey(
	ctx context.Context,
	serverName string,
	keyID string,
	verifyKey string,
	validUntilTS int64,
) error {
	row := models.RemoteKey{
		ServerName:   serverName,
		KeyID:        keyID,
		VerifyKey:    verifyKey,
		ValidUntilTS: validUntilTS,
	}
	result := d.metadata.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "server_name"},
				{Name: "key_id"},
			},
			DoUpdates: clause.AssignmentColumns([]string{
				"verify_key",
				"valid_until_ts",
			}),
		}).
		Create(&row)
	return result.Error
}

// GetRemoteKey returns a cached verify key and its validity window, or
// an empty key when no cache entry exists.
func (d *Database) GetRemoteKey(
	ctx context.Context,
	serverName string,
	keyID string,
) (string, int64, error) {
	var row models.RemoteKey
	result := d.metadata.WithContext(ctx).
		Where("server_name = ? AND key_id = ?", serverName, keyID).
		First(&row)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return "", 0, nil
		}
		return "", 0, result.Error
	}
	return row.VerifyKey, row.ValidUntilTS, nil
}
