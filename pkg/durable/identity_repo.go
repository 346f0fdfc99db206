// Copyright (c) 2025, NVIDIA CORPORATION.  All rights reserved.
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

package durable

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/mchmarny/trafficctl/pkg/defaults"
)

// Identity is the row backing Bearer-token auth. Issuance and rotation are
// external to this module (see Non-goals); only lookup and last-used
// bookkeeping live here.
type Identity struct {
	KeyHash    string     `db:"key_hash"`
	TenantID   string     `db:"tenant_id"`
	RevokedAt  *time.Time `db:"revoked_at"`
	LastUsedAt *time.Time `db:"last_used_at"`
}

// ErrIdentityNotFound is returned by Lookup when no row matches the hash.
var ErrIdentityNotFound = errors.New("durable: identity not found")

// IdentityRepo resolves bearer tokens to tenants. Keys are looked up by
// sha256 hash, never by plaintext — pkg/auth hashes the presented token
// before calling Lookup.
type IdentityRepo struct {
	db *sqlx.DB
}

// Lookup resolves a key hash to its Identity. It returns ErrIdentityNotFound
// both when the hash is unknown and when the matching key has been revoked,
// so callers cannot distinguish the two cases from the error alone.
func (r *IdentityRepo) Lookup(ctx context.Context, keyHash string) (Identity, error) {
	ctx, cancel := context.WithTimeout(ctx, defaults.DurableStoreQueryTimeout)
	defer cancel()

	var id Identity
	err := r.db.GetContext(ctx, &id, `
		SELECT key_hash, tenant_id, revoked_at, last_used_at
		FROM api_keys
		WHERE key_hash = $1
	`, keyHash)
	if errors.Is(err, sql.ErrNoRows) {
		return Identity{}, ErrIdentityNotFound
	}
	if err != nil {
		return Identity{}, fmt.Errorf("lookup identity: %w", err)
	}
	if id.RevokedAt != nil {
		return Identity{}, ErrIdentityNotFound
	}
	return id, nil
}

// TouchLastUsed updates the last_used_at timestamp for a key hash. Failures
// here are non-fatal to the calling request (spec.md §6: auth failures are
// the only auth-path errors that should reject a request).
func (r *IdentityRepo) TouchLastUsed(ctx context.Context, keyHash string) error {
	ctx, cancel := context.WithTimeout(ctx, defaults.DurableStoreQueryTimeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		UPDATE api_keys SET last_used_at = now() WHERE key_hash = $1
	`, keyHash)
	if err != nil {
		return fmt.Errorf("touch last used: %w", err)
	}
	return nil
}
