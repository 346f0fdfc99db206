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

// Package auth resolves the Ingest and Decision APIs' Bearer tokens to a
// tenant. API-key issuance is out of scope for this spec (it is named as
// an external collaborator); this package only implements the read-only
// lookup half, grounded on
// original_source/control-plane/app/dependencies.py's verify_api_key.
package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"

	"github.com/mchmarny/trafficctl/pkg/durable"
	cnserrors "github.com/mchmarny/trafficctl/pkg/errors"
)

var (
	errMissingHeader = cnserrors.New(cnserrors.ErrCodeUnauthorized, "auth: missing Authorization header")
	errMalformed     = cnserrors.New(cnserrors.ErrCodeUnauthorized, "auth: expected \"Bearer <api-key>\"")
	errEmptyKey      = cnserrors.New(cnserrors.ErrCodeUnauthorized, "auth: empty bearer token")
	errInvalidKey    = cnserrors.New(cnserrors.ErrCodeUnauthorized, "auth: invalid or revoked api key")
)

// identityLookup is the durable-store contract this package depends on,
// narrowed to the two methods used so tests substitute a fake instead of
// sqlmock. *durable.IdentityRepo satisfies it as-is.
type identityLookup interface {
	Lookup(ctx context.Context, keyHash string) (durable.Identity, error)
	TouchLastUsed(ctx context.Context, keyHash string) error
}

// Authenticator validates bearer tokens against the Durable Store.
type Authenticator struct {
	identities identityLookup
}

// New builds an Authenticator over an existing identity lookup, typically
// a *durable.IdentityRepo.
func New(identities identityLookup) *Authenticator {
	return &Authenticator{identities: identities}
}

// Authenticate parses an "Authorization: Bearer <api-key>" header value,
// hashes the presented key, and resolves it to a tenant. Keys are never
// looked up by plaintext. A successful lookup updates the key's
// last-used timestamp before returning.
func (a *Authenticator) Authenticate(ctx context.Context, header string) (durable.Identity, error) {
	token, err := parseBearer(header)
	if err != nil {
		return durable.Identity{}, err
	}

	keyHash := HashToken(token)
	id, err := a.identities.Lookup(ctx, keyHash)
	if err != nil {
		return durable.Identity{}, errInvalidKey
	}
	if id.RevokedAt != nil {
		return durable.Identity{}, errInvalidKey
	}

	if err := a.identities.TouchLastUsed(ctx, keyHash); err != nil {
		// A failed timestamp update never invalidates an otherwise-valid key.
		return id, nil
	}
	return id, nil
}

// HashToken returns the sha256 hex digest of a presented bearer token,
// the same form api_keys.key_hash stores (see the init migration's
// column comment).
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func parseBearer(header string) (string, error) {
	if header == "" {
		return "", errMissingHeader
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", errMalformed
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	if token == "" {
		return "", errEmptyKey
	}
	return token, nil
}

// IsUnauthorized reports whether err is one Authenticate returns for a
// missing, malformed, or invalid credential.
func IsUnauthorized(err error) bool {
	var se *cnserrors.StructuredError
	return errors.As(err, &se) && se.Code == cnserrors.ErrCodeUnauthorized
}
