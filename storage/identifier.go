// Copyright (C) 2025 sage-x-project
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

// SPDX-License-Identifier: LGPL-3.0-or-later

package storage

import (
	"regexp"

	"github.com/sage-x-project/memstore/pkg/errors"
)

// identifierPattern whitelists SQL identifiers: schema names, table names,
// collection names. Nothing outside this pattern is ever interpolated into
// a SQL statement.
var identifierPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// validateIdentifier rejects any identifier that is not a simple
// letter/underscore-led alphanumeric token, regardless of where it
// originated (configuration, collection name, schema name).
func validateIdentifier(kind, ident string) error {
	if !identifierPattern.MatchString(ident) {
		return errors.New(errors.CategoryValidation, "INVALID_IDENTIFIER",
			"invalid "+kind+" identifier").WithDetail(kind, ident)
	}
	return nil
}

// quoteIdent double-quotes an already-validated identifier for safe
// interpolation into SQL text. Callers must call validateIdentifier first;
// quoteIdent itself performs no validation.
func quoteIdent(ident string) string {
	return `"` + ident + `"`
}
