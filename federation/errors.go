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

package federation

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrCode is a Matrix wire error code
type ErrCode string

const (
	ErrCodeBadJSON      ErrCode = "M_BAD_JSON"
	ErrCodeUnauthorized ErrCode = "M_UNAUTHORIZED"
	ErrCodeForbidden    ErrCode = "M_FORBIDDEN"
	ErrCodeNotFound     ErrCode = "M_NOT_FOUND"
	ErrCodeUnknown      ErrCode = "M_UNKNOWN"
)

// Error is the typed failure returned by federation operations. It maps
// directly onto the {errcode, error} envelope the HTTP surface emits.
type Error struct {
	Code   ErrCode
	Msg    string
	Status int
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

// BadRequest builds a 400 M_BAD_JSON error.
func BadRequest(format string, args ...any) *Error {
	return &Error{
		Code:   ErrCodeBadJSON,
		Msg:    fmt.Sprintf(format, args...),
		Status: http.StatusBadRequest,
	}
}

// Unauthorized builds a 401 M_UNAUTHORIZED error.
func Unauthorized(format string, args ...any) *Error {
	return &Error{
		Code:   ErrCodeUnauthorized,
		Msg:    fmt.Sprintf(format, args...),
		Status: http.StatusUnauthorized,
	}
}

// Forbidden builds a 403 M_FORBIDDEN error.
func Forbidden(format string, args ...any) *Error {
	return &Error{
		Code:   ErrCodeForbidden,
		Msg:    fmt.Sprintf(format, args...),
		Status: http.StatusForbidden,
	}
}

// NotFound builds a 404 M_NOT_FOUND error.
func NotFound(format string, args ...any) *Error {
	return &Error{
		Code:   ErrCodeNotFound,
		Msg:    fmt.Sprintf(format, args...),
		Status: http.StatusNotFound,
	}
}

// Internal builds a 500 M_UNKNOWN error.
func Internal(format string, args ...any) *Error {
	return &Error{
		Code:   ErrCodeUnknown,
		Msg:    fmt.Sprintf(format, args...),
		Status: http.StatusInternalServerError,
	}
}

// AsError unwraps err into a federation *Error, wrapping unknown errors
// as Internal so storage failures never leak raw messages with the
// wrong status.
func AsError(err error) *Error {
	var fe *Error
	if errors.As(err, &fe) {
		return fe
	}
	return Internal("%s", err)
}
