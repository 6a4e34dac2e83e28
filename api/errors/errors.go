/*
Copyright 2025 The maco Authors

This program is offered under a commercial and under the AGPL license.
For AGPL licensing, see below.

AGPL licensing:
This program is free software: you can redistribute it and/or modify
it under the terms of the GNU Affero General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU Affero General Public License for more details.

You should have received a copy of the GNU Affero General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

package errors

import (
	"encoding/json"
	"fmt"
)

type ValidationError interface {
	Field() string
	Reason() string
	Key() bool
	Cause() error
	ErrorName() string
}

// Error is the typed error carried across the admin HTTP surface and
// returned to local clients. It is intentionally plain JSON rather than
// a protobuf message: this repo's hot-path wire codec is the custom
// frame format in internal/transport, not protobuf.
type Error struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Detail  string `json:"detail"`
}

func (e *Error) Error() string {
	data, _ := json.Marshal(e)
	return string(data)
}

func (e *Error) Err() error {
	if e.Code == Code_Ok {
		return nil
	}
	return e
}

func New(code Code, detail string) *Error {
	return &Error{
		Code:    code,
		Message: code.String(),
		Detail:  detail,
	}
}

func Newf(code Code, format string, args ...any) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

func NewOk() *Error                               { return New(Code_Ok, "") }
func NewUnknown(detail string) *Error             { return New(Code_Unknown, detail) }
func NewUnknownf(format string, a ...any) *Error  { return Newf(Code_Unknown, format, a...) }
func NewInternal(detail string) *Error            { return New(Code_Internal, detail) }
func NewInternalf(format string, a ...any) *Error { return Newf(Code_Internal, format, a...) }
func NewBadRequest(detail string) *Error          { return New(Code_BadRequest, detail) }
func NewBadRequestf(format string, a ...any) *Error {
	return Newf(Code_BadRequest, format, a...)
}
func NewUnauthorized(detail string) *Error { return New(Code_Unauthorized, detail) }
func NewForbidden(detail string) *Error    { return New(Code_Forbidden, detail) }
func NewNotFound(detail string) *Error     { return New(Code_NotFound, detail) }
func NewConflict(detail string) *Error     { return New(Code_Conflict, detail) }
func NewTooManyRequests(detail string) *Error {
	return New(Code_TooManyRequests, detail)
}
func NewClientClosed(detail string) *Error   { return New(Code_ClientClosed, detail) }
func NewNotImplemented(detail string) *Error { return New(Code_NotImplemented, detail) }
func NewUnavailable(detail string) *Error    { return New(Code_Unavailable, detail) }
func NewGatewayTimeout(detail string) *Error { return New(Code_GatewayTimeout, detail) }

// Protocol taxonomy constructors (spec.md §7).
func NewProtocolViolation(detail string) *Error { return New(Code_ProtocolViolation, detail) }
func NewAuthPending() *Error                    { return New(Code_AuthPending, "pending") }
func NewAuthRejected() *Error                   { return New(Code_AuthRejected, "rejected") }
func NewAuthDenied() *Error                     { return New(Code_AuthDenied, "denied") }
func NewUnauthorizedPublish(detail string) *Error {
	return New(Code_UnauthorizedPub, detail)
}
func NewReplayDetected() *Error    { return New(Code_ReplayDetected, "replay detected") }
func NewTimeout(detail string) *Error { return New(Code_Timeout, detail) }
func NewBackpressureDrop() *Error  { return New(Code_BackpressureDrop, "backpressure drop") }

func IsOk(err error) bool            { return Parse(err).Code == Code_Ok }
func IsNotFound(err error) bool      { return Parse(err).Code == Code_NotFound }
func IsConflict(err error) bool      { return Parse(err).Code == Code_Conflict }
func IsUnauthorized(err error) bool  { return Parse(err).Code == Code_Unauthorized }
func IsAuthPending(err error) bool   { return Parse(err).Code == Code_AuthPending }
func IsAuthRejected(err error) bool  { return Parse(err).Code == Code_AuthRejected }
func IsAuthDenied(err error) bool    { return Parse(err).Code == Code_AuthDenied }
func IsReplayDetected(err error) bool { return Parse(err).Code == Code_ReplayDetected }
func IsTimeout(err error) bool       { return Parse(err).Code == Code_Timeout }

// Parse converts any error into an *Error, preserving the code of an
// already-typed *Error and defaulting everything else to Code_Unknown.
func Parse(err error) *Error {
	if err == nil {
		return nil
	}
	switch e := err.(type) {
	case *Error:
		return e
	case ValidationError:
		return NewBadRequest(e.Reason())
	default:
		var ee *Error
		if e1 := json.Unmarshal([]byte(err.Error()), &ee); e1 == nil && ee != nil && ee.Code != "" {
			return ee
		}
		return NewUnknown(err.Error())
	}
}
