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

import "net/http"

// Code is a string error taxonomy: the generic HTTP-ish family plus the
// protocol taxonomy spec.md §7 names directly (protocol_violation,
// auth_pending, ...).
type Code string

const (
	Code_Ok              Code = "ok"
	Code_Unknown         Code = "unknown"
	Code_Internal        Code = "internal"
	Code_BadRequest      Code = "bad_request"
	Code_Unauthorized    Code = "unauthorized"
	Code_Forbidden       Code = "forbidden"
	Code_NotFound        Code = "not_found"
	Code_Conflict        Code = "conflict"
	Code_TooManyRequests Code = "too_many_requests"
	Code_ClientClosed    Code = "client_closed"
	Code_NotImplemented  Code = "not_implemented"
	Code_Unavailable     Code = "unavailable"
	Code_GatewayTimeout  Code = "gateway_timeout"

	Code_ProtocolViolation Code = "protocol_violation"
	Code_AuthPending       Code = "auth_pending"
	Code_AuthRejected      Code = "auth_rejected"
	Code_AuthDenied        Code = "auth_denied"
	Code_UnauthorizedPub   Code = "unauthorized_publish"
	Code_ReplayDetected    Code = "replay_detected"
	Code_Timeout           Code = "timeout"
	Code_BackpressureDrop  Code = "backpressure_drop"
)

func (c Code) String() string { return string(c) }

func (c Code) ToHttpCode() int {
	switch c {
	case Code_Ok:
		return http.StatusOK
	case Code_BadRequest, Code_ProtocolViolation:
		return http.StatusBadRequest
	case Code_Unauthorized, Code_AuthPending, Code_AuthRejected, Code_AuthDenied, Code_UnauthorizedPub:
		return http.StatusUnauthorized
	case Code_Forbidden:
		return http.StatusForbidden
	case Code_NotFound:
		return http.StatusNotFound
	case Code_Conflict:
		return http.StatusConflict
	case Code_TooManyRequests, Code_BackpressureDrop:
		return http.StatusTooManyRequests
	case Code_ClientClosed:
		return 499
	case Code_NotImplemented:
		return http.StatusNotImplemented
	case Code_Unavailable:
		return http.StatusServiceUnavailable
	case Code_GatewayTimeout, Code_Timeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func FromHttpCode(c int) Code {
	switch c {
	case http.StatusOK:
		return Code_Ok
	case http.StatusBadRequest:
		return Code_BadRequest
	case http.StatusUnauthorized:
		return Code_Unauthorized
	case http.StatusForbidden:
		return Code_Forbidden
	case http.StatusNotFound:
		return Code_NotFound
	case http.StatusConflict:
		return Code_Conflict
	case http.StatusTooManyRequests:
		return Code_TooManyRequests
	case 499:
		return Code_ClientClosed
	case http.StatusInternalServerError:
		return Code_Internal
	case http.StatusServiceUnavailable:
		return Code_Unavailable
	case http.StatusNotImplemented:
		return Code_NotImplemented
	case http.StatusGatewayTimeout:
		return Code_GatewayTimeout
	default:
		return Code_Unknown
	}
}
