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

// Package iprange parses comma-separated CIDR notation and answers
// containment queries against it. It backs the S@ selection tag in
// api/types.
package iprange

import (
	"fmt"
	"net"
	"strings"
)

// Range is a single parsed CIDR block.
type Range struct {
	text string
	net  *net.IPNet
}

func (r Range) String() string { return r.text }

// Contains reports whether ip falls inside the range. A nil ip never matches.
func (r Range) Contains(ip net.IP) bool {
	if ip == nil || r.net == nil {
		return false
	}
	return r.net.Contains(ip)
}

// ParseRanges parses a comma-separated list of CIDR blocks, e.g.
// "10.0.0.0/8,192.168.1.0/24". A single bare address is treated as a /32
// (or /128 for IPv6).
func ParseRanges(text string) ([]Range, error) {
	parts := strings.Split(text, ",")
	ranges := make([]Range, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if !strings.Contains(part, "/") {
			ip := net.ParseIP(part)
			if ip == nil {
				return nil, fmt.Errorf("iprange: invalid address %q", part)
			}
			bits := 32
			if ip.To4() == nil {
				bits = 128
			}
			part = fmt.Sprintf("%s/%d", part, bits)
		}
		_, ipnet, err := net.ParseCIDR(part)
		if err != nil {
			return nil, fmt.Errorf("iprange: invalid CIDR %q: %w", part, err)
		}
		ranges = append(ranges, Range{text: part, net: ipnet})
	}
	if len(ranges) == 0 {
		return nil, fmt.Errorf("iprange: no ranges parsed from %q", text)
	}
	return ranges, nil
}
