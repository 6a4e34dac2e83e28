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

package iprange

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRangesCIDR(t *testing.T) {
	ranges, err := ParseRanges("10.0.0.0/8,192.168.1.0/24")
	require.NoError(t, err)
	require.Len(t, ranges, 2)

	assert.True(t, ranges[0].Contains(net.ParseIP("10.1.2.3")))
	assert.False(t, ranges[0].Contains(net.ParseIP("192.168.1.5")))
	assert.True(t, ranges[1].Contains(net.ParseIP("192.168.1.5")))
}

func TestParseRangesBareAddressIsSlash32(t *testing.T) {
	ranges, err := ParseRanges("10.0.0.5")
	require.NoError(t, err)
	require.Len(t, ranges, 1)

	assert.True(t, ranges[0].Contains(net.ParseIP("10.0.0.5")))
	assert.False(t, ranges[0].Contains(net.ParseIP("10.0.0.6")))
}

func TestParseRangesInvalidAddress(t *testing.T) {
	_, err := ParseRanges("not-an-ip")
	assert.Error(t, err)
}

func TestParseRangesEmptyString(t *testing.T) {
	_, err := ParseRanges("")
	assert.Error(t, err)
}

func TestRangeContainsNilIP(t *testing.T) {
	ranges, err := ParseRanges("10.0.0.0/8")
	require.NoError(t, err)
	assert.False(t, ranges[0].Contains(nil))
}
