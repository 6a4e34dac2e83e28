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

package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func webMinion() *Minion {
	return &Minion{
		MinionId:   "web-01",
		Addr:       "10.0.0.5:4505",
		HostGroups: []string{"web"},
		GrainsData: map[string]string{"os": "linux", "role": "web"},
		PillarData: map[string]string{"env": "prod"},
	}
}

func TestParseSelectionGlob(t *testing.T) {
	opts, err := ParseSelection("*")
	require.NoError(t, err)
	matched, hit := opts.MatchTarget(webMinion(), false)
	assert.True(t, hit)
	assert.True(t, matched)
}

func TestParseSelectionHostList(t *testing.T) {
	opts, err := ParseSelection("web-01,web-02")
	require.NoError(t, err)
	matched, _ := opts.MatchTarget(webMinion(), false)
	assert.True(t, matched)

	opts, err = ParseSelection("db-01,db-02")
	require.NoError(t, err)
	matched, _ = opts.MatchTarget(webMinion(), false)
	assert.False(t, matched)
}

func TestParseSelectionGrainsAndCompound(t *testing.T) {
	opts, err := ParseSelection("G@os:linux and G@role:web")
	require.NoError(t, err)
	matched, _ := opts.MatchTarget(webMinion(), false)
	assert.True(t, matched)

	opts, err = ParseSelection("G@os:linux and G@role:db")
	require.NoError(t, err)
	matched, _ = opts.MatchTarget(webMinion(), false)
	assert.False(t, matched)
}

func TestParseSelectionOr(t *testing.T) {
	opts, err := ParseSelection("G@role:db or G@role:web")
	require.NoError(t, err)
	matched, _ := opts.MatchTarget(webMinion(), false)
	assert.True(t, matched)
}

func TestMatchTargetSimpleModeSkipsGrains(t *testing.T) {
	opts, err := ParseSelection("G@os:linux")
	require.NoError(t, err)

	matched, hit := opts.MatchTarget(webMinion(), true)
	assert.False(t, hit, "simple mode must not evaluate grains conditions")
	assert.False(t, matched)

	matched, hit = opts.MatchTarget(webMinion(), false)
	assert.True(t, hit)
	assert.True(t, matched)
}

func TestParseSelectionHostGroup(t *testing.T) {
	opts, err := ParseSelection("N@web")
	require.NoError(t, err)
	matched, _ := opts.MatchTarget(webMinion(), false)
	assert.True(t, matched)

	opts, err = ParseSelection("N@database")
	require.NoError(t, err)
	matched, _ = opts.MatchTarget(webMinion(), false)
	assert.False(t, matched)
}

func TestParseSelectionInvalidRegexReturnsError(t *testing.T) {
	_, err := ParseSelection("E@(")
	assert.Error(t, err)
}

func TestToTextRoundTrip(t *testing.T) {
	const expr = "E@web[0-9]+ and G@os:linux"
	opts, err := ParseSelection(expr)
	require.NoError(t, err)
	assert.Equal(t, expr, opts.ToText())
}

func TestValidateRejectsLeadingLogicOperator(t *testing.T) {
	opts := &SelectionOptions{Selections: []*Selection{{And: &LogicAnd{}}}}
	assert.Error(t, opts.Validate())
}

func TestValidateRejectsEmptySelectionChain(t *testing.T) {
	opts := &SelectionOptions{}
	assert.Error(t, opts.Validate())
}
