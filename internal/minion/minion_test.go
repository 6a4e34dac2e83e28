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

package minion

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/macofab/macod/api/types"
)

func testMinion(t *testing.T) *Minion {
	t.Helper()
	return &Minion{
		lg: zap.NewNop(),
		cfg: &Config{
			MinionId:   "web-01",
			HostGroups: []string{"web"},
			Grains:     map[string]string{"os": "linux", "role": "web"},
		},
	}
}

func TestTargetedListAndGlobAreAlwaysRelevant(t *testing.T) {
	m := testMinion(t)

	assert.True(t, m.targeted(&types.CallRequest{TargetKind: types.TargetList, TargetExpr: "db-01"}),
		"list/glob targeting is already resolved by the master before a publish reaches the minion")
	assert.True(t, m.targeted(&types.CallRequest{TargetKind: types.TargetGlob, TargetExpr: "db-*"}))
}

func TestTargetedGrainMatchesOwnGrains(t *testing.T) {
	m := testMinion(t)

	assert.True(t, m.targeted(&types.CallRequest{TargetKind: types.TargetGrain, TargetExpr: "G@os:linux"}))
	assert.False(t, m.targeted(&types.CallRequest{TargetKind: types.TargetGrain, TargetExpr: "G@os:windows"}))
}

func TestTargetedCompoundEvaluatesAllConditions(t *testing.T) {
	m := testMinion(t)

	assert.True(t, m.targeted(&types.CallRequest{TargetKind: types.TargetCompound, TargetExpr: "G@os:linux and G@role:web"}))
	assert.False(t, m.targeted(&types.CallRequest{TargetKind: types.TargetCompound, TargetExpr: "G@os:linux and G@role:db"}))
}

func TestTargetedHostGroupMatchesOwnGroups(t *testing.T) {
	m := testMinion(t)

	assert.True(t, m.targeted(&types.CallRequest{TargetKind: types.TargetCompound, TargetExpr: "N@web"}))
	assert.False(t, m.targeted(&types.CallRequest{TargetKind: types.TargetCompound, TargetExpr: "N@database"}))
}

func TestTargetedDropsMalformedExpression(t *testing.T) {
	m := testMinion(t)

	assert.False(t, m.targeted(&types.CallRequest{TargetKind: types.TargetGrain, TargetExpr: "P@os:("}))
}

func TestApplyConnectResponseRejectedIsFatal(t *testing.T) {
	m := testMinion(t)

	err := m.applyConnectResponse(&types.ConnectResponse{State: types.Rejected})
	assert.ErrorIs(t, err, errRejected)
	assert.True(t, fatalAuthErr(err))
}

func TestApplyConnectResponseDeniedIsFatal(t *testing.T) {
	m := testMinion(t)

	err := m.applyConnectResponse(&types.ConnectResponse{State: types.Denied})
	assert.ErrorIs(t, err, errDenied)
	assert.True(t, fatalAuthErr(err))
}

func TestApplyConnectResponsePendingIsNotFatal(t *testing.T) {
	m := testMinion(t)

	err := m.applyConnectResponse(&types.ConnectResponse{State: types.Unaccepted})
	assert.ErrorIs(t, err, errNotAccepted)
	assert.False(t, fatalAuthErr(err))
}
