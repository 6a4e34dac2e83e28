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

import "context"

// RunnerContext is the explicit per-call dependency-injection seam
// spec.md §9 asks for in place of the source's dunder-dictionary/global
// injection pattern: a runner reads its call (Fn, Args, Kwargs) and Ctx
// from it and reports progress through Emit instead of reaching into
// package-level state. It carries no configuration options or logger.
type RunnerContext struct {
	Ctx    context.Context
	Fn     string
	Args   []string
	Kwargs map[string]string
	Emit   func(tag string, payload []byte)
}

// Runner is the single seam through which the core hands off to the
// out-of-scope execution-module subsystem (spec.md §1). The shipped
// default runner executes a shell command strictly as a stand-in so the
// round-trip tests have something real to run.
type Runner interface {
	Run(rc *RunnerContext) (*CallResponse, error)
}
