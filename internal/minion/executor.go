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
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"time"

	"go.uber.org/zap"

	"github.com/macofab/macod/api/types"
	"github.com/macofab/macod/internal/transport"
	"github.com/macofab/macod/pkg/eventbus"
)

// ShellRunner is the stand-in types.Runner shipped with this repo: it
// runs fn (plus args, shell-joined) through /bin/bash, exactly as the
// teacher's inline runCmd did, but behind the Runner seam instead of a
// hardcoded call — a real execution-module would replace this entirely
// without touching the executor pool around it.
type ShellRunner struct{}

func (ShellRunner) Run(rc *types.RunnerContext) (*types.CallResponse, error) {
	shell := rc.Fn
	for _, arg := range rc.Args {
		shell += " " + arg
	}

	buf := bytes.NewBufferString("")
	cmd := exec.CommandContext(rc.Ctx, "/bin/bash", "-c", shell)
	cmd.Stdout = buf
	cmd.Stderr = buf

	var runErr error
	if runErr = cmd.Start(); runErr == nil {
		runErr = cmd.Wait()
	}

	resp := &types.CallResponse{Success: true, Result: types.ResultSuccess}
	if runErr != nil {
		resp.Success = false
		resp.Result = types.ResultFailure
		resp.Error = fmt.Sprintf("%v: %s", runErr, buf.String())
	} else {
		resp.Payload = bytes.TrimSuffix(buf.Bytes(), []byte("\n"))
	}
	return resp, runErr
}

// Executor is a bounded pool of in-flight runner invocations (spec.md
// §4.8: "spawns a short-lived executor ... posts the result as an event
// with a well-known tag on the local event bus"). Replacing the
// teacher's direct decrypt-then-exec call with this decoupled
// spawn-executor/event/return-sender pipeline is the generalization
// SPEC_FULL.md §4.8 calls for.
type Executor struct {
	lg      *zap.Logger
	runner  types.Runner
	bus     *eventbus.Ingress
	sem     chan struct{}
}

func NewExecutor(lg *zap.Logger, runner types.Runner, bus *eventbus.Ingress, concurrencyCap int) *Executor {
	if concurrencyCap < 1 {
		concurrencyCap = 8
	}
	if runner == nil {
		runner = ShellRunner{}
	}
	return &Executor{lg: lg, runner: runner, bus: bus, sem: make(chan struct{}, concurrencyCap)}
}

// Spawn runs req asynchronously, respecting req.Ttl as a hard deadline,
// and publishes the outcome as a "job/<jid>/done" event carrying the
// encoded CallResponse. A full executor pool drops the job and publishes
// a failure response immediately rather than queuing unboundedly, which
// would let a slow target starve the minion's own liveness.
func (ex *Executor) Spawn(minionId string, req *types.CallRequest) {
	select {
	case ex.sem <- struct{}{}:
	default:
		ex.publish(req.Jid, &types.CallResponse{
			Jid: req.Jid, MinionId: minionId, Success: false,
			Result: types.ResultFailure, Error: "executor pool saturated",
		})
		return
	}

	go func() {
		defer func() { <-ex.sem }()

		ctx := context.Background()
		var cancel context.CancelFunc
		if req.Ttl > 0 {
			ctx, cancel = context.WithTimeout(ctx, req.Ttl)
			defer cancel()
		}

		rc := &types.RunnerContext{
			Ctx: ctx, Fn: req.Fn, Args: req.Args, Kwargs: req.Kwargs,
			Emit: func(tag string, payload []byte) {
				ex.bus.Publish(types.Event{
					Tag: fmt.Sprintf("job/%s/%s", req.Jid, tag), Type: types.EventPublish,
					Data: payload, Ts: time.Now(),
				})
			},
		}

		resp, err := ex.runner.Run(rc)
		if err != nil && resp == nil {
			resp = &types.CallResponse{Success: false, Result: types.ResultFailure, Error: err.Error()}
		}
		resp.Jid = req.Jid
		resp.MinionId = minionId
		ex.publish(req.Jid, resp)
	}()
}

func (ex *Executor) publish(jid string, resp *types.CallResponse) {
	data, err := transport.EncodeBody(resp)
	if err != nil {
		ex.lg.Error("encode call response failed", zap.Error(err))
		return
	}
	ex.bus.Publish(types.Event{
		Tag: fmt.Sprintf("job/%s/done", jid), Type: types.EventReturn,
		Data: data, Ts: time.Now(),
	})
}
