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

// Package client is the local command-line caller's view of the fabric:
// one-shot job submission against the request server's raw frame
// protocol, and administrative key management against the master's
// admin HTTP surface. It replaces the teacher's single gRPC
// pb.MacoRPCClient with these two separate, narrower surfaces, one per
// master listener (internal/master/requestserver.go, internal/master/admin.go).
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"

	apiErr "github.com/macofab/macod/api/errors"
	"github.com/macofab/macod/api/types"
	"github.com/macofab/macod/internal/transport"
)

// Client is a short-lived connection to the master's request server,
// good for exactly one Ping or Call. The teacher's Client wrapped a
// long-lived grpc.ClientConn; there is no long-lived connection to wrap
// here, since a local CLI invocation is inherently one-shot.
type Client struct {
	cfg *Config
}

func NewClient(cfg *Config) (*Client, error) {
	if err := cfg.Init(); err != nil {
		return nil, err
	}
	return &Client{cfg: cfg}, nil
}

func (c *Client) dial(ctx context.Context) (net.Conn, error) {
	conn, err := transport.Dial(c.cfg.RequestAddr, c.cfg.TLS(), c.cfg.DialTimeout)
	if err != nil {
		return nil, apiErr.NewUnavailable(err.Error())
	}
	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(dl)
	}
	return conn, nil
}

// Ping round-trips a single frame against the request server, useful as
// a liveness check before a longer Call.
func (c *Client) Ping(ctx context.Context) error {
	conn, err := c.dial(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := transport.WriteFrame(conn, &transport.Frame{Kind: transport.KindPing}); err != nil {
		return apiErr.NewUnavailable(err.Error())
	}
	f, err := transport.ReadFrame(conn)
	if err != nil {
		return apiErr.NewUnavailable(err.Error())
	}
	if f.Kind != transport.KindPong {
		return apiErr.NewUnknownf("unexpected reply kind %q", f.Kind)
	}
	return nil
}

// submitAck is the body of the submit_ack frame on success; on failure
// the same frame carries an apiErr.Error instead (see
// RequestServer.writeSubmitError).
type submitAck struct {
	Jid     string   `msgpack:"jid"`
	Targets []string `msgpack:"targets"`
}

// Call submits req, waits for the submit_ack, and hands the still-open
// connection to a JobTracker so the caller can collect returns as they
// stream in (internal/master/requestserver.go's streamReturns is the
// other end of this same connection).
func (c *Client) Call(ctx context.Context, req *types.CallRequest) (*JobTracker, error) {
	conn, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}

	body, err := transport.EncodeBody(req)
	if err != nil {
		conn.Close()
		return nil, apiErr.NewInternal(err.Error())
	}
	if err := transport.WriteFrame(conn, &transport.Frame{Kind: transport.KindSubmit, Body: body}); err != nil {
		conn.Close()
		return nil, apiErr.NewUnavailable(err.Error())
	}

	f, err := transport.ReadFrame(conn)
	if err != nil {
		conn.Close()
		return nil, apiErr.NewUnavailable(err.Error())
	}

	var ack submitAck
	if err := transport.DecodeBody(f.Body, &ack); err != nil || ack.Jid == "" {
		var apiError apiErr.Error
		if decErr := transport.DecodeBody(f.Body, &apiError); decErr == nil && apiError.Code != "" {
			conn.Close()
			return nil, &apiError
		}
		conn.Close()
		return nil, apiErr.NewUnknown("malformed submit_ack")
	}

	return newJobTracker(conn, ack.Jid, ack.Targets, req.Ttl), nil
}

// --- administrative surface (admin HTTP), low frequency, curl-able ---

func (c *Client) adminURL(path string) string {
	scheme := "http"
	if c.cfg.CertFile != "" {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s%s", scheme, c.cfg.AdminAddr, path)
}

func (c *Client) ListMinions(ctx context.Context, state string) ([]*types.MinionKey, error) {
	url := c.adminURL("/v1/minions")
	if state != "" {
		url += "?state=" + state
	}
	var out []*types.MinionKey
	if err := c.adminGet(ctx, url, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetMinion(ctx context.Context, id string) (*types.MinionKey, error) {
	var out types.MinionKey
	if err := c.adminGet(ctx, c.adminURL("/v1/minions/"+id), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) AcceptMinion(ctx context.Context, id string, includeRejected, includeDenied bool) error {
	body, _ := json.Marshal(struct {
		IncludeRejected bool `json:"include_rejected"`
		IncludeDenied   bool `json:"include_denied"`
	}{includeRejected, includeDenied})
	return c.adminPost(ctx, c.adminURL("/v1/minions/"+id+"/accept"), body)
}

func (c *Client) RejectMinion(ctx context.Context, id string, includeAccepted, includeDenied bool) error {
	body, _ := json.Marshal(struct {
		IncludeAccepted bool `json:"include_accepted"`
		IncludeDenied   bool `json:"include_denied"`
	}{includeAccepted, includeDenied})
	return c.adminPost(ctx, c.adminURL("/v1/minions/"+id+"/reject"), body)
}

func (c *Client) DeleteMinion(ctx context.Context, id string) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.adminURL("/v1/minions/"+id), nil)
	if err != nil {
		return apiErr.NewInternal(err.Error())
	}
	resp, err := http.DefaultClient.Do(httpReq)
	if err != nil {
		return apiErr.NewUnavailable(err.Error())
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return apiErr.New(apiErr.FromHttpCode(resp.StatusCode), resp.Status)
	}
	return nil
}

func (c *Client) adminGet(ctx context.Context, url string, out any) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return apiErr.NewInternal(err.Error())
	}
	resp, err := http.DefaultClient.Do(httpReq)
	if err != nil {
		return apiErr.NewUnavailable(err.Error())
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return apiErr.New(apiErr.FromHttpCode(resp.StatusCode), resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) adminPost(ctx context.Context, url string, body []byte) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return apiErr.NewInternal(err.Error())
	}
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(httpReq)
	if err != nil {
		return apiErr.NewUnavailable(err.Error())
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return apiErr.New(apiErr.FromHttpCode(resp.StatusCode), resp.Status)
	}
	return nil
}
