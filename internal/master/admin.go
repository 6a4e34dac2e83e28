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

package master

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	apiErr "github.com/macofab/macod/api/errors"
	"github.com/macofab/macod/api/types"
	"github.com/macofab/macod/pkg/eventbus"
)

// Admin is the master's low-frequency, curl-able HTTP surface: key
// lifecycle management, Prometheus metrics, and a websocket feed of the
// event bus. Everything on the hot path (publish/return) stays on the
// framed TCP transport; this is deliberately the "administrative"
// surface spec.md §6 separates out, following the teacher's
// handler.go/gorilla-mux wiring minus the gRPC-gateway layer it no
// longer needs.
type Admin struct {
	lg   *zap.Logger
	keys *KeyStore
	bus  *eventbus.Egress

	upgrader websocket.Upgrader
}

func NewAdmin(lg *zap.Logger, keys *KeyStore, bus *eventbus.Egress) *Admin {
	return &Admin{
		lg:   lg,
		keys: keys,
		bus:  bus,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

func (a *Admin) Router() *mux.Router {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/v1/minions", a.listMinions).Methods(http.MethodGet)
	r.HandleFunc("/v1/minions/{id}", a.getMinion).Methods(http.MethodGet)
	r.HandleFunc("/v1/minions/{id}/accept", a.acceptMinion).Methods(http.MethodPost)
	r.HandleFunc("/v1/minions/{id}/reject", a.rejectMinion).Methods(http.MethodPost)
	r.HandleFunc("/v1/minions/{id}", a.deleteMinion).Methods(http.MethodDelete)
	r.HandleFunc("/events", a.events).Methods(http.MethodGet)
	return r
}

func (a *Admin) listMinions(w http.ResponseWriter, r *http.Request) {
	var states []types.MinionState
	if s := r.URL.Query().Get("state"); s != "" {
		states = []types.MinionState{types.MinionState(s)}
	}
	writeJSON(w, http.StatusOK, a.keys.ListMinions(states...))
}

func (a *Admin) getMinion(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	key, err := a.keys.GetMinionKey(id)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, key)
}

func (a *Admin) acceptMinion(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var body struct {
		IncludeRejected bool `json:"include_rejected"`
		IncludeDenied   bool `json:"include_denied"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	if err := a.keys.AcceptMinion(id, body.IncludeRejected, body.IncludeDenied); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *Admin) rejectMinion(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var body struct {
		IncludeAccepted bool `json:"include_accepted"`
		IncludeDenied   bool `json:"include_denied"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	if err := a.keys.RejectMinion(id, body.IncludeAccepted, body.IncludeDenied); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *Admin) deleteMinion(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := a.keys.DeleteMinion(id); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// events upgrades to a websocket and streams every event matching the
// "prefix" query parameter ("" subscribes to everything) until the
// client disconnects.
func (a *Admin) events(w http.ResponseWriter, r *http.Request) {
	conn, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.lg.Warn("admin websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	prefix := r.URL.Query().Get("prefix")
	id, ch := a.bus.Subscribe(prefix, eventbus.DefaultBacklog)
	defer a.bus.Unsubscribe(id)

	for ev := range ch {
		if err := conn.WriteJSON(ev); err != nil {
			return
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, err error) {
	apiError := apiErr.Parse(err)
	writeJSON(w, apiError.Code.ToHttpCode(), apiError)
}
