// Copyright 2024 Nokia
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/sdcio/workpool/pkg/pool"
)

const (
	actionStart     = "start"
	actionStop      = "stop"
	actionInterrupt = "interrupt"
)

type startRequest struct {
	Workers int `json:"workers"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Handler returns the HTTP router serving metrics and the pool endpoints.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) registerRoutes() {
	s.router.Handle("/metrics", promhttp.HandlerFor(s.reg, promhttp.HandlerOpts{}))
	s.router.HandleFunc("/pools", s.listPools).Methods(http.MethodGet)
	s.router.HandleFunc("/pools/{name}", s.getPool).Methods(http.MethodGet)
	s.router.HandleFunc("/pools/{name}/{action}", s.poolAction).Methods(http.MethodPost)
}

func (s *Server) listPools(w http.ResponseWriter, _ *http.Request) {
	all := s.pools.GetPoolAll()
	stats := make([]pool.Stats, 0, len(all))
	for _, p := range all {
		stats = append(stats, p.Stats())
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) getPool(w http.ResponseWriter, r *http.Request) {
	p, err := s.pools.GetPool(mux.Vars(r)["name"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p.Stats())
}

func (s *Server) poolAction(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	p, err := s.pools.GetPool(vars["name"])
	if err != nil {
		writeError(w, err)
		return
	}
	switch vars["action"] {
	case actionStart:
		req := new(startRequest)
		if r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(req); err != nil {
				writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
				return
			}
		}
		if req.Workers == 0 {
			req.Workers = s.configuredWorkers(p.Name())
		}
		if err := p.Start(req.Workers); err != nil {
			writeError(w, err)
			return
		}
	case actionStop:
		p.Stop()
	case actionInterrupt:
		p.Interrupt()
	default:
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "unknown action " + vars["action"]})
		return
	}
	log.Infof("pool %s: %s requested over HTTP", p.Name(), vars["action"])
	s.refreshHealth()
	writeJSON(w, http.StatusOK, p.Stats())
}

func (s *Server) configuredWorkers(name string) int {
	for _, pc := range s.config.Pools {
		if pc.Name == name {
			return pc.Workers
		}
	}
	return 1
}

func writeError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrUnknownPool):
		code = http.StatusNotFound
	case errors.Is(err, pool.ErrAlreadyStarted):
		code = http.StatusConflict
	case errors.Is(err, pool.ErrInvalidWorkerCount):
		code = http.StatusBadRequest
	}
	writeJSON(w, code, errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Errorf("failed to write response: %v", err)
	}
}
