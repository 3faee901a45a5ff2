// Package api serves the endpoint REST interface of the manager.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"

	"github.com/golang/glog"

	"ardupilot-manager/pkg/model"
	"ardupilot-manager/pkg/supervisor"
)

// Prefixes every route is registered under.
var versionPrefixes = []string{"", "/v1.0", "/latest"}

// Config carries the optional parts of the HTTP surface.
type Config struct {
	Token     string
	JWTSecret []byte
	Journal   JournalReader
	Metrics   http.Handler
	StaticDir string
	Hub       *WatchHub
}

// RegisterRoutes wires the HTTP handlers on the provided mux.
func RegisterRoutes(mux *http.ServeMux, mgr Manager, cfg Config) {
	auth := authFunc(cfg.Token, cfg.JWTSecret)
	hub := cfg.Hub
	if hub == nil {
		hub = NewWatchHub(mgr)
	}

	if info, err := os.Stat(cfg.StaticDir); cfg.StaticDir != "" && err == nil && info.IsDir() {
		mux.Handle("/", http.FileServer(http.Dir(cfg.StaticDir)))
	} else {
		mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/" {
				http.NotFound(w, r)
				return
			}
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ardupilot-manager"))
		})
	}

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if cfg.Metrics != nil {
		mux.Handle("/metrics", cfg.Metrics)
	}

	for _, prefix := range versionPrefixes {
		mux.HandleFunc(prefix+"/endpoints", requireAuth(auth, func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodGet:
				writeJSON(w, http.StatusOK, mgr.GetEndpoints().Sorted())
			case http.MethodPost:
				handleAdd(w, r, mgr)
			case http.MethodDelete:
				handleRemove(w, r, mgr)
			default:
				http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			}
		}))

		mux.HandleFunc(prefix+"/endpoints/watch", requireAuth(auth, hub.HandleWatch))

		mux.HandleFunc(prefix+"/status", requireAuth(auth, func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodGet {
				http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
				return
			}
			writeJSON(w, http.StatusOK, mgr.Status())
		}))

		mux.HandleFunc(prefix+"/restart", requireAuth(auth, func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
				return
			}
			if err := mgr.Restart(); err != nil {
				glog.Errorf("[api]restart failed: %v", err)
				writeJSON(w, http.StatusInternalServerError, ErrorResponse{Message: err.Error()})
				return
			}
			w.WriteHeader(http.StatusOK)
		}))

		if cfg.Journal != nil {
			mux.HandleFunc(prefix+"/journal", requireAuth(auth, func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodGet {
					http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
					return
				}
				limit := 0
				if v := r.URL.Query().Get("limit"); v != "" {
					n, err := strconv.Atoi(v)
					if err != nil || n < 0 {
						writeJSON(w, http.StatusBadRequest, ErrorResponse{Message: "limit must be a non-negative integer"})
						return
					}
					limit = n
				}
				entries, err := cfg.Journal.List(r.Context(), limit)
				if err != nil {
					http.Error(w, "failed to list journal", http.StatusInternalServerError)
					return
				}
				writeJSON(w, http.StatusOK, entries)
			}))
		}
	}
}

func handleAdd(w http.ResponseWriter, r *http.Request, mgr Manager) {
	set, err := decodeEndpoints(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Message: err.Error()})
		return
	}
	if err := mgr.AddEndpoints(set); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, set.Sorted())
}

func handleRemove(w http.ResponseWriter, r *http.Request, mgr Manager) {
	set, err := decodeEndpoints(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Message: err.Error()})
		return
	}
	if err := mgr.RemoveEndpoints(set); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, set.Sorted())
}

func decodeEndpoints(r *http.Request) (model.EndpointSet, error) {
	var list []model.Endpoint
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&list); err != nil {
		return nil, fmt.Errorf("invalid payload: %v", err)
	}
	for _, e := range list {
		if err := e.Validate(); err != nil {
			return nil, err
		}
	}
	return model.NewEndpointSet(list...), nil
}

// writeError maps persistence failures to 500 and everything else the
// supervisor rejects to 400.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusBadRequest
	if errors.Is(err, supervisor.ErrPersist) {
		status = http.StatusInternalServerError
	}
	glog.Warningf("[api]endpoint request failed (%d): %v", status, err)
	writeJSON(w, status, ErrorResponse{Message: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		glog.Errorf("[api]failed to write response: %v", err)
	}
}
