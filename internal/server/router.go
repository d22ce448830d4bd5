package server

import (
	"net/http"
	"strings"
)

// availabilityMessage is the fixed string the root path answers with.
const availabilityMessage = "omnifeed is up"

// PipelineHTTP defines the minimal surface the router needs from the
// aggregation pipeline to serve HTTP requests.
type PipelineHTTP interface {
	ServeAsk(http.ResponseWriter, *http.Request)
	ServeChat(http.ResponseWriter, *http.Request)
	ServeWiki(http.ResponseWriter, *http.Request)
	ServeHealth(http.ResponseWriter, *http.Request)
	WriteError(http.ResponseWriter, int, string)
}

// NewPipelineHandler wires the HTTP routing facade to the aggregation
// pipeline so the lifecycle server owns URL dispatch without embedding
// routing logic into the pipeline itself.
func NewPipelineHandler(p PipelineHTTP) http.Handler {
	if p == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "pipeline unavailable", http.StatusServiceUnavailable)
		})
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		applyCORS(w)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		switch strings.Trim(r.URL.Path, "/") {
		case "":
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			_, _ = w.Write([]byte(availabilityMessage))
		case "ask":
			if !requireMethod(p, w, r, http.MethodPost) {
				return
			}
			p.ServeAsk(w, r)
		case "chat":
			if !requireMethod(p, w, r, http.MethodPost) {
				return
			}
			p.ServeChat(w, r)
		case "wiki":
			if !requireMethod(p, w, r, http.MethodGet) {
				return
			}
			p.ServeWiki(w, r)
		case "health", "healthz":
			if !requireMethod(p, w, r, http.MethodGet) {
				return
			}
			p.ServeHealth(w, r)
		default:
			http.NotFound(w, r)
		}
	})
}

func requireMethod(p PipelineHTTP, w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		p.WriteError(w, http.StatusMethodNotAllowed, "method "+r.Method+" not allowed")
		return false
	}
	return true
}

func applyCORS(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	h.Set("Access-Control-Allow-Headers", "Content-Type")
}
