package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"
)

// NewRouter mounts the API at the root and under /api, plus the WebSocket
// endpoint, health check and metrics.
func NewRouter(h *Handler, ws http.Handler, metrics http.Handler) *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("OK")) }).Methods(http.MethodGet)
	if metrics != nil {
		r.Handle("/metrics", metrics).Methods(http.MethodGet)
	}
	if ws != nil {
		r.Handle("/api/ws", ws)
	}

	for _, prefix := range []string{"", "/api"} {
		mountAPI(r, prefix, h)
	}
	return r
}

func mountAPI(r *mux.Router, prefix string, h *Handler) {
	r.Handle(prefix+"/code/{code}", cors(http.HandlerFunc(h.LookupCode), "")).Methods(http.MethodGet)
	r.Handle(prefix+"/users/delete", http.HandlerFunc(h.DeleteAccount)).Methods(http.MethodPost)
	r.Handle(prefix+"/users/{address}", cors(http.HandlerFunc(h.LookupAddress), "GET, OPTIONS")).Methods(http.MethodGet)
	r.Handle(prefix+"/users/{address}", cors(http.HandlerFunc(h.Preflight), "GET, OPTIONS")).Methods(http.MethodOptions)
	r.Handle(prefix+"/session", http.HandlerFunc(h.DeleteSession)).Methods(http.MethodDelete)
}

// cors allows any origin. methods, when set, is sent as
// Access-Control-Allow-Methods.
func cors(next http.Handler, methods string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		if methods != "" {
			w.Header().Set("Access-Control-Allow-Methods", methods)
		}
		next.ServeHTTP(w, r)
	})
}
