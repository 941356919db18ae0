package status

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"smartflow-perp/logging"
	"smartflow-perp/risk"
)

// Options wires the status server to the running bot
type Options struct {
	Addr string
	// Status returns the JSON body of /status
	Status    func() interface{}
	Metrics   http.Handler
	Dashboard http.Handler
	ResetHalt func()
	Halt      func(reason string)

	// ClosePosition closes one symbol at market; nil disables the route
	ClosePosition func(ctx context.Context, symbol string) error
}

// Disabled reports whether addr turns the server off
func Disabled(addr string) bool {
	addr = strings.TrimSpace(addr)
	return addr == "" || strings.EqualFold(addr, "off") || strings.EqualFold(addr, "disabled")
}

// NewMux builds the status routes
func NewMux(opts Options, logger logging.LoggerInterface) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		var body interface{}
		if opts.Status != nil {
			body = opts.Status()
		}
		w.Header().Set("Content-Type", "application/json")
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(body); err != nil {
			http.Error(w, "failed to encode status", http.StatusInternalServerError)
			return
		}
	})
	if opts.Metrics != nil {
		mux.Handle("/metrics", opts.Metrics)
	}
	if opts.Dashboard != nil {
		mux.Handle("/ws", opts.Dashboard)
	}
	mux.HandleFunc("/halt/reset", func(w http.ResponseWriter, r *http.Request) {
		if !postOnly(w, r) {
			return
		}
		if opts.ResetHalt == nil {
			http.Error(w, "reset not available", http.StatusNotImplemented)
			return
		}
		opts.ResetHalt()
		logger.Warning("Trading halt reset via status server from %s", r.RemoteAddr)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"reset":true}` + "\n"))
	})
	mux.HandleFunc("/halt", func(w http.ResponseWriter, r *http.Request) {
		if !postOnly(w, r) {
			return
		}
		if opts.Halt == nil {
			http.Error(w, "halt not available", http.StatusNotImplemented)
			return
		}
		reason := strings.TrimSpace(r.URL.Query().Get("reason"))
		if reason == "" {
			reason = "manual halt"
		}
		opts.Halt(reason)
		logger.Warning("Trading halted via status server from %s: %s", r.RemoteAddr, reason)
		writeJSON(w, http.StatusOK, map[string]interface{}{"halted": true, "reason": reason})
	})
	mux.HandleFunc("/positions/close", func(w http.ResponseWriter, r *http.Request) {
		if !postOnly(w, r) {
			return
		}
		if opts.ClosePosition == nil {
			http.Error(w, "close not available", http.StatusNotImplemented)
			return
		}
		symbol := strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("symbol")))
		if symbol == "" {
			http.Error(w, "symbol is required", http.StatusBadRequest)
			return
		}
		logger.Warning("Manual close of %s requested via status server from %s", symbol, r.RemoteAddr)
		if err := opts.ClosePosition(r.Context(), symbol); err != nil {
			code := http.StatusBadGateway
			if errors.Is(err, risk.ErrNoPosition) {
				code = http.StatusNotFound
			}
			http.Error(w, fmt.Sprintf("close %s: %v", symbol, err), code)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"closed": symbol})
	})
	return mux
}

func postOnly(w http.ResponseWriter, r *http.Request) bool {
	if r.Method == http.MethodPost {
		return true
	}
	w.Header().Set("Allow", http.MethodPost)
	http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	return false
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// StartServer starts a local HTTP status server for diagnostics.
func StartServer(opts Options, logger logging.LoggerInterface) *http.Server {
	if Disabled(opts.Addr) {
		logger.Info("Status server disabled")
		return nil
	}
	addr := strings.TrimSpace(opts.Addr)

	server := &http.Server{
		Addr:              addr,
		Handler:           NewMux(opts, logger),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("Status server listening on %s", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Status server error: %v", err)
		}
	}()

	return server
}
