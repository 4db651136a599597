package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	log "github.com/sirupsen/logrus"
)

// Prefix is the mount point of the versioned REST API.
const Prefix = "/api/v1"

// Router wires the REST API, the websocket feed and, when metrics is not
// nil, the Prometheus endpoint.
func Router(h *Handler, feed *Feed, metrics http.Handler) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger)
	r.Use(middleware.Recoverer)

	// Enable CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/", h.Health)
	if feed != nil {
		r.Handle("/ws", feed)
	}
	if metrics != nil {
		r.Handle("/metrics", metrics)
	}

	r.Route(Prefix, func(r chi.Router) {
		// Public endpoints
		r.Post("/auth/register", h.Register)
		r.Post("/auth/login", h.Login)
		r.Get("/networks", h.ListNetworks)
		r.Get("/rates", h.GetRates)
		r.Post("/fees/estimate", h.EstimateFee)
		r.Post("/address/validate", h.ValidateAddress)
		r.Get("/tx/{network}/{hash}", h.GetTxStatus)

		r.With(h.OptionalAuthMiddleware).Post("/tx/broadcast", h.BroadcastTx)

		// Protected endpoints (require JWT)
		r.Group(func(r chi.Router) {
			r.Use(h.JWTAuthMiddleware)
			r.Post("/orders", h.CreateOrder)
			r.Get("/orders", h.ListOpenOrders)
			r.Post("/orders/{id}/accept", h.AcceptOrder)
			r.Post("/orders/{id}/confirm", h.ConfirmOrder)
			r.Post("/orders/{id}/cancel", h.CancelOrder)
			r.Get("/history", h.History)
		})
	})
	return r
}

// RequestLogger logs every request once it has been served.
func RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			entry := log.WithFields(log.Fields{
				"method":      r.Method,
				"path":        r.URL.Path,
				"status":      status,
				"duration_ms": time.Since(start).Milliseconds(),
				"request_id":  middleware.GetReqID(r.Context()),
			})
			if status >= http.StatusInternalServerError {
				entry.Warn("request served")
				return
			}
			entry.Debug("request served")
		}()
		next.ServeHTTP(ww, r)
	})
}
