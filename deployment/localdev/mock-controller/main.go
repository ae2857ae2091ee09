package main

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"
)

// Mock AppDynamics controller for local development: issues short-lived
// tokens to any Basic-auth client and serves canned telemetry so the
// collector loop can be exercised without a real controller.

const appPath = "/controller/rest/applications/ecommerce-platform"

func main() {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("/controller/api/oauth/access_token", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if _, _, ok := r.BasicAuth(); !ok {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		writeJSON(w, map[string]any{
			"access_token": "mock-token-" + time.Now().Format("150405"),
			"token_type":   "Bearer",
			"expires_in":   600,
		})
	})

	mux.HandleFunc("/controller/rest/applications", requireToken(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, []map[string]any{{"id": 1, "name": "ecommerce-platform"}})
	}))

	mux.HandleFunc(appPath+"/business-transactions", requireToken(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, []map[string]any{
			{"id": 101, "name": "/checkout", "entryPointType": "SERVLET", "tierName": "checkout-service"},
			{"id": 102, "name": "/cart/add", "entryPointType": "SERVLET", "tierName": "cart-service"},
		})
	}))

	mux.HandleFunc(appPath+"/request-snapshots", requireToken(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, []map[string]any{
			{
				"requestGUID":             "snap-1001",
				"summary":                 "NullPointerException processing order",
				"businessTransactionName": "/checkout",
				"applicationComponentName": "checkout-service",
				"serverStartTime":         time.Now().Add(-2 * time.Minute).UnixMilli(),
				"timeTakenInMilliSecs":    842,
				"userExperience":          "ERROR",
				"errorDetails":            []string{"java.lang.NullPointerException: order was null"},
				"stackTraces": []string{
					"java.lang.NullPointerException: order was null\n" +
						"at com.ecommerce.checkout.OrderProcessor.process(OrderProcessor.java:87)\n" +
						"at com.ecommerce.checkout.CheckoutController.submit(CheckoutController.java:42)",
				},
			},
		})
	}))

	mux.HandleFunc(appPath+"/metric-data", requireToken(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, []map[string]any{
			{
				"metricName": "Average Response Time (ms)",
				"metricPath": "Overall Application Performance|Average Response Time (ms)",
				"metricValues": []map[string]any{
					{"value": 245.0, "startTimeInMillis": time.Now().Add(-time.Minute).UnixMilli()},
				},
			},
			{
				"metricName": "Errors per Minute",
				"metricPath": "Overall Application Performance|Errors per Minute",
				"metricValues": []map[string]any{
					{"value": 3.0, "startTimeInMillis": time.Now().Add(-time.Minute).UnixMilli()},
				},
			},
		})
	}))

	mux.HandleFunc(appPath+"/problems/healthrule-violations", requireToken(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, []map[string]any{
			{
				"id":                8801,
				"name":              "Error rate above threshold",
				"severity":          "CRITICAL",
				"incidentStatus":    "OPEN",
				"startTimeInMillis": time.Now().Add(-3 * time.Minute).UnixMilli(),
				"affectedEntityDefinition": map[string]any{
					"name": "payment-service",
				},
			},
		})
	}))

	mux.HandleFunc(appPath+"/events", requireToken(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	logger := log.New(log.Writer(), "mock-controller ", log.LstdFlags|log.Lmicroseconds)
	srv := &http.Server{
		Addr:    ":8081",
		Handler: logRequests(logger, mux),
	}

	logger.Println("listening on :8081")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("server error: %v", err)
	}
}

func requireToken(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("encode error: %v", err)
	}
}

func logRequests(logger *log.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		logger.Printf("%s %s %d %s", r.Method, r.URL.Path, rw.status, time.Since(start))
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}
