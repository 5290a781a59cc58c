package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/yourorg/ophunt/internal/hunt"
)

// missingDateMessage is the response body when no expiration was given
const missingDateMessage = "Missing 'date' (YYMMDD)."

// badRequest is a query problem whose text is sent to the client verbatim
type badRequest string

func (e badRequest) Error() string { return string(e) }

const requestIDHeader = "X-Request-ID"

// parsePullQuery reads funds, shares, costBasis, date and ticker from the
// query string. Absent numbers default to zero; an absent costBasis makes
// every call strike eligible.
func parsePullQuery(r *http.Request, defaultTicker string) (hunt.Request, error) {
	q := r.URL.Query()

	token := strings.TrimSpace(q.Get("date"))
	if token == "" {
		return hunt.Request{}, badRequest(missingDateMessage)
	}

	funds, err := queryInt(q.Get("funds"), "funds")
	if err != nil {
		return hunt.Request{}, err
	}
	shares, err := queryInt(q.Get("shares"), "shares")
	if err != nil {
		return hunt.Request{}, err
	}

	req := hunt.Request{
		Ticker:     defaultTicker,
		Token:      token,
		Funds:      funds,
		SharesHeld: shares,
	}

	if raw := strings.TrimSpace(q.Get("costBasis")); raw != "" {
		costBasis, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return hunt.Request{}, badRequest(fmt.Sprintf("Invalid 'costBasis': %q", raw))
		}
		req.CostBasis = &costBasis
	}

	if ticker := strings.TrimSpace(q.Get("ticker")); ticker != "" {
		req.Ticker = ticker
	}

	return req, nil
}

func queryInt(raw, name string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, badRequest(fmt.Sprintf("Invalid '%s': %q", name, raw))
	}
	if v < 0 {
		return 0, badRequest(fmt.Sprintf("Invalid '%s': must not be negative", name))
	}
	return v, nil
}

// writeJSON writes v as the JSON response body with the given status
func writeJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logrus.WithError(err).Warn("Failed to write response")
	}
}

// jsonError returns a formatted error response
func jsonError(w http.ResponseWriter, statusCode int, errorMsg string) {
	logrus.WithFields(logrus.Fields{
		"status":     statusCode,
		"request_id": w.Header().Get(requestIDHeader),
	}).Warn(errorMsg)
	writeJSON(w, statusCode, map[string]string{"error": errorMsg})
}

// textError is jsonError for the plain-text endpoints
func textError(w http.ResponseWriter, statusCode int, errorMsg string) {
	logrus.WithFields(logrus.Fields{
		"status":     statusCode,
		"request_id": w.Header().Get(requestIDHeader),
	}).Warn(errorMsg)
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(statusCode)
	fmt.Fprintln(w, errorMsg)
}

// requestIDMiddleware propagates or assigns an X-Request-ID
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r)
	})
}

// limited rejects requests beyond the configured rate
func (s *Server) limited(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.rateLimit != nil && !s.rateLimit.Allow() {
			if strings.HasSuffix(r.URL.Path, "/table") {
				textError(w, http.StatusTooManyRequests, "Rate limit exceeded")
				return
			}
			jsonError(w, http.StatusTooManyRequests, "Rate limit exceeded")
			return
		}
		next(w, r)
	})
}

// instrument records request metrics for the endpoint
func (s *Server) instrument(endpoint string, next http.Handler) http.Handler {
	return s.metrics.InstrumentHandler(endpoint, next)
}
