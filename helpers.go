package main

import (
	"encoding/json"
	"net/http"
	"os"
	"strings"
)

const defaultBodyLimit = 1 << 20 // 1 MiB

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// maxBody caps the request body before JSON decoding.
func maxBody(r *http.Request, limit int64) {
	r.Body = http.MaxBytesReader(nil, r.Body, limit)
}

// maskSecret hides all but the last four characters of a stored credential.
func maskSecret(s string) string {
	if len(s) <= 4 {
		return strings.Repeat("*", len(s))
	}
	return strings.Repeat("*", len(s)-4) + s[len(s)-4:]
}
