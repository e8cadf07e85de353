package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
)

func (a *App) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	userID := r.Context().Value(userIDKey).(string)

	var email, name, role, createdAt string
	var encryptedKey *string
	err := a.db.QueryRowContext(r.Context(), `
		SELECT email, name, role, created_at, youtube_api_key
		FROM users WHERE id = ?
	`, userID).Scan(&email, &name, &role, &createdAt, &encryptedKey)
	if err != nil {
		writeJSON(w, 404, map[string]string{"error": "user not found"})
		return
	}

	var subscription map[string]interface{}
	var planName, subStatus string
	var nextBilling *string
	err = a.db.QueryRowContext(r.Context(), `
		SELECT p.name, s.status, s.next_billing_date
		FROM user_subscriptions s
		JOIN subscription_plans p ON s.plan_id = p.id
		WHERE s.user_id = ? AND s.status = 'active'
	`, userID).Scan(&planName, &subStatus, &nextBilling)
	if err == nil {
		subscription = map[string]interface{}{
			"plan": planName, "status": subStatus, "nextBillingDate": nextBilling,
		}
	}

	writeJSON(w, 200, map[string]interface{}{
		"id": userID, "email": email, "name": name, "role": role,
		"createdAt":     createdAt,
		"hasYouTubeKey": encryptedKey != nil && *encryptedKey != "",
		"subscription":  subscription,
	})
}

// loadYouTubeKey decrypts the caller's stored upstream API key. Empty
// string when none is stored.
func (a *App) loadYouTubeKey(ctx context.Context, userID string) (string, error) {
	var encrypted *string
	err := a.db.QueryRowContext(ctx,
		`SELECT youtube_api_key FROM users WHERE id = ?`, userID,
	).Scan(&encrypted)
	if err != nil {
		return "", err
	}
	if encrypted == nil || *encrypted == "" {
		return "", nil
	}
	return decryptSecret(*encrypted, a.cfg.JWTSecret)
}

// handleGetYouTubeKey returns the stored key masked; ?full=true returns the
// plaintext (the UI needs it once to prefill the settings form).
func (a *App) handleGetYouTubeKey(w http.ResponseWriter, r *http.Request) {
	userID := r.Context().Value(userIDKey).(string)

	key, err := a.loadYouTubeKey(r.Context(), userID)
	if err != nil {
		log.Printf("api key load failed for user %s: %v", userID, err)
		writeJSON(w, 500, map[string]string{"error": "failed to load API key"})
		return
	}
	if key == "" {
		writeJSON(w, 404, map[string]string{"error": "no API key stored"})
		return
	}

	if r.URL.Query().Get("full") == "true" {
		writeJSON(w, 200, map[string]string{"apiKey": key})
		return
	}
	writeJSON(w, 200, map[string]string{"apiKey": maskSecret(key)})
}

func (a *App) handleSetYouTubeKey(w http.ResponseWriter, r *http.Request) {
	userID := r.Context().Value(userIDKey).(string)
	maxBody(r, defaultBodyLimit)

	var req struct {
		APIKey string `json:"apiKey"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, 400, map[string]string{"error": "invalid request body"})
		return
	}
	req.APIKey = strings.TrimSpace(req.APIKey)
	if req.APIKey == "" {
		writeJSON(w, 400, map[string]string{"error": "apiKey required"})
		return
	}

	encrypted, err := encryptSecret(req.APIKey, a.cfg.JWTSecret)
	if err != nil {
		log.Printf("api key encryption failed: %v", err)
		writeJSON(w, 500, map[string]string{"error": "failed to save API key"})
		return
	}

	if _, err := a.db.ExecContext(r.Context(),
		`UPDATE users SET youtube_api_key = ? WHERE id = ?`, encrypted, userID); err != nil {
		writeJSON(w, 500, map[string]string{"error": "failed to save API key"})
		return
	}

	writeJSON(w, 200, map[string]string{"status": "saved"})
}

func (a *App) handleDeleteYouTubeKey(w http.ResponseWriter, r *http.Request) {
	userID := r.Context().Value(userIDKey).(string)

	if _, err := a.db.ExecContext(r.Context(),
		`UPDATE users SET youtube_api_key = NULL WHERE id = ?`, userID); err != nil {
		writeJSON(w, 500, map[string]string{"error": "failed to remove API key"})
		return
	}

	writeJSON(w, 200, map[string]string{"status": "removed"})
}
