package main

import (
	"encoding/json"
	"log"
	"net/http"
	"runtime"

	"github.com/go-chi/chi/v5"
)

func (a *App) handleAdminListUsers(w http.ResponseWriter, r *http.Request) {
	rows, err := a.db.QueryContext(r.Context(), `
		SELECT u.id, u.email, u.name, u.role, u.created_at,
		       COALESCE(p.name, '')
		FROM users u
		LEFT JOIN user_subscriptions s ON s.user_id = u.id AND s.status = 'active'
		LEFT JOIN subscription_plans p ON s.plan_id = p.id
		ORDER BY u.created_at DESC
	`)
	if err != nil {
		writeJSON(w, 500, map[string]string{"error": "failed to list users"})
		return
	}
	defer rows.Close()

	var users []map[string]interface{}
	for rows.Next() {
		var id, email, name, role, createdAt, plan string
		if err := rows.Scan(&id, &email, &name, &role, &createdAt, &plan); err != nil {
			continue
		}
		entry := map[string]interface{}{
			"id": id, "email": email, "name": name, "role": role,
			"createdAt": createdAt,
		}
		if plan != "" {
			entry["plan"] = plan
		}
		users = append(users, entry)
	}
	if err := rows.Err(); err != nil {
		log.Printf("handleAdminListUsers: rows iteration error: %v", err)
	}

	writeJSON(w, 200, map[string]interface{}{"users": users})
}

func (a *App) handleAdminSetRole(w http.ResponseWriter, r *http.Request) {
	targetID := chi.URLParam(r, "id")
	maxBody(r, defaultBodyLimit)

	var req struct {
		Role string `json:"role"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, 400, map[string]string{"error": "invalid request body"})
		return
	}
	if req.Role != "user" && req.Role != "admin" {
		writeJSON(w, 400, map[string]string{"error": "role must be user or admin"})
		return
	}

	// An admin cannot demote themselves; prevents locking everyone out.
	callerID := r.Context().Value(userIDKey).(string)
	if targetID == callerID && req.Role != "admin" {
		writeJSON(w, 400, map[string]string{"error": "cannot change own role"})
		return
	}

	res, err := a.db.ExecContext(r.Context(),
		`UPDATE users SET role = ? WHERE id = ?`, req.Role, targetID)
	if err != nil {
		writeJSON(w, 500, map[string]string{"error": "failed to update role"})
		return
	}
	if n, _ := res.RowsAffected(); n == 0 {
		writeJSON(w, 404, map[string]string{"error": "user not found"})
		return
	}

	writeJSON(w, 200, map[string]string{"status": "updated", "role": req.Role})
}

func (a *App) handleAdminDeleteUser(w http.ResponseWriter, r *http.Request) {
	targetID := chi.URLParam(r, "id")
	callerID := r.Context().Value(userIDKey).(string)
	if targetID == callerID {
		writeJSON(w, 400, map[string]string{"error": "cannot delete own account"})
		return
	}

	res, err := a.db.ExecContext(r.Context(), `DELETE FROM users WHERE id = ?`, targetID)
	if err != nil {
		writeJSON(w, 500, map[string]string{"error": "failed to delete user"})
		return
	}
	if n, _ := res.RowsAffected(); n == 0 {
		writeJSON(w, 404, map[string]string{"error": "user not found"})
		return
	}

	writeJSON(w, 200, map[string]string{"status": "deleted"})
}

func (a *App) handleAdminStatus(w http.ResponseWriter, r *http.Request) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	stats := map[string]interface{}{
		"system": map[string]interface{}{
			"goroutines": runtime.NumGoroutine(),
			"memory_mb":  m.Alloc / 1024 / 1024,
			"go_version": runtime.Version(),
		},
	}

	var totalUsers, totalPayments, activeSubs, activeKeys int
	a.db.QueryRow(`SELECT COUNT(*) FROM users`).Scan(&totalUsers)
	a.db.QueryRow(`SELECT COUNT(*) FROM payments`).Scan(&totalPayments)
	a.db.QueryRow(`SELECT COUNT(*) FROM user_subscriptions WHERE status = 'active'`).Scan(&activeSubs)
	a.db.QueryRow(`SELECT COUNT(*) FROM billing_keys WHERE status = 'active'`).Scan(&activeKeys)

	var paidTotal int64
	a.db.QueryRow(`SELECT COALESCE(SUM(amount), 0) FROM payments WHERE status = 'DONE'`).Scan(&paidTotal)

	stats["database"] = map[string]interface{}{
		"total_users":          totalUsers,
		"total_payments":       totalPayments,
		"active_subscriptions": activeSubs,
		"active_billing_keys":  activeKeys,
		"paid_total_krw":       paidTotal,
	}

	writeJSON(w, 200, stats)
}
