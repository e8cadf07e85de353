package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

type contextKey string

const (
	userIDKey contextKey = "userID"
	roleKey   contextKey = "role"
)

func (a *App) handleRegister(w http.ResponseWriter, r *http.Request) {
	maxBody(r, defaultBodyLimit)

	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
		Name     string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, 400, map[string]string{"error": "invalid request body"})
		return
	}

	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	if req.Email == "" || !strings.Contains(req.Email, "@") {
		writeJSON(w, 400, map[string]string{"error": "valid email required"})
		return
	}
	if len(req.Password) < 8 {
		writeJSON(w, 400, map[string]string{"error": "password must be at least 8 characters"})
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		writeJSON(w, 500, map[string]string{"error": "failed to hash password"})
		return
	}

	role := "user"
	if a.cfg.AdminEmail != "" && req.Email == strings.ToLower(a.cfg.AdminEmail) {
		role = "admin"
	}

	userID := uuid.New().String()
	_, err = a.db.ExecContext(r.Context(), `
		INSERT INTO users (id, email, password_hash, name, role, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, userID, req.Email, string(hash), req.Name, role, nowRFC3339())
	if err != nil {
		writeJSON(w, 409, map[string]string{"error": "email already registered"})
		return
	}

	token, err := a.signToken(userID, role)
	if err != nil {
		writeJSON(w, 500, map[string]string{"error": "failed to generate token"})
		return
	}

	writeJSON(w, 201, map[string]interface{}{
		"token": token,
		"user":  map[string]string{"id": userID, "email": req.Email, "name": req.Name, "role": role},
	})
}

func (a *App) handleLogin(w http.ResponseWriter, r *http.Request) {
	maxBody(r, defaultBodyLimit)

	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, 400, map[string]string{"error": "invalid request body"})
		return
	}
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))

	var userID, hash, name, role string
	err := a.db.QueryRowContext(r.Context(),
		`SELECT id, password_hash, name, role FROM users WHERE email = ?`, req.Email,
	).Scan(&userID, &hash, &name, &role)
	if err != nil {
		writeJSON(w, 401, map[string]string{"error": "invalid credentials"})
		return
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(req.Password)) != nil {
		writeJSON(w, 401, map[string]string{"error": "invalid credentials"})
		return
	}

	token, err := a.signToken(userID, role)
	if err != nil {
		writeJSON(w, 500, map[string]string{"error": "failed to generate token"})
		return
	}

	writeJSON(w, 200, map[string]interface{}{
		"token": token,
		"user":  map[string]string{"id": userID, "email": req.Email, "name": name, "role": role},
	})
}

func (a *App) signToken(userID, role string) (string, error) {
	claims := jwt.MapClaims{
		"sub":  userID,
		"role": role,
		"exp":  time.Now().Add(7 * 24 * time.Hour).Unix(),
		"iat":  time.Now().Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(a.cfg.JWTSecret))
}

// parseToken validates the Bearer JWT and returns (userID, role).
func (a *App) parseToken(r *http.Request) (string, string) {
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") {
		return "", ""
	}
	tokenStr := strings.TrimPrefix(auth, "Bearer ")
	token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method")
		}
		return []byte(a.cfg.JWTSecret), nil
	})
	if err != nil || !token.Valid {
		return "", ""
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", ""
	}
	sub, _ := claims["sub"].(string)
	role, _ := claims["role"].(string)
	return sub, role
}

func (a *App) extractUserID(r *http.Request) string {
	userID, _ := a.parseToken(r)
	return userID
}

func (a *App) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, role := a.parseToken(r)
		if userID == "" {
			writeJSON(w, 401, map[string]string{"error": "unauthorized"})
			return
		}
		ctx := context.WithValue(r.Context(), userIDKey, userID)
		ctx = context.WithValue(ctx, roleKey, role)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// optionalAuth attaches identity when a valid token is present but lets
// anonymous requests through.
func (a *App) optionalAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if userID, role := a.parseToken(r); userID != "" {
			ctx := context.WithValue(r.Context(), userIDKey, userID)
			ctx = context.WithValue(ctx, roleKey, role)
			r = r.WithContext(ctx)
		}
		next(w, r)
	}
}

// adminMiddleware checks the role claim against the users table so a role
// change takes effect without waiting for token expiry.
func (a *App) adminMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, _ := a.parseToken(r)
		if userID == "" {
			writeJSON(w, 401, map[string]string{"error": "unauthorized"})
			return
		}
		var role string
		if err := a.db.QueryRowContext(r.Context(),
			`SELECT role FROM users WHERE id = ?`, userID,
		).Scan(&role); err != nil {
			writeJSON(w, 401, map[string]string{"error": "unauthorized"})
			return
		}
		if role != "admin" {
			writeJSON(w, 403, map[string]string{"error": "admin access required"})
			return
		}
		ctx := context.WithValue(r.Context(), userIDKey, userID)
		ctx = context.WithValue(ctx, roleKey, role)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ensureAdminUser promotes the configured admin email if the account
// already exists. Logged, never fatal.
func (a *App) ensureAdminUser(ctx context.Context) {
	if a.cfg.AdminEmail == "" {
		return
	}
	res, err := a.db.ExecContext(ctx,
		`UPDATE users SET role = 'admin' WHERE email = ? AND role != 'admin'`,
		strings.ToLower(a.cfg.AdminEmail))
	if err != nil {
		log.Printf("admin promotion failed: %v", err)
		return
	}
	if n, _ := res.RowsAffected(); n > 0 {
		log.Printf("promoted %s to admin", a.cfg.AdminEmail)
	}
}
