package http

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
)

// ErrUnauthorized возвращается при недействительном токене авторизации.
var ErrUnauthorized = errors.New("недействительный токен")

// BearerAuth проверяет заголовок Authorization по статическому токену.
// Пустой токен отключает проверку: API остаётся открытым.
func BearerAuth(token string) func(http.Handler) http.Handler {
	want := []byte("Bearer " + token)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token != "" {
				got := []byte(r.Header.Get("Authorization"))
				if subtle.ConstantTimeCompare(got, want) != 1 {
					WriteError(w, http.StatusUnauthorized, ErrUnauthorized)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ErrorResponse описывает ошибку.
type ErrorResponse struct {
	Error string `json:"error"`
}

// WriteJSON отправляет значение как JSON с указанным статусом.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError отправляет JSON с текстом ошибки.
func WriteError(w http.ResponseWriter, status int, err error) {
	WriteJSON(w, status, ErrorResponse{Error: err.Error()})
}
