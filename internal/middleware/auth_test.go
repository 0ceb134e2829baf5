package middleware

import (
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"

	"audittrail/internal/models"
)

func setupAuthRouter() *gin.Engine {
	r := gin.New()
	r.Use(AuthMiddleware())
	r.GET("/me", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"user_id": c.GetString(UserIDKey)})
	})
	return r
}

func TestAuthMiddleware(t *testing.T) {
	user := &models.User{Base: models.Base{ID: "0190aaaa-0000-7000-8000-000000000001"}, Email: "a@example.com"}
	access, err := GenerateAccessToken(user)
	if err != nil {
		t.Fatalf("failed to sign access token: %v", err)
	}
	refresh, err := GenerateRefreshToken(user)
	if err != nil {
		t.Fatalf("failed to sign refresh token: %v", err)
	}

	tests := []struct {
		name       string
		header     string
		wantStatus int
	}{
		{name: "valid_access_token", header: "Bearer " + access, wantStatus: http.StatusOK},
		{name: "missing_header", header: "", wantStatus: http.StatusUnauthorized},
		{name: "wrong_scheme", header: "Token " + access, wantStatus: http.StatusUnauthorized},
		{name: "refresh_token_rejected", header: "Bearer " + refresh, wantStatus: http.StatusUnauthorized},
		{name: "garbage_token", header: "Bearer not.a.jwt", wantStatus: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			headers := map[string]string{}
			if tt.header != "" {
				headers["Authorization"] = tt.header
			}
			rec := doRequest(setupAuthRouter(), http.MethodGet, "/me", headers)

			if rec.Code != tt.wantStatus {
				t.Fatalf("expected %d, got %d: %s", tt.wantStatus, rec.Code, rec.Body.String())
			}
			if tt.wantStatus == http.StatusOK {
				if got := parseBody(t, rec)["user_id"]; got != user.ID {
					t.Errorf("expected user id %s, got %v", user.ID, got)
				}
			} else {
				assertErrorCode(t, rec, "UNAUTHORIZED")
			}
		})
	}
}

func TestValidateRefreshToken(t *testing.T) {
	user := &models.User{Base: models.Base{ID: "u-1"}, Email: "a@example.com"}

	t.Run("accepts_refresh_token", func(t *testing.T) {
		token, _ := GenerateRefreshToken(user)
		claims, err := ValidateRefreshToken(token)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if claims.UserID != "u-1" || claims.Subject != "u-1" {
			t.Errorf("unexpected claims %+v", claims)
		}
	})

	t.Run("rejects_access_token", func(t *testing.T) {
		token, _ := GenerateAccessToken(user)
		if _, err := ValidateRefreshToken(token); err == nil {
			t.Error("expected access token to be rejected")
		}
	})
}

func TestHashToken(t *testing.T) {
	if got := HashToken("abc"); len(got) != 64 || got != HashToken("abc") {
		t.Errorf("expected a stable SHA-256 hex digest, got %q", got)
	}
}
