package middleware

import (
	"errors"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"

	apperrors "audittrail/internal/errors"
)

func TestErrorHandler(t *testing.T) {
	newRouter := func(err error) *gin.Engine {
		r := gin.New()
		r.Use(ErrorHandler())
		r.GET("/", func(c *gin.Context) { _ = c.Error(err) })
		return r
	}

	t.Run("renders app errors with their status", func(t *testing.T) {
		rec := doRequest(newRouter(apperrors.ErrProductNotFound), "GET", "/", nil)

		if rec.Code != http.StatusNotFound {
			t.Fatalf("expected 404, got %d", rec.Code)
		}
		assertErrorCode(t, rec, "PRODUCT_NOT_FOUND")
	})

	t.Run("hides wrapped details of a failed change log write", func(t *testing.T) {
		err := apperrors.Wrap(apperrors.ErrPersistenceWrite, errors.New("relation change_records does not exist"))
		rec := doRequest(newRouter(err), "GET", "/", nil)

		if rec.Code != http.StatusInternalServerError {
			t.Fatalf("expected 500, got %d", rec.Code)
		}
		assertErrorCode(t, rec, "PERSISTENCE_WRITE_ERROR")
		if msg := parseBody(t, rec)["error"].(map[string]interface{})["message"]; msg != apperrors.ErrPersistenceWrite.Message {
			t.Errorf("expected generic message, got %v", msg)
		}
	})

	t.Run("maps unknown errors to 500", func(t *testing.T) {
		rec := doRequest(newRouter(errors.New("boom")), "GET", "/", nil)

		if rec.Code != http.StatusInternalServerError {
			t.Fatalf("expected 500, got %d", rec.Code)
		}
		assertErrorCode(t, rec, "INTERNAL_ERROR")
	})

	t.Run("leaves written responses alone", func(t *testing.T) {
		r := gin.New()
		r.Use(ErrorHandler())
		r.GET("/", func(c *gin.Context) {
			c.JSON(http.StatusTeapot, gin.H{"ok": true})
			_ = c.Error(errors.New("late"))
		})

		rec := doRequest(r, "GET", "/", nil)

		if rec.Code != http.StatusTeapot {
			t.Fatalf("expected 418, got %d", rec.Code)
		}
	})
}

func TestRequestLogging(t *testing.T) {
	r := gin.New()
	r.Use(RequestLogging())
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	t.Run("generates a request id", func(t *testing.T) {
		rec := doRequest(r, "GET", "/", nil)

		if rec.Header().Get(RequestIDHeader) == "" {
			t.Error("expected X-Request-ID header")
		}
	})

	t.Run("reuses a valid incoming id", func(t *testing.T) {
		const id = "0190f1c4-3a5b-7c2d-8e9f-0123456789ab"
		rec := doRequest(r, "GET", "/", map[string]string{RequestIDHeader: id})

		if got := rec.Header().Get(RequestIDHeader); got != id {
			t.Errorf("expected %s, got %s", id, got)
		}
	})

	t.Run("replaces a malformed incoming id", func(t *testing.T) {
		rec := doRequest(r, "GET", "/", map[string]string{RequestIDHeader: "not-a-uuid"})

		if got := rec.Header().Get(RequestIDHeader); got == "not-a-uuid" || got == "" {
			t.Errorf("expected a generated id, got %q", got)
		}
	})
}
