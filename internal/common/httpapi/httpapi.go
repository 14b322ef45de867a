// Package httpapi holds the response conventions shared by all REST
// handlers: errors are {"detail": "..."} envelopes, successes are bare JSON.
package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/langline/langline/internal/storage"
)

// Detail writes the error envelope with the given status.
func Detail(c *gin.Context, status int, msg string) {
	c.JSON(status, gin.H{"detail": msg})
}

// StorageError maps storage sentinel errors onto the REST envelope.
// notFoundMsg names the resource so 404 bodies stay descriptive.
func StorageError(c *gin.Context, err error, notFoundMsg, conflictMsg string) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		Detail(c, http.StatusNotFound, notFoundMsg)
	case errors.Is(err, storage.ErrConflict):
		Detail(c, http.StatusConflict, conflictMsg)
	default:
		Detail(c, http.StatusInternalServerError, err.Error())
	}
}
