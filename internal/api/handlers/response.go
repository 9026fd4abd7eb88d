package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/irfndi/crypto-insight-go/internal/utils"
)

func respondOK(c *gin.Context, data interface{}) {
	c.JSON(200, gin.H{
		"success": true,
		"data":    data,
	})
}

// respondError writes err with the status its type maps to. Internal errors
// are not echoed to the client.
func respondError(c *gin.Context, err error) {
	status := utils.HTTPStatus(err)
	message := err.Error()
	if status >= 500 {
		message = "Internal server error"
		_ = c.Error(err)
	}
	c.JSON(status, gin.H{
		"success": false,
		"error":   message,
	})
}
