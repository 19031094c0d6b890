package notification

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// RegisterHandlers mounts the read-only notification audit surface.
func RegisterHandlers(r *gin.Engine, db *gorm.DB) {
	v1 := r.Group("/v1")
	{
		v1.GET("/notifications", listHandler(db))
	}
}

func listHandler(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		orderID, err := uuid.Parse(c.Query("orderId"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid or missing orderId"})
			return
		}
		var rows []Log
		if err := db.WithContext(c.Request.Context()).
			Where("order_id = ?", orderID).
			Order("created_at").
			Find(&rows).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"notifications": rows})
	}
}
