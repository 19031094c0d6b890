package stock

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/shopngo/fulfillment/internal/errs"
)

type seedStockReq struct {
	Items []seedStockItemReq `json:"items" binding:"required"`
}

type seedStockItemReq struct {
	ProductID uuid.UUID `json:"productId" binding:"required"`
	Quantity  int       `json:"quantity" binding:"required,gt=0"`
}

// RegisterHandlers mounts the stock HTTP surface.
func RegisterHandlers(r *gin.Engine, svc *Service) {
	v1 := r.Group("/v1")
	{
		v1.POST("/stock/seed", seedHandler(svc))
		v1.GET("/stock/:productId", getHandler(svc))
	}
}

func seedHandler(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req seedStockReq
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		items := make([]SeedItem, 0, len(req.Items))
		for _, item := range req.Items {
			items = append(items, SeedItem{ProductID: item.ProductID, Quantity: item.Quantity})
		}
		if err := svc.SeedStock(c.Request.Context(), items); err != nil {
			if bre, ok := errs.AsBusinessRule(err); ok {
				c.JSON(http.StatusBadRequest, gin.H{"errorCode": bre.Code, "error": bre.Message})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"seeded": len(items)})
	}
}

func getHandler(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		productID, err := uuid.Parse(c.Param("productId"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid product id"})
			return
		}
		var item InventoryItem
		if err := svc.db.WithContext(c.Request.Context()).
			Where("product_id = ?", productID).First(&item).Error; err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "product not found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"productId":         item.ProductID,
			"availableQuantity": item.AvailableQuantity,
			"version":           item.Version,
			"updatedAt":         item.UpdatedAt,
		})
	}
}
