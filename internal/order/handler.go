package order

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/shopngo/fulfillment/internal/contracts"
	"github.com/shopngo/fulfillment/internal/errs"
	"github.com/shopngo/fulfillment/internal/messaging"
)

type createOrderReq struct {
	CustomerEmail       string               `json:"customerEmail" binding:"required,email"`
	CustomerPhone       string               `json:"customerPhone"`
	NotificationChannel string               `json:"notificationChannel"`
	Items               []createOrderItemReq `json:"items" binding:"required,min=1"`
}

type createOrderItemReq struct {
	ProductID uuid.UUID `json:"productId" binding:"required"`
	Quantity  int       `json:"quantity" binding:"required,gt=0"`
}

type orderResp struct {
	ID                  uuid.UUID             `json:"id"`
	CustomerEmail       string                `json:"customerEmail"`
	CustomerPhone       *string               `json:"customerPhone,omitempty"`
	NotificationChannel string                `json:"notificationChannel"`
	Status              Status                `json:"status"`
	RejectionReasonCode *string               `json:"rejectionReasonCode,omitempty"`
	RejectionReason     *string               `json:"rejectionReason,omitempty"`
	Items               []contracts.OrderItem `json:"items"`
}

// RegisterHandlers mounts the order HTTP surface. Saga outcomes are only
// observable by polling GET; the POST returns as soon as the order is
// persisted in PendingStock.
func RegisterHandlers(r *gin.Engine, svc *Service) {
	v1 := r.Group("/v1")
	{
		v1.POST("/orders", createHandler(svc))
		v1.GET("/orders/:id", getHandler(svc))
	}
}

func createHandler(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createOrderReq
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		items := make([]contracts.OrderItem, 0, len(req.Items))
		for _, item := range req.Items {
			items = append(items, contracts.OrderItem{ProductID: item.ProductID, Quantity: item.Quantity})
		}

		meta := messaging.Metadata{
			CorrelationID: c.GetHeader("X-Correlation-Id"),
			TraceParent:   c.GetHeader("traceparent"),
		}
		o, err := svc.Create(c.Request.Context(), CreateRequest{
			CustomerEmail:       req.CustomerEmail,
			CustomerPhone:       req.CustomerPhone,
			NotificationChannel: req.NotificationChannel,
			Items:               items,
		}, meta)
		if err != nil {
			if bre, ok := errs.AsBusinessRule(err); ok {
				c.JSON(http.StatusBadRequest, gin.H{"errorCode": bre.Code, "error": bre.Message})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusAccepted, toResp(o))
	}
}

func getHandler(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid order id"})
			return
		}
		o, err := svc.Get(c.Request.Context(), id)
		if err != nil {
			if bre, ok := errs.AsBusinessRule(err); ok && bre.Code == errs.CodeOrderNotFound {
				c.JSON(http.StatusNotFound, gin.H{"errorCode": bre.Code, "error": bre.Message})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, toResp(o))
	}
}

func toResp(o *Order) orderResp {
	return orderResp{
		ID:                  o.ID,
		CustomerEmail:       o.CustomerEmail,
		CustomerPhone:       o.CustomerPhone,
		NotificationChannel: o.NotificationChannel,
		Status:              o.Status,
		RejectionReasonCode: o.RejectionReasonCode,
		RejectionReason:     o.RejectionReason,
		Items:               o.contractItems(),
	}
}
