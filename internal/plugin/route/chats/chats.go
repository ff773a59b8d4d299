package chats

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/charmbracelet/log"
	registrystore "github.com/chirino/messaging-service/internal/registry/store"
	"github.com/chirino/messaging-service/internal/security"
	"github.com/chirino/messaging-service/internal/service"
	"github.com/gin-gonic/gin"
)

// MountRoutes mounts the chat list and history routes under /api/chats.
func MountRoutes(r gin.IRouter, svc *service.MessageService, auth gin.HandlerFunc) {
	g := r.Group("/api/chats", auth)

	g.GET("", func(c *gin.Context) {
		listChats(c, svc)
	})
	g.POST("", func(c *gin.Context) {
		markRead(c, svc)
	})
	g.GET("/:partnerId/texts", func(c *gin.Context) {
		loadTexts(c, svc)
	})
	g.POST("/:partnerId/texts", func(c *gin.Context) {
		sendText(c, svc)
	})
}

func listChats(c *gin.Context, svc *service.MessageService) {
	chats, err := svc.ListChats(c.Request.Context(), security.GetUserID(c))
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, chats)
}

func markRead(c *gin.Context, svc *service.MessageService) {
	if _, err := svc.MarkRead(c.Request.Context(), security.GetUserID(c)); err != nil {
		handleError(c, err)
		return
	}
	c.String(http.StatusOK, "Updated")
}

func loadTexts(c *gin.Context, svc *service.MessageService) {
	page := 0
	if v := c.Query("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "page must be an integer"})
			return
		}
		page = n
	}
	result, err := svc.LoadPage(c.Request.Context(), security.GetUserID(c), c.Param("partnerId"), page)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func sendText(c *gin.Context, svc *service.MessageService) {
	var req struct {
		Text string `json:"text"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	result, err := svc.Send(c.Request.Context(), security.GetUserID(c), c.Param("partnerId"), req.Text)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"newText": result.Message, "outcome": result.Outcome})
}

func handleError(c *gin.Context, err error) {
	var notFound *registrystore.NotFoundError
	var validation *registrystore.ValidationError
	var conflict *registrystore.ConflictError
	switch {
	case errors.As(err, &notFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.As(err, &validation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "field": validation.Field})
	case errors.As(err, &conflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		log.Error("Chats API error", "method", c.Request.Method, "path", c.FullPath(), "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Server Error"})
	}
}
