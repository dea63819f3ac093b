package api

import (
	"bytes"
	"context"
	"html/template"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"memorial/internal/api/middleware"
	"memorial/internal/site"
)

// PageSource yields the public page, cached or freshly built.
type PageSource interface {
	Page(ctx context.Context) *site.Page
}

// SiteHandler serves the public landing page. It never fails on content
// read errors; the page degrades to its placeholders instead.
type SiteHandler struct {
	pages PageSource
	tmpl  *template.Template
}

// NewSiteHandler builds the handler around a parsed index template.
func NewSiteHandler(pages PageSource, tmpl *template.Template) *SiteHandler {
	return &SiteHandler{pages: pages, tmpl: tmpl}
}

// Index renders the landing page.
func (h *SiteHandler) Index(c *gin.Context) {
	page := h.pages.Page(c.Request.Context())

	var buf bytes.Buffer
	if err := site.RenderIndex(&buf, h.tmpl, page); err != nil {
		middleware.LoggerFromContext(c).Error("render index failed", slog.Any("error", err))
		c.String(http.StatusInternalServerError, "internal error")
		return
	}
	c.Header("Cache-Control", "public, max-age=60")
	c.Data(http.StatusOK, "text/html; charset=utf-8", buf.Bytes())
}

// Page returns the landing page content as JSON.
func (h *SiteHandler) Page(c *gin.Context) {
	c.JSON(http.StatusOK, h.pages.Page(c.Request.Context()))
}
