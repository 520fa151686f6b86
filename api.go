package main

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/zots0127/filevault/pkg/registry"
	"github.com/zots0127/filevault/pkg/vault"
)

type API struct {
	engine   *vault.Engine
	adminKey string
}

func NewAPI(engine *vault.Engine, adminKey string) *API {
	return &API{
		engine:   engine,
		adminKey: adminKey,
	}
}

func (a *API) RegisterRoutes(router *gin.Engine) {
	rest := router.Group("/rest")
	rest.PUT("", a.upload)
	rest.GET("/:token", a.getInfo)
	rest.DELETE("/:token", a.deleteEntry)

	router.GET("/f/:token", a.fetch)

	admin := rest.Group("/admin")
	admin.Use(a.adminMiddleware())
	admin.GET("/allEntries", a.allEntries)
	admin.GET("/entries", a.pagedEntries)
	admin.GET("/blockedIps", a.blockedIPs)
	admin.POST("/blockIp", a.blockIP)
	admin.POST("/unblockIps", a.unblockIPs)
	admin.DELETE("/deleteEntries", a.deleteEntries)
}

func (a *API) adminMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		apiKey := c.GetHeader("X-API-Key")
		if a.adminKey == "" || apiKey != a.adminKey {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid API key"})
			c.Abort()
			return
		}
		c.Next()
	}
}

func (a *API) upload(c *gin.Context) {
	req := vault.UploadRequest{
		URL:      c.PostForm("url"),
		IP:       normalizeIP(c.ClientIP()),
		Password: c.PostForm("password"),
		Encrypt:  c.PostForm("encrypt") == "true",
	}

	if fileHeader, err := c.FormFile("file"); err == nil {
		file, err := fileHeader.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Unable to read file"})
			return
		}
		defer file.Close()

		data, err := io.ReadAll(file)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Unable to read file"})
			return
		}
		req.Data = data
		req.FileName = fileHeader.Filename
	}

	result, err := a.engine.Upload(c.Request.Context(), req)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

func (a *API) getInfo(c *gin.Context) {
	info, err := a.engine.GetInfo(c.Param("token"))
	if err != nil {
		abortWithError(c, err)
		return
	}

	if c.Query("formatted") == "true" {
		c.JSON(http.StatusOK, gin.H{
			"token":          info.Token,
			"file_name":      info.FileName,
			"size":           info.Size,
			"protection":     info.Protection,
			"time_remaining": humanDuration(time.Duration(info.TimeRemaining) * time.Millisecond),
		})
		return
	}
	c.JSON(http.StatusOK, info)
}

func (a *API) fetch(c *gin.Context) {
	result, err := a.engine.Fetch(c.Param("token"), c.Query("password"))
	if err != nil {
		abortWithError(c, err)
		return
	}

	if result.RemoteURL != "" {
		c.Redirect(http.StatusSeeOther, result.RemoteURL)
		return
	}

	if result.FileName != "" {
		c.Header("Content-Disposition", `attachment; filename="`+result.FileName+`"`)
	}
	c.Data(http.StatusOK, "application/octet-stream", result.Bytes)
}

func (a *API) deleteEntry(c *gin.Context) {
	deleted, err := a.engine.Delete(c.Param("token"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": deleted})
}

func (a *API) allEntries(c *gin.Context) {
	entries, err := a.engine.ListAll()
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, entries)
}

func (a *API) pagedEntries(c *gin.Context) {
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))

	entries, total, err := a.engine.ListPaged(registry.ListOptions{
		Offset:     offset,
		Limit:      limit,
		SortColumn: c.Query("sortColumn"),
		SortDir:    c.Query("sortDir"),
		Search:     c.Query("search"),
	})
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"total": total, "data": entries})
}

func (a *API) blockedIPs(c *gin.Context) {
	blocked, err := a.engine.BlockedIPs()
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, blocked)
}

func (a *API) blockIP(c *gin.Context) {
	var body struct {
		IP string `json:"ip" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "ip is required"})
		return
	}

	purge := c.Query("purge") == "true"
	if err := a.engine.BlockIP(normalizeIP(body.IP), purge); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "IP blocked"})
}

func (a *API) unblockIPs(c *gin.Context) {
	var ips []string
	if err := c.ShouldBindJSON(&ips); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "ip list is required"})
		return
	}

	for i, ip := range ips {
		ips[i] = normalizeIP(ip)
	}
	if err := a.engine.UnblockIPs(ips); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "IP un-blocked"})
}

func (a *API) deleteEntries(c *gin.Context) {
	var ids []int64
	if err := c.ShouldBindJSON(&ids); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id list is required"})
		return
	}

	count, err := a.engine.DeleteEntries(ids)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": count})
}

// abortWithError maps the engine's error taxonomy to HTTP statuses.
func abortWithError(c *gin.Context, err error) {
	var scanErr *vault.ScanRejectedError
	switch {
	case errors.As(err, &scanErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": scanErr.Error()})
	case errors.Is(err, vault.ErrInvalidRequest):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, vault.ErrForbidden),
		errors.Is(err, vault.ErrPasswordRequired),
		errors.Is(err, vault.ErrIncorrectPassword):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, vault.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, vault.ErrScanUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// normalizeIP strips any port so block-list records key on the bare address.
func normalizeIP(addr string) string {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

// humanDuration renders a remaining lifetime for the formatted info view,
// e.g. "2 days 3 hours".
func humanDuration(d time.Duration) string {
	if d <= 0 {
		return "expired"
	}

	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60

	parts := []string{}
	if days > 0 {
		parts = append(parts, fmt.Sprintf("%d days", days))
	}
	if hours > 0 {
		parts = append(parts, fmt.Sprintf("%d hours", hours))
	}
	if len(parts) == 0 || minutes > 0 {
		parts = append(parts, fmt.Sprintf("%d minutes", minutes))
	}
	return strings.Join(parts, " ")
}
