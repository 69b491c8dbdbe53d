package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"filesmanager/internal/auth"
	"filesmanager/internal/logging"
	"filesmanager/internal/models"
	"filesmanager/internal/repositories/users"
	"filesmanager/internal/service/filemanager"
)

// UserFinder resolves the profile of an authenticated user.
type UserFinder interface {
	FindByID(ctx context.Context, id int64) (*models.User, error)
}

type Pinger interface {
	PingContext(ctx context.Context) error
}

type AliveChecker interface {
	IsAlive(ctx context.Context) bool
}

// Options carries the optional collaborators and limits of a Handler.
type Options struct {
	MaxUploadBytes int64
	CORSOrigins    []string
	LoginLimiter   *auth.LoginLimiter
	DB             Pinger
	Redis          AliveChecker
	Logger         logging.Logger
}

// Handler wires HTTP routes to the auth and file services.
type Handler struct {
	files *filemanager.Service
	auth  *auth.Service
	users UserFinder
	opts  Options
	log   logging.Logger
}

// NewHandler constructs a Handler instance.
func NewHandler(fileService *filemanager.Service, authService *auth.Service, userFinder UserFinder, opts Options) *Handler {
	log := opts.Logger
	if log == nil {
		log = logging.Discard()
	}
	return &Handler{
		files: fileService,
		auth:  authService,
		users: userFinder,
		opts:  opts,
		log:   log,
	}
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.Use(h.corsMiddleware())

	router.GET("/status", h.getStatus)
	router.GET("/stats", h.getStats)
	router.GET("/connect", h.opts.LoginLimiter.Handler(), h.connect)

	authMW := h.auth.Middleware()
	router.GET("/disconnect", authMW, h.disconnect)
	router.GET("/users/me", authMW, h.getMe)

	files := router.Group("/files")
	files.POST("", authMW, h.postUpload)
	files.GET("", authMW, h.getIndex)
	files.GET("/:id", authMW, h.getShow)
	files.PUT("/:id/publish", authMW, h.putPublish)
	files.PUT("/:id/unpublish", authMW, h.putUnpublish)
	files.GET("/:id/data", h.auth.OptionalMiddleware(), h.getFile)
}

func (h *Handler) corsMiddleware() gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization", auth.TokenHeader},
		ExposeHeaders: []string{"Content-Length", "Content-Type"},
	}
	for _, origin := range h.opts.CORSOrigins {
		if origin == "*" {
			cfg.AllowAllOrigins = true
			cfg.AllowOrigins = nil
			break
		}
		cfg.AllowOrigins = append(cfg.AllowOrigins, origin)
	}
	if !cfg.AllowAllOrigins && len(cfg.AllowOrigins) == 0 {
		cfg.AllowAllOrigins = true
	}
	return cors.New(cfg)
}

func (h *Handler) authorizedUserID(c *gin.Context) (int64, bool) {
	userID, ok := auth.UserIDFromContext(c)
	if !ok || userID <= 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": auth.ErrUnauthorized.Error()})
		return 0, false
	}
	return userID, true
}

// writeError maps service errors onto status codes. Unexpected errors are
// logged and reported without detail.
func (h *Handler) writeError(c *gin.Context, err error) {
	var reqErr *filemanager.RequestError
	switch {
	case errors.Is(err, auth.ErrUnauthorized):
		c.JSON(http.StatusUnauthorized, gin.H{"error": auth.ErrUnauthorized.Error()})
	case errors.As(err, &reqErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": reqErr.Message})
	case errors.Is(err, filemanager.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": filemanager.ErrNotFound.Error()})
	default:
		h.log.Error(c.Request.Context(), "request failed",
			"method", c.Request.Method, "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal error"})
	}
}

// Sessions

func (h *Handler) connect(c *gin.Context) {
	token, err := h.auth.Authenticate(c.Request.Context(), c.GetHeader("Authorization"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token})
}

func (h *Handler) disconnect(c *gin.Context) {
	token, ok := auth.TokenFromContext(c)
	if !ok {
		h.writeError(c, auth.ErrUnauthorized)
		return
	}
	if err := h.auth.Revoke(c.Request.Context(), token); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) getMe(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	user, err := h.users.FindByID(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, users.ErrNotFound) {
			err = auth.ErrUnauthorized
		}
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": user.ID, "email": user.Email})
}

// Files

type uploadRequest struct {
	Name     string          `json:"name"`
	Type     string          `json:"type"`
	ParentID json.RawMessage `json:"parentId"`
	IsPublic bool            `json:"isPublic"`
	Data     string          `json:"data"`
}

func (h *Handler) postUpload(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	if h.opts.MaxUploadBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.opts.MaxUploadBytes)
	}
	var req uploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "Request too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	file, err := h.files.Create(c.Request.Context(), userID, filemanager.CreateRequest{
		Name:     req.Name,
		Type:     req.Type,
		ParentID: parentRef(req.ParentID),
		IsPublic: req.IsPublic,
		Data:     req.Data,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, file)
}

// parentRef flattens a JSON number or string into its textual form. Any
// other JSON value yields a reference that cannot resolve.
func parentRef(raw json.RawMessage) string {
	text := strings.TrimSpace(string(raw))
	if text == "" || text == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return text
}

func (h *Handler) getShow(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	fileID, ok := fileIDParam(c)
	if !ok {
		h.writeError(c, filemanager.ErrNotFound)
		return
	}
	file, err := h.files.Get(c.Request.Context(), userID, fileID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, file)
}

func (h *Handler) getIndex(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	parentID := models.RootParentID
	if raw := strings.TrimSpace(c.Query("parentId")); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			// no record can live under an unparsable parent
			c.JSON(http.StatusOK, make([]*models.File, 0))
			return
		}
		parentID = parsed
	}
	page, err := strconv.Atoi(c.DefaultQuery("page", "0"))
	if err != nil || page < 0 {
		page = 0
	}
	list, err := h.files.List(c.Request.Context(), userID, parentID, page)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *Handler) putPublish(c *gin.Context) {
	h.setVisibility(c, true)
}

func (h *Handler) putUnpublish(c *gin.Context) {
	h.setVisibility(c, false)
}

func (h *Handler) setVisibility(c *gin.Context, isPublic bool) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	fileID, ok := fileIDParam(c)
	if !ok {
		h.writeError(c, filemanager.ErrNotFound)
		return
	}
	file, err := h.files.SetVisibility(c.Request.Context(), userID, fileID, isPublic)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, file)
}

func (h *Handler) getFile(c *gin.Context) {
	// anonymous callers resolve to user 0
	userID, _ := auth.UserIDFromContext(c)
	fileID, ok := fileIDParam(c)
	if !ok {
		h.writeError(c, filemanager.ErrNotFound)
		return
	}
	content, err := h.files.ReadContent(c.Request.Context(), userID, fileID, c.Query("size"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.Data(http.StatusOK, content.ContentType, content.Data)
}

func fileIDParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// Service

func (h *Handler) getStatus(c *gin.Context) {
	ctx := c.Request.Context()
	dbAlive := h.opts.DB != nil && h.opts.DB.PingContext(ctx) == nil
	redisAlive := h.opts.Redis != nil && h.opts.Redis.IsAlive(ctx)
	c.JSON(http.StatusOK, gin.H{"redis": redisAlive, "db": dbAlive})
}

func (h *Handler) getStats(c *gin.Context) {
	stats, err := h.files.Stats(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}
