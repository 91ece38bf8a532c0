// Package api is the local web ui server and the background importers that
// feed the frame
package api

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"time"

	"github.com/a-h/templ"
	"github.com/aouyang1/framectl/api/client"
	"github.com/aouyang1/framectl/api/models"
	"github.com/aouyang1/framectl/api/web/templates"
	"github.com/aouyang1/framectl/config"
	"github.com/aouyang1/framectl/controller"
	"github.com/aouyang1/framectl/store"
	"github.com/aouyang1/framectl/util"
	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
)

//go:embed web/static
var webFiles embed.FS

const shutdownTimeout = 5 * time.Second

type imageFetcher interface {
	FetchImage(ctx context.Context, imageID string) ([]byte, string, error)
}

type uiStore interface {
	GetSchedule() (*store.Schedule, error)
	UpsertSchedule(s *store.Schedule) error
	GetSavedOffset(imageID string) (*models.SavedOffset, error)
}

type ServerOptions struct {
	RateLimit     rate.Limit
	RateBurst     int
	ImageCacheTTL time.Duration
}

// ServerOptionsFromConfig maps the [ui] table onto server options.
func ServerOptionsFromConfig(cfg config.UI) ServerOptions {
	return ServerOptions{
		RateLimit:     rate.Limit(cfg.RateLimitPerSec),
		RateBurst:     cfg.RateBurst,
		ImageCacheTTL: cfg.ImageCacheTTL(),
	}
}

type cachedImage struct {
	data        []byte
	contentType string
}

type WebServer struct {
	router *gin.Engine
	ctrl   *controller.Controller
	images imageFetcher
	db     uiStore
	now    func() time.Time

	imageCache *cache.Cache
	imageTTL   time.Duration

	localManager    *LocalManager
	remoteManager   *RemoteManager
	scheduleManager *ScheduleManager
}

func NewWebServer(ctrl *controller.Controller, images imageFetcher, db uiStore, opts ServerOptions) (*WebServer, error) {
	ws := &WebServer{
		router:   gin.Default(),
		ctrl:     ctrl,
		images:   images,
		db:       db,
		now:      time.Now,
		imageTTL: opts.ImageCacheTTL,
	}
	if opts.ImageCacheTTL > 0 {
		ws.imageCache = cache.New(opts.ImageCacheTTL, 2*opts.ImageCacheTTL)
	}

	if err := ws.setupRoutes(opts); err != nil {
		return nil, err
	}
	return ws, nil
}

// AttachManagers registers the background workers started by Start. Any of
// them may be nil.
func (ws *WebServer) AttachManagers(local *LocalManager, remote *RemoteManager, schedule *ScheduleManager) {
	ws.localManager = local
	ws.remoteManager = remote
	ws.scheduleManager = schedule
}

func (ws *WebServer) Handler() http.Handler {
	return ws.router
}

func (ws *WebServer) setupRoutes(opts ServerOptions) error {
	// Create filesystem for static files (strip "web/" prefix)
	staticFS, err := fs.Sub(webFiles, "web/static")
	if err != nil {
		return fmt.Errorf("failed to create static filesystem: %w", err)
	}
	ws.router.StaticFS("/static", http.FS(staticFS))

	ws.router.GET("/", ws.handleIndex)
	ws.router.GET("/ui/fragments/:name", ws.handleFragment)
	ws.router.GET("/ui/state", ws.handleState)
	ws.router.GET("/ui/images/:id", ws.handleImage)
	ws.router.GET("/ui/schedule", ws.handleGetSchedule)
	ws.router.PUT("/ui/schedule", ws.handleUpdateSchedule)

	// events that end a gesture stay outside the limiter so a burst of
	// moves can never strand a drag
	events := ws.router.Group("/ui/events")
	events.POST("/pointer/up", ws.handlePointerUp)
	events.POST("/pointer/cancel", ws.handlePointerUp)
	events.POST("/drag/drop", ws.handleDrop)
	events.POST("/drag/end", ws.handleDragEnd)

	limited := events.Group("", rateLimiter(opts.RateLimit, opts.RateBurst))
	limited.POST("/pointer/down", ws.handlePointerDown)
	limited.POST("/pointer/move", ws.handlePointerMove)
	limited.POST("/drag/start", ws.handleDragStart)
	limited.POST("/drag/over", ws.handleDragOver)
	limited.POST("/settings/input", ws.handleSettingsInput)
	limited.POST("/queue/:id/remove", ws.handleRemove)
	limited.POST("/upload", ws.handleUpload)
	limited.POST("/advance", ws.handleAdvance)
	return nil
}

// Start runs the background managers and serves until ctx is done.
func (ws *WebServer) Start(ctx context.Context, addr string) error {
	go ws.watchUpdates(ctx)

	if ws.localManager != nil {
		go ws.localManager.Run(ctx)
	}
	if ws.remoteManager != nil {
		go ws.remoteManager.Run(ctx)
	}
	if ws.scheduleManager != nil {
		go ws.scheduleManager.Run(ctx)
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           ws.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	slog.Info("starting web server", "addr", addr)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("failed to start web server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// watchUpdates refetches the frame state whenever an importer uploaded
// something.
func (ws *WebServer) watchUpdates(ctx context.Context) {
	var localUpdated, remoteUpdated <-chan bool
	if ws.localManager != nil {
		localUpdated = ws.localManager.Updated
	}
	if ws.remoteManager != nil {
		remoteUpdated = ws.remoteManager.Updated
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-localUpdated:
		case <-remoteUpdated:
		}
		slog.Info("found new uploads, refreshing state")
		if err := ws.ctrl.Refresh(ctx); err != nil {
			slog.Warn("error while refreshing after import", "error", err)
		}
	}
}

func (ws *WebServer) renderHTML(c *gin.Context, component templ.Component) {
	c.Header("Content-Type", "text/html; charset=utf-8")
	c.Status(http.StatusOK)
	if err := component.Render(c.Request.Context(), c.Writer); err != nil {
		slog.Error("failed to render html", "path", c.FullPath(), "error", err)
	}
}

// frameError maps an error from the frame api onto a response.
func frameError(c *gin.Context, err error) {
	if client.IsNotFound(err) {
		c.JSON(http.StatusNotFound, models.ErrorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusBadGateway, models.ErrorResponse{Error: err.Error()})
}

func (ws *WebServer) eventResponse(c *gin.Context) {
	c.JSON(http.StatusOK, models.EventResponse{Version: ws.ctrl.Cache.Version()})
}

func (ws *WebServer) handleIndex(c *gin.Context) {
	ws.renderHTML(c, templates.Page(ws.ctrl.View(), ws.now()))
}

func (ws *WebServer) handleFragment(c *gin.Context) {
	name := c.Param("name")
	component, ok := templates.Fragment(name, ws.ctrl.View(), ws.now())
	if !ok {
		c.JSON(http.StatusNotFound, models.ErrorResponse{Error: fmt.Sprintf("Unknown fragment '%s'", name)})
		return
	}
	ws.renderHTML(c, component)
}

func (ws *WebServer) handleState(c *gin.Context) {
	view := ws.ctrl.View()
	resp := models.UIState{
		State:     view.State,
		Loaded:    view.Loaded,
		FetchedAt: view.FetchedAt,
		Version:   view.Version,
		Phase:     view.Phase.String(),
		Dragging:  view.Dragging,
	}
	if cur := view.State.Current; cur != nil {
		saved, err := ws.db.GetSavedOffset(cur.ID)
		if err != nil {
			slog.Warn("error while loading saved offset", "image_id", cur.ID, "error", err)
		}
		resp.SavedOffset = saved
	}
	c.JSON(http.StatusOK, resp)
}

func (ws *WebServer) handleImage(c *gin.Context) {
	id := c.Param("id")

	if ws.imageCache != nil {
		if cached, found := ws.imageCache.Get(id); found {
			img := cached.(cachedImage)
			c.Header("X-Cache", "HIT")
			c.Data(http.StatusOK, img.contentType, img.data)
			return
		}
	}

	data, contentType, err := ws.images.FetchImage(c.Request.Context(), id)
	if err != nil {
		frameError(c, err)
		return
	}

	if ws.imageCache != nil {
		ws.imageCache.Set(id, cachedImage{data: data, contentType: contentType}, cache.DefaultExpiration)
		c.Header("Cache-Control", fmt.Sprintf("private, max-age=%d", int(ws.imageTTL.Seconds())))
	}
	c.Data(http.StatusOK, contentType, data)
}

func (ws *WebServer) pointerResponse(c *gin.Context) {
	view := ws.ctrl.View()
	resp := models.PointerResponse{Phase: view.Phase.String()}
	if cur := view.State.Current; cur != nil {
		resp.OffsetX, resp.OffsetY = cur.OffsetX, cur.OffsetY
	}
	c.JSON(http.StatusOK, resp)
}

func (ws *WebServer) handlePointerDown(c *gin.Context) {
	var req controller.PointerDown
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: fmt.Sprintf("Invalid request body: %v", err)})
		return
	}
	if err := ws.ctrl.BeginTransform(req); err != nil {
		c.JSON(http.StatusConflict, models.ErrorResponse{Error: err.Error()})
		return
	}
	ws.pointerResponse(c)
}

func (ws *WebServer) handlePointerMove(c *gin.Context) {
	var req models.PointerEvent
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: fmt.Sprintf("Invalid request body: %v", err)})
		return
	}
	off, ok := ws.ctrl.Editor.Move(req.PointerID, req.X, req.Y)
	if !ok {
		if ws.ctrl.Editor.Released(req.PointerID) {
			// the drag was dropped under this pointer, e.g. the current
			// image changed
			c.JSON(http.StatusOK, models.PointerResponse{Phase: ws.ctrl.Editor.Phase().String(), Released: true})
			return
		}
		// not the pointer that owns the drag
		c.Status(http.StatusNoContent)
		return
	}
	c.JSON(http.StatusOK, models.PointerResponse{
		Phase:   ws.ctrl.Editor.Phase().String(),
		OffsetX: off.X,
		OffsetY: off.Y,
	})
}

// handlePointerUp serves both pointer up and pointer cancel; either one
// ends the drag and flushes the pending save.
func (ws *WebServer) handlePointerUp(c *gin.Context) {
	var req models.PointerEvent
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: fmt.Sprintf("Invalid request body: %v", err)})
		return
	}
	ws.ctrl.Editor.End(req.PointerID)
	ws.pointerResponse(c)
}

func (ws *WebServer) handleDragStart(c *gin.Context) {
	var req models.DragStartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: fmt.Sprintf("Invalid request body: %v", err)})
		return
	}
	accepted := ws.ctrl.Lists.Start(controller.ListKind(req.List), req.ID, req.PayloadTypes)
	c.JSON(http.StatusOK, gin.H{"accepted": accepted})
}

type dragOverRequest struct {
	List         string                  `json:"list" binding:"required,oneof=queue history"`
	PointerY     float64                 `json:"pointer_y"`
	Cards        []controller.CardBounds `json:"cards"`
	PayloadTypes []string                `json:"payload_types"`
}

func (ws *WebServer) handleDragOver(c *gin.Context) {
	var req dragOverRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: fmt.Sprintf("Invalid request body: %v", err)})
		return
	}
	list := controller.ListKind(req.List)
	index, ok := ws.ctrl.Lists.Over(list, req.PointerY, req.Cards, req.PayloadTypes)
	c.JSON(http.StatusOK, models.DragOverResponse{
		Accepted: ok,
		Index:    index,
		Order:    ws.ctrl.Lists.VisualOrder(list),
	})
}

func (ws *WebServer) handleDrop(c *gin.Context) {
	var ev controller.DropEvent
	if err := c.ShouldBindJSON(&ev); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: fmt.Sprintf("Invalid request body: %v", err)})
		return
	}
	if _, err := controller.ParseListKind(string(ev.List)); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: err.Error()})
		return
	}

	if err := ws.ctrl.Lists.Drop(ev); err != nil {
		if errors.Is(err, controller.ErrNotDragging) {
			c.JSON(http.StatusConflict, models.ErrorResponse{Error: err.Error()})
			return
		}
		frameError(c, err)
		return
	}
	ws.eventResponse(c)
}

func (ws *WebServer) handleDragEnd(c *gin.Context) {
	ws.ctrl.Lists.End()
	c.Status(http.StatusNoContent)
}

func (ws *WebServer) handleSettingsInput(c *gin.Context) {
	var req models.SettingsInputRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: fmt.Sprintf("Invalid request body: %v", err)})
		return
	}

	readouts, err := ws.ctrl.Settings.Input(req.Field, req.Value)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "readouts": readouts})
		return
	}
	c.JSON(http.StatusOK, readouts)
}

func (ws *WebServer) handleRemove(c *gin.Context) {
	id := c.Param("id")
	if err := ws.ctrl.Lists.Remove(id); err != nil {
		frameError(c, err)
		return
	}
	ws.eventResponse(c)
}

func (ws *WebServer) handleUpload(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "No files provided"})
		return
	}
	headers := form.File["files"]
	if len(headers) == 0 {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "No files provided"})
		return
	}

	files := make([]client.UploadFile, 0, len(headers))
	for _, fh := range headers {
		if !util.IsSupportedImage(fh.Filename) {
			c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: fmt.Sprintf("Unsupported file: %s", fh.Filename)})
			return
		}
		f, err := fh.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: fmt.Sprintf("Failed to read %s: %v", fh.Filename, err)})
			return
		}
		defer f.Close()

		contentType := fh.Header.Get("Content-Type")
		if contentType == "" || contentType == "application/octet-stream" {
			contentType = util.ContentTypeForName(fh.Filename)
		}
		files = append(files, client.UploadFile{Name: fh.Filename, ContentType: contentType, Data: f})
	}

	resp, err := ws.ctrl.Upload(c.Request.Context(), files)
	if err != nil {
		frameError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (ws *WebServer) handleAdvance(c *gin.Context) {
	if !ws.ctrl.AdvanceNow() {
		c.JSON(http.StatusConflict, models.ErrorResponse{Error: "An advance is already in flight"})
		return
	}
	ws.eventResponse(c)
}

func (ws *WebServer) handleGetSchedule(c *gin.Context) {
	schedule, err := ws.db.GetSchedule()
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: fmt.Sprintf("Failed to get schedule: %v", err)})
		return
	}
	c.JSON(http.StatusOK, schedule)
}

func (ws *WebServer) handleUpdateSchedule(c *gin.Context) {
	var req store.Schedule
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: fmt.Sprintf("Invalid request body: %v", err)})
		return
	}

	if !config.ValidScheduleTime(req.Start) {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: fmt.Sprintf("Invalid start time format: need 23:15, got %s", req.Start)})
		return
	}
	if !config.ValidScheduleTime(req.End) {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: fmt.Sprintf("Invalid end time format: need 23:15, got %s", req.End)})
		return
	}

	newSchedule := &store.Schedule{
		Enabled: req.Enabled,
		Start:   req.Start,
		End:     req.End,
	}
	if err := ws.db.UpsertSchedule(newSchedule); err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: fmt.Sprintf("Failed to update schedule: %v", err)})
		return
	}
	c.JSON(http.StatusOK, newSchedule)
}
