package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/insanus-notes/backend/internal/auth"
	"github.com/insanus-notes/backend/pkg/notes"
	"github.com/insanus-notes/backend/pkg/schema"
	"github.com/insanus-notes/backend/pkg/table"
	"go.uber.org/zap"
)

const (
	subjectContextKey        = "insanus_subject"
	defaultHeartbeatInterval = 15 * time.Second
	reasonInvalidRequest     = "invalid_request"
	reasonInvalidColumn      = "invalid_column"
)

var errMissingNotesGateway = errors.New("notes gateway dependency required")

// RequestValidator authenticates a request.
type RequestValidator interface {
	ValidateRequest(r *http.Request) (auth.Claims, error)
}

// Dependencies wires the HTTP handler. Validator and Realtime are optional: without a
// validator every route is public, without a dispatcher /events is not served. ColumnIDs
// defaults to UUIDs.
type Dependencies struct {
	Notes             notes.Gateway
	ColumnIDs         notes.IDProvider
	Validator         RequestValidator
	Realtime          *RealtimeDispatcher
	Logger            *zap.Logger
	AllowedOrigins    []string
	HeartbeatInterval time.Duration
	ClientSettings    ClientSettings
}

// ClientSettings are published at /settings so editors debounce and search the way the
// server is configured.
type ClientSettings struct {
	AutosaveDelay time.Duration
	SearchLimit   int
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Notes == nil {
		return nil, errMissingNotesGateway
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	columnIDs := deps.ColumnIDs
	if columnIDs == nil {
		columnIDs = notes.NewUUIDProvider()
	}
	heartbeat := deps.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeatInterval
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(corsConfig(deps.AllowedOrigins)))

	handler := &httpHandler{
		notes:     deps.Notes,
		columnIDs: columnIDs,
		validator: deps.Validator,
		realtime:  deps.Realtime,
		logger:    logger,
		heartbeat: heartbeat,
		settings:  deps.ClientSettings,
	}

	router.GET("/healthz", handler.handleHealth)
	router.GET("/settings", handler.handleSettings)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)

	protected.GET("/collections", handler.handleListCollections)
	protected.POST("/collections", handler.handleCreateCollection)
	protected.GET("/collections/:id", handler.handleGetCollection)
	protected.PATCH("/collections/:id", handler.handleUpdateCollection)
	protected.PUT("/collections/:id/schema", handler.handleUpdateCollectionSchema)
	protected.GET("/collections/:id/view", handler.handleCollectionView)
	protected.POST("/collections/:id/rows", handler.handleCreateRow)
	protected.POST("/collections/:id/columns", handler.handleAddColumn)

	protected.GET("/notes", handler.handleListNotes)
	protected.POST("/notes", handler.handleCreateNote)
	protected.POST("/notes/lookup", handler.handleLookupNotes)
	protected.GET("/notes/search", handler.handleSearchNotes)
	protected.GET("/notes/:id", handler.handleGetNote)
	protected.PATCH("/notes/:id", handler.handleUpdateNote)
	protected.DELETE("/notes/:id", handler.handleDeleteNote)
	protected.POST("/notes/:id/properties", handler.handleCreateProperty)
	protected.PATCH("/properties/:id", handler.handleUpdateProperty)

	if deps.Realtime != nil {
		protected.GET("/events", handler.handleEvents)
	}

	return router, nil
}

func corsConfig(origins []string) cors.Config {
	config := cors.Config{
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}
	if len(origins) == 0 {
		config.AllowOrigins = []string{"*"}
	} else {
		config.AllowOrigins = append([]string{}, origins...)
	}
	return config
}

type httpHandler struct {
	notes     notes.Gateway
	columnIDs notes.IDProvider
	validator RequestValidator
	realtime  *RealtimeDispatcher
	logger    *zap.Logger
	heartbeat time.Duration
	settings  ClientSettings
}

func (h *httpHandler) handleSettings(c *gin.Context) {
	c.JSON(http.StatusOK, settingsPayload{
		AutosaveDelayMS: h.settings.AutosaveDelay.Milliseconds(),
		SearchLimit:     h.settings.SearchLimit,
	})
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *httpHandler) handleListCollections(c *gin.Context) {
	collections, err := h.notes.ListCollections(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	payloads := make([]collectionPayload, 0, len(collections))
	for _, collection := range collections {
		payloads = append(payloads, newCollectionPayload(collection))
	}
	c.JSON(http.StatusOK, payloads)
}

func (h *httpHandler) handleCreateCollection(c *gin.Context) {
	var request createCollectionRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		h.respondInvalidRequest(c)
		return
	}
	collection, err := h.notes.CreateCollection(c.Request.Context(), request.Name)
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.publish(RealtimeEventCollectionChanged, false, collection.ID)
	c.JSON(http.StatusCreated, newCollectionPayload(collection))
}

func (h *httpHandler) handleGetCollection(c *gin.Context) {
	collection, err := h.notes.GetCollection(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newCollectionPayload(collection))
}

func (h *httpHandler) handleUpdateCollection(c *gin.Context) {
	var request updateCollectionRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		h.respondInvalidRequest(c)
		return
	}
	collection, err := h.notes.UpdateCollection(c.Request.Context(), c.Param("id"), notes.CollectionPatch{
		Name:        request.Name,
		Icon:        request.Icon,
		Description: request.Description,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.publish(RealtimeEventCollectionChanged, false, collection.ID)
	c.JSON(http.StatusOK, newCollectionPayload(collection))
}

func (h *httpHandler) handleUpdateCollectionSchema(c *gin.Context) {
	var definitions schema.Schema
	if err := json.NewDecoder(c.Request.Body).Decode(&definitions); err != nil {
		h.respondInvalidRequest(c)
		return
	}
	collection, err := h.notes.UpdateCollectionSchema(c.Request.Context(), c.Param("id"), definitions)
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.publish(RealtimeEventCollectionChanged, false, collection.ID)
	c.JSON(http.StatusOK, newCollectionPayload(collection))
}

func (h *httpHandler) loadTable(c *gin.Context) (*table.Controller, bool) {
	controller := table.NewController(h.notes, h.columnIDs, h.logger)
	if _, err := controller.Load(c.Request.Context(), c.Param("id")); err != nil {
		h.respondError(c, err)
		return nil, false
	}
	return controller, true
}

func (h *httpHandler) handleCollectionView(c *gin.Context) {
	controller, ok := h.loadTable(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, controller.View())
}

func (h *httpHandler) handleCreateRow(c *gin.Context) {
	controller, ok := h.loadTable(c)
	if !ok {
		return
	}
	note, err := controller.CreateRow(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.publish(RealtimeEventNoteChanged, false, note.ID)
	c.JSON(http.StatusCreated, newNotePayload(note))
}

func (h *httpHandler) handleAddColumn(c *gin.Context) {
	var request addColumnRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		h.respondInvalidRequest(c)
		return
	}
	controller, ok := h.loadTable(c)
	if !ok {
		return
	}
	_, added, err := controller.AddColumn(c.Request.Context(), table.ColumnRequest{
		Name:                 request.Name,
		Type:                 request.Type,
		Options:              request.Options,
		RelationCollectionID: request.RelationCollectionID,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	if !added {
		c.JSON(http.StatusBadRequest, gin.H{"error": reasonInvalidColumn, "code": "table." + reasonInvalidColumn})
		return
	}
	collection := controller.Collection()
	h.publish(RealtimeEventCollectionChanged, false, collection.ID)
	c.JSON(http.StatusCreated, newCollectionPayload(collection))
}

func (h *httpHandler) handleListNotes(c *gin.Context) {
	list, err := h.notes.ListNotes(c.Request.Context(), c.Query("collection_id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newNotePayloads(list))
}

func (h *httpHandler) handleCreateNote(c *gin.Context) {
	var request createNoteRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&request); err != nil {
			h.respondInvalidRequest(c)
			return
		}
	}
	note, err := h.notes.CreateNote(c.Request.Context(), strings.TrimSpace(request.CollectionID))
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.publish(RealtimeEventNoteChanged, false, note.ID)
	c.JSON(http.StatusCreated, newNotePayload(note))
}

func (h *httpHandler) handleLookupNotes(c *gin.Context) {
	var request lookupNotesRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		h.respondInvalidRequest(c)
		return
	}
	list, err := h.notes.GetNotesByIDs(c.Request.Context(), request.IDs)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newNotePayloads(list))
}

func (h *httpHandler) handleSearchNotes(c *gin.Context) {
	query := notes.SearchQuery{
		Term:         c.Query("q"),
		CollectionID: c.Query("collection_id"),
		ExcludeID:    c.Query("exclude_id"),
	}
	if rawLimit := c.Query("limit"); rawLimit != "" {
		limit, err := strconv.Atoi(rawLimit)
		if err != nil || limit < 0 {
			h.respondInvalidRequest(c)
			return
		}
		query.Limit = limit
	}
	list, err := h.notes.SearchNotes(c.Request.Context(), query)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newNotePayloads(list))
}

func (h *httpHandler) handleGetNote(c *gin.Context) {
	note, err := h.notes.GetNote(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newNotePayload(note))
}

func (h *httpHandler) handleUpdateNote(c *gin.Context) {
	var request updateNoteRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		h.respondInvalidRequest(c)
		return
	}
	patch, err := request.patch()
	if err != nil {
		h.respondInvalidRequest(c)
		return
	}
	note, err := h.notes.UpdateNote(c.Request.Context(), c.Param("id"), patch)
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.publish(RealtimeEventNoteChanged, false, note.ID)
	c.JSON(http.StatusOK, newNotePayload(note))
}

func (h *httpHandler) handleDeleteNote(c *gin.Context) {
	noteID := c.Param("id")
	if err := h.notes.DeleteNote(c.Request.Context(), noteID); err != nil {
		h.respondError(c, err)
		return
	}
	h.publish(RealtimeEventNoteChanged, true, noteID)
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleCreateProperty(c *gin.Context) {
	var request createPropertyRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		h.respondInvalidRequest(c)
		return
	}
	noteID := c.Param("id")
	property, err := h.notes.CreateProperty(c.Request.Context(), noteID, request.Label, request.Type)
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.publish(RealtimeEventNoteChanged, false, noteID)
	c.JSON(http.StatusCreated, property)
}

func (h *httpHandler) handleUpdateProperty(c *gin.Context) {
	var request updatePropertyRequest
	if err := c.ShouldBindJSON(&request); err != nil || request.Value == nil {
		h.respondInvalidRequest(c)
		return
	}
	ctx := c.Request.Context()
	propertyID := c.Param("id")
	if err := h.notes.UpdateProperty(ctx, propertyID, *request.Value); err != nil {
		h.respondError(c, err)
		return
	}
	property, err := h.notes.GetProperty(ctx, propertyID)
	if err != nil {
		h.logger.Warn("property owner lookup failed", zap.String("property_id", propertyID), zap.Error(err))
	} else {
		h.publish(RealtimeEventNoteChanged, false, property.NoteID)
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleEvents(c *gin.Context) {
	ctx := c.Request.Context()
	stream, cleanup := h.realtime.Subscribe(ctx)
	defer cleanup()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	c.Stream(func(io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case message := <-stream:
			c.SSEvent(message.EventType, realtimePayload{
				IDs:       message.IDs,
				Deleted:   message.Deleted,
				Source:    realtimeSourceBackend,
				Timestamp: message.Timestamp.UTC().Format(time.RFC3339Nano),
			})
			return true
		case <-ticker.C:
			c.SSEvent(realtimeEventHeartbeat, realtimePayload{
				IDs:       []string{},
				Source:    realtimeSourceBackend,
				Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
			})
			return true
		}
	})
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	if h.validator == nil {
		c.Next()
		return
	}
	claims, err := h.validator.ValidateRequest(c.Request)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) {
			h.logger.Info("token validation failed", zap.Error(err))
		} else {
			h.logger.Warn("token validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "code": "auth.unauthorized"})
		return
	}
	c.Set(subjectContextKey, claims.Subject)
	c.Next()
}

func (h *httpHandler) publish(eventType string, deleted bool, ids ...string) {
	if h.realtime == nil {
		return
	}
	h.realtime.Publish(RealtimeMessage{
		EventType: eventType,
		IDs:       ids,
		Deleted:   deleted,
		Timestamp: time.Now().UTC(),
	})
}

// respondError maps store errors to HTTP: not found is 404, rejected input 400, anything
// else 500.
func (h *httpHandler) respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, notes.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, notes.ErrValidation):
		status = http.StatusBadRequest
	}

	code := "internal.failed"
	var serviceErr *notes.ServiceError
	if errors.As(err, &serviceErr) {
		code = serviceErr.Code()
	}
	reason := code[strings.LastIndex(code, ".")+1:]

	if status == http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("method", c.Request.Method),
			zap.String("route", c.FullPath()),
			zap.String("code", code),
			zap.Error(err),
		)
	}
	c.JSON(status, gin.H{"error": reason, "code": code})
}

func (h *httpHandler) respondInvalidRequest(c *gin.Context) {
	c.JSON(http.StatusBadRequest, gin.H{"error": reasonInvalidRequest, "code": "request." + reasonInvalidRequest})
}
