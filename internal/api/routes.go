package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rawblock/entropy-scorer/internal/config"
	"github.com/rawblock/entropy-scorer/internal/db"
	"github.com/rawblock/entropy-scorer/internal/hilite"
	"github.com/rawblock/entropy-scorer/internal/logging"
	"github.com/rawblock/entropy-scorer/internal/metrics"
	"github.com/rawblock/entropy-scorer/internal/node"
	"github.com/rawblock/entropy-scorer/internal/partition"
	"github.com/rawblock/entropy-scorer/internal/persist"
	"github.com/rawblock/entropy-scorer/pkg/models"
)

type APIHandler struct {
	node    *node.Node
	dbStore *db.PostgresStore
	wsHub   *Hub
	storage config.StorageConfig
}

// SetupRouter builds the gin engine. dbStore may be nil, in which case the
// run archive endpoints answer 503.
func SetupRouter(cfg *config.Config, n *node.Node, dbStore *db.PostgresStore, wsHub *Hub, limiter *RateLimiter) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())

	// CORS: an empty list or "*" allows every origin
	allowedOrigins := cfg.Server.AllowedOrigins
	r.Use(func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if len(allowedOrigins) == 0 || (len(allowedOrigins) == 1 && allowedOrigins[0] == "*") {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		} else {
			for _, allowed := range allowedOrigins {
				if allowed == origin {
					c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
					break
				}
			}
		}
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	})

	handler := &APIHandler{node: n, dbStore: dbStore, wsHub: wsHub, storage: cfg.Storage}
	wsHub.Handle(handler.handleSocketMessage)

	api := r.Group("/api/v1")
	{
		api.GET("/health", handler.handleHealth)
		api.GET("/stream", StreamAuth(cfg.Server.AuthToken), wsHub.Subscribe)
	}

	protected := api.Group("")
	protected.Use(AuthMiddleware(cfg.Server.AuthToken, cfg.Server.GinMode == gin.ReleaseMode))
	if limiter != nil {
		protected.Use(limiter.Middleware())
	}
	{
		protected.POST("/configure", handler.handleConfigure)
		protected.POST("/execute", handler.handleExecute)
		protected.POST("/reset", handler.handleReset)
		protected.GET("/result", handler.handleResult)
		protected.GET("/contingency", handler.handleContingency)
		protected.GET("/clusters", handler.handleClusters)
		protected.GET("/clusters/:label", handler.handleCluster)
		protected.POST("/internals/save", handler.handleSaveInternals)
		protected.POST("/internals/load", handler.handleLoadInternals)
		protected.POST("/selection", handler.handleSelection)
		protected.GET("/selection/:side", handler.handleGetSelection)

		// Run archive
		protected.POST("/runs", handler.handleArchiveRun)
		protected.GET("/runs", handler.handleListRuns)
		protected.GET("/runs/:id", handler.handleGetRun)
		protected.POST("/runs/:id/restore", handler.handleRestoreRun)
		protected.DELETE("/runs/:id", handler.handleDeleteRun)
	}

	return r
}

// requestLogger logs one line per request through the shared zap logger.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logging.L().Debugf("[HTTP] %s %s -> %d (%s)", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start))
	}
}

// writeError maps domain errors onto HTTP status codes.
func writeError(c *gin.Context, err error) {
	var (
		cfgErr     *node.ConfigurationError
		emptyErr   *metrics.EmptyInputError
		dupErr     *partition.DuplicateEntityError
		colErr     *partition.ColumnNotFoundError
		corruptErr *persist.CorruptStateError
		versionErr *persist.VersionMismatchError
	)
	status := http.StatusInternalServerError
	switch {
	case errors.As(err, &cfgErr), errors.As(err, &emptyErr), errors.As(err, &dupErr), errors.As(err, &colErr):
		status = http.StatusBadRequest
	case errors.As(err, &corruptErr), errors.As(err, &versionErr):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, node.ErrNotExecuted), errors.Is(err, persist.ErrNoState):
		status = http.StatusConflict
	case errors.Is(err, db.ErrRunNotFound):
		status = http.StatusNotFound
	case errors.Is(err, errPathEscapes), errors.Is(err, os.ErrNotExist):
		status = http.StatusBadRequest
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

var errPathEscapes = errors.New("path escapes the allowed directory")

// resolveWithin joins rel onto base and rejects results outside base.
func resolveWithin(base, rel string) (string, error) {
	if filepath.IsAbs(rel) {
		return "", fmt.Errorf("%w: %s", errPathEscapes, rel)
	}
	joined := filepath.Join(base, rel)
	back, err := filepath.Rel(base, joined)
	if err != nil || back == ".." || strings.HasPrefix(back, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", errPathEscapes, rel)
	}
	return joined, nil
}

func (h *APIHandler) source(in models.TableInput) (partition.Source, error) {
	if in.Path != "" {
		path, err := resolveWithin(h.storage.DataDir, in.Path)
		if err != nil {
			return nil, err
		}
		return partition.OpenFile(path)
	}
	return partition.NewTable(in.Columns, in.Rows...), nil
}

// POST /api/v1/configure
func (h *APIHandler) handleConfigure(c *gin.Context) {
	var req models.ConfigureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}

	settings := node.Settings{ReferenceColumn: req.ReferenceColumn, ClusteringColumn: req.ClusteringColumn}
	var err error
	if req.ReferenceSchema != nil && req.ClusteringSchema != nil {
		err = h.node.Reconfigure(settings, partition.Schema{Columns: req.ReferenceSchema}, partition.Schema{Columns: req.ClusteringSchema})
	} else {
		err = h.node.SetSettings(settings)
	}
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "configured", "settings": settings})
}

// POST /api/v1/execute
func (h *APIHandler) handleExecute(c *gin.Context) {
	var req models.ExecuteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}

	ref, err := h.source(req.Reference)
	if err != nil {
		writeError(c, err)
		return
	}
	cand, err := h.source(req.Clustering)
	if err != nil {
		writeError(c, err)
		return
	}

	if _, err := h.node.Execute(c.Request.Context(), ref, cand); err != nil {
		writeError(c, err)
		return
	}
	h.writeResult(c)
}

// POST /api/v1/reset
func (h *APIHandler) handleReset(c *gin.Context) {
	h.node.Reset()
	c.JSON(http.StatusOK, gin.H{"status": "reset"})
}

// GET /api/v1/result
func (h *APIHandler) handleResult(c *gin.Context) {
	h.writeResult(c)
}

func (h *APIHandler) writeResult(c *gin.Context) {
	snap := h.node.Snapshot()
	if snap == nil {
		writeError(c, node.ErrNotExecuted)
		return
	}
	view, err := resultView(snap)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func resultView(snap *persist.Snapshot) (models.EvaluationResult, error) {
	r := snap.Result
	summary, err := metrics.Summarize(r)
	if err != nil {
		return models.EvaluationResult{}, err
	}
	return models.EvaluationResult{
		RunID:          snap.RunID,
		CreatedAt:      snap.CreatedAt,
		TotalEntities:  r.Total(),
		CandidateCount: r.CandidateLabelCount(),
		OverallEntropy: r.OverallEntropy(),
		Quality:        r.Quality(),
		ARI:            r.ARI(),
		VI:             r.VI(),
		Clusters:       r.Clusters(),
		Summary:        summary,
	}, nil
}

// GET /api/v1/contingency
func (h *APIHandler) handleContingency(c *gin.Context) {
	t, err := h.node.Contingency()
	if err != nil {
		writeError(c, err)
		return
	}
	view := models.ContingencyView{
		Total:           t.Total(),
		Cells:           t.Cells(),
		ReferenceTotals: make(map[string]int),
		CandidateTotals: make(map[string]int),
	}
	for _, l := range t.ReferenceLabels() {
		view.ReferenceTotals[string(l)] = t.ReferenceTotal(l)
	}
	for _, l := range t.CandidateLabels() {
		view.CandidateTotals[string(l)] = t.CandidateTotal(l)
	}
	c.JSON(http.StatusOK, view)
}

// GET /api/v1/clusters
func (h *APIHandler) handleClusters(c *gin.Context) {
	idx, err := h.node.ClusterIndex()
	if err != nil {
		writeError(c, err)
		return
	}
	type clusterInfo struct {
		Label string `json:"label"`
		Size  int    `json:"size"`
	}
	clusters := make([]clusterInfo, 0, idx.Len())
	for _, l := range idx.Labels() {
		clusters = append(clusters, clusterInfo{Label: string(l), Size: len(idx.Entities(l))})
	}
	c.JSON(http.StatusOK, gin.H{"clusters": clusters, "entities": idx.Size()})
}

// GET /api/v1/clusters/:label
func (h *APIHandler) handleCluster(c *gin.Context) {
	idx, err := h.node.ClusterIndex()
	if err != nil {
		writeError(c, err)
		return
	}
	label := metrics.Label(c.Param("label"))
	if !idx.Contains(label) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Unknown cluster " + string(label)})
		return
	}
	c.JSON(http.StatusOK, gin.H{"label": label, "entities": idx.Entities(label)})
}

func (h *APIHandler) internalsDir(c *gin.Context) (string, bool) {
	var req models.InternalsRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
			return "", false
		}
	}
	dir, err := resolveWithin(h.storage.InternalsDir, req.Dir)
	if err != nil {
		writeError(c, err)
		return "", false
	}
	return dir, true
}

// POST /api/v1/internals/save
func (h *APIHandler) handleSaveInternals(c *gin.Context) {
	dir, ok := h.internalsDir(c)
	if !ok {
		return
	}
	if err := h.node.SaveInternals(dir); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "saved", "runId": h.node.RunID()})
}

// POST /api/v1/internals/load
func (h *APIHandler) handleLoadInternals(c *gin.Context) {
	dir, ok := h.internalsDir(c)
	if !ok {
		return
	}
	if _, err := h.node.LoadInternals(dir); err != nil {
		writeError(c, err)
		return
	}
	h.writeResult(c)
}

// POST /api/v1/selection
// Inbound selection notification from one linked endpoint.
func (h *APIHandler) handleSelection(c *gin.Context) {
	var req models.SelectionEvent
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}
	accepted, err := h.propagate(req)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"accepted": accepted})
}

// GET /api/v1/selection/:side
func (h *APIHandler) handleGetSelection(c *gin.Context) {
	side, err := hilite.ParseSide(c.Param("side"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	keys := h.node.Translator().Selection(side)
	if keys == nil {
		keys = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"side": side.String(), "keys": keys})
}

// handleSocketMessage accepts selection notifications sent over /stream.
func (h *APIHandler) handleSocketMessage(data []byte) {
	var ev models.SelectionEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		logging.L().Warnf("[Hub] ignoring malformed message: %v", err)
		return
	}
	if ev.Type != "" && ev.Type != "selection" {
		return
	}
	if _, err := h.propagate(ev); err != nil {
		logging.L().Warnf("[Hub] ignoring selection: %v", err)
	}
}

func (h *APIHandler) propagate(ev models.SelectionEvent) (bool, error) {
	origin, err := hilite.ParseSide(ev.Origin)
	if err != nil {
		return false, err
	}
	return h.node.Translator().Propagate(origin, ev.Keys), nil
}

// GET /api/v1/health
func (h *APIHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":      "operational",
		"engine":      "Entropy Scorer v1",
		"runId":       h.node.RunID(),
		"settings":    h.node.Settings(),
		"dbConnected": h.dbStore != nil,
		"wsClients":   h.wsHub.ClientCount(),
		"capabilities": gin.H{
			"entropy":      true,
			"ari_vi":       true,
			"internals":    true,
			"run_archive":  h.dbStore != nil,
			"linked_views": true,
		},
	})
}

// BroadcastSelections relays every selection command the translator emits
// to the WebSocket clients. The returned func unregisters both listeners.
func BroadcastSelections(tr *hilite.Translator, wsHub *Hub) func() {
	relay := func(ev hilite.Event) {
		keys := ev.Keys
		if keys == nil {
			keys = []string{}
		}
		payload, err := json.Marshal(models.SelectionEvent{
			Type:   "selection",
			Origin: ev.Origin.String(),
			Target: ev.Target.String(),
			Keys:   keys,
			Seq:    ev.Seq,
		})
		if err != nil {
			logging.L().Errorf("[Hub] encoding selection: %v", err)
			return
		}
		wsHub.Broadcast(payload)
	}
	removeLeft := tr.AddListener(hilite.Left, relay)
	removeRight := tr.AddListener(hilite.Right, relay)
	return func() {
		removeLeft()
		removeRight()
	}
}

// requestContext bounds archive calls that outlive a slow client.
func requestContext(c *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), 30*time.Second)
}
