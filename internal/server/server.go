// Package server exposes the monitoring state over a small REST API. Reads
// return snapshots of the state store, writes are intents applied to it.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-logr/logr"

	"github.com/pyth-watch/publisher-monitor/internal/domain/entity"
	"github.com/pyth-watch/publisher-monitor/internal/domain/state"
)

// Tracker registers one feed for periodic uptime refresh.
type Tracker interface {
	Track(ctx context.Context, detail entity.PublishDetail)
}

type Server struct {
	store     *state.Store
	trackers  map[entity.Cluster]Tracker
	reconnect func(entity.Cluster)
	logger    logr.Logger

	engine *gin.Engine

	// lifecycle context of the monitor, not of one request. Feeds tracked
	// from a request handler must outlive the request.
	baseCtx context.Context
}

func New(store *state.Store, trackers map[entity.Cluster]Tracker, reconnect func(entity.Cluster), logger logr.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	engine := gin.New()
	engine.Use(gin.Recovery())

	ret := &Server{
		store:     store,
		trackers:  trackers,
		reconnect: reconnect,
		logger:    logger,
		engine:    engine,
		baseCtx:   context.Background(),
	}

	ret.setupRoutes()

	return ret
}

func (s *Server) setupRoutes() {
	api := s.engine.Group("/api")

	api.GET("/clusters", s.listClusters)

	cluster := api.Group("/clusters/:cluster")
	cluster.GET("/status", s.getStatus)
	cluster.GET("/alerts", s.getAlerts)
	cluster.GET("/publishers", s.getPublishers)
	cluster.GET("/assets", s.getAssetTypes)
	cluster.GET("/publish-details", s.getPublishDetails)
	cluster.GET("/uptime", s.getUptime)

	cluster.POST("/publishers/:publisher", s.setPublisherSelected)
	cluster.POST("/assets", s.setAssetSelected)
	cluster.POST("/connect", s.triggerConnect)
}

// Run serves the API until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, port int, gracefulDuration time.Duration) error {
	s.baseCtx = ctx

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)

	go func() {
		errc <- httpServer.ListenAndServe()
	}()

	s.logger.V(1).Info("API server started", "port", port)

	select {
	case err := <-errc:
		return fmt.Errorf("api server stopped unexpectedly: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), gracefulDuration)
	defer cancel()

	err := httpServer.Shutdown(shutdownCtx)
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to shutdown api server: %w", err)
	}

	return nil
}

func (s *Server) clusterState(c *gin.Context) (*state.ClusterState, bool) {
	cluster := entity.Cluster(c.Param("cluster"))

	ret, err := s.store.Cluster(cluster)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})

		return nil, false
	}

	return ret, true
}

func (s *Server) listClusters(c *gin.Context) {
	type clusterView struct {
		Name   entity.Cluster       `json:"name"`
		Status entity.ClusterStatus `json:"status"`
	}

	clusters := s.store.Clusters()
	ret := make([]clusterView, 0, len(clusters))

	for _, cluster := range clusters {
		clusterState, err := s.store.Cluster(cluster)
		if err != nil {
			continue
		}

		ret = append(ret, clusterView{Name: cluster, Status: clusterState.Status()})
	}

	c.JSON(http.StatusOK, ret)
}

func (s *Server) getStatus(c *gin.Context) {
	clusterState, ok := s.clusterState(c)
	if !ok {
		return
	}

	c.JSON(http.StatusOK, clusterState.Status())
}

func (s *Server) getAlerts(c *gin.Context) {
	clusterState, ok := s.clusterState(c)
	if !ok {
		return
	}

	errs, warns := clusterState.Alerts()

	c.JSON(http.StatusOK, gin.H{"errors": errs, "warnings": warns})
}

func (s *Server) getPublishers(c *gin.Context) {
	clusterState, ok := s.clusterState(c)
	if !ok {
		return
	}

	c.JSON(http.StatusOK, clusterState.Publishers())
}

func (s *Server) getAssetTypes(c *gin.Context) {
	clusterState, ok := s.clusterState(c)
	if !ok {
		return
	}

	c.JSON(http.StatusOK, clusterState.AssetTypes())
}

// getPublishDetails returns the live records of the feeds currently visible
// on the dashboard, so only those of selected publishers and selected asset
// types.
func (s *Server) getPublishDetails(c *gin.Context) {
	clusterState, ok := s.clusterState(c)
	if !ok {
		return
	}

	publishers := clusterState.Publishers()
	assetTypes := clusterState.AssetTypes()

	ret := make(map[entity.ProductAndPublisherKey]entity.PublishDetail)

	for key, detail := range clusterState.PublishDetails() {
		publisher, known := publishers[entity.PublisherKey(detail.PublisherAccount)]
		if !known || !publisher.Selected {
			continue
		}

		if !assetTypes[detail.AssetType] {
			continue
		}

		ret[key] = detail
	}

	c.JSON(http.StatusOK, ret)
}

func (s *Server) getUptime(c *gin.Context) {
	clusterState, ok := s.clusterState(c)
	if !ok {
		return
	}

	product := entity.ProductKey(c.Query("product"))
	publisher := entity.PublisherKey(c.Query("publisher"))

	if product == "" || publisher == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "product and publisher query parameters are required"})

		return
	}

	key := entity.JoinKey(product, publisher)

	detail, found := clusterState.PublishDetail(key)
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("no publish detail for %s", key)})

		return
	}

	// register the feed, the first request triggers the initial fetch
	tracker, hasTracker := s.trackers[clusterState.Name()]
	if hasTracker {
		tracker.Track(s.baseCtx, detail)
	}

	c.JSON(http.StatusOK, clusterState.Uptime(key))
}

func (s *Server) setPublisherSelected(c *gin.Context) {
	clusterState, ok := s.clusterState(c)
	if !ok {
		return
	}

	var body struct {
		Selected bool `json:"selected"`
	}

	err := c.ShouldBindJSON(&body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})

		return
	}

	publisher := entity.PublisherKey(c.Param("publisher"))

	err = clusterState.SetPublisherSelected(publisher, body.Selected)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})

		return
	}

	c.JSON(http.StatusOK, gin.H{"publisher": publisher, "selected": body.Selected})
}

func (s *Server) setAssetSelected(c *gin.Context) {
	clusterState, ok := s.clusterState(c)
	if !ok {
		return
	}

	var body struct {
		AssetType string `json:"assetType"`
		Selected  bool   `json:"selected"`
	}

	err := c.ShouldBindJSON(&body)
	if err != nil || body.AssetType == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "assetType is required"})

		return
	}

	clusterState.SetAssetSelected(body.AssetType, body.Selected)

	c.JSON(http.StatusOK, gin.H{"assetType": body.AssetType, "selected": body.Selected})
}

func (s *Server) triggerConnect(c *gin.Context) {
	clusterState, ok := s.clusterState(c)
	if !ok {
		return
	}

	if s.reconnect != nil {
		s.reconnect(clusterState.Name())
	}

	c.JSON(http.StatusAccepted, gin.H{"cluster": clusterState.Name()})
}
