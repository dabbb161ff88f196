package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// PeersResponse is the admin API view of the peer registry.
type PeersResponse struct {
	Count int               `json:"count"`
	Peers map[string]string `json:"peers"`
}

// adminAPI serves read-only operational endpoints over HTTP: current
// stats and the registry snapshot. It never mutates server state.
type adminAPI struct {
	server *Server
	http   *http.Server
	addr   net.Addr
}

func newAdminAPI(addr string, s *Server) (*adminAPI, error) {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	a := &adminAPI{server: s}
	router.GET("/stats", a.handleStats)
	router.GET("/peers", a.handlePeers)

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	a.http = &http.Server{Handler: router}
	a.addr = listener.Addr()

	go func() {
		if err := a.http.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.WithFields(logrus.Fields{
				"function": "newAdminAPI",
				"error":    err,
			}).Error("Admin API stopped unexpectedly")
		}
	}()

	logrus.WithFields(logrus.Fields{
		"function": "newAdminAPI",
		"addr":     listener.Addr().String(),
	}).Info("Admin API listening")

	return a, nil
}

// handleStats handles GET /stats.
func (a *adminAPI) handleStats(c *gin.Context) {
	c.JSON(http.StatusOK, a.server.Stats())
}

// handlePeers handles GET /peers.
func (a *adminAPI) handlePeers(c *gin.Context) {
	snapshot := a.server.registry.Snapshot()

	peers := make(map[string]string, len(snapshot))
	for identity, addr := range snapshot {
		peers[identity] = addr.String()
	}

	c.JSON(http.StatusOK, PeersResponse{Count: len(peers), Peers: peers})
}

func (a *adminAPI) stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := a.http.Shutdown(ctx); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "stop",
			"error":    err,
		}).Warn("Admin API shutdown failed")
	}
}
