// Copyright (C) 2025, PayAttn Labs. All rights reserved.
// See the file LICENSE for licensing terms.

// Package api exposes the pipeline's trigger surface over HTTP: offer and
// campaign intake, "assess pending offers for advertiser X", "impression
// confirmed for offer Y", and session read-back for the dashboard.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/payattn/broker/pkg/assess"
	"github.com/payattn/broker/pkg/core"
	"github.com/payattn/broker/pkg/log"
	"github.com/payattn/broker/pkg/metric"
	"github.com/payattn/broker/pkg/session"
	"github.com/payattn/broker/pkg/settlement"
	"github.com/payattn/broker/pkg/store"
)

// Server holds the HTTP handlers.
type Server struct {
	pipeline  *assess.Pipeline
	offers    *store.OfferStore
	creatives *store.CreativeStore
	recorder  *session.Recorder
	retry     *settlement.RetryQueue
	auth      *Authenticator
	metrics   *metric.Metrics
	log       log.Logger
}

// NewServer creates the API server. A nil auth leaves the API open, which is
// only appropriate for demo mode.
func NewServer(pipeline *assess.Pipeline, offers *store.OfferStore, creatives *store.CreativeStore, recorder *session.Recorder, retry *settlement.RetryQueue, auth *Authenticator, metrics *metric.Metrics, logger log.Logger) *Server {
	return &Server{
		pipeline:  pipeline,
		offers:    offers,
		creatives: creatives,
		recorder:  recorder,
		retry:     retry,
		auth:      auth,
		metrics:   metrics,
		log:       logger,
	}
}

// Router builds the gin engine.
func (s *Server) Router(production bool) *gin.Engine {
	if production {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.Default()

	config := cors.DefaultConfig()
	config.AllowOrigins = []string{"http://localhost:3000", "https://app.payattn.io"}
	config.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	config.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization"}
	router.Use(cors.New(config))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "time": time.Now().Unix()})
	})
	if s.metrics != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.metrics.Gatherer(), promhttp.HandlerOpts{})))
	}

	api := router.Group("/api/v1")
	if s.auth != nil {
		api.Use(s.auth.Middleware())
	}
	{
		api.POST("/offers", s.createOffer)
		api.POST("/creatives", s.createCreative)
		api.POST("/advertisers/:id/assess", s.assess)
		api.POST("/offers/:id/impression", s.confirmImpression)
		api.POST("/offers/:id/shares/:share/retry", s.retryShare)
		api.GET("/advertisers/:id/sessions", s.listSessions)
		api.GET("/sessions/:id", s.getSession)
	}

	return router
}

type createOfferRequest struct {
	OfferID          string          `json:"offer_id" binding:"required"`
	AdvertiserID     string          `json:"advertiser_id" binding:"required"`
	UserID           string          `json:"user_id" binding:"required"`
	UserAddress      string          `json:"user_address" binding:"required"`
	AdID             string          `json:"ad_id" binding:"required"`
	AmountMinorUnits uint64          `json:"amount_minor_units" binding:"required"`
	ProofBundle      json.RawMessage `json:"proof_bundle,omitempty"`
}

func (s *Server) createOffer(c *gin.Context) {
	var req createOfferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	existing, err := s.offers.Get(req.OfferID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if existing != nil {
		c.JSON(http.StatusConflict, gin.H{"error": "offer already exists"})
		return
	}

	now := time.Now()
	offer := &core.Offer{
		OfferID:          req.OfferID,
		AdvertiserID:     req.AdvertiserID,
		UserID:           req.UserID,
		UserAddress:      req.UserAddress,
		AdID:             req.AdID,
		AmountMinorUnits: req.AmountMinorUnits,
		Status:           core.StatusPending,
		ProofBundle:      req.ProofBundle,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.offers.Put(offer); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, offer)
}

func (s *Server) createCreative(c *gin.Context) {
	var creative core.AdCreative
	if err := c.ShouldBindJSON(&creative); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if creative.AdID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "ad_id is required"})
		return
	}
	if err := s.creatives.Put(&creative); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, creative)
}

type assessRequest struct {
	AdvertiserAddress string `json:"advertiser_address" binding:"required"`
}

func (s *Server) assess(c *gin.Context) {
	var req assessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sess, err := s.pipeline.AssessPendingOffers(c.Request.Context(), c.Param("id"), req.AdvertiserAddress)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, sess)
}

type impressionRequest struct {
	PublisherAddress string `json:"publisher_address" binding:"required"`
}

func (s *Server) confirmImpression(c *gin.Context) {
	var req impressionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	shares, err := s.pipeline.ConfirmImpression(c.Request.Context(), c.Param("id"), req.PublisherAddress)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, assess.ErrUnknownOffer) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"shares": shares})
}

// retryShare kicks one queued settlement share immediately, for operators
// who fixed the underlying cause and do not want to wait out the cooldown.
func (s *Server) retryShare(c *gin.Context) {
	err := s.retry.RetryNow(c.Request.Context(), c.Param("id"), core.ShareType(c.Param("share")))
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"status": "delivered"})
	case errors.Is(err, settlement.ErrNotQueued):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, settlement.ErrRetryExhausted):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func (s *Server) listSessions(c *gin.Context) {
	sessions, err := s.recorder.ByAdvertiser(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

func (s *Server) getSession(c *gin.Context) {
	sess, err := s.recorder.Get(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if sess == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	c.JSON(http.StatusOK, sess)
}
