package http

import (
	"context"
	"log"
	"net/http"
	"time"

	"serialtrust/internal/config"
	"serialtrust/internal/domain"
	"serialtrust/internal/infra/crypto"
	"serialtrust/internal/infra/db"
	"serialtrust/internal/infra/memstore"
	"serialtrust/internal/infra/policyopa"
	"serialtrust/internal/infra/ratelimit"
	"serialtrust/internal/usecase"

	"github.com/gin-gonic/gin"
)

type Server struct {
	cfg   config.Config
	store *db.Store
	r     *gin.Engine

	gateway     *usecase.IngestionGateway
	registry    *usecase.FactoryKeyRegistry
	coordinator *usecase.UploadCoordinator

	adminAPIKey string

	rateLimiter         domain.RateLimiter
	rateLimits          map[domain.EndpointClass]int
	rateLimitWindow     time.Duration
	rateLimitFailClosed bool

	initErr error
}

func NewServer(cfg config.Config, store *db.Store) *Server {
	r := gin.New()
	r.Use(gin.Recovery())

	s := &Server{cfg: cfg, store: store, r: r}
	s.initDeps()
	s.routes()
	return s
}

type ServerDeps struct {
	Registry    *usecase.FactoryKeyRegistry
	Coordinator *usecase.UploadCoordinator
	Gateway     *usecase.IngestionGateway
	RateLimiter domain.RateLimiter
	AdminAPIKey string
}

func NewServerWithDeps(cfg config.Config, deps ServerDeps) *Server {
	r := gin.New()
	r.Use(gin.Recovery())

	s := &Server{
		cfg:         cfg,
		r:           r,
		registry:    deps.Registry,
		coordinator: deps.Coordinator,
		gateway:     deps.Gateway,
		adminAPIKey: deps.AdminAPIKey,
	}
	s.initRateLimit(deps.RateLimiter)
	s.routes()
	return s
}

func (s *Server) initDeps() {
	s.adminAPIKey = s.cfg.AdminAPIKey

	var (
		requests usecase.RegistrationRepository
		serials  usecase.SerialStore
		units    usecase.UploadUnitRecorder
	)
	if s.store != nil && s.store.DB != nil {
		requests = db.NewRegistrationRequestRepository(s.store.DB)
		serials = db.NewSerialRepository(s.store.DB)
		units = db.NewUploadUnitRepository(s.store.DB)
	} else {
		requests = memstore.NewRegistrations()
		serials = memstore.NewSerials()
	}

	s.registry = usecase.NewFactoryKeyRegistry(requests)
	s.coordinator = usecase.NewUploadCoordinator(serials, units)

	gateway := usecase.NewIngestionGateway(s.registry, crypto.NewService(), s.coordinator, serials)
	gateway.HMACSecret = []byte(s.cfg.HMACSharedSecret)
	gateway.FreshnessWindow = s.cfg.FreshnessWindow()
	if s.cfg.UploadPolicyPath != "" {
		engine, err := policyopa.NewEngineFromPath(context.Background(), s.cfg.UploadPolicyPath)
		if err != nil {
			s.initErr = err
			return
		}
		gateway.Policy = engine
	}
	s.gateway = gateway

	s.initRateLimit(nil)
}

func (s *Server) initRateLimit(override domain.RateLimiter) {
	if override != nil {
		s.rateLimiter = override
	}
	if s.rateLimiter == nil {
		if s.cfg.RedisAddr != "" {
			if limiter, err := ratelimit.NewRedisLimiter(s.cfg.RedisAddr, s.cfg.RedisPassword, s.cfg.RedisDB, nil); err == nil {
				s.rateLimiter = limiter
			} else {
				log.Printf("redis rate limiter unavailable, using in-memory: %v", err)
			}
		}
		if s.rateLimiter == nil {
			s.rateLimiter = ratelimit.NewMemoryLimiter(ratelimit.MemoryLimiterConfig{
				MaxKeys: s.cfg.RateLimitMaxKeys,
			})
		}
	}
	s.rateLimits = map[domain.EndpointClass]int{
		domain.EndpointClassRead:     s.cfg.RateLimitRead,
		domain.EndpointClassWrite:    s.cfg.RateLimitWrite,
		domain.EndpointClassRegister: s.cfg.RateLimitRegister,
	}
	s.rateLimitWindow = s.cfg.RateLimitWindow()
	s.rateLimitFailClosed = s.cfg.RateLimitFailClosed
}

func (s *Server) routes() {
	s.r.GET("/healthz", func(c *gin.Context) {
		dbMode := "memory"
		if s.store != nil && s.store.DB != nil {
			dbMode = "db"
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "mode": dbMode})
	})

	s.r.GET("/verify", s.handleVerifySerial)
	s.r.POST("/register_public_key", s.handleRegister)
	s.r.POST("/add_serials", s.handleAddSerials)
	s.r.POST("/add_batch_serials", s.handleAddBatchSerials)
	s.r.POST("/add_chunk_serials", s.handleAddChunkSerials)
	s.r.GET("/queue_status", s.handleQueueStatus)
	s.r.POST("/retry_failed", s.handleRetryFailed)

	admin := s.r.Group("/admin")
	{
		admin.GET("/registration_requests", s.handleAdminListRequests)
		admin.POST("/approve_request/:id", s.handleAdminDecision(domain.DecisionApprove))
		admin.POST("/deny_request/:id", s.handleAdminDecision(domain.DecisionDeny))
		admin.POST("/revoke_request/:id", s.handleAdminDecision(domain.DecisionRevoke))
	}
}

// Engine exposes the router for tests.
func (s *Server) Engine() *gin.Engine {
	return s.r
}

func (s *Server) Run() error {
	if s.initErr != nil {
		return s.initErr
	}
	return s.r.Run(s.cfg.HTTPAddr)
}
