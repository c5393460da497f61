package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"asistencia/internal/auth"
	"asistencia/internal/checkin"
	"asistencia/internal/config"
	"asistencia/internal/httpmiddleware"
	"asistencia/internal/queue"
	"asistencia/internal/reconcile"
	"asistencia/internal/recordstore"
	"asistencia/internal/session"
	"asistencia/internal/store"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	var log *zap.Logger
	var err error
	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
		log, err = zap.NewProduction()
	} else {
		log, err = zap.NewDevelopment()
	}
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Fatal("server failed", zap.Error(err))
	}
}

func run(cfg config.App, log *zap.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rs := recordstore.New(cfg.StoreBaseURL, cfg.RequestTimeout, cfg.RetryAttempts, cfg.CacheTTL, log)

	var q queue.Queue
	if cfg.QueueBackend == "redis" {
		redisClient := store.NewRedis(cfg.RedisAddr)
		if !redisClient.Healthy(ctx) {
			log.Warn("redis not reachable, audit events may be dropped", zap.String("addr", cfg.RedisAddr))
		}
		q = queue.NewRedisQueue(redisClient.Client, "asistencia:audit")
	} else {
		q = queue.NewInMemory(256)
	}

	srv := &server{
		cfg:      cfg,
		log:      log,
		store:    rs,
		sessions: session.NewManager(rs.Sessions, cfg.SessionSeconds, cfg.VisibilityWindow, log),
		engine:   reconcile.NewEngine(rs.Attendance, log),
		flows:    checkin.NewRegistry(cfg.OTPTimeout),
		queue:    q,
		rootCtx:  ctx,
	}

	go srv.flows.Run(ctx, time.Minute)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(httpmiddleware.CORS(cfg.CORSOrigins))
	r.Use(httpmiddleware.SecurityHeaders())
	r.Use(httpmiddleware.NewSlidingWindow(cfg.RateLimitWindow, cfg.RateLimitMax).GinMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/healthz", srv.healthz)

	// Public check-in surface: the only externally shareable address is
	// /check/<sessionId>.
	r.GET("/check/:sesionID", srv.resolveCheckin)
	r.POST("/check/:sesionID/identity", srv.submitIdentity)
	r.POST("/flows/:token/otp", srv.submitOTP)
	r.POST("/generate-otp", srv.generateOTP)

	r.POST("/api/login", srv.login)

	api := r.Group("/api", auth.RequireAuth(cfg.JWTSigningKey, cfg.JWTIssuer))

	mon := api.Group("", auth.RequireRole("monitor", "admin"))
	mon.POST("/talleres/:id/sesiones", srv.startSession)
	mon.GET("/talleres/:id/sesiones", srv.listSessions)
	mon.POST("/sesiones/:id/resume", srv.resumeSession)
	mon.GET("/sesiones/:id/estado", srv.sessionState)
	mon.DELETE("/sesiones/:id", srv.closeSession)
	mon.GET("/sesiones/:id/asistencia", srv.attendanceView)
	mon.POST("/sesiones/:id/asistencia/:alumnoID", srv.manualOverride)

	admin := api.Group("", auth.RequireRole("admin"))
	admin.POST("/entidades", srv.createEntity)
	admin.PATCH("/entidades/:id", srv.updateEntity)
	admin.DELETE("/entidades/:id", srv.deleteEntity)
	admin.POST("/alumnos", srv.createStudent)
	admin.PATCH("/alumnos/:id", srv.updateStudent)
	admin.DELETE("/alumnos/:id", srv.deleteStudent)

	entidad := api.Group("", auth.RequireRole("entidad", "admin"))
	entidad.POST("/monitores", srv.createMonitor)
	entidad.PATCH("/monitores/:id", srv.updateMonitor)
	entidad.DELETE("/monitores/:id", srv.deleteMonitor)
	entidad.POST("/talleres", srv.createWorkshop)
	entidad.PATCH("/talleres/:id", srv.updateWorkshop)
	entidad.DELETE("/talleres/:id", srv.deleteWorkshop)

	gestor := api.Group("", auth.RequireRole("gestor", "admin"))
	gestor.POST("/visitas", srv.createVisit)

	api.GET("/entidades", srv.listEntities)
	api.GET("/monitores", srv.listMonitors)
	api.GET("/cursos", srv.listCourses)
	api.GET("/alumnos", srv.listStudents)
	api.GET("/talleres", srv.listWorkshops)
	api.GET("/visitas", srv.listVisits)

	httpSrv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("server listening", zap.String("port", cfg.HTTPPort))
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("listen failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down")

	// Stop session run loops and flow sweeping before draining requests.
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn("forced shutdown", zap.Error(err))
	}
	log.Info("server exited")
	return nil
}
