package main

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"attendance/internal/attendance"
	"attendance/internal/auth"
	"attendance/internal/cloudinary"
	"attendance/internal/config"
	"attendance/internal/fingerprint"
	"attendance/internal/httpmiddleware"
	"attendance/internal/matcher"
	"attendance/internal/queue"
	"attendance/internal/registry"
	"attendance/internal/store"
)

func main() {
	cfg := config.Load()

	// Set Gin mode based on environment
	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg); err != nil {
		log.Fatalf("http server failed: %v", err)
	}
}

func runHTTP(cfg config.App) error {
	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := store.Migrate(context.Background(), db.Client); err != nil {
		return err
	}

	redisClient := store.NewRedis(cfg.RedisAddr)

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "attendance:audit")
	}

	// Cloudinary uploader (nil when not configured; enrollment works without it)
	var uploader registry.Uploader
	if cfg.CloudinaryCloudName != "" && cfg.CloudinaryAPIKey != "" && cfg.CloudinaryAPISecret != "" {
		uploader = cloudinary.New(cfg.CloudinaryCloudName, cfg.CloudinaryAPIKey, cfg.CloudinaryAPISecret, cfg.CloudinaryFolder)
		log.Println("Cloudinary configured:", cfg.CloudinaryCloudName)
	} else {
		log.Println("Cloudinary not configured, reference photos stay in Postgres only")
	}

	identityRepo := registry.NewRepository(db.Client)
	identities := registry.NewService(identityRepo, uploader)

	ledgerRepo := attendance.NewRepository(db.Client)
	policy := matcher.NewPolicy(newResolver(cfg), cfg.MatchThreshold, cfg.MatcherTimeout)
	att := attendance.NewService(identityRepo, ledgerRepo, policy, q)

	authRepo := auth.NewRepository(db.Client)

	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(corsMiddleware())
	r.Use(securityHeaders())
	r.Use(httpmiddleware.NewLimiter(cfg.RateLimitPerMin).RateLimit())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/healthz", func(c *gin.Context) {
		redisHealthy := redisClient.Healthy(c.Request.Context())
		dbHealthy := db.Client.PingContext(c.Request.Context()) == nil
		status := http.StatusOK
		if !redisHealthy || !dbHealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"status": "ok", "redis": redisHealthy, "db": dbHealthy})
	})

	r.POST("/v1/devices/register", func(c *gin.Context) {
		var req struct {
			DeviceID string `json:"device_id" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		if err := authRepo.UpsertDevice(c.Request.Context(), req.DeviceID); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		tokens, err := auth.Issue(req.DeviceID, auth.RoleKiosk, cfg.JWTIssuer, cfg.JWTSigningKey, cfg.AccessTTL, cfg.RefreshTTL)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
			return
		}

		if err := authRepo.SaveRefreshToken(c.Request.Context(), req.DeviceID, tokens.RefreshToken, tokens.RefreshExp); err != nil {
			log.Printf("refresh token save failed for %s: %v", req.DeviceID, err)
		}

		c.JSON(http.StatusCreated, gin.H{
			"access_token":  tokens.AccessToken,
			"refresh_token": tokens.RefreshToken,
			"expires_at":    tokens.AccessExp.Unix(),
		})
	})

	// Exchanges a stored refresh token for a fresh pair; the old token is
	// revoked so each refresh token is single-use.
	r.POST("/v1/token/refresh", func(c *gin.Context) {
		var req struct {
			RefreshToken string `json:"refresh_token" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		claims, err := auth.Parse(req.RefreshToken, cfg.JWTSigningKey, cfg.JWTIssuer)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid refresh token"})
			return
		}
		active, err := authRepo.IsRefreshTokenActive(c.Request.Context(), req.RefreshToken)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "token lookup failed"})
			return
		}
		if !active {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "refresh token revoked or expired"})
			return
		}

		tokens, err := auth.Issue(claims.Subject, claims.Role, cfg.JWTIssuer, cfg.JWTSigningKey, cfg.AccessTTL, cfg.RefreshTTL)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
			return
		}
		if err := authRepo.RevokeRefreshToken(c.Request.Context(), req.RefreshToken); err != nil {
			log.Printf("refresh token revoke failed for %s: %v", claims.Subject, err)
		}
		if err := authRepo.SaveRefreshToken(c.Request.Context(), claims.Subject, tokens.RefreshToken, tokens.RefreshExp); err != nil {
			log.Printf("refresh token save failed for %s: %v", claims.Subject, err)
		}

		c.JSON(http.StatusOK, gin.H{
			"access_token":  tokens.AccessToken,
			"refresh_token": tokens.RefreshToken,
			"expires_at":    tokens.AccessExp.Unix(),
		})
	})

	// Operator tokens carry the admin role and unlock enrollment and the
	// correction endpoints.
	r.POST("/v1/operators/token", func(c *gin.Context) {
		var req struct {
			OperatorID string `json:"operator_id" binding:"required"`
			APIKey     string `json:"api_key" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if req.APIKey != cfg.AdminAPIKey {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid api key"})
			return
		}

		tokens, err := auth.Issue(req.OperatorID, auth.RoleAdmin, cfg.JWTIssuer, cfg.JWTSigningKey, cfg.AccessTTL, cfg.RefreshTTL)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
			return
		}
		c.JSON(http.StatusCreated, gin.H{
			"access_token":  tokens.AccessToken,
			"refresh_token": tokens.RefreshToken,
			"expires_at":    tokens.AccessExp.Unix(),
		})
	})

	authGroup := r.Group("/v1", auth.DeviceAuth(cfg.JWTSigningKey, cfg.JWTIssuer))
	adminGroup := authGroup.Group("", auth.RequireRole(auth.RoleAdmin))

	adminGroup.POST("/identities", func(c *gin.Context) {
		id, name, image, err := readIdentityRequest(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		identity, err := identities.Enroll(c.Request.Context(), id, name, image)
		if err != nil {
			writeEnrollError(c, err)
			return
		}
		c.JSON(http.StatusCreated, identity)
	})

	adminGroup.PUT("/identities/:id/photo", func(c *gin.Context) {
		image, err := readImage(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		identity, err := identities.ReplacePhoto(c.Request.Context(), c.Param("id"), image)
		if err != nil {
			if errors.Is(err, registry.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "identity not found"})
				return
			}
			writeEnrollError(c, err)
			return
		}
		c.JSON(http.StatusOK, identity)
	})

	authGroup.GET("/identities", func(c *gin.Context) {
		list, err := identityRepo.List(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"identities": list})
	})

	// Capture stations upload one frame; the full pipeline runs server-side.
	authGroup.POST("/attendance/capture", func(c *gin.Context) {
		image, err := readImage(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		day := c.Query("day")
		if day == "" {
			day = attendance.DayOf(time.Now())
		} else if day, err = attendance.ParseDay(day); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		res := att.ResolveAndCommit(c.Request.Context(), image, day, auth.Actor(c))
		c.JSON(captureStatusCode(res.Status), res)
	})

	adminGroup.POST("/attendance/manual", func(c *gin.Context) {
		var req struct {
			IdentityID  string  `json:"identity_id" binding:"required"`
			Day         string  `json:"day" binding:"required"`
			Outcome     string  `json:"outcome" binding:"required"`
			LeaveReason *string `json:"leave_reason"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		entry, err := att.ManualCommit(c.Request.Context(), req.IdentityID, req.Day, attendance.Outcome(req.Outcome), req.LeaveReason, auth.Actor(c))
		if err != nil {
			writeCommitError(c, err)
			return
		}
		c.JSON(http.StatusCreated, entry)
	})

	adminGroup.POST("/attendance/recommit", func(c *gin.Context) {
		var req struct {
			IdentityID  string  `json:"identity_id" binding:"required"`
			Day         string  `json:"day" binding:"required"`
			Outcome     string  `json:"outcome" binding:"required"`
			LeaveReason *string `json:"leave_reason"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		entry, err := att.Recommit(c.Request.Context(), req.IdentityID, req.Day, attendance.Outcome(req.Outcome), req.LeaveReason, auth.Actor(c))
		if err != nil {
			writeCommitError(c, err)
			return
		}
		c.JSON(http.StatusOK, entry)
	})

	authGroup.GET("/attendance", func(c *gin.Context) {
		identityID := c.Query("identity_id")
		day := c.Query("day")
		if day != "" {
			var err error
			if day, err = attendance.ParseDay(day); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
		}
		limit, offset := 50, 0
		if v := c.Query("limit"); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				limit = parsed
			}
		}
		if v := c.Query("offset"); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				offset = parsed
			}
		}
		entries, err := ledgerRepo.List(c.Request.Context(), identityID, day, limit, offset)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"entries": entries})
	})

	// Graceful shutdown
	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Starting server on :%s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	// Give outstanding requests 10 seconds to complete
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced shutdown: %v", err)
	}

	log.Println("Server exited")
	return nil
}

// newResolver picks the visual matcher backend from config.
func newResolver(cfg config.App) matcher.Resolver {
	if cfg.MatcherBackend == "vision" {
		log.Println("visual matcher: openai vision")
		return matcher.NewVisionResolver(cfg.OpenAIAPIKey)
	}
	log.Printf("visual matcher: http (%s, skip=%v)", cfg.MatcherURL, cfg.MatcherSkip)
	return matcher.NewHTTPClient(cfg.MatcherURL, cfg.MatcherSkip)
}

// readIdentityRequest accepts either multipart form-data (id, name, file) or
// a JSON body with a base64 image.
func readIdentityRequest(c *gin.Context) (id string, name *string, image []byte, err error) {
	if strings.Contains(c.ContentType(), "multipart/form-data") {
		id = c.PostForm("id")
		if n := c.PostForm("name"); n != "" {
			name = &n
		}
		image, err = readFormFile(c)
		return id, name, image, err
	}

	var body struct {
		ID    string  `json:"id" binding:"required"`
		Name  *string `json:"name"`
		Image string  `json:"image" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		return "", nil, nil, err
	}
	image, err = base64.StdEncoding.DecodeString(body.Image)
	if err != nil {
		return "", nil, nil, errors.New("image must be base64 encoded")
	}
	return body.ID, body.Name, image, nil
}

// readImage accepts a multipart "file" field, a raw image body, or a JSON
// body with a base64 "image" field.
func readImage(c *gin.Context) ([]byte, error) {
	ct := c.ContentType()
	switch {
	case strings.Contains(ct, "multipart/form-data"):
		return readFormFile(c)
	case strings.Contains(ct, "application/json"):
		var body struct {
			Image string `json:"image" binding:"required"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			return nil, err
		}
		data, err := base64.StdEncoding.DecodeString(body.Image)
		if err != nil {
			return nil, errors.New("image must be base64 encoded")
		}
		return data, nil
	default:
		return io.ReadAll(io.LimitReader(c.Request.Body, 16<<20))
	}
}

func readFormFile(c *gin.Context) ([]byte, error) {
	file, _, err := c.Request.FormFile("file")
	if err != nil {
		return nil, errors.New("file field required")
	}
	defer file.Close()
	return io.ReadAll(file)
}

func writeEnrollError(c *gin.Context, err error) {
	var dup *registry.DuplicateFingerprintError
	switch {
	case errors.As(err, &dup):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "existing_id": dup.ExistingID})
	case errors.Is(err, fingerprint.ErrDecode):
		c.JSON(http.StatusBadRequest, gin.H{"error": "image could not be decoded"})
	case errors.Is(err, registry.ErrAlreadyEnrolled):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func writeCommitError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, attendance.ErrUnknownIdentity):
		c.JSON(http.StatusNotFound, gin.H{"error": "identity not enrolled"})
	case errors.Is(err, attendance.ErrAlreadyMarked):
		c.JSON(http.StatusConflict, gin.H{"error": "already marked for this day"})
	case errors.Is(err, attendance.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "storage denied the write"})
	case errors.Is(err, attendance.ErrStorage):
		c.JSON(http.StatusInternalServerError, gin.H{"error": "storage failure"})
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	}
}

func captureStatusCode(status attendance.CaptureStatus) int {
	switch status {
	case attendance.CaptureSuccess:
		return http.StatusCreated
	case attendance.CaptureAlreadyMarked:
		return http.StatusConflict
	case attendance.CaptureNoMatch:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusBadGateway
	}
}

// CORS middleware for browser requests
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}

		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// Security headers middleware
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-XSS-Protection", "1; mode=block")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")

		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Next()
	}
}
