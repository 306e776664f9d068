package auth

import (
	"errors"
	"net/http"

	"tokenkeeper/internal/domain"
	"tokenkeeper/internal/middleware"
	"tokenkeeper/internal/pkg/response"
	"tokenkeeper/internal/pkg/validator"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// Handler manages all HTTP interactions for authentication
type Handler struct {
	service *Service
	log     logrus.FieldLogger
}

func NewHandler(service *Service, log logrus.FieldLogger) *Handler {
	return &Handler{service: service, log: log}
}

func (h *Handler) RegisterPublicRoutes(v1 *gin.RouterGroup) {
	authGroup := v1.Group("/auth")
	{
		authGroup.POST("/login", h.Login)
		authGroup.POST("/refresh", h.Refresh)
		authGroup.POST("/logout", h.Logout)
	}
}

func (h *Handler) RegisterProtectedRoutes(protected *gin.RouterGroup) {
	authGroup := protected.Group("/auth")
	{
		authGroup.POST("/logout-all", h.LogoutAll)
		authGroup.GET("/stats", middleware.AdminOnly(), h.Stats)
	}
}

func (h *Handler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body")
		return
	}
	if errs := validator.Validate(req); errs != nil {
		response.ErrorWithDetails(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body", errs)
		return
	}

	tokens, err := h.service.Authenticate(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			response.Error(c, http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password")
			return
		}
		h.log.WithError(err).Error("Login failed")
		response.Error(c, http.StatusInternalServerError, "LOGIN_FAILED", "Failed to log in")
		return
	}

	response.Success(c, http.StatusOK, toTokenResponse(tokens))
}

func (h *Handler) Refresh(c *gin.Context) {
	var req RefreshRequest
	if err := c.ShouldBind(&req); err != nil || validator.Validate(req) != nil {
		response.Error(c, http.StatusUnauthorized, "REAUTHENTICATE", "Please sign in again")
		return
	}

	tokens, err := h.service.Refresh(c.Request.Context(), req.RefreshToken)
	if err != nil {
		if errors.Is(err, ErrReauthenticate) {
			response.Error(c, http.StatusUnauthorized, "REAUTHENTICATE", "Please sign in again")
			return
		}
		h.log.WithError(err).Error("Token refresh failed")
		response.Error(c, http.StatusServiceUnavailable, "REFRESH_FAILED", "Token refresh is temporarily unavailable")
		return
	}

	response.Success(c, http.StatusOK, toTokenResponse(tokens))
}

func (h *Handler) Logout(c *gin.Context) {
	var req RefreshRequest
	if err := c.ShouldBind(&req); err != nil || validator.Validate(req) != nil {
		response.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", "refresh_token is required")
		return
	}

	if err := h.service.Logout(c.Request.Context(), req.RefreshToken); err != nil {
		h.log.WithError(err).Error("Logout failed")
		response.Error(c, http.StatusInternalServerError, "LOGOUT_FAILED", "Failed to log out")
		return
	}

	response.Success(c, http.StatusOK, gin.H{"logged_out": true})
}

func (h *Handler) LogoutAll(c *gin.Context) {
	userID := c.GetInt64("user_id")
	role := domain.Role(c.GetString("role"))
	if userID == 0 || !role.Valid() {
		response.Error(c, http.StatusUnauthorized, "UNAUTHORIZED", "Authentication required")
		return
	}

	n, err := h.service.LogoutAll(c.Request.Context(), userID, role)
	if err != nil {
		h.log.WithError(err).WithField("user_id", userID).Error("Logout from all sessions failed")
		response.Error(c, http.StatusInternalServerError, "LOGOUT_FAILED", "Failed to log out")
		return
	}

	response.Success(c, http.StatusOK, LogoutAllResponse{Revoked: n})
}

func (h *Handler) Stats(c *gin.Context) {
	stats, err := h.service.Stats(c.Request.Context())
	if err != nil {
		h.log.WithError(err).Error("Token stats query failed")
		response.Error(c, http.StatusInternalServerError, "STATS_FAILED", "Failed to load token stats")
		return
	}
	response.Success(c, http.StatusOK, stats)
}

func toTokenResponse(t *Tokens) TokenResponse {
	return TokenResponse{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		TokenType:    t.TokenType,
		ExpiresIn:    t.ExpiresIn,
	}
}
