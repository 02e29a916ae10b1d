package handler

import (
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/labstack/echo/v4"

	"pasarbekas/internal/infrastructure/firebase"
	"pasarbekas/pkg/config"
	"pasarbekas/pkg/errors"
	"pasarbekas/pkg/response"
)

type DevTokenHandler struct {
	firebaseAuth *firebase.FirebaseAuthClient
	cfg          *config.Config
}

func NewDevTokenHandler(firebaseAuth *firebase.FirebaseAuthClient, cfg *config.Config) *DevTokenHandler {
	return &DevTokenHandler{
		firebaseAuth: firebaseAuth,
		cfg:          cfg,
	}
}

type devTokenRequest struct {
	UID string `json:"uid" validate:"required"`
}

// GenerateToken mints an HS256 token for an arbitrary user ID. Only mounted
// outside production; the auth middleware accepts these as a fallback.
func (h *DevTokenHandler) GenerateToken(c echo.Context) error {
	var req devTokenRequest
	if err := c.Bind(&req); err != nil {
		return response.Error(c, err)
	}

	if err := c.Validate(&req); err != nil {
		return response.Error(c, err)
	}

	now := time.Now()
	claims := jwt.MapClaims{
		"uid": req.UID,
		"iat": now.Unix(),
		"exp": now.Add(time.Duration(h.cfg.JWTExpiry) * time.Second).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	signed, err := token.SignedString([]byte(h.cfg.JWTSecret))
	if err != nil {
		return response.Error(c, errors.Internal("Failed to sign token", err))
	}

	return response.Success(c, map[string]interface{}{
		"token": signed,
		"uid":   req.UID,
	})
}

// GenerateFirebaseToken mints a real Firebase ID token for a user ID, for
// exercising the production verification path locally.
func (h *DevTokenHandler) GenerateFirebaseToken(c echo.Context) error {
	var req devTokenRequest
	if err := c.Bind(&req); err != nil {
		return response.Error(c, err)
	}

	if err := c.Validate(&req); err != nil {
		return response.Error(c, err)
	}

	token, err := h.firebaseAuth.GenerateLongLivedToken(c.Request().Context(), req.UID)
	if err != nil {
		return response.Error(c, errors.Internal("Failed to generate token", err))
	}

	return response.Success(c, map[string]interface{}{
		"token": token,
		"uid":   req.UID,
	})
}
