package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/parking-reservation/internal/config"
	apperrors "github.com/iliyamo/parking-reservation/internal/errors"
	"github.com/iliyamo/parking-reservation/internal/model"
	"github.com/iliyamo/parking-reservation/internal/repository"
	"github.com/iliyamo/parking-reservation/internal/utils"
)

// AuthHandler registers users and issues access tokens.
type AuthHandler struct {
	Users *repository.UserRepo
	JWT   config.JWTConfig
}

func NewAuthHandler(users *repository.UserRepo, cfg config.JWTConfig) *AuthHandler {
	return &AuthHandler{Users: users, JWT: cfg}
}

type registerReq struct {
	Email    string `json:"email" validate:"required,email,max=255"`
	Name     string `json:"name" validate:"required,max=255"`
	Password string `json:"password" validate:"required,min=8,max=72"`
}

type loginReq struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type tokenPart struct {
	Token   string    `json:"token"`
	Expires time.Time `json:"expires"`
}

type authResp struct {
	User   model.User `json:"user"`
	Access tokenPart  `json:"access"`
}

// Register creates a USER account and returns a token for it.  Admin
// accounts are only created by seeding.
func (h *AuthHandler) Register(c echo.Context) error {
	var req registerReq
	if err := bind(c, &req); err != nil {
		return err
	}
	ctx := c.Request().Context()
	uid, err := h.Users.Create(ctx, repository.NewUser{
		Email:    req.Email,
		Name:     req.Name,
		Password: req.Password,
		Role:     model.RoleUser,
	}, h.JWT.BcryptCost)
	if errors.Is(err, repository.ErrEmailExists) {
		return apperrors.New(apperrors.CodeConflict, "email already registered")
	}
	if err != nil {
		return apperrors.Wrap(apperrors.CodeInternal, err, "create user failed")
	}
	u, err := h.Users.GetByID(ctx, uid)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeInternal, err, "load user failed")
	}
	return h.issue(c, http.StatusCreated, u)
}

// Login verifies the password and returns a fresh access token.
func (h *AuthHandler) Login(c echo.Context) error {
	var req loginReq
	if err := bind(c, &req); err != nil {
		return err
	}
	u, err := h.Users.GetByEmail(c.Request().Context(), req.Email)
	if errors.Is(err, repository.ErrNotFound) {
		return apperrors.New(apperrors.CodeUnauthorized, "invalid credentials")
	}
	if err != nil {
		return apperrors.Wrap(apperrors.CodeInternal, err, "query failed")
	}
	if !utils.VerifyPassword(u.PasswordHash, req.Password) {
		return apperrors.New(apperrors.CodeUnauthorized, "invalid credentials")
	}
	return h.issue(c, http.StatusOK, u)
}

// Me returns the authenticated account.
func (h *AuthHandler) Me(c echo.Context) error {
	uid, err := currentUser(c)
	if err != nil {
		return err
	}
	u, err := h.Users.GetByID(c.Request().Context(), uid)
	if errors.Is(err, repository.ErrNotFound) {
		return apperrors.New(apperrors.CodeUnauthorized, "account no longer exists")
	}
	if err != nil {
		return apperrors.Wrap(apperrors.CodeInternal, err, "load user failed")
	}
	return c.JSON(http.StatusOK, u)
}

func (h *AuthHandler) issue(c echo.Context, status int, u *model.User) error {
	access, err := utils.NewAccessToken(h.JWT.Secret, u.ID, u.Role, h.JWT.AccessTTLMin)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeInternal, err, "issue access token failed")
	}
	return c.JSON(status, authResp{
		User:   *u,
		Access: tokenPart{Token: access.Token, Expires: access.Exp},
	})
}
