package page

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/storyapp/storyapp/internal/logger"
)

type loginRequest struct {
	Email    string `json:"email" form:"email"`
	Password string `json:"password" form:"password"`
}

type registerRequest struct {
	Name     string `json:"name" form:"name"`
	Email    string `json:"email" form:"email"`
	Password string `json:"password" form:"password"`
}

// minPasswordLength is the backend's password rule.
const minPasswordLength = 8

func (s *Server) registerAccountRoutes() {
	s.echo.POST("/login", s.Login)
	s.echo.POST("/register", s.Register)
	s.echo.POST("/logout", s.Logout)
	s.echo.GET("/me", s.Me)
}

// Login signs in against the Story API and keeps the token in the session.
func (s *Server) Login(c echo.Context) error {
	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return jsonError(c, http.StatusBadRequest, "invalid login request")
	}
	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" || req.Password == "" {
		return jsonError(c, http.StatusBadRequest, "email and password are required")
	}

	ctx := c.Request().Context()
	res, err := s.stories.Login(ctx, req.Email, req.Password)
	if err != nil {
		return s.backendStatus(c, err)
	}
	if err := s.tokens.SetToken(ctx, res.Token, res.Name); err != nil {
		s.log.Error("storing session token failed", logger.Error(err))
		return jsonError(c, http.StatusInternalServerError, "could not start session")
	}
	return c.JSON(http.StatusOK, map[string]any{
		"error":   false,
		"message": "success",
		"loginResult": map[string]string{
			"userId": res.UserID,
			"name":   res.Name,
		},
	})
}

// Register creates an account.
func (s *Server) Register(c echo.Context) error {
	var req registerRequest
	if err := c.Bind(&req); err != nil {
		return jsonError(c, http.StatusBadRequest, "invalid register request")
	}
	req.Name = strings.TrimSpace(req.Name)
	req.Email = strings.TrimSpace(req.Email)
	switch {
	case req.Name == "" || req.Email == "":
		return jsonError(c, http.StatusBadRequest, "name and email are required")
	case len(req.Password) < minPasswordLength:
		return jsonError(c, http.StatusBadRequest, "password must be at least 8 characters")
	}

	if err := s.stories.Register(c.Request().Context(), req.Name, req.Email, req.Password); err != nil {
		return s.backendStatus(c, err)
	}
	return jsonMessage(c, http.StatusCreated, "User created")
}

// Logout forgets the session token.
func (s *Server) Logout(c echo.Context) error {
	if err := s.tokens.Clear(c.Request().Context()); err != nil {
		s.log.Warn("clearing session failed", logger.Error(err))
		return jsonError(c, http.StatusInternalServerError, "could not end session")
	}
	return jsonMessage(c, http.StatusOK, "Logged out")
}

// Me reports whether the session is signed in.
func (s *Server) Me(c echo.Context) error {
	_, ok := s.token(c)
	return c.JSON(http.StatusOK, map[string]bool{"authenticated": ok})
}
