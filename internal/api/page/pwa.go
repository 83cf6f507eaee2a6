package page

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// Manifest is the web app manifest served to installing browsers.
type Manifest struct {
	Name            string         `json:"name"`
	ShortName       string         `json:"short_name"`
	StartURL        string         `json:"start_url"`
	Scope           string         `json:"scope"`
	Display         string         `json:"display"`
	ThemeColor      string         `json:"theme_color,omitempty"`
	BackgroundColor string         `json:"background_color,omitempty"`
	Icons           []ManifestIcon `json:"icons,omitempty"`
}

// ManifestIcon is one entry of Manifest.Icons.
type ManifestIcon struct {
	Src   string `json:"src"`
	Sizes string `json:"sizes,omitempty"`
	Type  string `json:"type,omitempty"`
}

type registration struct {
	ScriptURL string `json:"scriptURL"`
	Scope     string `json:"scope"`
}

func (m Manifest) withDefaults() Manifest {
	if m.Name == "" {
		m.Name = "Story App"
	}
	if m.ShortName == "" {
		m.ShortName = m.Name
	}
	if m.StartURL == "" {
		m.StartURL = "/"
	}
	if m.Scope == "" {
		m.Scope = "/"
	}
	if m.Display == "" {
		m.Display = "standalone"
	}
	return m
}

// registerPWARoutes serves the manifest and the worker registration from
// root paths so the registration scope covers the whole app.
func (s *Server) registerPWARoutes() {
	s.echo.GET("/manifest.webmanifest", func(c echo.Context) error {
		c.Response().Header().Set(echo.HeaderCacheControl, "no-cache")
		c.Response().Header().Set(echo.HeaderContentType, "application/manifest+json")
		return c.JSON(http.StatusOK, s.manifest)
	})

	s.echo.GET("/sw/registration", func(c echo.Context) error {
		if s.workerURL == "" {
			return jsonError(c, http.StatusNotImplemented, "Service worker is not configured")
		}
		c.Response().Header().Set("Service-Worker-Allowed", s.manifest.Scope)
		c.Response().Header().Set(echo.HeaderCacheControl, "no-cache")
		return c.JSON(http.StatusOK, registration{ScriptURL: s.workerURL, Scope: s.manifest.Scope})
	})
}
