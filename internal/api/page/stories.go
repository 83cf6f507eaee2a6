package page

import (
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/storyapp/storyapp/internal/errors"
	"github.com/storyapp/storyapp/internal/storyapi"
)

// StoriesPage is one page of the feed.
type StoriesPage struct {
	Stories     []storyapi.Story `json:"stories"`
	CurrentPage int              `json:"currentPage"`
	HasMore     bool             `json:"hasMore"`
}

func (s *Server) registerStoryRoutes() {
	g := s.echo.Group("/stories")
	g.GET("", s.ListStories)
	g.GET("/:id", s.GetStory)
	g.POST("", s.AddStory, middleware.BodyLimit(maxUploadBody))
}

// ListStories returns a page of the feed. ?page= starts at 1; a full page
// means there may be more.
func (s *Server) ListStories(c echo.Context) error {
	token, ok := s.token(c)
	if !ok {
		return jsonError(c, http.StatusUnauthorized, "login required")
	}

	page := 1
	if raw := c.QueryParam("page"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return jsonError(c, http.StatusBadRequest, "page must be a positive number")
		}
		page = n
	}
	size := defaultPageSize
	if raw := c.QueryParam("size"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return jsonError(c, http.StatusBadRequest, "size must be a positive number")
		}
		size = n
	}
	withLocation := c.QueryParam("location") == "1"

	stories, err := s.stories.Stories(c.Request().Context(), token, storyapi.Query{
		Page:     page,
		Size:     size,
		Location: withLocation,
	})
	if err != nil {
		return s.backendStatus(c, err)
	}
	if stories == nil {
		stories = []storyapi.Story{}
	}
	return c.JSON(http.StatusOK, StoriesPage{
		Stories:     stories,
		CurrentPage: page,
		HasMore:     len(stories) == size,
	})
}

// GetStory returns one story.
func (s *Server) GetStory(c echo.Context) error {
	token, ok := s.token(c)
	if !ok {
		return jsonError(c, http.StatusUnauthorized, "login required")
	}
	story, err := s.stories.Story(c.Request().Context(), token, c.Param("id"))
	if err != nil {
		return s.backendStatus(c, err)
	}
	return c.JSON(http.StatusOK, story)
}

// AddStory publishes a story from a multipart form with description,
// photo and optional lat/lon.
func (s *Server) AddStory(c echo.Context) error {
	token, ok := s.token(c)
	if !ok {
		return jsonError(c, http.StatusUnauthorized, "login required")
	}

	description := strings.TrimSpace(c.FormValue("description"))
	if description == "" {
		return jsonError(c, http.StatusBadRequest, "description is required")
	}

	fh, err := c.FormFile("photo")
	if err != nil {
		return jsonError(c, http.StatusBadRequest, "photo is required")
	}
	f, err := fh.Open()
	if err != nil {
		return jsonError(c, http.StatusBadRequest, "photo is unreadable")
	}
	defer f.Close()
	// one byte over the limit is enough to reject it
	photo, err := io.ReadAll(io.LimitReader(f, storyapi.MaxPhotoSize+1))
	if err != nil {
		return jsonError(c, http.StatusBadRequest, "photo is unreadable")
	}
	if _, err := storyapi.ValidatePhoto(photo); err != nil {
		return jsonError(c, http.StatusBadRequest, userMessage(err))
	}

	story := storyapi.NewStory{
		Description: description,
		Photo:       photo,
		PhotoName:   fh.Filename,
	}
	lat, lon, err := parseLocation(c.FormValue("lat"), c.FormValue("lon"))
	if err != nil {
		return jsonError(c, http.StatusBadRequest, err.Error())
	}
	story.Lat, story.Lon = lat, lon

	if err := s.stories.AddStory(c.Request().Context(), token, story); err != nil {
		return s.backendStatus(c, err)
	}
	return jsonMessage(c, http.StatusCreated, "Story created successfully")
}

var (
	errLocationPair = errors.NewStd("lat and lon must be given together")
	errLatRange     = errors.NewStd("lat must be between -90 and 90")
	errLonRange     = errors.NewStd("lon must be between -180 and 180")
)

// parseLocation accepts both coordinates or neither.
func parseLocation(rawLat, rawLon string) (*float64, *float64, error) {
	if rawLat == "" && rawLon == "" {
		return nil, nil, nil
	}
	if rawLat == "" || rawLon == "" {
		return nil, nil, errLocationPair
	}
	lat, err := strconv.ParseFloat(rawLat, 64)
	if err != nil || lat < -90 || lat > 90 {
		return nil, nil, errLatRange
	}
	lon, err := strconv.ParseFloat(rawLon, 64)
	if err != nil || lon < -180 || lon > 180 {
		return nil, nil, errLonRange
	}
	return &lat, &lon, nil
}
