package storyapi

import (
	"bytes"
	"context"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"

	units "github.com/labstack/gommon/bytes"

	"github.com/storyapp/storyapp/internal/errors"
)

// MaxPhotoSize is the largest photo the backend accepts.
const MaxPhotoSize = 1 << 20

// NewStory is the content of a story to publish.
type NewStory struct {
	Description string
	Photo       []byte
	PhotoName   string
	Lat         *float64
	Lon         *float64
}

// ValidatePhoto rejects photos that are empty, too large or not images.
func ValidatePhoto(photo []byte) (string, error) {
	if len(photo) == 0 {
		return "", errors.Newf("photo is empty").
			Component(component).
			Category(errors.CategoryValidation).
			Build()
	}
	if len(photo) > MaxPhotoSize {
		return "", errors.Newf("photo is %s, the limit is %s",
			units.Format(int64(len(photo))), units.Format(MaxPhotoSize)).
			Component(component).
			Category(errors.CategoryValidation).
			Context("size", len(photo)).
			Build()
	}
	contentType := http.DetectContentType(photo)
	if !strings.HasPrefix(contentType, "image/") {
		return "", errors.Newf("photo is not an image").
			Component(component).
			Category(errors.CategoryValidation).
			Context("content_type", contentType).
			Build()
	}
	return contentType, nil
}

// AddStory publishes a story as multipart form data.
func (c *Client) AddStory(ctx context.Context, token string, s NewStory) error {
	if strings.TrimSpace(s.Description) == "" {
		return errors.Newf("description is required").
			Component(component).
			Category(errors.CategoryValidation).
			Build()
	}
	contentType, err := ValidatePhoto(s.Photo)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.WriteField("description", s.Description); err != nil {
		return multipartError(err)
	}

	name := s.PhotoName
	if name == "" {
		name = "photo.jpg"
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="photo"; filename="`+escapeQuotes(name)+`"`)
	h.Set("Content-Type", contentType)
	part, err := w.CreatePart(h)
	if err != nil {
		return multipartError(err)
	}
	if _, err := part.Write(s.Photo); err != nil {
		return multipartError(err)
	}

	if s.Lat != nil && s.Lon != nil {
		if err := w.WriteField("lat", strconv.FormatFloat(*s.Lat, 'f', -1, 64)); err != nil {
			return multipartError(err)
		}
		if err := w.WriteField("lon", strconv.FormatFloat(*s.Lon, 'f', -1, 64)); err != nil {
			return multipartError(err)
		}
	}
	if err := w.Close(); err != nil {
		return multipartError(err)
	}

	req, err := c.newJSONRequest(ctx, http.MethodPost, "/stories", token, nil)
	if err != nil {
		return err
	}
	body := buf.Bytes()
	req.Body = io.NopCloser(bytes.NewReader(body))
	req.GetBody = func() (io.ReadCloser, error) { return io.NopCloser(bytes.NewReader(body)), nil }
	req.ContentLength = int64(len(body))
	req.Header.Set("Content-Type", w.FormDataContentType())
	return c.do(req, "add_story", nil)
}

func multipartError(err error) error {
	return errors.New(err).
		Component(component).
		Category(errors.CategoryValidation).
		Build()
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string { return quoteEscaper.Replace(s) }
