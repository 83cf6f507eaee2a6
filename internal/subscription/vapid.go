package subscription

import (
	"encoding/base64"
	"strings"

	"github.com/storyapp/storyapp/internal/errors"
)

// DecodeApplicationServerKey converts a VAPID public key from URL-safe
// base64 to raw bytes. Padding and the standard alphabet are tolerated.
func DecodeApplicationServerKey(key string) ([]byte, error) {
	s := strings.TrimSpace(key)
	s = strings.NewReplacer("+", "-", "/", "_").Replace(s)
	s = strings.TrimRight(s, "=")
	if s == "" {
		return nil, errors.Newf("application server key is empty").
			Component(component).
			Category(errors.CategoryConfiguration).
			Build()
	}
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, errors.New(err).
			Component(component).
			Category(errors.CategoryConfiguration).
			Context("key_length", len(key)).
			Build()
	}
	return raw, nil
}
