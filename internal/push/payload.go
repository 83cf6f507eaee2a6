// Package push turns raw push deliveries into displayed notifications.
// Payloads come from the network and are decoded defensively: anything that
// cannot be understood degrades to the default notification.
package push

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/antonholmquist/jason"
	"github.com/k3a/html2text"

	"github.com/storyapp/storyapp/internal/notify"
)

// Format describes how a payload was decoded.
type Format string

const (
	FormatJSON    Format = "json"
	FormatText    Format = "text"
	FormatEmpty   Format = "empty"
	FormatDefault Format = "default" // undecodable
)

// Defaults fill fields a payload leaves out.
type Defaults struct {
	Title string
	Body  string
	Icon  string
	Badge string
}

// DefaultDefaults are the built-in notification defaults.
func DefaultDefaults() Defaults {
	return Defaults{
		Title: "Story App",
		Body:  "You have a new notification",
		Icon:  "/icons/icon-192x192.png",
		Badge: "/icons/badge-72x72.png",
	}
}

func (d Defaults) notification() *notify.Notification {
	return &notify.Notification{
		Title: d.Title,
		Body:  d.Body,
		Icon:  d.Icon,
		Badge: d.Badge,
		Data:  map[string]any{},
	}
}

// Parse decodes raw into a notification. It never fails and never panics.
func (d Defaults) Parse(raw []byte) (n *notify.Notification, format Format) {
	defer func() {
		if r := recover(); r != nil {
			n, format = d.notification(), FormatDefault
		}
	}()

	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return d.notification(), FormatEmpty
	}

	if json.Valid(trimmed) {
		if trimmed[0] == '{' {
			obj, err := jason.NewObjectFromBytes(trimmed)
			if err == nil {
				return d.fromObject(obj), FormatJSON
			}
		} else if !bytes.Equal(trimmed, []byte("null")) {
			// valid JSON without a title or options object
			return d.notification(), FormatJSON
		}
	}

	if !utf8.Valid(raw) {
		return d.notification(), FormatDefault
	}
	n = d.notification()
	n.Body = textBody(string(raw))
	return n, FormatText
}

// textBody flattens HTML bodies to plain text.
func textBody(s string) string {
	if strings.Contains(s, "<") && strings.Contains(s, ">") {
		if flat := strings.TrimSpace(html2text.HTML2Text(s)); flat != "" {
			return flat
		}
	}
	return s
}

// fromObject merges title and options over the defaults. Keys present in
// options replace the default even when empty.
func (d Defaults) fromObject(obj *jason.Object) *notify.Notification {
	n := d.notification()
	if title, err := obj.GetString("title"); err == nil && title != "" {
		n.Title = title
	}

	if options, err := obj.GetObject("options"); err == nil {
		for key, v := range options.Map() {
			switch key {
			case "body":
				n.Body = stringOf(v)
			case "icon":
				n.Icon = stringOf(v)
			case "badge":
				n.Badge = stringOf(v)
			case "image":
				n.Image = stringOf(v)
			case "tag":
				n.Tag = stringOf(v)
			case "data":
				if m, ok := plain(v).(map[string]any); ok {
					n.Data = m
				}
			default:
				if n.Extra == nil {
					n.Extra = map[string]any{}
				}
				n.Extra[key] = plain(v)
			}
		}
	}

	if data, err := obj.GetObject("data"); err == nil {
		if m, ok := plain(data).(map[string]any); ok {
			n.Data = m
		}
	}
	return n
}

func stringOf(v *jason.Value) string {
	if s, err := v.String(); err == nil {
		return s
	}
	if err := v.Null(); err == nil {
		return ""
	}
	return fmt.Sprint(plain(v))
}

// plain converts a jason value back into the generic encoding/json shape.
func plain(v interface{ Marshal() ([]byte, error) }) any {
	raw, err := v.Marshal()
	if err != nil {
		return nil
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}
