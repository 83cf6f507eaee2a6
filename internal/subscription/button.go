package subscription

import (
	"context"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"

	"github.com/storyapp/storyapp/internal/logger"
)

// Button is the navbar subscription toggle.
type Button struct {
	Label    string `json:"label"`
	Title    string `json:"title"`
	Icon     string `json:"icon"`
	Disabled bool   `json:"disabled"`
}

const (
	iconSubscribed   = "fa-bell-slash"
	iconUnsubscribed = "fa-bell"
)

// Message keys of the subscription UI.
const (
	msgLabelSubscribed   = "button.subscribed.label"
	msgTitleSubscribed   = "button.subscribed.title"
	msgLabelUnsubscribed = "button.unsubscribed.label"
	msgTitleUnsubscribed = "button.unsubscribed.title"
	msgToastEnabled      = "toast.enabled"
	msgToastDisabled     = "toast.disabled"
)

var uiCatalog = func() catalog.Catalog {
	b := catalog.NewBuilder(catalog.Fallback(language.Indonesian))
	for _, m := range []struct {
		tag    language.Tag
		key    string
		format string
	}{
		{language.Indonesian, msgLabelSubscribed, "Berhenti Notifikasi"},
		{language.Indonesian, msgTitleSubscribed, "Berhenti berlangganan notifikasi"},
		{language.Indonesian, msgLabelUnsubscribed, "Notifikasi"},
		{language.Indonesian, msgTitleUnsubscribed, "Berlangganan notifikasi"},
		{language.Indonesian, msgToastEnabled, "Notifikasi telah diaktifkan"},
		{language.Indonesian, msgToastDisabled, "Notifikasi telah dinonaktifkan"},

		{language.English, msgLabelSubscribed, "Stop Notifications"},
		{language.English, msgTitleSubscribed, "Unsubscribe from notifications"},
		{language.English, msgLabelUnsubscribed, "Notifications"},
		{language.English, msgTitleUnsubscribed, "Subscribe to notifications"},
		{language.English, msgToastEnabled, "Notifications enabled"},
		{language.English, msgToastDisabled, "Notifications disabled"},
	} {
		if err := b.SetString(m.tag, m.key, m.format); err != nil {
			panic(err)
		}
	}
	return b
}()

var uiMatcher = language.NewMatcher([]language.Tag{language.Indonesian, language.English})

type labels struct {
	p *message.Printer
}

// newLabels picks the closest supported language; Indonesian is the default.
func newLabels(lang string) *labels {
	tag := language.Indonesian
	if lang != "" {
		if parsed, err := language.Parse(lang); err == nil {
			_, idx, conf := uiMatcher.Match(parsed)
			if conf != language.No && idx == 1 {
				tag = language.English
			}
		}
	}
	return &labels{p: message.NewPrinter(tag, message.Catalog(uiCatalog))}
}

func (l *labels) toastEnabled() string  { return l.p.Sprintf(msgToastEnabled) }
func (l *labels) toastDisabled() string { return l.p.Sprintf(msgToastDisabled) }

func (l *labels) button(subscribed bool) Button {
	if subscribed {
		return Button{
			Label: l.p.Sprintf(msgLabelSubscribed),
			Title: l.p.Sprintf(msgTitleSubscribed),
			Icon:  iconSubscribed,
		}
	}
	return Button{
		Label: l.p.Sprintf(msgLabelUnsubscribed),
		Title: l.p.Sprintf(msgTitleUnsubscribed),
		Icon:  iconUnsubscribed,
	}
}

// UpdateButtonState sets b from the current subscription status. When the
// status cannot be read, b keeps the unsubscribed label and is disabled.
func (m *Manager) UpdateButtonState(ctx context.Context, b *Button) {
	if b == nil {
		return
	}
	subscribed, err := m.IsSubscribed(ctx)
	if err != nil {
		m.log.Error("error updating subscription button", logger.Error(err))
		def := m.labels.button(false)
		b.Label = def.Label
		b.Icon = def.Icon
		b.Disabled = true
		return
	}
	*b = m.labels.button(subscribed)
	b.Disabled = false
}
