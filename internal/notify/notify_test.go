package notify

import (
	"context"
	"testing"
	"time"

	"github.com/nicholas-fedor/shoutrrr/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storyapp/storyapp/internal/errors"
	"github.com/storyapp/storyapp/internal/logger"
)

func TestNotification_TargetURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		n    *Notification
		want string
	}{
		{"nil notification", nil, "/"},
		{"no data", &Notification{}, "/"},
		{"url set", &Notification{Data: map[string]any{"url": "/#/stories/1"}}, "/#/stories/1"},
		{"empty url", &Notification{Data: map[string]any{"url": ""}}, "/"},
		{"non string url", &Notification{Data: map[string]any{"url": 42}}, "/"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.n.TargetURL())
		})
	}
}

func TestRegistry_ShowGetClose(t *testing.T) {
	t.Parallel()

	r := NewRegistry(time.Hour)
	n := &Notification{Title: "T"}
	require.NoError(t, r.Show(t.Context(), n))
	require.NotEmpty(t, n.ID)
	assert.NotNil(t, n.Data)

	got, err := r.Get(n.ID)
	require.NoError(t, err)
	assert.Same(t, n, got)
	assert.Len(t, r.List(), 1)

	r.Close(n.ID)
	r.Close(n.ID)
	r.Close("unknown")

	_, err = r.Get(n.ID)
	require.ErrorIs(t, err, ErrNotificationNotFound)
}

func TestRegistry_Expiry(t *testing.T) {
	t.Parallel()

	r := NewRegistry(20 * time.Millisecond)
	n := &Notification{ID: "n1"}
	require.NoError(t, r.Show(t.Context(), n))

	assert.Eventually(t, func() bool {
		_, err := r.Get("n1")
		return err != nil
	}, time.Second, 10*time.Millisecond)
}

func TestMulti_JoinsErrors(t *testing.T) {
	t.Parallel()

	var shown int
	ok := DisplayerFunc(func(context.Context, *Notification) error { shown++; return nil })
	bad := DisplayerFunc(func(context.Context, *Notification) error { return errors.NewStd("offline") })

	err := Multi{ok, bad, ok}.Show(t.Context(), &Notification{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "offline")
	assert.Equal(t, 2, shown)

	require.NoError(t, Multi{ok}.Show(t.Context(), &Notification{}))
}

type fakeBroadcaster struct{ got []*Notification }

func (f *fakeBroadcaster) BroadcastNotification(_ context.Context, n *Notification) int {
	f.got = append(f.got, n)
	return 2
}

func TestClientDisplayer(t *testing.T) {
	t.Parallel()

	b := &fakeBroadcaster{}
	d := NewClientDisplayer(b, logger.NewNop())
	n := &Notification{ID: "x", Title: "T"}
	require.NoError(t, d.Show(t.Context(), n))
	require.Len(t, b.got, 1)
	assert.Same(t, n, b.got[0])
}

type fakeSender struct {
	message string
	params  types.Params
	errs    []error
}

func (f *fakeSender) Send(message string, params *types.Params) []error {
	f.message = message
	f.params = *params
	return f.errs
}

func TestShoutrrrDisplayer(t *testing.T) {
	t.Parallel()

	s := &fakeSender{errs: []error{nil}}
	d := NewShoutrrrDisplayerWithSender(s, nil)
	n := &Notification{
		ID:    "n",
		Title: "Story App",
		Body:  "New story",
		Icon:  "/icons/icon-192x192.png",
		Data:  map[string]any{"url": "https://storyapp.example/#/stories/1"},
	}
	require.NoError(t, d.Show(t.Context(), n))

	assert.Equal(t, "New story", s.message)
	assert.Equal(t, "Story App", s.params["title"])
	assert.Equal(t, "https://storyapp.example/#/stories/1", s.params["click"])
	assert.NotContains(t, s.params, "icon", "relative icons are not forwarded")
}

func TestShoutrrrDisplayer_SendError(t *testing.T) {
	t.Parallel()

	d := NewShoutrrrDisplayerWithSender(&fakeSender{errs: []error{errors.NewStd("refused")}}, nil)
	err := d.Show(t.Context(), &Notification{ID: "n"})
	require.Error(t, err)
	assert.True(t, errors.HasCategory(err, errors.CategoryNetwork))
}

func TestNewShoutrrrDisplayer_Validation(t *testing.T) {
	t.Parallel()

	_, err := NewShoutrrrDisplayer(nil, nil)
	require.Error(t, err)
	assert.True(t, errors.HasCategory(err, errors.CategoryConfiguration))

	_, err = NewShoutrrrDisplayer([]string{"notaservice://x"}, nil)
	require.Error(t, err)
}
