//go:build integration

package notify_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storyapp/storyapp/internal/logger"
	"github.com/storyapp/storyapp/internal/notify"
	"github.com/storyapp/storyapp/internal/testutil/containers"
)

func setupNtfyContainer(t *testing.T) *containers.NtfyContainer {
	t.Helper()
	c, err := containers.NewNtfyContainer(context.Background(), nil) //nolint:gocritic // container outlives the test context
	require.NoError(t, err, "failed to start ntfy container")
	t.Cleanup(func() { _ = c.Terminate(context.Background()) }) //nolint:gocritic // cleanup runs after t.Context is cancelled
	return c
}

func TestShoutrrrDisplayer_NtfyDelivery(t *testing.T) {
	container := setupNtfyContainer(t)
	ctx := t.Context()

	topic := "storyapp-" + uuid.NewString()[:8]
	url := fmt.Sprintf("ntfy://%s/%s?scheme=http", container.GetHost(ctx), topic)

	d, err := notify.NewShoutrrrDisplayer([]string{url}, logger.NewNop())
	require.NoError(t, err)

	require.NoError(t, d.Show(ctx, &notify.Notification{
		ID:    "n1",
		Title: "Story App",
		Body:  "You have a new notification",
	}))

	messages, err := container.PollMessages(ctx, topic)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, "You have a new notification", messages[0].Message)
	assert.Equal(t, "Story App", messages[0].Title)
}
