//go:build integration

// Package containers starts the external services the integration tests
// talk to: an MQTT broker for the broadcast channel, MySQL for the gorm
// cache and push stores, and ntfy as a shoutrrr delivery target.
//
// Every constructor blocks until the service answers, so tests can use the
// returned address immediately:
//
//	broker, err := containers.NewMosquittoContainer(ctx, nil)
//	if err != nil {
//		t.Fatal(err)
//	}
//	defer broker.Terminate(context.Background())
//
// Run with:
//
//	go test -tags=integration ./...
package containers
