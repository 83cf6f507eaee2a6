//go:build ruleguard

// Package gorules holds project lint rules run by gocritic's ruleguard
// checker.
package gorules

import "github.com/quasilyte/go-ruleguard/dsl"

// testContext flags background contexts in tests, which outlive the test
// and hide leaks from goleak.
func testContext(m dsl.Matcher) {
	m.Match(`context.Background()`, `context.TODO()`).
		Where(m.File().Name.Matches(`_test\.go$`)).
		Report(`use t.Context() in tests`)
}

// requestWithoutContext flags outbound requests that cannot be cancelled.
func requestWithoutContext(m dsl.Matcher) {
	m.Match(`http.NewRequest($*_)`).
		Where(!m.File().Name.Matches(`_test\.go$`)).
		Suggest(`http.NewRequestWithContext(ctx, $*_)`).
		Report(`use http.NewRequestWithContext`)

	m.Match(`http.Get($_)`, `http.Post($*_)`, `http.Head($_)`).
		Where(!m.File().Name.Matches(`_test\.go$`)).
		Report(`use a client request bound to a context`)
}

// bareBuild flags enhanced errors built without a component, which the
// telemetry reporter cannot attribute.
func bareBuild(m dsl.Matcher) {
	m.Import("github.com/storyapp/storyapp/internal/errors")
	m.Match(`errors.New($_).Build()`, `errors.Newf($*_).Build()`, `errors.New($_).Category($_).Build()`).
		Report(`set Component before Build`)
}

// stdLogger flags the standard logger outside main.
func stdLogger(m dsl.Matcher) {
	m.Match(`log.Printf($*_)`, `log.Println($*_)`, `log.Print($*_)`, `fmt.Println($*_)`).
		Where(!m.File().PkgPath.Matches(`/cmd$`) && !m.File().Name.Matches(`_test\.go$`)).
		Report(`use internal/logger`)
}
