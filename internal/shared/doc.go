// Package shared holds helpers used by more than one package.
//
// testutil provides captured slog output, file-tree fixtures and request
// builders for tests.
package shared
