package elmax

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

// unmarshalResponse unmarshals JSON data with consistent error formatting.
func unmarshalResponse[T any](data []byte, resourceName string) (*T, error) {
	var resp T
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("%w: failed to parse %s: %w (body: %s)", ErrMalformedResponse, resourceName, err, truncatePreview(data))
	}
	return &resp, nil
}

// truncatePreview returns a truncated string for error messages.
func truncatePreview(data []byte) string {
	s := string(data)
	if len(s) > 200 {
		return s[:200] + "..."
	}
	return s
}

// joinPath escapes each segment and joins them under base.
func joinPath(base string, segments ...string) string {
	var b strings.Builder
	b.WriteString(base)
	for _, s := range segments {
		b.WriteByte('/')
		b.WriteString(url.PathEscape(s))
	}
	return b.String()
}

// maskSecret hides all but the length of a secret for log output.
func maskSecret(s string) string {
	return strings.Repeat("*", len(s))
}

type logPathKey struct{}

// withLogPath attaches the masked request path to ctx for LoggingTransport.
func withLogPath(ctx context.Context, path string) context.Context {
	return context.WithValue(ctx, logPathKey{}, path)
}

func logPathFrom(ctx context.Context) (string, bool) {
	p, ok := ctx.Value(logPathKey{}).(string)
	return p, ok
}
