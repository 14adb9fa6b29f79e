package relay

import (
	"fmt"
	"net/url"
	"strings"
)

// BuildOpLogFromDSN selects an operation log backend. An empty DSN and
// memory:// give the in-memory ring; file://path (or a bare path)
// gives the JSON file backend; postgres:// gives the Postgres backend.
func BuildOpLogFromDSN(dsn string, maxOps int) (OpLog, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return NewMemoryOpLog(maxOps), nil
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, err
	}
	scheme := strings.ToLower(strings.TrimSpace(parsed.Scheme))
	switch scheme {
	case "memory", "mem", "inmem":
		return NewMemoryOpLog(maxOps), nil
	case "", "file":
		path, pathErr := dsnPath(parsed, dsn)
		if pathErr != nil {
			return nil, pathErr
		}
		return NewJSONFileOpLog(path, maxOps), nil
	case "postgres", "postgresql":
		return NewPostgresOpLog(dsn)
	default:
		return nil, fmt.Errorf("unsupported oplog scheme: %s", scheme)
	}
}

func dsnPath(parsed *url.URL, raw string) (string, error) {
	if parsed == nil {
		return "", ErrInvalidInput
	}
	if strings.TrimSpace(parsed.Scheme) == "" {
		if strings.TrimSpace(raw) == "" {
			return "", ErrInvalidInput
		}
		return strings.TrimSpace(raw), nil
	}
	path := strings.TrimSpace(parsed.Path)
	if path == "" {
		path = strings.TrimSpace(parsed.Opaque)
	}
	if path == "" {
		path = strings.TrimSpace(parsed.Host)
	}
	if path == "" {
		return "", ErrInvalidInput
	}
	return path, nil
}
