package gate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
)

// ErrUnsupportedURL is returned by ProberFor when no prober can handle a URL.
var ErrUnsupportedURL = errors.New("unsupported dependency url")

// ProberFor picks a prober from the URL scheme.
func ProberFor(rawURL string) (Prober, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedURL, err)
	}

	switch strings.ToLower(u.Scheme) {
	case "redis", "rediss", "unix":
		return NewRedisProber(rawURL)
	case "nats", "tls":
		return NewNATSProber(rawURL), nil
	case "postgres", "postgresql":
		return NewSQLProber("postgres", rawURL)
	case "sqlite", "sqlite3":
		path := u.Host + u.Path
		if path == "" {
			path = u.Opaque
		}
		if path == "" {
			return nil, fmt.Errorf("%w: sqlite url has no path", ErrUnsupportedURL)
		}
		// mode=rw refuses to create a missing database file.
		return NewSQLProber("sqlite3", "file:"+path+"?mode=rw")
	case "http", "https":
		return NewHTTPProber(rawURL), nil
	}

	if u.Host == "" || u.Port() == "" {
		return nil, fmt.Errorf("%w: %q has no host:port", ErrUnsupportedURL, u.Scheme)
	}
	return NewTCPProber(u.Host), nil
}

// RedisProber sends PING.
type RedisProber struct {
	client *redis.Client
}

// NewRedisProber parses a redis://, rediss:// or unix:// URL.
func NewRedisProber(rawURL string) (*RedisProber, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedURL, err)
	}
	// One attempt per probe; the gate does the retrying.
	opts.MaxRetries = -1
	opts.PoolSize = 1
	return &RedisProber{client: redis.NewClient(opts)}, nil
}

func (p *RedisProber) Probe(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

func (p *RedisProber) Close() error {
	return p.client.Close()
}

// NATSProber connects and completes a PING/PONG round trip.
type NATSProber struct {
	url string
}

func NewNATSProber(rawURL string) *NATSProber {
	return &NATSProber{url: rawURL}
}

func (p *NATSProber) Probe(ctx context.Context) error {
	timeout := 2 * time.Second
	deadline, hasDeadline := ctx.Deadline()
	if hasDeadline {
		timeout = time.Until(deadline)
	}
	if timeout <= 0 {
		return context.DeadlineExceeded
	}

	conn, err := nats.Connect(p.url,
		nats.Name("launchgate-probe"),
		nats.Timeout(timeout),
		nats.NoReconnect(),
	)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}
	defer conn.Close()

	if hasDeadline {
		return conn.FlushWithContext(ctx)
	}
	return conn.FlushTimeout(timeout)
}

func (p *NATSProber) Close() error {
	return nil
}

// SQLProber pings a database/sql handle.
type SQLProber struct {
	db *sql.DB
}

// NewSQLProber opens a lazy handle; nothing is dialled until Probe.
func NewSQLProber(driver, dsn string) (*SQLProber, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedURL, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(0)
	return &SQLProber{db: db}, nil
}

func (p *SQLProber) Probe(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

func (p *SQLProber) Close() error {
	return p.db.Close()
}

// HTTPProber treats any response below 500 as ready.
type HTTPProber struct {
	url    string
	client *http.Client
}

func NewHTTPProber(rawURL string) *HTTPProber {
	return &HTTPProber{url: rawURL, client: &http.Client{}}
}

func (p *HTTPProber) Probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}

func (p *HTTPProber) Close() error {
	p.client.CloseIdleConnections()
	return nil
}

// TCPProber only checks that something accepts connections.
type TCPProber struct {
	addr string
}

func NewTCPProber(addr string) *TCPProber {
	return &TCPProber{addr: addr}
}

func (p *TCPProber) Probe(ctx context.Context) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", p.addr)
	if err != nil {
		return err
	}
	return conn.Close()
}

func (p *TCPProber) Close() error {
	return nil
}
