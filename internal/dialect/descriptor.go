package dialect

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/go-sql-driver/mysql"

	"pivotgate/internal/enginerr"
)

const connectTimeout = 30 * time.Second

// Descriptor identifies a source connection. The password arrives already
// decrypted from the credential store and must never be logged; use
// Redacted() for anything operator-facing.
type Descriptor struct {
	Type     Type
	Host     string
	Port     int
	Database string
	Username string
	Password string
	TLS      bool
}

func (d Descriptor) port() int {
	if d.Port > 0 {
		return d.Port
	}
	return d.Type.DefaultPort()
}

// Validate checks the descriptor for fields the DSN builders require.
func (d Descriptor) Validate() error {
	if _, err := Parse(string(d.Type)); err != nil {
		return err
	}
	if d.Host == "" {
		return enginerr.New(enginerr.KindConfig, "connection descriptor is missing a host")
	}
	if d.Database == "" {
		return enginerr.New(enginerr.KindConfig, "connection descriptor is missing a database name")
	}
	return nil
}

// DSN builds the driver connection string. Username and password are escaped
// by the URL/driver machinery so special characters survive intact.
func (d Descriptor) DSN() (string, error) {
	if err := d.Validate(); err != nil {
		return "", err
	}

	switch d.Type {
	case MySQL:
		cfg := mysql.NewConfig()
		cfg.User = d.Username
		cfg.Passwd = d.Password
		cfg.Net = "tcp"
		cfg.Addr = net.JoinHostPort(d.Host, strconv.Itoa(d.port()))
		cfg.DBName = d.Database
		cfg.ParseTime = true
		cfg.Loc = time.UTC
		cfg.Timeout = connectTimeout
		if d.TLS {
			cfg.TLSConfig = "true"
		}
		return cfg.FormatDSN(), nil

	case Postgres:
		sslMode := "prefer"
		if d.TLS {
			sslMode = "require"
		}
		u := url.URL{
			Scheme: "postgres",
			User:   url.UserPassword(d.Username, d.Password),
			Host:   net.JoinHostPort(d.Host, strconv.Itoa(d.port())),
			Path:   "/" + d.Database,
		}
		q := url.Values{}
		q.Set("sslmode", sslMode)
		q.Set("connect_timeout", strconv.Itoa(int(connectTimeout.Seconds())))
		u.RawQuery = q.Encode()
		return u.String(), nil

	case SQLServer:
		encrypt := "disable"
		if d.TLS {
			encrypt = "true"
		}
		u := url.URL{
			Scheme: "sqlserver",
			User:   url.UserPassword(d.Username, d.Password),
			Host:   net.JoinHostPort(d.Host, strconv.Itoa(d.port())),
		}
		q := url.Values{}
		q.Set("database", d.Database)
		q.Set("encrypt", encrypt)
		q.Set("TrustServerCertificate", "true")
		q.Set("dial timeout", strconv.Itoa(int(connectTimeout.Seconds())))
		u.RawQuery = q.Encode()
		return u.String(), nil

	default:
		return "", enginerr.New(enginerr.KindConfig, "unsupported database type %q", d.Type)
	}
}

// Redacted renders the descriptor for logs and status output without the
// password.
func (d Descriptor) Redacted() string {
	return fmt.Sprintf("%s://%s@%s/%s", d.Type, d.Username, net.JoinHostPort(d.Host, strconv.Itoa(d.port())), d.Database)
}
