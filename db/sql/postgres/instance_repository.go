package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/adeilh/go-handshake/auth"
)

var (
	ErrInstanceNotFound = errors.New("postgres: instance not found")
	ErrInstanceExists   = errors.New("postgres: instance host already registered")
)

// InstanceSchema creates the tenant directory table.
const InstanceSchema = `CREATE TABLE IF NOT EXISTS auth_instances (
	id UUID PRIMARY KEY,
	host TEXT NOT NULL UNIQUE,
	publishable_key TEXT NOT NULL,
	secret_key TEXT NOT NULL,
	domain TEXT NOT NULL DEFAULT '',
	proxy_url TEXT NOT NULL DEFAULT '',
	is_satellite BOOLEAN NOT NULL DEFAULT FALSE,
	sign_in_url TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
)`

// InstanceRecord maps an application host to the identity instance serving it.
type InstanceRecord struct {
	ID             uuid.UUID
	Host           string
	PublishableKey string
	SecretKey      string
	Domain         string
	ProxyURL       string
	IsSatellite    bool
	SignInURL      string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Tenant converts the record into per-request auth settings.
func (r InstanceRecord) Tenant() auth.Tenant {
	return auth.Tenant{
		PublishableKey: r.PublishableKey,
		SecretKey:      r.SecretKey,
		Domain:         r.Domain,
		ProxyURL:       r.ProxyURL,
		IsSatellite:    r.IsSatellite,
		SignInURL:      r.SignInURL,
	}
}

// InstanceRepository persists the host to instance directory and resolves
// tenants for multi-tenant servers.
type InstanceRepository struct {
	db  *sql.DB
	now func() time.Time
}

var _ auth.TenantResolver = (*InstanceRepository)(nil)

// NewInstanceRepository wraps an existing *sql.DB connection.
func NewInstanceRepository(db *sql.DB) *InstanceRepository {
	return &InstanceRepository{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// Migrate brings the directory schema to the latest version.
func (r *InstanceRepository) Migrate(ctx context.Context) error {
	return applyMigrations(ctx, r.db, directoryMigrations)
}

// CreateInstance registers a host. The key pair must belong to a single
// instance; a zero ID is assigned a new UUID.
func (r *InstanceRepository) CreateInstance(ctx context.Context, rec InstanceRecord) (InstanceRecord, error) {
	rec.Host = normalizeHost(rec.Host)
	if rec.Host == "" {
		return InstanceRecord{}, fmt.Errorf("%w: host is required", auth.ErrInvalidConfig)
	}
	if err := auth.AssertSameInstance(rec.PublishableKey, rec.SecretKey); err != nil {
		return InstanceRecord{}, err
	}
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	now := r.now()
	rec.CreatedAt, rec.UpdatedAt = now, now

	const query = `INSERT INTO auth_instances (id, host, publishable_key, secret_key, domain, proxy_url, is_satellite, sign_in_url, created_at, updated_at)
                   VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	_, err := r.db.ExecContext(ctx, query, rec.ID, rec.Host, rec.PublishableKey, rec.SecretKey, rec.Domain, rec.ProxyURL, rec.IsSatellite, rec.SignInURL, rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		return InstanceRecord{}, translateInstanceError(err)
	}
	return rec, nil
}

// UpdateInstance replaces the settings of an existing host.
func (r *InstanceRepository) UpdateInstance(ctx context.Context, rec InstanceRecord) (InstanceRecord, error) {
	rec.Host = normalizeHost(rec.Host)
	if err := auth.AssertSameInstance(rec.PublishableKey, rec.SecretKey); err != nil {
		return InstanceRecord{}, err
	}
	rec.UpdatedAt = r.now()

	const query = `UPDATE auth_instances SET publishable_key = $2, secret_key = $3, domain = $4, proxy_url = $5, is_satellite = $6, sign_in_url = $7, updated_at = $8
                   WHERE host = $1
                   RETURNING id, created_at`
	err := r.db.QueryRowContext(ctx, query, rec.Host, rec.PublishableKey, rec.SecretKey, rec.Domain, rec.ProxyURL, rec.IsSatellite, rec.SignInURL, rec.UpdatedAt).
		Scan(&rec.ID, &rec.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return InstanceRecord{}, ErrInstanceNotFound
		}
		return InstanceRecord{}, translateInstanceError(err)
	}
	return rec, nil
}

func (r *InstanceRepository) GetInstanceByHost(ctx context.Context, host string) (InstanceRecord, error) {
	const query = `SELECT id, host, publishable_key, secret_key, domain, proxy_url, is_satellite, sign_in_url, created_at, updated_at
                   FROM auth_instances WHERE host = $1`
	var rec InstanceRecord
	err := r.db.QueryRowContext(ctx, query, normalizeHost(host)).Scan(
		&rec.ID,
		&rec.Host,
		&rec.PublishableKey,
		&rec.SecretKey,
		&rec.Domain,
		&rec.ProxyURL,
		&rec.IsSatellite,
		&rec.SignInURL,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return InstanceRecord{}, ErrInstanceNotFound
		}
		return InstanceRecord{}, translateInstanceError(err)
	}
	return rec, nil
}

func (r *InstanceRepository) DeleteInstance(ctx context.Context, host string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM auth_instances WHERE host = $1`, normalizeHost(host))
	if err != nil {
		return translateInstanceError(err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrInstanceNotFound
	}
	return nil
}

// ResolveTenant looks up the externally visible host of the request.
// Unknown hosts return auth.ErrTenantNotFound so the static configuration
// applies.
func (r *InstanceRepository) ResolveTenant(ctx context.Context, req auth.Request) (auth.Tenant, error) {
	host := requestHost(req)
	if host == "" {
		return auth.Tenant{}, auth.ErrTenantNotFound
	}
	rec, err := r.GetInstanceByHost(ctx, host)
	if err != nil {
		if errors.Is(err, ErrInstanceNotFound) {
			return auth.Tenant{}, fmt.Errorf("%w: %s", auth.ErrTenantNotFound, host)
		}
		return auth.Tenant{}, err
	}
	return rec.Tenant(), nil
}

func requestHost(req auth.Request) string {
	if req.Header != nil {
		if fwd := req.Header.Get(auth.HeaderForwardedHost); fwd != "" {
			first, _, _ := strings.Cut(fwd, ",")
			return normalizeHost(first)
		}
		if host := req.Header.Get(auth.HeaderHost); host != "" {
			return normalizeHost(host)
		}
	}
	if req.URL != nil {
		return normalizeHost(req.URL.Host)
	}
	return ""
}

// normalizeHost lowercases and strips the port.
func normalizeHost(host string) string {
	host = strings.ToLower(strings.TrimSpace(host))
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return strings.Trim(host, "[]")
}

func translateInstanceError(err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23505":
			return ErrInstanceExists
		case "22P02":
			return ErrInstanceNotFound
		}
	}
	return err
}
