package credentials

import (
	"context"
	"errors"
	"strings"

	"github.com/nguyen2715-hue/web/internal/domain"
	"github.com/nguyen2715-hue/web/internal/infra"
	"github.com/nguyen2715-hue/web/internal/sqlinline"
)

// Record is one stored credential row.
type Record struct {
	Provider domain.Provider
	Role     domain.Role
	Token    domain.Credential
}

// Store persists provider credentials in Postgres.
type Store struct {
	sql infra.SQLExecutor
}

func NewStore(sql infra.SQLExecutor) *Store {
	return &Store{sql: sql}
}

// EnsureSchema creates the credential table if it does not exist yet.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.sql.Exec(ctx, sqlinline.QEnsureProviderCredentials)
	return err
}

// List returns every stored credential in rotation order.
func (s *Store) List(ctx context.Context) ([]Record, error) {
	rows, err := s.sql.Query(ctx, sqlinline.QListProviderCredentials)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var provider, role, token string
		if err := rows.Scan(&provider, &role, &token); err != nil {
			return nil, err
		}
		token = strings.TrimSpace(token)
		if token == "" {
			continue
		}
		out = append(out, Record{
			Provider: domain.Provider(provider),
			Role:     normalizeRole(role),
			Token:    domain.Credential(token),
		})
	}
	return out, rows.Err()
}

// Add appends a credential to the end of its provider/role rotation.
// Adding an existing token is a no-op.
func (s *Store) Add(ctx context.Context, provider domain.Provider, role domain.Role, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return errors.New("credential token is required")
	}
	if strings.TrimSpace(string(provider)) == "" {
		return errors.New("credential provider is required")
	}
	_, err := s.sql.Exec(ctx, sqlinline.QInsertProviderCredential, string(provider), string(normalizeRole(string(role))), token)
	return err
}

// Remove deletes a credential and reports whether a row matched.
func (s *Store) Remove(ctx context.Context, provider domain.Provider, role domain.Role, token string) (bool, error) {
	tag, err := s.sql.Exec(ctx, sqlinline.QDeleteProviderCredential, string(provider), string(normalizeRole(string(role))), strings.TrimSpace(token))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// Load implements Source.
func (s *Store) Load(ctx context.Context) (Set, error) {
	records, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	set := Set{}
	for _, rec := range records {
		set.Add(rec.Provider, rec.Role, rec.Token)
	}
	return set, nil
}

func normalizeRole(role string) domain.Role {
	role = strings.TrimSpace(role)
	if role == "" {
		return domain.RoleDefault
	}
	return domain.Role(role)
}
