package credentials

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nguyen2715-hue/web/internal/domain"
	"github.com/nguyen2715-hue/web/internal/infra"
)

type key struct {
	provider domain.Provider
	role     domain.Role
}

// Set maps provider and role to an ordered credential list.
type Set map[key][]domain.Credential

// Add appends cred unless it is blank or already present.
func (s Set) Add(provider domain.Provider, role domain.Role, cred domain.Credential) {
	if cred == "" {
		return
	}
	k := key{provider: provider, role: role}
	for _, existing := range s[k] {
		if existing == cred {
			return
		}
	}
	s[k] = append(s[k], cred)
}

// Get returns a copy of the list for provider and role.
func (s Set) Get(provider domain.Provider, role domain.Role) []domain.Credential {
	list := s[key{provider: provider, role: role}]
	if len(list) == 0 {
		return nil
	}
	out := make([]domain.Credential, len(list))
	copy(out, list)
	return out
}

// Source loads a full credential set.
type Source interface {
	Load(ctx context.Context) (Set, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context) (Set, error)

func (f SourceFunc) Load(ctx context.Context) (Set, error) { return f(ctx) }

// Pool merges ordered sources into an immutable snapshot. For each
// provider and role the first source with a non-empty list wins, so the
// order passed to NewPool decides precedence. NewPoolFromConfig puts the
// persistent store ahead of the environment.
type Pool struct {
	sources  []Source
	snapshot atomic.Pointer[Set]
	logger   *infra.Logger

	// reload serializes source reads; lastAttempt is guarded by it.
	reload      sync.Mutex
	minInterval time.Duration
	lastAttempt time.Time
	now         func() time.Time
}

func NewPool(logger *infra.Logger, sources ...Source) *Pool {
	p := &Pool{sources: sources, logger: infra.LoggerOrDiscard(logger), now: time.Now}
	empty := Set{}
	p.snapshot.Store(&empty)
	return p
}

// NewPoolFromConfig builds the service pool: store credentials (when store
// is non-nil) shadow the environment lists, and reloads are throttled to
// cfg.CredentialRefreshInterval.
func NewPoolFromConfig(logger *infra.Logger, cfg *infra.Config, store Source) *Pool {
	var sources []Source
	if store != nil {
		sources = append(sources, store)
	}
	sources = append(sources, NewEnvSource(cfg))
	p := NewPool(logger, sources...)
	if cfg != nil {
		p.SetMinRefreshInterval(cfg.CredentialRefreshInterval)
	}
	return p
}

// SetMinRefreshInterval makes Refresh a no-op until d has passed since the
// previous attempt. Zero reloads on every call.
func (p *Pool) SetMinRefreshInterval(d time.Duration) {
	p.reload.Lock()
	defer p.reload.Unlock()
	p.minInterval = d
}

// Refresh reloads every source. When any source fails the previous
// snapshot is kept and the error is returned. Calls made while another
// reload is running, or within the minimum interval of the last attempt,
// return immediately and leave the snapshot as is.
func (p *Pool) Refresh(ctx context.Context) error {
	if !p.reload.TryLock() {
		return nil
	}
	defer p.reload.Unlock()

	now := p.now()
	if p.minInterval > 0 && !p.lastAttempt.IsZero() && now.Sub(p.lastAttempt) < p.minInterval {
		return nil
	}
	p.lastAttempt = now

	merged := Set{}
	for i, src := range p.sources {
		loaded, err := src.Load(ctx)
		if err != nil {
			p.logger.Warn().Err(err).Int("source", i).Msg("credentials: refresh failed, keeping previous snapshot")
			return err
		}
		for k, list := range loaded {
			if len(merged[k]) > 0 || len(list) == 0 {
				continue
			}
			for _, cred := range list {
				merged.Add(k.provider, k.role, cred)
			}
		}
	}
	p.snapshot.Store(&merged)
	p.logger.Debug().Int("groups", len(merged)).Msg("credentials: snapshot refreshed")
	return nil
}

// ListCredentials returns the current ordered list. It never blocks.
func (p *Pool) ListCredentials(provider domain.Provider, role domain.Role) []domain.Credential {
	return (*p.snapshot.Load()).Get(provider, role)
}

var _ domain.CredentialPool = (*Pool)(nil)
