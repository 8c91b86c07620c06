package credentials

import (
	"context"

	"github.com/nguyen2715-hue/web/internal/domain"
	"github.com/nguyen2715-hue/web/internal/infra"
)

// StaticSource serves credentials taken from configuration.
type StaticSource struct {
	set Set
}

// NewEnvSource builds a source from the credential lists in cfg.
func NewEnvSource(cfg *infra.Config) *StaticSource {
	set := Set{}
	if cfg != nil {
		for _, k := range cfg.GeminiAPIKeys {
			set.Add(domain.ProviderGemini, domain.RoleDefault, domain.Credential(k))
		}
		for _, k := range cfg.WhiskSessionTokens {
			set.Add(domain.ProviderWhisk, domain.RoleUpload, domain.Credential(k))
		}
		for _, k := range cfg.WhiskOAuthTokens {
			set.Add(domain.ProviderWhisk, domain.RoleGeneration, domain.Credential(k))
		}
	}
	return &StaticSource{set: set}
}

// NewStaticSource wraps a prepared set.
func NewStaticSource(set Set) *StaticSource {
	return &StaticSource{set: set}
}

func (s *StaticSource) Load(context.Context) (Set, error) {
	out := Set{}
	for k, list := range s.set {
		for _, cred := range list {
			out.Add(k.provider, k.role, cred)
		}
	}
	return out, nil
}
