package recallx

import "github.com/cockroachdb/errors"

// SearchOption represents a search configuration option.
type SearchOption interface {
	Apply(*SearchConfig)
}

// SearchConfig holds all search configuration parameters.
type SearchConfig struct {
	// Restricts narrows the candidate corpus items. All restricts must hold.
	Restricts []Restrict

	// Exact asks the backend for a brute-force scan instead of its
	// approximate index. Backends that are always exact ignore it.
	Exact bool

	// EFSearch overrides the size of the HNSW candidate list when the backend
	// uses one. Zero keeps the backend default.
	EFSearch int
}

// NewSearchConfig applies opts to an empty SearchConfig.
func NewSearchConfig(opts ...SearchOption) *SearchConfig {
	cfg := &SearchConfig{}
	for _, opt := range opts {
		opt.Apply(cfg)
	}
	return cfg
}

// Validate checks every restrict and numeric parameter.
func (c *SearchConfig) Validate() error {
	for _, r := range c.Restricts {
		if err := r.Validate(); err != nil {
			return err
		}
	}
	if c.EFSearch < 0 {
		return errors.Wrapf(ErrInvalidOption, "ef_search must not be negative, got %d", c.EFSearch)
	}
	return nil
}

// optionFunc is a function that implements SearchOption.
type optionFunc func(*SearchConfig)

// Apply implements the SearchOption interface for optionFunc.
func (f optionFunc) Apply(cfg *SearchConfig) {
	f(cfg)
}

// WithExact requests brute-force search.
func WithExact() SearchOption {
	return optionFunc(func(cfg *SearchConfig) {
		cfg.Exact = true
	})
}

// WithEFSearch sets the HNSW ef_search parameter for approximate search.
func WithEFSearch(ef int) SearchOption {
	return optionFunc(func(cfg *SearchConfig) {
		cfg.EFSearch = ef
	})
}
