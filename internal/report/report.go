// Package report holds the report definitions the engine executes against.
// Authorization and credential decryption happen upstream; by the time a
// Report reaches this package its descriptor carries a usable password.
package report

import (
	"sort"
	"sync"
	"time"

	"pivotgate/internal/dialect"
	"pivotgate/internal/enginerr"
	"pivotgate/internal/pivot"
)

// DefaultCacheTTL applies to cached pivot payloads when a report does not
// set its own.
const DefaultCacheTTL = 10 * time.Minute

// Report pairs a base query with the connection it runs against, plus the
// defaults merged into requests that leave dimensions or metrics unset.
type Report struct {
	ID             string             `mapstructure:"id" json:"id"`
	Name           string             `mapstructure:"name" json:"name"`
	BaseQuery      string             `mapstructure:"baseQuery" json:"baseQuery"`
	Connection     dialect.Descriptor `mapstructure:"connection" json:"connection"`
	DefaultGroupBy []string           `mapstructure:"defaultGroupBy" json:"defaultGroupBy"`
	DefaultMetrics []pivot.Metric     `mapstructure:"defaultMetrics" json:"defaultMetrics"`
	CacheEnabled   bool               `mapstructure:"cacheEnabled" json:"cacheEnabled"`
	CacheTTL       time.Duration      `mapstructure:"cacheTTL" json:"cacheTTL"`
}

func (r Report) Validate() error {
	if r.ID == "" {
		return enginerr.New(enginerr.KindConfig, "report is missing an id")
	}
	if r.BaseQuery == "" {
		return enginerr.New(enginerr.KindConfig, "report %s is missing a base query", r.ID)
	}
	if err := r.Connection.Validate(); err != nil {
		return err
	}
	for _, m := range r.DefaultMetrics {
		if err := m.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// TTL returns the report's cache TTL, defaulted.
func (r Report) TTL() time.Duration {
	if r.CacheTTL > 0 {
		return r.CacheTTL
	}
	return DefaultCacheTTL
}

// Store resolves report IDs to definitions.
type Store interface {
	Get(id string) (Report, error)
	List() []Report
}

// StaticStore serves a fixed set of reports loaded from configuration.
type StaticStore struct {
	mu      sync.RWMutex
	reports map[string]Report
}

func NewStaticStore(reports []Report) (*StaticStore, error) {
	byID := make(map[string]Report, len(reports))
	for _, r := range reports {
		if err := r.Validate(); err != nil {
			return nil, err
		}
		if _, dup := byID[r.ID]; dup {
			return nil, enginerr.New(enginerr.KindConfig, "duplicate report id %s", r.ID)
		}
		byID[r.ID] = r
	}
	return &StaticStore{reports: byID}, nil
}

func (s *StaticStore) Get(id string) (Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.reports[id]
	if !ok {
		return Report{}, enginerr.New(enginerr.KindConfig, "unknown report %q", id)
	}
	return r, nil
}

func (s *StaticStore) List() []Report {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Report, 0, len(s.reports))
	for _, r := range s.reports {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
