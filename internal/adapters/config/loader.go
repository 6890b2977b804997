// Package config provides the configuration loader for lpm.
package config

import (
	"encoding/json"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.trai.ch/zerr"

	"github.com/luminositylinux/lpm/internal/core/domain"
	"github.com/luminositylinux/lpm/internal/core/ports"
)

// Loader reads the manager configuration for one target root.
type Loader struct {
	Logger ports.Logger
	Layout domain.Layout
}

// NewLoader creates a Loader for the given layout.
func NewLoader(logger ports.Logger, layout domain.Layout) *Loader {
	return &Loader{Logger: logger, Layout: layout}
}

// Load merges lpm.conf, repos.json, pins.json, and protected.json into the
// effective configuration. Missing files yield defaults.
func (l *Loader) Load() (domain.Config, error) {
	cfg := domain.DefaultConfig(l.Layout.Root)

	kv, err := loadConf(l.Layout.ConfFile())
	if err != nil {
		return domain.Config{}, err
	}
	if err := applyConf(&cfg, kv); err != nil {
		return domain.Config{}, err
	}

	repos, err := loadRepos(l.Layout.ReposFile())
	if err != nil {
		return domain.Config{}, err
	}
	cfg.Repos = repos

	pins, err := loadPins(l.Layout.PinsFile())
	if err != nil {
		return domain.Config{}, err
	}
	cfg.Pins = pins

	protected, err := loadProtected(l.Layout.ProtectedFile())
	if err != nil {
		return domain.Config{}, err
	}
	cfg.Protected = protected

	return cfg, nil
}

// loadConf parses a key=value file. Blank lines and #-comments are skipped.
func loadConf(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, zerr.With(zerr.Wrap(err, domain.ErrConfigRead.Error()), "path", path)
	}
	out := map[string]string{}
	for _, ln := range strings.Split(string(data), "\n") {
		ln = strings.TrimSpace(ln)
		if ln == "" || strings.HasPrefix(ln, "#") {
			continue
		}
		k, v, ok := strings.Cut(ln, "=")
		if !ok {
			continue
		}
		out[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return out, nil
}

func applyConf(cfg *domain.Config, kv map[string]string) error {
	if v, ok := kv["ARCH"]; ok && v != "" {
		cfg.Arch = v
	}
	if v, ok := kv["OPT_LEVEL"]; ok {
		cfg.OptLevel = v
	}
	if v, ok := kv["CPU_TYPE"]; ok {
		cfg.CPUType = v
	}
	if v, ok := kv["ALLOW_LPMBUILD_FALLBACK"]; ok {
		cfg.AllowBuildFallback = v == "1" || strings.EqualFold(v, "true") || strings.EqualFold(v, "yes")
	}
	if v, ok := kv["MAX_SNAPSHOTS"]; ok {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return zerr.With(zerr.With(domain.ErrConfigParse, "key", "MAX_SNAPSHOTS"), "value", v)
		}
		cfg.MaxSnapshots = n
	}
	if v, ok := kv["MAX_LEARNT_CLAUSES"]; ok {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return zerr.With(zerr.With(domain.ErrConfigParse, "key", "MAX_LEARNT_CLAUSES"), "value", v)
		}
		cfg.MaxLearntClauses = n
	}
	if v, ok := kv["FETCH_MAX_WORKERS"]; ok {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return zerr.With(zerr.With(domain.ErrConfigParse, "key", "FETCH_MAX_WORKERS"), "value", v)
		}
		cfg.FetchMaxWorkers = n
	}
	if v, ok := kv["IO_BUFFER_SIZE"]; ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return zerr.With(zerr.With(domain.ErrConfigParse, "key", "IO_BUFFER_SIZE"), "value", v)
		}
		if n < domain.MinIOBufferSize {
			n = domain.MinIOBufferSize
		}
		cfg.IOBufferSize = n
	}
	if v, ok := kv["FETCH_TIMEOUT"]; ok {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return zerr.With(zerr.With(domain.ErrConfigParse, "key", "FETCH_TIMEOUT"), "value", v)
		}
		cfg.FetchTimeout = d
	}
	return nil
}

func loadRepos(path string) ([]domain.Repo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, zerr.With(zerr.Wrap(err, domain.ErrConfigRead.Error()), "path", path)
	}
	var raw []struct {
		Name     string `json:"name"`
		URL      string `json:"url"`
		Priority int    `json:"priority"`
		Enabled  *bool  `json:"enabled"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, zerr.With(zerr.Wrap(err, domain.ErrConfigParse.Error()), "path", path)
	}
	repos := make([]domain.Repo, 0, len(raw))
	for _, r := range raw {
		if r.Name == "" || r.URL == "" {
			return nil, zerr.With(zerr.With(domain.ErrConfigParse, "path", path), "repo", r.Name)
		}
		enabled := true
		if r.Enabled != nil {
			enabled = *r.Enabled
		}
		repos = append(repos, domain.Repo{Name: r.Name, URL: r.URL, Priority: r.Priority, Enabled: enabled})
	}
	sort.SliceStable(repos, func(i, j int) bool { return repos[i].Priority < repos[j].Priority })
	return repos, nil
}

func loadPins(path string) (domain.Pins, error) {
	pins := domain.NewPins()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return pins, nil
		}
		return domain.Pins{}, zerr.With(zerr.Wrap(err, domain.ErrConfigRead.Error()), "path", path)
	}
	var raw struct {
		Hold   []string          `json:"hold"`
		Prefer map[string]string `json:"prefer"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return domain.Pins{}, zerr.With(zerr.Wrap(err, domain.ErrConfigParse.Error()), "path", path)
	}
	for _, name := range raw.Hold {
		pins.Hold[name] = struct{}{}
	}
	for name, expr := range raw.Prefer {
		c, err := domain.ParseConstraint(expr)
		if err != nil {
			return domain.Pins{}, zerr.With(zerr.With(err, "path", path), "package", name)
		}
		pins.Prefer[name] = c
	}
	return pins, nil
}

func loadProtected(path string) (domain.Protected, error) {
	protected := domain.Protected{}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return protected, nil
		}
		return nil, zerr.With(zerr.Wrap(err, domain.ErrConfigRead.Error()), "path", path)
	}
	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		return nil, zerr.With(zerr.Wrap(err, domain.ErrConfigParse.Error()), "path", path)
	}
	for _, n := range names {
		protected[n] = struct{}{}
	}
	return protected, nil
}
