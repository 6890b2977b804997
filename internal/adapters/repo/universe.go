package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"go.trai.ch/zerr"

	"github.com/luminositylinux/lpm/internal/core/domain"
	"github.com/luminositylinux/lpm/internal/core/ports"
)

// IndexFileName is the repository index file fetched from each repo URL.
const IndexFileName = "index.json"

// Loader implements ports.UniverseLoader over HTTP and file URLs.
type Loader struct {
	Logger ports.Logger
	Config domain.Config
	State  ports.StateDB
	Client *http.Client
}

// NewLoader creates a Loader with a default HTTP client.
func NewLoader(logger ports.Logger, cfg domain.Config, state ports.StateDB) *Loader {
	return &Loader{
		Logger: logger,
		Config: cfg,
		State:  state,
		Client: &http.Client{Timeout: 30 * time.Second},
	}
}

// Load merges all enabled repository indexes and the installed database into
// a queryable universe. Malformed entries are skipped and reported; a
// malformed index fails the load.
func (l *Loader) Load(ctx context.Context, extra []domain.PackageRecord) (ports.Universe, error) {
	u := &universe{
		byName:    map[string][]domain.PackageRecord{},
		provides:  map[string][]string{},
		installed: map[string]domain.InstalledRecord{},
	}
	digest := xxhash.New()

	repos := make([]domain.Repo, 0, len(l.Config.Repos))
	for _, r := range l.Config.Repos {
		if r.Enabled {
			repos = append(repos, r)
		}
	}
	sort.SliceStable(repos, func(i, j int) bool { return repos[i].Priority < repos[j].Priority })

	for _, r := range repos {
		data, err := l.readIndex(ctx, r)
		if err != nil {
			return nil, err
		}
		fmt.Fprintf(digest, "repo\x00%s\x00%d\x00%x\n", r.Name, r.Priority, xxhash.Sum64(data))

		var raws []recordJSON
		if err := json.Unmarshal(data, &raws); err != nil {
			return nil, zerr.With(zerr.Wrap(err, domain.ErrRepoMetadata.Error()), "repo", r.Name)
		}
		for _, raw := range raws {
			rec, err := recordFromJSON(raw)
			if err != nil {
				if l.Logger != nil {
					l.Logger.Warn("skipping malformed index entry", "repo", r.Name, "package", raw.Name, "error", err.Error())
				}
				continue
			}
			rec.RepoName = r.Name
			rec.RepoPriority = r.Priority
			rec.Origin = domain.OriginRepository
			u.add(rec)
		}
	}

	for _, rec := range extra {
		rec.Origin = domain.OriginLocalFile
		u.add(rec)
		fmt.Fprintf(digest, "local\x00%s\n", rec.ID())
	}

	installed, err := l.State.AllInstalled(ctx)
	if err != nil {
		return nil, err
	}
	for _, rec := range installed {
		u.installed[rec.Name] = rec
		fmt.Fprintf(digest, "installed\x00%s\x00%d\n", rec.ID(), rec.InstallTime.Unix())
		if _, ok := u.lookup(rec.PackageRecord); !ok {
			cat := rec.PackageRecord
			cat.Origin = domain.OriginInstalled
			u.add(cat)
		}
	}

	holds := make([]string, 0, len(l.Config.Pins.Hold))
	for name := range l.Config.Pins.Hold {
		holds = append(holds, name)
	}
	sort.Strings(holds)
	for _, name := range holds {
		fmt.Fprintf(digest, "hold\x00%s\n", name)
	}
	prefer := make([]string, 0, len(l.Config.Pins.Prefer))
	for name, c := range l.Config.Pins.Prefer {
		prefer = append(prefer, name+"\x00"+c.String())
	}
	sort.Strings(prefer)
	for _, p := range prefer {
		fmt.Fprintf(digest, "prefer\x00%s\n", p)
	}

	u.sortCandidates()
	u.hash = digest.Sum64()
	return u, nil
}

func (l *Loader) readIndex(ctx context.Context, r domain.Repo) ([]byte, error) {
	parsed, err := url.Parse(r.URL)
	if err != nil {
		return nil, zerr.With(zerr.Wrap(err, domain.ErrRepoMetadata.Error()), "repo", r.Name)
	}
	switch parsed.Scheme {
	case "", "file":
		data, err := os.ReadFile(filepath.Join(parsed.Path, IndexFileName))
		if err != nil {
			return nil, zerr.With(zerr.Wrap(err, domain.ErrRepoMetadata.Error()), "repo", r.Name)
		}
		return data, nil
	case "http", "https":
		indexURL := strings.TrimSuffix(r.URL, "/") + "/" + IndexFileName
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, indexURL, nil)
		if err != nil {
			return nil, zerr.With(zerr.Wrap(err, domain.ErrRepoMetadata.Error()), "repo", r.Name)
		}
		resp, err := l.Client.Do(req)
		if err != nil {
			return nil, zerr.With(zerr.Wrap(err, domain.ErrRepoMetadata.Error()), "repo", r.Name)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, zerr.With(zerr.With(domain.ErrRepoMetadata, "repo", r.Name), "status", resp.StatusCode)
		}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, zerr.With(zerr.Wrap(err, domain.ErrRepoMetadata.Error()), "repo", r.Name)
		}
		return data, nil
	default:
		return nil, zerr.With(zerr.With(domain.ErrRepoMetadata, "repo", r.Name), "scheme", parsed.Scheme)
	}
}

// universe is the merged catalog for one transaction.
type universe struct {
	byName    map[string][]domain.PackageRecord
	provides  map[string][]string
	installed map[string]domain.InstalledRecord
	hash      uint64
}

func (u *universe) add(rec domain.PackageRecord) {
	if existing, ok := u.lookup(rec); ok {
		// Identical identity from a lower-priority repo loses.
		if rec.RepoPriority >= existing.RepoPriority && rec.Origin == domain.OriginRepository {
			return
		}
		u.replace(rec)
		return
	}
	u.byName[rec.Name] = append(u.byName[rec.Name], rec)
	for _, cap := range rec.Provides {
		u.provides[cap.Name] = appendUnique(u.provides[cap.Name], rec.Name)
	}
}

func (u *universe) lookup(rec domain.PackageRecord) (domain.PackageRecord, bool) {
	for _, c := range u.byName[rec.Name] {
		if c.SameIdentity(rec) {
			return c, true
		}
	}
	return domain.PackageRecord{}, false
}

func (u *universe) replace(rec domain.PackageRecord) {
	list := u.byName[rec.Name]
	for i, c := range list {
		if c.SameIdentity(rec) {
			list[i] = rec
			return
		}
	}
}

func (u *universe) sortCandidates() {
	for name, list := range u.byName {
		sort.SliceStable(list, func(i, j int) bool {
			if c := list[i].Version.Compare(list[j].Version); c != 0 {
				return c > 0
			}
			if list[i].Release != list[j].Release {
				return list[i].Release < list[j].Release
			}
			return list[i].RepoPriority < list[j].RepoPriority
		})
		u.byName[name] = list
	}
}

// Candidates returns all catalog entries for a name, best first.
func (u *universe) Candidates(name string) []domain.PackageRecord {
	return u.byName[name]
}

// Providers returns every record satisfying the dependency by name or
// capability.
func (u *universe) Providers(dep domain.Dependency) []domain.PackageRecord {
	var out []domain.PackageRecord
	seen := map[string]struct{}{}
	consider := func(name string) {
		for _, rec := range u.byName[name] {
			if _, dup := seen[rec.ID()]; dup {
				continue
			}
			if rec.SatisfiesDependency(dep) {
				seen[rec.ID()] = struct{}{}
				out = append(out, rec)
			}
		}
	}
	consider(dep.Name)
	for _, owner := range u.provides[dep.Name] {
		consider(owner)
	}
	return out
}

// Installed returns the installed record for a name.
func (u *universe) Installed(name string) (domain.InstalledRecord, bool) {
	rec, ok := u.installed[name]
	return rec, ok
}

// AllInstalled returns every installed record sorted by name.
func (u *universe) AllInstalled() []domain.InstalledRecord {
	out := make([]domain.InstalledRecord, 0, len(u.installed))
	for _, rec := range u.installed {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Hash returns the catalog digest keying incremental solver state.
func (u *universe) Hash() uint64 { return u.hash }

func appendUnique(list []string, s string) []string {
	for _, v := range list {
		if v == s {
			return list
		}
	}
	return append(list, s)
}
