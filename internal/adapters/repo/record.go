// Package repo loads repository indexes and builds the package universe.
package repo

import (
	"encoding/json"

	"go.trai.ch/zerr"

	"github.com/luminositylinux/lpm/internal/core/domain"
)

// recordJSON is the wire form of one index entry.
type recordJSON struct {
	Name       string   `json:"name"`
	Version    string   `json:"version"`
	Release    int      `json:"release"`
	Arch       string   `json:"arch"`
	Summary    string   `json:"summary"`
	Homepage   string   `json:"homepage"`
	License    string   `json:"license"`
	Requires   []string `json:"requires"`
	Provides   []string `json:"provides"`
	Conflicts  []string `json:"conflicts"`
	Obsoletes  []string `json:"obsoletes"`
	Recommends []string `json:"recommends"`
	Suggests   []string `json:"suggests"`
	Blob       string   `json:"blob"`
	Size       int64    `json:"size"`
	SHA256     string   `json:"sha256"`
	Signature  string   `json:"signature"`
	Bias       float64  `json:"bias"`
	Decay      float64  `json:"decay"`
}

// DecodeRecord parses one index entry into a PackageRecord.
func DecodeRecord(data []byte) (domain.PackageRecord, error) {
	var raw recordJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return domain.PackageRecord{}, zerr.Wrap(err, domain.ErrRepoMetadata.Error())
	}
	return recordFromJSON(raw)
}

func recordFromJSON(raw recordJSON) (domain.PackageRecord, error) {
	if raw.Name == "" {
		return domain.PackageRecord{}, zerr.With(domain.ErrRepoMetadata, "field", "name")
	}
	version, err := domain.ParseVersion(raw.Version)
	if err != nil {
		return domain.PackageRecord{}, zerr.With(err, "package", raw.Name)
	}
	if raw.Arch == "" {
		return domain.PackageRecord{}, zerr.With(zerr.With(domain.ErrRepoMetadata, "package", raw.Name), "field", "arch")
	}

	rec := domain.PackageRecord{
		Name:       raw.Name,
		Version:    version,
		Release:    raw.Release,
		Arch:       raw.Arch,
		Summary:    raw.Summary,
		Homepage:   raw.Homepage,
		License:    raw.License,
		BlobName:   raw.Blob,
		BlobSize:   raw.Size,
		BlobSHA256: raw.SHA256,
		Signature:  raw.Signature,
		Bias:       raw.Bias,
		Decay:      raw.Decay,
	}

	deps := func(field string, exprs []string) ([]domain.Dependency, error) {
		out := make([]domain.Dependency, 0, len(exprs))
		for _, e := range exprs {
			d, err := domain.ParseDependency(e)
			if err != nil {
				return nil, zerr.With(zerr.With(err, "package", raw.Name), "field", field)
			}
			out = append(out, d)
		}
		return out, nil
	}
	if rec.Requires, err = deps("requires", raw.Requires); err != nil {
		return domain.PackageRecord{}, err
	}
	if rec.Conflicts, err = deps("conflicts", raw.Conflicts); err != nil {
		return domain.PackageRecord{}, err
	}
	if rec.Obsoletes, err = deps("obsoletes", raw.Obsoletes); err != nil {
		return domain.PackageRecord{}, err
	}
	if rec.Recommends, err = deps("recommends", raw.Recommends); err != nil {
		return domain.PackageRecord{}, err
	}
	if rec.Suggests, err = deps("suggests", raw.Suggests); err != nil {
		return domain.PackageRecord{}, err
	}
	for _, e := range raw.Provides {
		c, err := domain.ParseCapability(e)
		if err != nil {
			return domain.PackageRecord{}, zerr.With(zerr.With(err, "package", raw.Name), "field", "provides")
		}
		rec.Provides = append(rec.Provides, c)
	}
	return rec, nil
}

// EncodeRecord renders a PackageRecord back into its wire form, used by the
// package builder and the installed database.
func EncodeRecord(rec domain.PackageRecord) ([]byte, error) {
	raw := recordJSON{
		Name:      rec.Name,
		Version:   rec.Version.String(),
		Release:   rec.Release,
		Arch:      rec.Arch,
		Summary:   rec.Summary,
		Homepage:  rec.Homepage,
		License:   rec.License,
		Blob:      rec.BlobName,
		Size:      rec.BlobSize,
		SHA256:    rec.BlobSHA256,
		Signature: rec.Signature,
		Bias:      rec.Bias,
		Decay:     rec.Decay,
	}
	for _, d := range rec.Requires {
		raw.Requires = append(raw.Requires, d.String())
	}
	for _, c := range rec.Provides {
		raw.Provides = append(raw.Provides, c.String())
	}
	for _, d := range rec.Conflicts {
		raw.Conflicts = append(raw.Conflicts, d.String())
	}
	for _, d := range rec.Obsoletes {
		raw.Obsoletes = append(raw.Obsoletes, d.String())
	}
	for _, d := range rec.Recommends {
		raw.Recommends = append(raw.Recommends, d.String())
	}
	for _, d := range rec.Suggests {
		raw.Suggests = append(raw.Suggests, d.String())
	}
	return json.Marshal(raw)
}
