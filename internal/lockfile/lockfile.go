// Package lockfile reads and writes agpm.lock, the deterministic,
// sorted TOML snapshot of a resolved Plan (spec.md §4.5, invariant I4).
//
// Grounded on github.com/BurntSushi/toml, the same library
// internal/manifest uses to decode agpm.toml — reused here for the
// lockfile's encode path via toml.NewEncoder, since the teacher's own
// config loading (pkg/parser) never needed to round-trip TOML back out,
// so the write side is adapted from BurntSushi's documented Encoder usage
// rather than copied from the teacher.
package lockfile

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/BurntSushi/toml"

	"github.com/agpm-dev/agpm/internal/agpmerrors"
	"github.com/agpm-dev/agpm/internal/resolver"
)

// File is the conventional lockfile name.
const File = "agpm.lock"

// LockVersion is the schema version stamped into every lockfile (spec.md
// §4.5's forward-compatibility field).
const LockVersion = 1

// Entry mirrors one resolved resource, as written to [[agents]]/etc. in the
// TOML lockfile. Field set and names follow spec.md §4.5's enumeration of
// per-entry lockfile fields exactly.
type Entry struct {
	Name            string         `toml:"name"`
	ManifestAlias   string         `toml:"manifest_alias,omitempty"`
	Source          string         `toml:"source,omitempty"`
	URL             string         `toml:"url,omitempty"`
	Path            string         `toml:"path"`
	Version         string         `toml:"version,omitempty"`
	ResolvedCommit  string         `toml:"resolved_commit,omitempty"`
	Checksum        string         `toml:"checksum,omitempty"`
	ContextChecksum string         `toml:"context_checksum,omitempty"`
	Tool            string         `toml:"tool,omitempty"`
	Filename        string         `toml:"filename,omitempty"`
	Target          string         `toml:"target,omitempty"`
	InstalledAt     string         `toml:"installed_at,omitempty"`
	Dependencies    []string       `toml:"dependencies,omitempty"`
	AppliedPatches  map[string]any `toml:"applied_patches,omitempty"`
	VariantInputs   map[string]any `toml:"variant_inputs,omitempty"`
}

// Lockfile is the parsed, TOML-shaped form of agpm.lock.
type Lockfile struct {
	Version    int     `toml:"version"`
	Agents     []Entry `toml:"agents,omitempty"`
	Snippets   []Entry `toml:"snippets,omitempty"`
	Commands   []Entry `toml:"commands,omitempty"`
	MCPServers []Entry `toml:"mcp-servers,omitempty"`
	Skills     []Entry `toml:"skills,omitempty"`
}

// FromPlan converts a resolver.Plan into a Lockfile, grouping by the
// resource-type segment of each record's canonical name and sorting each
// group by canonical name, then by variant inputs, per invariant I4, so a
// re-resolution with no manifest changes produces a byte-identical file.
func FromPlan(plan *resolver.Plan) *Lockfile {
	lf := &Lockfile{Version: LockVersion}
	byType := map[string][]Entry{}
	for _, r := range plan.Records {
		if !r.Install {
			continue
		}
		entry := Entry{
			Name:            r.CanonicalName,
			ManifestAlias:   r.ManifestAlias,
			Source:          r.Source,
			URL:             r.SourceURL,
			Path:            r.Path,
			Version:         r.Version,
			ResolvedCommit:  r.ResolvedCommit,
			Checksum:        r.ContentHash,
			ContextChecksum: r.ContextHash,
			Tool:            r.Tool,
			Filename:        r.Filename,
			Target:          r.Target,
			InstalledAt:     r.InstalledAt,
			Dependencies:    append([]string{}, r.Edges...),
			AppliedPatches:  r.AppliedPatches,
			VariantInputs:   r.TemplateVars,
		}
		sort.Strings(entry.Dependencies)
		typeSegment := typeSegmentOf(r.CanonicalName)
		byType[typeSegment] = append(byType[typeSegment], entry)
	}
	for t, entries := range byType {
		sort.Slice(entries, func(i, j int) bool {
			if entries[i].Name != entries[j].Name {
				return entries[i].Name < entries[j].Name
			}
			return fmt.Sprint(entries[i].VariantInputs) < fmt.Sprint(entries[j].VariantInputs)
		})
		switch t {
		case "agents":
			lf.Agents = entries
		case "snippets":
			lf.Snippets = entries
		case "commands":
			lf.Commands = entries
		case "mcp-servers":
			lf.MCPServers = entries
		case "skills":
			lf.Skills = entries
		}
	}
	return lf
}

func typeSegmentOf(canonicalName string) string {
	for i, r := range canonicalName {
		if r == '/' {
			return canonicalName[:i]
		}
	}
	return canonicalName
}

// Parse decodes a lockfile from dir/agpm.lock. A missing file is not an
// error: it returns a zero-value Lockfile with Version 0, signaling "no
// lockfile yet" to callers deciding whether to freeze or resolve fresh.
func Parse(dir string) (*Lockfile, error) {
	path := filepath.Join(dir, File)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return &Lockfile{}, nil
	}
	var lf Lockfile
	if _, err := toml.DecodeFile(path, &lf); err != nil {
		return nil, agpmerrors.New(agpmerrors.LockfileCorrupt, path, err)
	}
	return &lf, nil
}

// Write atomically serializes lf to dir/agpm.lock (tmp file, fsync,
// rename), per spec.md §5's atomic-write discipline.
func Write(dir string, lf *Lockfile) error {
	var buf bytes.Buffer
	buf.WriteString("# This file is generated by agpm. Do not edit by hand.\n")
	enc := toml.NewEncoder(&buf)
	if err := enc.Encode(lf); err != nil {
		return fmt.Errorf("encoding lockfile: %w", err)
	}

	path := filepath.Join(dir, File)
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("creating lockfile temp file: %w", err)
	}
	if _, err := f.Write(buf.Bytes()); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("writing lockfile temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("fsyncing lockfile temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("closing lockfile temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("renaming lockfile into place: %w", err)
	}
	return nil
}

// AllEntries flattens every resource table, in table order, for callers
// that want the full entry set regardless of type (e.g. staleness checks).
func (l *Lockfile) AllEntries() []Entry {
	var all []Entry
	all = append(all, l.Agents...)
	all = append(all, l.Snippets...)
	all = append(all, l.Commands...)
	all = append(all, l.MCPServers...)
	all = append(all, l.Skills...)
	return all
}
