// Package descriptor loads application descriptions from an applications
// directory. Each application lives in its own subdirectory holding an
// appinfo.json file naming the entry point, icon, and window behavior.
package descriptor

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"

	apperrors "github.com/odvcencio/cardhost/pkg/errors"
)

// DescriptorFile is the per-application metadata file name.
const DescriptorFile = "appinfo.json"

// Description is one application's metadata.
type Description struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	Main       string `json:"main"`
	Icon       string `json:"icon"`
	NoWindow   bool   `json:"noWindow"`
	WindowKind string `json:"type,omitempty"`

	// BasePath is the directory the descriptor was loaded from; empty for
	// descriptions built in code.
	BasePath string `json:"-"`
}

// Headless reports whether the application runs without a visible primary
// window.
func (d Description) Headless() bool { return d.NoWindow }

// EntryPointURL resolves the application's main document to a URL. Absolute
// URLs pass through; relative paths resolve against BasePath as file URLs.
func (d Description) EntryPointURL() string {
	main := d.Main
	if main == "" {
		main = "index.html"
	}
	if strings.Contains(main, "://") {
		return main
	}
	if d.BasePath != "" {
		return "file://" + filepath.Join(d.BasePath, main)
	}
	return "file://" + main
}

// IconURL resolves the icon path the same way as the entry point. Empty when
// the application declares no icon.
func (d Description) IconURL() string {
	if d.Icon == "" {
		return ""
	}
	if strings.Contains(d.Icon, "://") {
		return d.Icon
	}
	if d.BasePath != "" {
		return "file://" + filepath.Join(d.BasePath, d.Icon)
	}
	return "file://" + d.Icon
}

// Validate checks the fields the runtime depends on.
func (d Description) Validate() error {
	if strings.TrimSpace(d.ID) == "" {
		return apperrors.New(apperrors.ErrCodeDescriptorInvalid, "application id is required")
	}
	return nil
}

// Load reads and validates the descriptor inside appDir.
func Load(appDir string) (Description, error) {
	path := filepath.Join(appDir, DescriptorFile)
	data, err := os.ReadFile(path)
	if err != nil {
		return Description{}, apperrors.Wrap(err, apperrors.ErrCodeDescriptorNotFound, "read "+path)
	}
	var desc Description
	if err := json.Unmarshal(data, &desc); err != nil {
		return Description{}, apperrors.Wrap(err, apperrors.ErrCodeDescriptorParse, "parse "+path)
	}
	desc.BasePath = appDir
	if err := desc.Validate(); err != nil {
		return Description{}, err
	}
	return desc, nil
}

// Registry holds the descriptions found under one applications directory.
type Registry struct {
	dir string

	mu   sync.RWMutex
	apps map[string]Description
}

// NewRegistry scans dir and returns the populated registry. A missing or
// empty directory yields an empty registry, not an error.
func NewRegistry(dir string) (*Registry, error) {
	r := &Registry{dir: dir, apps: make(map[string]Description)}
	if err := r.Rescan(); err != nil {
		return nil, err
	}
	return r, nil
}

// Dir returns the applications directory the registry scans.
func (r *Registry) Dir() string { return r.dir }

// Rescan re-reads every descriptor under the applications directory,
// replacing the registry contents. Unparseable descriptors are skipped.
func (r *Registry) Rescan() error {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		if os.IsNotExist(err) {
			r.mu.Lock()
			r.apps = make(map[string]Description)
			r.mu.Unlock()
			return nil
		}
		return apperrors.Wrap(err, apperrors.ErrCodeDescriptorNotFound, "scan "+r.dir)
	}

	apps := make(map[string]Description)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		desc, err := Load(filepath.Join(r.dir, entry.Name()))
		if err != nil {
			continue
		}
		apps[desc.ID] = desc
	}

	r.mu.Lock()
	r.apps = apps
	r.mu.Unlock()
	return nil
}

// Get returns the description for appID.
func (r *Registry) Get(appID string) (Description, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	desc, ok := r.apps[appID]
	return desc, ok
}

// List returns every known description, unordered.
func (r *Registry) List() []Description {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Description, 0, len(r.apps))
	for _, d := range r.apps {
		out = append(out, d)
	}
	return out
}

// Len reports the number of known applications.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.apps)
}
