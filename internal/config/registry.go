// Package config persists the accounts manager's registry file, the
// single source of truth for which accounts exist and which ids were
// ever handed out.
package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// RegistryName is the registry file inside the accounts directory.
const RegistryName = "accounts.toml"

// Entry describes one account in the registry.
type Entry struct {
	ID     uint32 `toml:"id"`
	Dir    string `toml:"dir"`
	Closed bool   `toml:"closed"`
}

// Registry is the manager-wide account index. NextID only ever grows, so
// account ids are never reused within the manager's lifetime.
type Registry struct {
	NextID          uint32  `toml:"next_id"`
	PushDeviceToken string  `toml:"push_device_token,omitempty"`
	Accounts        []Entry `toml:"accounts"`
}

// LoadRegistry reads the registry from dir. A missing file yields an
// empty registry starting at id 1.
func LoadRegistry(dir string) (*Registry, error) {
	path := filepath.Join(dir, RegistryName)
	var reg Registry
	_, err := toml.DecodeFile(path, &reg)
	if os.IsNotExist(err) {
		return &Registry{NextID: 1}, nil
	}
	if err != nil {
		return nil, err
	}
	if reg.NextID == 0 {
		reg.NextID = 1
	}
	return &reg, nil
}

// SaveRegistry writes the registry to dir atomically enough for a
// single-writer manager: temp file then rename.
func SaveRegistry(dir string, reg *Registry) error {
	path := filepath.Join(dir, RegistryName)
	tmp, err := os.CreateTemp(dir, ".registry-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	encErr := toml.NewEncoder(tmp).Encode(reg)
	if closeErr := tmp.Close(); closeErr != nil && encErr == nil {
		encErr = closeErr
	}
	if encErr != nil {
		_ = os.Remove(tmpPath)
		return encErr
	}
	return os.Rename(tmpPath, path)
}

// Find returns the entry for an account id, or nil.
func (r *Registry) Find(accountID uint32) *Entry {
	for i := range r.Accounts {
		if r.Accounts[i].ID == accountID {
			return &r.Accounts[i]
		}
	}
	return nil
}

// Remove drops the entry for an account id. Reports whether it existed.
func (r *Registry) Remove(accountID uint32) bool {
	for i := range r.Accounts {
		if r.Accounts[i].ID == accountID {
			r.Accounts = append(r.Accounts[:i], r.Accounts[i+1:]...)
			return true
		}
	}
	return false
}
