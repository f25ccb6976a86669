// Package credstore persists named account credential profiles on disk
// with the password field encrypted at rest.
package credstore

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/firdasafridi/gocrypt"
)

// Profile is one stored account. The password is encrypted with the store
// key before it touches disk.
type Profile struct {
	Name     string `json:"name"`
	BaseURL  string `json:"base_url"`
	Username string `json:"username"`
	Password string `json:"password" gocrypt:"aes"`
}

// Store reads and writes credential profiles in a single JSON file.
type Store struct {
	path string
	gc   *gocrypt.Option
}

// NewStore opens a store at path using secretKey for field encryption.
func NewStore(path, secretKey string) (*Store, error) {
	aesOpt, err := gocrypt.NewAESOpt(secretKey)
	if err != nil {
		return nil, fmt.Errorf("credstore: bad encryption key: %w", err)
	}
	return &Store{path: path, gc: &gocrypt.Option{AESOpt: aesOpt}}, nil
}

func (s *Store) load() (map[string]Profile, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]Profile{}, nil
		}
		return nil, err
	}
	profiles := map[string]Profile{}
	if err := json.Unmarshal(data, &profiles); err != nil {
		return nil, fmt.Errorf("credstore: corrupt store %s: %w", s.path, err)
	}
	return profiles, nil
}

func (s *Store) flush(profiles map[string]Profile) error {
	data, err := json.MarshalIndent(profiles, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, data, 0600)
}

// Save encrypts and stores a profile, replacing any profile with the same
// name.
func (s *Store) Save(profile Profile) error {
	if err := gocrypt.New(s.gc).Encrypt(&profile); err != nil {
		return fmt.Errorf("credstore: encrypting profile %s: %w", profile.Name, err)
	}
	profiles, err := s.load()
	if err != nil {
		return err
	}
	profiles[profile.Name] = profile
	return s.flush(profiles)
}

// Get returns the decrypted profile with the given name.
func (s *Store) Get(name string) (Profile, error) {
	profiles, err := s.load()
	if err != nil {
		return Profile{}, err
	}
	profile, ok := profiles[name]
	if !ok {
		return Profile{}, fmt.Errorf("credstore: no profile named %q", name)
	}
	if err := gocrypt.New(s.gc).Decrypt(&profile); err != nil {
		return Profile{}, fmt.Errorf("credstore: decrypting profile %s: %w", name, err)
	}
	return profile, nil
}

// List returns the names of all stored profiles.
func (s *Store) List() ([]string, error) {
	profiles, err := s.load()
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(profiles))
	for name := range profiles {
		names = append(names, name)
	}
	return names, nil
}

// Remove deletes the profile with the given name if it exists.
func (s *Store) Remove(name string) error {
	profiles, err := s.load()
	if err != nil {
		return err
	}
	delete(profiles, name)
	return s.flush(profiles)
}
