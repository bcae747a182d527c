package secrets

import (
	"encoding/json"
	"os"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"llmb/patterns"
	"llmb/shared"
)

// =============================================================================
// SESSION STORE
// =============================================================================
//
// Named session profiles (browser storage state) persisted as one JSON file.
// Each blob is sealed individually, so a profile can be read without touching
// the others and the file itself stays inspectable.
//
// =============================================================================

const storeSchemaVersion = "1.0"

type storeFile struct {
	SchemaVersion string            `json:"schemaVersion"`
	SavedAt       time.Time         `json:"savedAt"`
	Profiles      map[string]string `json:"profiles"`
}

// Store holds encrypted session blobs keyed by profile name
type Store struct {
	mu         sync.Mutex
	path       string
	passphrase string
	profiles   map[string]string
	logger     *zap.Logger
}

// NewStore opens the profile file at path, creating state lazily. A missing
// file is an empty store.
func NewStore(path, passphrase string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{
		path:       path,
		passphrase: passphrase,
		profiles:   make(map[string]string),
		logger:     logger,
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, shared.WrapError(shared.ErrCodeUnknown, "read session store", err)
	}

	var file storeFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, shared.WrapError(shared.ErrCodeParseError, "decode session store", err)
	}
	if err := patterns.CheckSchemaVersion(file.SchemaVersion, storeSchemaVersion); err != nil {
		return nil, shared.WrapError(shared.ErrCodeParseError, "session store version", err)
	}
	if file.Profiles != nil {
		s.profiles = file.Profiles
	}
	return s, nil
}

// Load returns the decrypted blob for a profile; ok is false when the
// profile does not exist
func (s *Store) Load(profile string) ([]byte, bool, error) {
	s.mu.Lock()
	envelope, ok := s.profiles[profile]
	s.mu.Unlock()
	if !ok {
		return nil, false, nil
	}

	blob, err := Decrypt(s.passphrase, envelope)
	if err != nil {
		return nil, false, err
	}
	return blob, true, nil
}

// Save seals the blob under the profile name and persists the file
func (s *Store) Save(profile string, blob []byte) error {
	if profile == "" {
		return shared.NewError(shared.ErrCodeInvalidRequest, "profile name is empty")
	}
	envelope, err := Encrypt(s.passphrase, blob)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[profile] = envelope
	return s.persistLocked()
}

// Delete removes a profile
func (s *Store) Delete(profile string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.profiles[profile]; !ok {
		return shared.NewErrorf(shared.ErrCodeInvalidRequest, "unknown session profile: %s", profile)
	}
	delete(s.profiles, profile)
	return s.persistLocked()
}

// Profiles lists profile names, sorted
func (s *Store) Profiles() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.profiles))
	for name := range s.profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *Store) persistLocked() error {
	file := storeFile{
		SchemaVersion: storeSchemaVersion,
		SavedAt:       time.Now().UTC(),
		Profiles:      s.profiles,
	}
	if err := patterns.WriteFileAtomic(s.path, file); err != nil {
		return shared.WrapError(shared.ErrCodeUnknown, "persist session store", err)
	}
	return nil
}
