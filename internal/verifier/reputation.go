package verifier

import (
	_ "embed"
	"fmt"
	"strings"
	"sync"

	"go.yaml.in/yaml/v3"
)

//go:embed data/reputation.yaml
var reputationData []byte

// ReputationDB holds the name sets the reputation check matches against.
// Construct with NewReputationDB; the embedded datasets load once.
type ReputationDB struct {
	mu        sync.RWMutex
	malicious map[string]bool
	popular   []string
	trusted   []string
}

type reputationFile struct {
	Malicious     []string `yaml:"malicious"`
	Popular       []string `yaml:"popular"`
	TrustedScopes []string `yaml:"trusted_scopes"`
}

// NewReputationDB loads the embedded datasets.
func NewReputationDB() (*ReputationDB, error) {
	var file reputationFile
	if err := yaml.Unmarshal(reputationData, &file); err != nil {
		return nil, fmt.Errorf("parsing reputation data: %w", err)
	}

	db := &ReputationDB{
		malicious: make(map[string]bool, len(file.Malicious)),
		popular:   file.Popular,
		trusted:   file.TrustedScopes,
	}
	for _, name := range file.Malicious {
		db.malicious[strings.ToLower(name)] = true
	}
	return db, nil
}

// IsMalicious reports an exact match against the known-malicious set.
func (db *ReputationDB) IsMalicious(name string) bool {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.malicious[strings.ToLower(name)]
}

// AddMalicious extends the malicious set at runtime (tests, operator
// denylists).
func (db *ReputationDB) AddMalicious(name string) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.malicious[strings.ToLower(name)] = true
}

// Popular returns the typosquat comparison targets.
func (db *ReputationDB) Popular() []string {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.popular
}

// TrustedScope reports whether name sits under a trusted publisher scope.
func (db *ReputationDB) TrustedScope(name string) bool {
	db.mu.RLock()
	defer db.mu.RUnlock()
	for _, scope := range db.trusted {
		if strings.HasPrefix(name, scope+"/") {
			return true
		}
	}
	return false
}
