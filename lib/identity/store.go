package identity

import (
	"encoding/base64"
	"os"
	"path/filepath"

	"github.com/go-i2p/go-i2p-core/lib/crypto"
	"github.com/go-i2p/go-i2p-core/lib/util"
	"github.com/go-i2p/logger"
	"github.com/samber/oops"
	"gopkg.in/yaml.v3"
)

const fileVersion = 1

// identityFile is the YAML layout of a persisted identity. The hash is
// informational and checked on load.
type identityFile struct {
	Version       int    `yaml:"version"`
	Hash          string `yaml:"hash"`
	SigningSeed   string `yaml:"signing_seed"`
	StaticPrivate string `yaml:"static_private"`
}

// Save writes the identity to path with 0600 permissions, creating the
// parent directory with 0700.
func (id *Identity) Save(path string) error {
	log.WithFields(logger.Fields{
		"at":   "(Identity) Save",
		"path": path,
	}).Debug("storing router identity")

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return oops.Wrapf(err, "failed to create identity directory")
	}
	seed := id.seed()
	defer crypto.Zero(seed)

	out, err := yaml.Marshal(identityFile{
		Version:       fileVersion,
		Hash:          base64.StdEncoding.EncodeToString(id.hash[:]),
		SigningSeed:   base64.StdEncoding.EncodeToString(seed),
		StaticPrivate: base64.StdEncoding.EncodeToString(id.static.Private[:]),
	})
	if err != nil {
		return oops.Wrapf(err, "failed to encode identity")
	}
	defer crypto.Zero(out)
	if err := os.WriteFile(path, out, 0o600); err != nil {
		log.WithError(err).Error("Failed to write identity file")
		return oops.Wrapf(err, "failed to write identity file")
	}
	return nil
}

// Load reads an identity written by Save.
func Load(path string) (*Identity, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, oops.Wrapf(err, "failed to read identity file %s", path)
	}
	defer crypto.Zero(raw)

	var f identityFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, oops.Wrapf(ErrCorruptFile, "%v", err)
	}
	if f.Version != fileVersion {
		return nil, oops.Wrapf(ErrCorruptFile, "unsupported identity file version %d", f.Version)
	}
	seed, err := base64.StdEncoding.DecodeString(f.SigningSeed)
	if err != nil {
		return nil, oops.Wrapf(ErrCorruptFile, "signing seed: %v", err)
	}
	defer crypto.Zero(seed)
	priv, err := base64.StdEncoding.DecodeString(f.StaticPrivate)
	if err != nil || len(priv) != 32 {
		return nil, oops.Wrapf(ErrCorruptFile, "static private key is malformed")
	}
	defer crypto.Zero(priv)

	var static [32]byte
	copy(static[:], priv)
	id, err := FromSeeds(seed, static)
	crypto.Zero32(&static)
	if err != nil {
		return nil, oops.Wrapf(ErrCorruptFile, "%v", err)
	}
	if f.Hash != "" && f.Hash != base64.StdEncoding.EncodeToString(id.hash[:]) {
		id.Zero()
		return nil, ErrHashMismatch
	}
	log.WithFields(logger.Fields{
		"at":   "Load",
		"hash": Short(id.hash),
	}).Debug("loaded router identity")
	return id, nil
}

// LoadOrCreate loads the identity at path, or generates and saves a new one
// when no file exists. An existing but unreadable file is an error so the
// identity is never silently replaced.
func LoadOrCreate(path string) (*Identity, error) {
	if util.CheckFileExists(path) {
		return Load(path)
	}
	id, err := Generate()
	if err != nil {
		return nil, err
	}
	if err := id.Save(path); err != nil {
		id.Zero()
		return nil, err
	}
	return id, nil
}
