package bootstrap

import (
	"context"
	"encoding/base64"
	"net/netip"
	"os"
	"path/filepath"
	"time"

	"github.com/go-i2p/go-i2p-core/lib/failure"
	"github.com/go-i2p/go-i2p-core/lib/identity"
	"github.com/go-i2p/go-i2p-core/lib/netdb"
	"github.com/go-i2p/logger"
	"github.com/samber/oops"
	"gopkg.in/yaml.v3"
)

// peerEntry is the YAML layout of one record. The hash is derived from
// the public identity on load.
type peerEntry struct {
	Identity  string    `yaml:"identity"`
	Stream    string    `yaml:"stream,omitempty"`
	Datagram  string    `yaml:"datagram,omitempty"`
	Caps      string    `yaml:"caps,omitempty"`
	Published time.Time `yaml:"published"`
}

type peerFile struct {
	Peers []peerEntry `yaml:"peers"`
}

// FileBootstrap reads peers from a YAML file written by WritePeers.
type FileBootstrap struct {
	path string
}

// NewFileBootstrap returns a source reading path.
func NewFileBootstrap(path string) *FileBootstrap {
	return &FileBootstrap{path: path}
}

// GetPeers implements Bootstrap. Malformed entries are skipped.
func (fb *FileBootstrap) GetPeers(ctx context.Context, n int) ([]netdb.PeerRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, failure.FromContext(err, "bootstrap: file")
	}
	raw, err := os.ReadFile(fb.path)
	if err != nil {
		return nil, failure.Wrap(ErrNoPeers, oops.Wrapf(err, "failed to read peer file %s", fb.path))
	}
	var f peerFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, failure.Wrap(ErrNoPeers, oops.Wrapf(err, "failed to decode peer file %s", fb.path))
	}

	var out []netdb.PeerRecord
	for i, e := range f.Peers {
		if n > 0 && len(out) == n {
			break
		}
		rec, err := e.record()
		if err != nil {
			log.WithFields(logger.Fields{
				"at":    "(FileBootstrap) GetPeers",
				"phase": "bootstrap",
				"entry": i,
				"path":  fb.path,
			}).WithError(err).Warn("skipping peer entry")
			continue
		}
		out = append(out, rec)
	}
	if len(out) == 0 {
		return nil, failure.Wrapf(ErrNoPeers, "%s has no usable peers", fb.path)
	}
	return out, nil
}

func (e peerEntry) record() (netdb.PeerRecord, error) {
	raw, err := base64.StdEncoding.DecodeString(e.Identity)
	if err != nil {
		return netdb.PeerRecord{}, oops.Wrapf(err, "identity")
	}
	pub, err := identity.ParsePublic(raw)
	if err != nil {
		return netdb.PeerRecord{}, err
	}
	var stream, datagram netip.AddrPort
	if e.Stream != "" {
		if stream, err = netip.ParseAddrPort(e.Stream); err != nil {
			return netdb.PeerRecord{}, oops.Wrapf(err, "stream address")
		}
	}
	if e.Datagram != "" {
		if datagram, err = netip.ParseAddrPort(e.Datagram); err != nil {
			return netdb.PeerRecord{}, oops.Wrapf(err, "datagram address")
		}
	}
	if !stream.IsValid() && !datagram.IsValid() {
		return netdb.PeerRecord{}, oops.Errorf("no address")
	}
	return netdb.NewPeerRecord(pub, stream, datagram, e.Caps, e.Published), nil
}

// WritePeers writes records to path in the format FileBootstrap reads.
func WritePeers(path string, peers []netdb.PeerRecord) error {
	f := peerFile{Peers: make([]peerEntry, 0, len(peers))}
	for _, rec := range peers {
		e := peerEntry{
			Identity:  base64.StdEncoding.EncodeToString(rec.Identity().Bytes()),
			Caps:      rec.Caps,
			Published: rec.Published.UTC(),
		}
		if rec.StreamAddr.IsValid() {
			e.Stream = rec.StreamAddr.String()
		}
		if rec.DatagramAddr.IsValid() {
			e.Datagram = rec.DatagramAddr.String()
		}
		f.Peers = append(f.Peers, e)
	}
	out, err := yaml.Marshal(f)
	if err != nil {
		return oops.Wrapf(err, "failed to encode peers")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return oops.Wrapf(err, "failed to create peer file directory")
	}
	return os.WriteFile(path, out, 0o600)
}
