// Package auth implements the identity verifier: token issuance and
// verification against a rotating key set, refresh token rotation and
// argon2id password hashing.
package auth

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
)

// KeySet holds the active token signing keys, keyed by kid. The file
// on disk is a JSON object of kid to hex-encoded secret; rotation
// happens out-of-band by rewriting the file, which the watcher picks
// up without a restart. Tokens signed by any active key verify; new
// tokens are signed with the lexicographically greatest kid.
type KeySet struct {
	mu         sync.RWMutex
	path       string
	keys       map[string][]byte
	signingKid string
}

// LoadKeySet reads the key set file at path.
func LoadKeySet(path string) (*KeySet, error) {
	ks := &KeySet{path: path}
	if err := ks.reload(); err != nil {
		return nil, err
	}
	return ks, nil
}

func (ks *KeySet) reload() error {
	raw, err := os.ReadFile(ks.path)
	if err != nil {
		return errors.Wrap(err, "could not read key set file")
	}
	var entries map[string]string
	if err := json.Unmarshal(raw, &entries); err != nil {
		return errors.Wrap(err, "could not parse key set file")
	}
	if len(entries) == 0 {
		return errors.New("key set file contains no keys")
	}
	keys := make(map[string][]byte, len(entries))
	signingKid := ""
	for kid, hexSecret := range entries {
		secret, err := hex.DecodeString(hexSecret)
		if err != nil {
			return errors.Wrapf(err, "could not decode secret for kid %q", kid)
		}
		keys[kid] = secret
		if kid > signingKid {
			signingKid = kid
		}
	}
	ks.mu.Lock()
	ks.keys = keys
	ks.signingKid = signingKid
	ks.mu.Unlock()
	return nil
}

// Lookup returns the secret for a kid.
func (ks *KeySet) Lookup(kid string) ([]byte, bool) {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	secret, ok := ks.keys[kid]
	return secret, ok
}

// SigningKey returns the kid and secret new tokens are signed with.
func (ks *KeySet) SigningKey() (string, []byte) {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	return ks.signingKid, ks.keys[ks.signingKid]
}

// Watch reloads the key set when the file changes, until the context
// is cancelled.
func (ks *KeySet) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(ks.path); err != nil {
		if cerr := watcher.Close(); cerr != nil {
			log.WithError(cerr).Error("Could not close file watcher")
		}
		return err
	}
	go func() {
		defer func() {
			if err := watcher.Close(); err != nil {
				log.WithError(err).Error("Could not close file watcher")
			}
		}()
		for {
			select {
			case ev := <-watcher.Events:
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if err := ks.reload(); err != nil {
					log.WithError(err).Error("Could not reload key set, keeping previous keys")
					continue
				}
				log.Info("Token signing key set reloaded")
			case err := <-watcher.Errors:
				if err != nil {
					log.WithError(err).Error("Key set watcher error")
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return nil
}
