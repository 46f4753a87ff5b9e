package replset

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ClusterTime is the logical clock gossips on every message:
// a timestamp plus the term it was generated under. It never goes
// backward — Advance only ever moves it forward.
type ClusterTime struct {
	Timestamp uint64
	Term      uint64
}

// After reports whether t sorts strictly after other.
func (t ClusterTime) After(other ClusterTime) bool {
	if t.Timestamp != other.Timestamp {
		return t.Timestamp > other.Timestamp
	}
	return t.Term > other.Term
}

// signingKey is one key in the rotation, identified by a uuid.UUID so a
// signed message can name which key produced its signature without
// leaking key material.
type signingKey struct {
	id      uuid.UUID
	secret  [32]byte
	created time.Time
}

// KeyManager signs and verifies gossiped ClusterTime values, rotating its
// active signing key on a fixed cadence. It retains the previous key after
// a rotation so a message signed just before a rotation still verifies.
type KeyManager struct {
	mu       sync.RWMutex
	active   signingKey
	previous *signingKey
	interval time.Duration
}

// NewKeyManager returns a KeyManager with a freshly generated initial key,
// rotating every interval once Start runs.
func NewKeyManager(interval time.Duration) (*KeyManager, error) {
	key, err := newSigningKey()
	if err != nil {
		return nil, err
	}
	return &KeyManager{active: key, interval: interval}, nil
}

func newSigningKey() (signingKey, error) {
	var secret [32]byte
	if _, err := rand.Read(secret[:]); err != nil {
		return signingKey{}, err
	}
	return signingKey{id: uuid.New(), secret: secret, created: time.Now()}, nil
}

// Start runs the rotation ticker until ctx is done.
func (k *KeyManager) Start(ctx context.Context) {
	ticker := time.NewTicker(k.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			k.rotate()
		case <-ctx.Done():
			return
		}
	}
}

func (k *KeyManager) rotate() {
	next, err := newSigningKey()
	if err != nil {
		return // keep the current key rather than leave KeyManager keyless
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	prev := k.active
	k.previous = &prev
	k.active = next
}

// Sign returns (keyID, signature) for ct under the currently active key.
func (k *KeyManager) Sign(ct ClusterTime) (uuid.UUID, []byte) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.active.id, signWith(k.active.secret, ct)
}

// Verify reports whether sig is a valid signature of ct under keyID,
// checking both the active and the immediately previous key.
func (k *KeyManager) Verify(ct ClusterTime, keyID uuid.UUID, sig []byte) bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	if keyID == k.active.id {
		return hmac.Equal(sig, signWith(k.active.secret, ct))
	}
	if k.previous != nil && keyID == k.previous.id {
		return hmac.Equal(sig, signWith(k.previous.secret, ct))
	}
	return false
}

func signWith(secret [32]byte, ct ClusterTime) []byte {
	mac := hmac.New(sha256.New, secret[:])
	var buf [16]byte
	putUint64(buf[0:8], ct.Timestamp)
	putUint64(buf[8:16], ct.Term)
	mac.Write(buf[:])
	return mac.Sum(nil)
}

func putUint64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (56 - 8*i))
	}
}
