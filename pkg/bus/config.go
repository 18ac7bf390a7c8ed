package bus

import (
	"fmt"
	"net"
	"time"

	"github.com/reliacast/mbus/internal/clock"
	"github.com/reliacast/mbus/pkg/cipher"
	"github.com/reliacast/mbus/pkg/constants"
	"golang.org/x/crypto/scrypt"
)

// defaultCipherSalt is used to derive a key from Config.CipherPassphrase
// when Config.CipherSalt is not set. It is a fixed, public value: scrypt
// here is an ergonomic alternative to typing 56 raw key bytes, not a
// secure key-exchange mechanism, so a shared fixed salt is appropriate —
// every peer in a swarm must supply the identical passphrase (and salt,
// if overridden) to derive the same Blowfish key.
var defaultCipherSalt = []byte("mbus-v1-default-salt")

// Config configures a Bus instance.
type Config struct {
	// GroupAddr is the multicast group address and port, e.g.
	// "239.1.2.3:23572". Required.
	GroupAddr string

	// Interface selects which local network interface joins the group;
	// nil lets the kernel choose.
	Interface *net.Interface

	// CipherKey, if non-empty, enables Blowfish-ECB encryption of DATA
	// payloads using this raw key (1..56 bytes). Mutually exclusive with
	// CipherPassphrase.
	CipherKey []byte

	// CipherPassphrase, if set, derives CipherKey via scrypt instead of
	// requiring raw key bytes. Mutually exclusive with CipherKey.
	CipherPassphrase string

	// CipherSalt overrides the scrypt salt used with CipherPassphrase.
	// Every peer deriving the same key must use the same salt.
	CipherSalt []byte

	HeartbeatInterval  time.Duration
	NAKInitialDelay    time.Duration
	NAKBackoffBase     time.Duration
	NAKBackoffCap      time.Duration
	NAKDeadline        time.Duration
	PeerIdleTimeout    time.Duration
	RetransmitRingSize int
	MaxPacketBytes     int

	// Clock overrides the time source, for deterministic tests.
	Clock clock.Clock
}

type resolvedConfig struct {
	groupAddr          string
	iface              *net.Interface
	cipher             *cipher.Cipher
	heartbeatInterval  time.Duration
	nakInitialDelay    time.Duration
	nakBackoffBase     time.Duration
	nakBackoffCap      time.Duration
	nakDeadline        time.Duration
	peerIdleTimeout    time.Duration
	retransmitRingSize int
	maxPacketBytes     int
	clock              clock.Clock
}

func resolve(cfg Config) (*resolvedConfig, error) {
	if cfg.GroupAddr == "" {
		return nil, fmt.Errorf("bus: GroupAddr is required")
	}
	if len(cfg.CipherKey) > 0 && cfg.CipherPassphrase != "" {
		return nil, fmt.Errorf("bus: CipherKey and CipherPassphrase are mutually exclusive")
	}

	var c *cipher.Cipher
	switch {
	case len(cfg.CipherKey) > 0:
		var err error
		c, err = cipher.New(cfg.CipherKey)
		if err != nil {
			return nil, fmt.Errorf("bus: CipherKey: %w", err)
		}
	case cfg.CipherPassphrase != "":
		salt := cfg.CipherSalt
		if len(salt) == 0 {
			salt = defaultCipherSalt
		}
		key, err := scrypt.Key([]byte(cfg.CipherPassphrase), salt, 32768, 8, 1, 32)
		if err != nil {
			return nil, fmt.Errorf("bus: deriving key from CipherPassphrase: %w", err)
		}
		c, err = cipher.New(key)
		if err != nil {
			return nil, fmt.Errorf("bus: derived CipherPassphrase key: %w", err)
		}
	}

	rc := &resolvedConfig{
		groupAddr:          cfg.GroupAddr,
		iface:              cfg.Interface,
		cipher:             c,
		heartbeatInterval:  orDefault(cfg.HeartbeatInterval, constants.DefaultHeartbeatInterval),
		nakInitialDelay:    orDefault(cfg.NAKInitialDelay, constants.DefaultNAKInitialDelay),
		nakBackoffBase:     orDefault(cfg.NAKBackoffBase, constants.DefaultNAKBackoffBase),
		nakBackoffCap:      orDefault(cfg.NAKBackoffCap, constants.DefaultNAKBackoffCap),
		nakDeadline:        orDefault(cfg.NAKDeadline, constants.DefaultNAKDeadline),
		peerIdleTimeout:    orDefault(cfg.PeerIdleTimeout, constants.DefaultPeerIdleTimeout),
		retransmitRingSize: cfg.RetransmitRingSize,
		maxPacketBytes:     cfg.MaxPacketBytes,
		clock:              cfg.Clock,
	}
	if rc.retransmitRingSize == 0 {
		rc.retransmitRingSize = constants.DefaultRetransmitRingSize
	}
	if rc.maxPacketBytes == 0 {
		rc.maxPacketBytes = constants.DefaultMaxPacketBytes
	}
	if rc.clock == nil {
		rc.clock = clock.Real{}
	}

	return rc, nil
}

func orDefault(d, fallback time.Duration) time.Duration {
	if d == 0 {
		return fallback
	}
	return d
}
