package chain

import (
	"bytes"
	"encoding/hex"
	"fmt"
)

// StaticProfile is a Profile fixed at startup from configuration.
type StaticProfile struct {
	id         string
	firstBlock uint64
	magic      []byte
	opCodes    []byte
}

// NewStaticProfile builds a profile. magicHex is the hex-encoded payload prefix and
// opCodes the set of operation bytes expected right after it (empty accepts any).
func NewStaticProfile(id string, firstBlock uint64, magicHex string, opCodes string) (*StaticProfile, error) {
	magic, err := hex.DecodeString(magicHex)
	if err != nil {
		return nil, fmt.Errorf("decode magic bytes %q: %w", magicHex, err)
	}
	return &StaticProfile{
		id:         id,
		firstBlock: firstBlock,
		magic:      magic,
		opCodes:    []byte(opCodes),
	}, nil
}

// ChainID returns the profile name.
func (p *StaticProfile) ChainID() string { return p.id }

// FirstBlock returns the first height that can carry operations.
func (p *StaticProfile) FirstBlock() uint64 { return p.firstBlock }

// MagicBytes returns a copy of the payload prefix.
func (p *StaticProfile) MagicBytes() []byte { return bytes.Clone(p.magic) }

// OpCodes returns a copy of the accepted operation bytes; empty accepts any.
func (p *StaticProfile) OpCodes() []byte { return bytes.Clone(p.opCodes) }
