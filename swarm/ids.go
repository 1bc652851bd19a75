/*
 * This file is part of Chihaya.
 *
 * Chihaya is free software: you can redistribute it and/or modify
 * it under the terms of the GNU General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * Chihaya is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License
 * along with Chihaya.  If not, see <http://www.gnu.org/licenses/>.
 */

// Package swarm holds the in-memory swarm state engine: the peer store and
// the transition algorithm that mutates it on every announce.
package swarm

import (
	"encoding/hex"
	"errors"
	"net"
)

// InfoHash is a torrent's 20-byte metadata digest, as it appears on the
// wire in the info_hash announce/scrape parameter.
type InfoHash [20]byte

// PeerID is the 20-byte client-chosen identifier from the peer_id
// parameter. https://www.bittorrent.org/beps/bep_0020.html
type PeerID [20]byte

var errWrongPeerIDSize = errors.New("swarm: wrong peer id size")

func PeerIDFromBytes(b []byte) (id PeerID, err error) {
	if len(b) != len(id) {
		return id, errWrongPeerIDSize
	}

	copy(id[:], b)

	return id, nil
}

// PeerKey uniquely identifies a peer inside one torrent's swarm: the
// (user_id, peer_id) pair from §3. Peers never collide across users
// because the same client binary used by two accounts still announces
// under two different UserIDs.
type PeerKey struct {
	UserID UserID
	PeerID PeerID
}

// TorrentID, UserID and GroupID are the unsigned 32-bit surrogate keys
// used throughout the SQL schema.
type TorrentID uint32
type UserID uint32
type GroupID uint32

// Passkey is the per-user secret embedded in the announce URL path,
// /announce/<passkey>/announce. UNIT3D mints these as 32 lowercase hex
// characters; fixed width lets the router reject malformed paths before
// any cache lookup.
type Passkey string

const PasskeySize = 32

func ValidPasskey(s string) bool {
	if len(s) != PasskeySize {
		return false
	}

	for i := 0; i < len(s); i++ {
		c := s[i]
		if !(c >= '0' && c <= '9') && !(c >= 'a' && c <= 'f') {
			return false
		}
	}

	return true
}

// Addr is a peer's reported (IP, port). IPv4 and IPv6 peers are kept in
// disjoint swarms (§1 Non-goals: no dual-announce merging), so a single
// Addr only ever holds one family; Family reports which.
type Addr struct {
	IP   net.IP
	Port uint16
}

type Family uint8

const (
	FamilyV4 Family = iota
	FamilyV6
)

func (a Addr) Family() Family {
	if a.IP.To4() != nil {
		return FamilyV4
	}

	return FamilyV6
}

// AppendCompact appends the packed wire form of a, 6 bytes for IPv4. It
// panics if a is not an IPv4 address; callers must branch on Family first
// since compact peers6 (BEP-7) is out of scope (§1 Non-goals).
func (a Addr) AppendCompact(buf []byte) []byte {
	v4 := a.IP.To4()
	if v4 == nil {
		panic("swarm: AppendCompact on non-IPv4 address")
	}

	buf = append(buf, v4...)
	buf = append(buf, byte(a.Port>>8), byte(a.Port))

	return buf
}

func HexInfoHash(h InfoHash) string {
	var buf [40]byte
	hex.Encode(buf[:], h[:])

	return string(buf[:])
}
