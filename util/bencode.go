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

package util

import (
	"bytes"
	"encoding/hex"
	"slices"
	"strconv"
	"time"
)

func bencodeWriteInt64[T ~int64 | ~int](buf *bytes.Buffer, v T) {
	// Static allocation, length of max int64
	var lenBuf [20]byte

	buf.Write(strconv.AppendInt(lenBuf[:0], int64(v), 10))
}

func bencodeWriteString[T ~string | ~[]byte](buf *bytes.Buffer, v T) {
	bencodeWriteInt64(buf, len(v))
	buf.WriteByte(':')
	buf.Write([]byte(v))
}

func bencodeWriteNumber[T ~int64 | ~int](buf *bytes.Buffer, v T) {
	buf.WriteByte('i')
	bencodeWriteInt64(buf, v)
	buf.WriteByte('e')
}

func BencodeFailure(buf *bytes.Buffer, err string, interval time.Duration) {
	if interval < 0 {
		panic("bencode: negative interval")
	}

	buf.WriteByte('d')

	bencodeWriteString(buf, "failure reason")
	bencodeWriteString(buf, err)

	if interval > 0 {
		bencodeWriteString(buf, "interval")
		bencodeWriteNumber(buf, interval/time.Second)

		bencodeWriteString(buf, "min interval")
		bencodeWriteNumber(buf, interval/time.Second)
	}

	buf.WriteByte('e')
}

// BencodeSortHexKeys sorts pre-hex-encoded info_hash keys, required since
// the scrape response's "files" dict must be written in sorted key order
// (bencode dicts are sorted by the spec, and neither writer here builds a
// real map to sort for it).
func BencodeSortHexKeys(keys []string) {
	slices.Sort(keys)
}

// BencodeScrapeHeader writes the scrape header. Call BencodeScrapeTorrent
// per torrent afterwards, then finish with BencodeScrapeFooter.
func BencodeScrapeHeader(buf *bytes.Buffer) {
	buf.WriteByte('d')

	bencodeWriteString(buf, "files")

	buf.WriteByte('d')
}

func BencodeScrapeTorrent(buf *bytes.Buffer, infoHashHex string, complete, downloaded, incomplete int64) {
	raw, err := hex.DecodeString(infoHashHex)
	if err != nil {
		panic(err)
	}

	bencodeWriteString(buf, raw)

	buf.WriteByte('d')

	bencodeWriteString(buf, "complete")
	bencodeWriteNumber(buf, complete)

	bencodeWriteString(buf, "downloaded")
	bencodeWriteNumber(buf, downloaded)

	bencodeWriteString(buf, "incomplete")
	bencodeWriteNumber(buf, incomplete)

	buf.WriteByte('e')
}

func BencodeScrapeFooter(buf *bytes.Buffer, scrapeInterval int) {
	buf.WriteByte('e')

	bencodeWriteString(buf, "flags")

	buf.WriteByte('d')

	bencodeWriteString(buf, "min_request_interval")
	bencodeWriteNumber(buf, scrapeInterval)

	buf.WriteByte('e')

	buf.WriteByte('e')
}

// BencodeAnnounceHeader writes the announce header. Call
// BencodeAnnouncePeers afterwards, then finish with BencodeAnnounceFooter.
func BencodeAnnounceHeader(buf *bytes.Buffer, complete, incomplete, downloaded int64, interval, minInterval int) {
	buf.WriteByte('d')

	bencodeWriteString(buf, "complete")
	bencodeWriteNumber(buf, complete)

	bencodeWriteString(buf, "downloaded")
	bencodeWriteNumber(buf, downloaded)

	bencodeWriteString(buf, "incomplete")
	bencodeWriteNumber(buf, incomplete)

	bencodeWriteString(buf, "interval")
	bencodeWriteNumber(buf, interval)

	bencodeWriteString(buf, "min interval")
	bencodeWriteNumber(buf, minInterval)
}

// AnnouncePeer is the subset of swarm.Peer the response writer needs,
// decoupling util from the swarm package.
type AnnouncePeer struct {
	ID       [20]byte
	IP       string
	Port     uint16
	Compact4 []byte // 6 bytes (IPv4 address, then big-endian port); nil unless the peer is IPv4 and eligible for the compact form
}

// BencodeAnnouncePeers writes the peer list. compact4 requests BEP-23
// packed IPv4 peers (peers missing Compact4, i.e. IPv6, are silently
// dropped from that list per §1 Non-goals: no BEP-7 compact IPv6); the
// non-compact form returns every peer as a legacy dict, IPv4 and IPv6
// alike.
func BencodeAnnouncePeers(buf *bytes.Buffer, peers []AnnouncePeer, compact4, peerID bool) {
	bencodeWriteString(buf, "peers")

	if compact4 {
		n := 0
		for _, p := range peers {
			if p.Compact4 != nil {
				n++
			}
		}

		bencodeWriteInt64(buf, n*6)
		buf.WriteByte(':')

		for _, p := range peers {
			if p.Compact4 != nil {
				buf.Write(p.Compact4)
			}
		}

		return
	}

	buf.WriteByte('l')

	for _, p := range peers {
		buf.WriteByte('d')

		bencodeWriteString(buf, "ip")
		bencodeWriteString(buf, p.IP)

		if peerID {
			bencodeWriteString(buf, "peer id")
			bencodeWriteString(buf, p.ID[:])
		}

		bencodeWriteString(buf, "port")
		bencodeWriteNumber(buf, int64(p.Port))

		buf.WriteByte('e')
	}

	buf.WriteByte('e')
}

func BencodeAnnounceFooter(buf *bytes.Buffer) {
	buf.WriteByte('e')
}
