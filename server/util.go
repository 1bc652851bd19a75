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

package server

import (
	"bytes"
	"net"

	"unit3d-announce/log"
	"unit3d-announce/util"
)

var privateIPBlocks []*net.IPNet

func init() {
	for _, cidr := range []string{
		"10.0.0.0/8",     // RFC1918
		"172.16.0.0/12",  // RFC1918
		"192.168.0.0/16", // RFC1918
		"169.254.0.0/16", // RFC3927 link-local
		"100.64.0.0/10",  // RFC6598
	} {
		_, block, err := net.ParseCIDR(cidr)
		if err != nil {
			log.Error.Printf("IP parse error on %q: %v", cidr, err)
			log.WriteStack()

			continue
		}

		privateIPBlocks = append(privateIPBlocks, block)
	}
}

// writeFailure writes a bencoded failure dict and returns the apiError
// unchanged, so call sites can do `return writeFailure(buf, err)`.
func writeFailure(buf *bytes.Buffer, err *apiError) *apiError {
	buf.Reset()
	util.BencodeFailure(buf, err.message, err.class.retryInterval())

	return err
}

// isPublicIPv4 reports whether ipAddr parses as an IPv4 address that isn't
// loopback, unspecified, link-local or one of the RFC1918/RFC6598 private
// ranges — a client
// claiming a private address via the ip/ipv4 query params is almost
// certainly misconfigured, so that claim is rejected (§4.4 step 2).
func isPublicIPv4(ipAddr string) bool {
	ip := net.ParseIP(ipAddr)
	if ip == nil || ip.To4() == nil {
		return false
	}

	if ip.IsLoopback() || ip.IsUnspecified() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
		return false
	}

	for _, block := range privateIPBlocks {
		if block.Contains(ip) {
			return false
		}
	}

	return true
}
