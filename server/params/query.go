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

// Package params is based on https://github.com/chihaya/chihaya/blob/e6e7269/bittorrent/params.go,
// retargeted to read straight off a fasthttp request's query args instead
// of re-parsing a raw query string — fasthttp.Args already does the
// percent-decoding, so there's no reason to hand-roll it a second time the
// way the old net/http generation of this package did.
package params

import (
	"strconv"

	"github.com/valyala/fasthttp"

	"unit3d-announce/swarm"
)

type QueryParam struct {
	params     map[string]string
	infoHashes []swarm.InfoHash
}

// ParseQuery reads every key out of args. info_hash is special-cased
// because it's the only repeatable key (BEP-3 scrape) and its value is
// raw 20-byte binary rather than text.
func ParseQuery(args *fasthttp.Args) *QueryParam {
	qp := &QueryParam{params: make(map[string]string, args.Len())}

	args.VisitAll(func(key, value []byte) {
		if string(key) == "info_hash" {
			if len(value) == len(swarm.InfoHash{}) {
				var h swarm.InfoHash
				copy(h[:], value)
				qp.infoHashes = append(qp.infoHashes, h)
			}

			return
		}

		qp.params[string(key)] = string(value)
	})

	return qp
}

func (qp *QueryParam) Get(which string) (string, bool) {
	v, ok := qp.params[which]
	return v, ok
}

func (qp *QueryParam) getUint(which string, bitSize int) (uint64, bool) {
	str, ok := qp.params[which]
	if !ok {
		return 0, false
	}

	v, err := strconv.ParseUint(str, 10, bitSize)
	if err != nil {
		return 0, false
	}

	return v, true
}

func (qp *QueryParam) GetUint64(which string) (uint64, bool) {
	return qp.getUint(which, 64)
}

func (qp *QueryParam) GetUint16(which string) (uint16, bool) {
	v, ok := qp.getUint(which, 16)
	return uint16(v), ok
}

func (qp *QueryParam) InfoHashes() []swarm.InfoHash {
	return qp.infoHashes
}
