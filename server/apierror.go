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

import "time"

// taxonomy is the error classification from §7: every rejection the
// announce/scrape/admin handlers can produce maps onto one of these, which
// in turn decides the bencoded failure's retry interval.
type taxonomy uint8

const (
	configInvalid taxonomy = iota
	dbUnreachable
	parseRejected
	authRejected
	policyRejected
	notFound
	internalAbortable
)

// apiError carries a client-facing bencode failure message alongside the
// taxonomy tag, so callers can log the tag while the handler only ever
// writes the message back on the wire.
type apiError struct {
	class   taxonomy
	message string
}

func (e *apiError) Error() string { return e.message }

func newAPIError(class taxonomy, message string) *apiError {
	return &apiError{class: class, message: message}
}

// retryInterval is the "min interval"/"interval" value written alongside a
// failure reason (BEP-3 doesn't mandate one, but clients back off better
// with it set). Matches the retry hints the teacher hard-coded per failure
// site in the old server/announce.go.
func (c taxonomy) retryInterval() time.Duration {
	switch c {
	case parseRejected, authRejected, policyRejected, configInvalid:
		return time.Hour
	case notFound:
		return 30 * time.Second
	case dbUnreachable, internalAbortable:
		return 5 * time.Minute
	default:
		return time.Hour
	}
}
