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
	"encoding/hex"
	"encoding/json"

	"github.com/jinzhu/copier"
	"github.com/valyala/fasthttp"

	"unit3d-announce/config"
	"unit3d-announce/swarm"
)

// respondAdmin implements §4.7: every admin route is guarded by the same
// APIKEY, decodes a JSON payload, and mutates exactly one reference cache
// atomically. None of these touch the peer store directly.
func (h *httpHandler) respondAdmin(ctx *fasthttp.RequestCtx, key, action, rest string, buf *bytes.Buffer) int {
	if !checkAdminKey(key) {
		writeJSONError(ctx, buf, fasthttp.StatusForbidden, "invalid API key")
		return fasthttp.StatusForbidden
	}

	switch action {
	case "config":
		if rest != "reload" {
			writeJSONError(ctx, buf, fasthttp.StatusNotFound, "unknown config route")
			return fasthttp.StatusNotFound
		}

		return h.adminConfigReload(ctx, buf)
	case "stats":
		return h.adminStats(ctx, buf)
	case "users":
		return h.adminUsers(ctx, buf)
	case "torrents":
		return h.adminTorrents(ctx, buf)
	case "groups":
		return h.adminGroups(ctx, buf)
	case "blacklist":
		return h.adminBlacklist(ctx, buf)
	case "featured":
		return h.adminFeatured(ctx, buf)
	case "freeleech_token":
		return h.adminFreeleechToken(ctx, buf)
	case "personal_freeleech":
		return h.adminPersonalFreeleech(ctx, buf)
	case "hit_and_run":
		return h.adminHitAndRun(ctx, buf)
	default:
		writeJSONError(ctx, buf, fasthttp.StatusNotFound, "unknown admin route")
		return fasthttp.StatusNotFound
	}
}

func writeJSONOK(buf *bytes.Buffer) {
	buf.WriteString(`{"status":"ok"}`)
}

func writeJSONError(ctx *fasthttp.RequestCtx, buf *bytes.Buffer, status int, msg string) {
	ctx.SetStatusCode(status)

	res, _ := json.Marshal(struct {
		Error string `json:"error"`
	}{Error: msg})

	buf.Write(res)
}

func decodeJSON(ctx *fasthttp.RequestCtx, v any) bool {
	return json.Unmarshal(ctx.PostBody(), v) == nil
}

// adminConfigReload re-reads config.json (§4.7's config/reload route).
func (h *httpHandler) adminConfigReload(ctx *fasthttp.RequestCtx, buf *bytes.Buffer) int {
	if _, err := config.Reload(); err != nil {
		writeJSONError(ctx, buf, fasthttp.StatusInternalServerError, err.Error())
		return fasthttp.StatusInternalServerError
	}

	writeJSONOK(buf)

	return fasthttp.StatusOK
}

// adminStats is the plain-JSON admin snapshot SPEC_FULL.md adds alongside
// the Prometheus gauges, for operators without a scraper in front of them.
func (h *httpHandler) adminStats(ctx *fasthttp.RequestCtx, buf *bytes.Buffer) int {
	res, err := json.Marshal(h.st.Stats())
	if err != nil {
		writeJSONError(ctx, buf, fasthttp.StatusInternalServerError, err.Error())
		return fasthttp.StatusInternalServerError
	}

	buf.Write(res)

	return fasthttp.StatusOK
}

// userPayload is the admin CRUD wire shape for users; zero-valued fields
// are left alone on an existing cache row by copier's IgnoreEmpty option,
// the same partial-update semantics UNIT3D's own admin panel relies on
// when it PATCHes a single column.
type userPayload struct {
	ID                  uint32 `json:"id"`
	GroupID             uint32 `json:"group_id"`
	Passkey             string `json:"passkey"`
	CanDownload         bool   `json:"can_download"`
	IsLifetimeFreeleech bool   `json:"is_lifetime_freeleech"`
	TrackHide           bool   `json:"track_hide"`
	Delete              bool   `json:"delete"`
}

type userRecord struct {
	ID                  uint32
	GroupID             uint32
	Passkey             string
	CanDownload         bool
	IsLifetimeFreeleech bool
	TrackHide           bool
}

func (h *httpHandler) adminUsers(ctx *fasthttp.RequestCtx, buf *bytes.Buffer) int {
	var p userPayload
	if !decodeJSON(ctx, &p) || p.ID == 0 {
		writeJSONError(ctx, buf, fasthttp.StatusBadRequest, "malformed user payload")
		return fasthttp.StatusBadRequest
	}

	if p.Delete {
		h.st.AdminDeleteUser(swarm.UserID(p.ID))
		writeJSONOK(buf)

		return fasthttp.StatusOK
	}

	rec := userRecord{CanDownload: true}
	if existing, ok := h.st.UserByID(swarm.UserID(p.ID)); ok {
		rec = userRecord{
			ID:                  uint32(existing.ID),
			GroupID:             uint32(existing.GroupID),
			Passkey:             string(existing.Passkey),
			CanDownload:         existing.CanDownload.Load(),
			IsLifetimeFreeleech: existing.IsLifetimeFreeleech.Load(),
			TrackHide:           existing.TrackHide.Load(),
		}
	}

	if err := copier.CopyWithOption(&rec, &p, copier.Option{IgnoreEmpty: true}); err != nil {
		writeJSONError(ctx, buf, fasthttp.StatusInternalServerError, err.Error())
		return fasthttp.StatusInternalServerError
	}

	if rec.Passkey == "" || !swarm.ValidPasskey(rec.Passkey) {
		writeJSONError(ctx, buf, fasthttp.StatusBadRequest, "malformed or missing passkey")
		return fasthttp.StatusBadRequest
	}

	h.st.AdminUpsertUser(swarm.UserID(p.ID), swarm.GroupID(rec.GroupID), swarm.Passkey(rec.Passkey), rec.CanDownload, rec.IsLifetimeFreeleech, rec.TrackHide)
	writeJSONOK(buf)

	return fasthttp.StatusOK
}

type torrentPayload struct {
	ID             uint32 `json:"id"`
	InfoHash       string `json:"info_hash"`
	Status         uint32 `json:"status"`
	IsDeleted      bool   `json:"is_deleted"`
	UploadFactor   uint32 `json:"upload_factor"`
	DownloadFactor uint32 `json:"download_factor"`
	Delete         bool   `json:"delete"`
}

type torrentRecord struct {
	ID             uint32
	Status         uint32
	IsDeleted      bool
	UploadFactor   uint32
	DownloadFactor uint32
}

func (h *httpHandler) adminTorrents(ctx *fasthttp.RequestCtx, buf *bytes.Buffer) int {
	var p torrentPayload
	if !decodeJSON(ctx, &p) || p.ID == 0 {
		writeJSONError(ctx, buf, fasthttp.StatusBadRequest, "malformed torrent payload")
		return fasthttp.StatusBadRequest
	}

	if p.Delete {
		h.st.AdminDeleteTorrent(swarm.TorrentID(p.ID))
		writeJSONOK(buf)

		return fasthttp.StatusOK
	}

	existing, hasExisting := h.st.TorrentByID(swarm.TorrentID(p.ID))

	var infoHash swarm.InfoHash

	raw, err := hex.DecodeString(p.InfoHash)
	switch {
	case err == nil && len(raw) == len(swarm.InfoHash{}):
		copy(infoHash[:], raw)
	case hasExisting:
		infoHash = existing.InfoHash
	default:
		writeJSONError(ctx, buf, fasthttp.StatusBadRequest, "malformed or missing info_hash")
		return fasthttp.StatusBadRequest
	}

	rec := torrentRecord{UploadFactor: 100, DownloadFactor: 100}
	if hasExisting {
		rec = torrentRecord{
			ID:             uint32(existing.ID),
			Status:         existing.Status.Load(),
			IsDeleted:      existing.IsDeleted.Load(),
			UploadFactor:   existing.UploadFactor.Load(),
			DownloadFactor: existing.DownloadFactor.Load(),
		}
	}

	if err := copier.CopyWithOption(&rec, &p, copier.Option{IgnoreEmpty: true}); err != nil {
		writeJSONError(ctx, buf, fasthttp.StatusInternalServerError, err.Error())
		return fasthttp.StatusInternalServerError
	}

	h.st.AdminUpsertTorrent(swarm.TorrentID(p.ID), infoHash, swarm.Status(rec.Status), rec.IsDeleted, rec.UploadFactor, rec.DownloadFactor)
	writeJSONOK(buf)

	return fasthttp.StatusOK
}

type groupPayload struct {
	ID                 uint32 `json:"id"`
	DownloadSlotsLimit int    `json:"download_slots_limit"`
	IsImmune           bool   `json:"is_immune"`
	IsFreeleech        bool   `json:"is_freeleech"`
	IsDoubleUpload     bool   `json:"is_double_upload"`
}

func (h *httpHandler) adminGroups(ctx *fasthttp.RequestCtx, buf *bytes.Buffer) int {
	var p groupPayload
	if !decodeJSON(ctx, &p) || p.ID == 0 {
		writeJSONError(ctx, buf, fasthttp.StatusBadRequest, "malformed group payload")
		return fasthttp.StatusBadRequest
	}

	g := &swarm.Group{}
	if err := copier.Copy(g, &p); err != nil {
		writeJSONError(ctx, buf, fasthttp.StatusInternalServerError, err.Error())
		return fasthttp.StatusInternalServerError
	}

	g.ID = swarm.GroupID(p.ID)

	h.st.AdminUpsertGroup(g)
	writeJSONOK(buf)

	return fasthttp.StatusOK
}

type blacklistPayload struct {
	Prefixes []string `json:"prefixes"`
}

// adminBlacklist replaces the whole blacklisted-client-prefix set in one
// shot (§4.2's "blacklist is a set of client-id byte-prefixes"); there's
// no per-entry add/remove route since UNIT3D always ships the full list.
func (h *httpHandler) adminBlacklist(ctx *fasthttp.RequestCtx, buf *bytes.Buffer) int {
	var p blacklistPayload
	if !decodeJSON(ctx, &p) {
		writeJSONError(ctx, buf, fasthttp.StatusBadRequest, "malformed blacklist payload")
		return fasthttp.StatusBadRequest
	}

	prefixes := make([][]byte, len(p.Prefixes))
	for i, s := range p.Prefixes {
		prefixes[i] = []byte(s)
	}

	h.st.AdminSetBlacklist(prefixes)
	writeJSONOK(buf)

	return fasthttp.StatusOK
}

type torrentTogglePayload struct {
	TorrentID uint32 `json:"torrent_id"`
	Active    bool   `json:"active"`
}

func (h *httpHandler) adminFeatured(ctx *fasthttp.RequestCtx, buf *bytes.Buffer) int {
	var p torrentTogglePayload
	if !decodeJSON(ctx, &p) || p.TorrentID == 0 {
		writeJSONError(ctx, buf, fasthttp.StatusBadRequest, "malformed featured payload")
		return fasthttp.StatusBadRequest
	}

	h.st.AdminSetFeatured(swarm.TorrentID(p.TorrentID), p.Active)
	writeJSONOK(buf)

	return fasthttp.StatusOK
}

type userTorrentTogglePayload struct {
	UserID    uint32 `json:"user_id"`
	TorrentID uint32 `json:"torrent_id"`
	Active    bool   `json:"active"`
}

func (h *httpHandler) adminFreeleechToken(ctx *fasthttp.RequestCtx, buf *bytes.Buffer) int {
	var p userTorrentTogglePayload
	if !decodeJSON(ctx, &p) || p.UserID == 0 || p.TorrentID == 0 {
		writeJSONError(ctx, buf, fasthttp.StatusBadRequest, "malformed freeleech token payload")
		return fasthttp.StatusBadRequest
	}

	h.st.AdminSetFreeleechToken(swarm.UserID(p.UserID), swarm.TorrentID(p.TorrentID), p.Active)
	writeJSONOK(buf)

	return fasthttp.StatusOK
}

type userTogglePayload struct {
	UserID uint32 `json:"user_id"`
	Active bool   `json:"active"`
}

func (h *httpHandler) adminPersonalFreeleech(ctx *fasthttp.RequestCtx, buf *bytes.Buffer) int {
	var p userTogglePayload
	if !decodeJSON(ctx, &p) || p.UserID == 0 {
		writeJSONError(ctx, buf, fasthttp.StatusBadRequest, "malformed personal freeleech payload")
		return fasthttp.StatusBadRequest
	}

	h.st.AdminSetPersonalFreeleech(swarm.UserID(p.UserID), p.Active)
	writeJSONOK(buf)

	return fasthttp.StatusOK
}

func (h *httpHandler) adminHitAndRun(ctx *fasthttp.RequestCtx, buf *bytes.Buffer) int {
	var p userTorrentTogglePayload
	if !decodeJSON(ctx, &p) || p.UserID == 0 || p.TorrentID == 0 {
		writeJSONError(ctx, buf, fasthttp.StatusBadRequest, "malformed hit-and-run payload")
		return fasthttp.StatusBadRequest
	}

	h.st.AdminSetHitAndRun(swarm.UserID(p.UserID), swarm.TorrentID(p.TorrentID), p.Active)
	writeJSONOK(buf)

	return fasthttp.StatusOK
}
