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
	"testing"

	"github.com/valyala/fasthttp"

	"unit3d-announce/config"
	"unit3d-announce/store"
	"unit3d-announce/swarm"
)

var (
	testInfoHash = swarm.InfoHash{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16, 17, 18, 19, 20}
	testPeerID   = swarm.PeerID{'-', 'T', 'R', '0', '0', '0', '0', '-', 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}
)

// announceCtx builds a RequestCtx whose query args are set directly on the
// fasthttp.Args the request carries, sidestepping percent-encoding for the
// raw 20-byte info_hash/peer_id values.
func announceCtx(extra map[string]string) *fasthttp.RequestCtx {
	ctx := requestCtx("/announce/x/announce")

	args := ctx.QueryArgs()
	args.Set("info_hash", string(testInfoHash[:]))
	args.Set("peer_id", string(testPeerID[:]))
	args.Set("port", "6881")
	args.Set("uploaded", "0")
	args.Set("downloaded", "0")
	args.Set("left", "0")
	args.Set("ip", "45.128.19.54")

	for k, v := range extra {
		args.Set(k, v)
	}

	return ctx
}

func setupAnnounceFixture(st *store.Store) (*swarm.User, *swarm.Torrent) {
	st.AdminUpsertUser(1, 1, "00000000000000000000000000000001", true, false, false)
	st.AdminUpsertTorrent(1, testInfoHash, swarm.StatusApproved, false, 100, 100)
	st.AdminUpsertGroup(&swarm.Group{ID: 1})

	user, _ := st.UserByID(1)
	torrent, _ := st.TorrentByInfoHash(testInfoHash)

	return user, torrent
}

// S3: an announce from a user holding a freeleech token for this exact
// (user, torrent) goes through as a normal success. The token's effect on
// the download credit is checked in TestCreditedBytesFreeleechPrecedence.
func TestAnnounceFreeleechTokenPrecedence(t *testing.T) {
	st := testStore()
	user, torrent := setupAnnounceFixture(st)

	st.AdminSetFreeleechToken(user.ID, torrent.ID, true)

	buf := &bytes.Buffer{}
	ctx := announceCtx(map[string]string{
		"event":      "started",
		"downloaded": "2048",
		"left":       "1024",
	})

	status := announce(ctx, user, st, buf)
	if status != fasthttp.StatusOK {
		t.Fatalf("expected %d, got %d", fasthttp.StatusOK, status)
	}

	if bytes.Contains(buf.Bytes(), []byte("failure reason")) {
		t.Fatalf("expected a successful announce, got %s", buf.Bytes())
	}
}

// TestCreditedBytesFreeleechPrecedence exercises creditedBytes directly,
// the helper announce() calls to turn a raw swarm.Delta into the bytes
// actually credited to a user's account (§4.4 step 8). Any one of a
// per-(user,torrent) freeleech token, personal freeleech, lifetime
// freeleech, or a freeleech group zeroes the download credit regardless of
// the torrent's own download_factor.
func TestCreditedBytesFreeleechPrecedence(t *testing.T) {
	st := testStore()
	user, torrent := setupAnnounceFixture(st)
	torrent.DownloadFactor.Store(100)

	delta := swarm.Delta{UploadedDelta: 1000, DownloadedDelta: 2000}
	cfg := &config.Config{UploadFactor: 100, DownloadFactor: 100}

	group, _ := st.GroupByID(user.GroupID)

	_, down := creditedBytes(delta, torrent, user, group, st, cfg)
	if down == 0 {
		t.Fatalf("expected nonzero download credit with no freeleech in effect, got %d", down)
	}

	st.AdminSetFreeleechToken(user.ID, torrent.ID, true)

	_, down = creditedBytes(delta, torrent, user, group, st, cfg)
	if down != 0 {
		t.Fatalf("freeleech token should zero the download credit, got %d", down)
	}

	st.AdminSetFreeleechToken(user.ID, torrent.ID, false)

	st.AdminSetPersonalFreeleech(user.ID, true)

	_, down = creditedBytes(delta, torrent, user, group, st, cfg)
	if down != 0 {
		t.Fatalf("personal freeleech should zero the download credit, got %d", down)
	}

	st.AdminSetPersonalFreeleech(user.ID, false)

	user.IsLifetimeFreeleech.Store(true)

	_, down = creditedBytes(delta, torrent, user, group, st, cfg)
	if down != 0 {
		t.Fatalf("lifetime freeleech should zero the download credit, got %d", down)
	}

	user.IsLifetimeFreeleech.Store(false)

	st.AdminUpsertGroup(&swarm.Group{ID: user.GroupID, IsFreeleech: true})
	group, _ = st.GroupByID(user.GroupID)

	_, down = creditedBytes(delta, torrent, user, group, st, cfg)
	if down != 0 {
		t.Fatalf("a freeleech group should zero the download credit, got %d", down)
	}
}

// TestCreditedBytesUploadFactorStacking confirms a plain announce is
// credited at 1x and that featuring the torrent raises the upload factor
// to 200 (maxFactor), doubling the upload credit.
func TestCreditedBytesUploadFactorStacking(t *testing.T) {
	st := testStore()
	user, torrent := setupAnnounceFixture(st)
	torrent.UploadFactor.Store(100)

	delta := swarm.Delta{UploadedDelta: 1000}
	cfg := &config.Config{UploadFactor: 100, DownloadFactor: 100}

	group, _ := st.GroupByID(user.GroupID)

	up, _ := creditedBytes(delta, torrent, user, group, st, cfg)
	if up != 1000 {
		t.Fatalf("expected a plain 1x upload credit, got %d", up)
	}

	st.AdminSetFeatured(torrent.ID, true)

	up, _ = creditedBytes(delta, torrent, user, group, st, cfg)
	if up != 2000 {
		t.Fatalf("expected a featured torrent to double upload credit, got %d", up)
	}
}

// S4: a blacklisted client prefix is rejected before any torrent/user state
// is touched.
func TestAnnounceBlacklistedClient(t *testing.T) {
	st := testStore()
	user, _ := setupAnnounceFixture(st)

	st.AdminSetBlacklist([][]byte{[]byte(testPeerID[:8])})

	buf := &bytes.Buffer{}
	ctx := announceCtx(nil)

	status := announce(ctx, user, st, buf)
	if status != fasthttp.StatusOK {
		t.Fatalf("expected %d, got %d", fasthttp.StatusOK, status)
	}

	if !bytes.Contains(buf.Bytes(), []byte("not allowed")) {
		t.Fatalf("expected a blacklisted-client failure, got %s", buf.Bytes())
	}
}

// S6: announcing against an info_hash the tracker has no torrent for is
// rejected without touching any swarm state, and routes through
// EnqueueUnregistered rather than any torrent/user mutation path. The
// actual counter-folding mechanics of that queue are store package's own
// concern (store/queue_test.go); this only confirms
// announce() takes that branch instead of panicking on a nil torrent.
func TestAnnounceUnregisteredInfoHash(t *testing.T) {
	st := testStore()
	user, _ := setupAnnounceFixture(st)

	unknown := swarm.InfoHash{9, 9, 9, 9, 9, 9, 9, 9, 9, 9, 9, 9, 9, 9, 9, 9, 9, 9, 9, 9}

	buf := &bytes.Buffer{}
	ctx := announceCtx(nil)
	ctx.QueryArgs().Set("info_hash", string(unknown[:]))

	status := announce(ctx, user, st, buf)
	if status != fasthttp.StatusOK {
		t.Fatalf("expected %d, got %d", fasthttp.StatusOK, status)
	}

	if !bytes.Contains(buf.Bytes(), []byte("does not exist")) {
		t.Fatalf("expected a torrent-not-found failure, got %s", buf.Bytes())
	}
}

// Regression: a user with can_download disabled but an open hit-and-run
// against the torrent they're actually announcing must still be let
// through, not rejected by a check against some other torrent.
func TestAnnounceDisabledDownloadWithHitAndRunOnThisTorrent(t *testing.T) {
	st := testStore()
	user, torrent := setupAnnounceFixture(st)

	user.CanDownload.Store(false)
	st.AdminSetHitAndRun(user.ID, torrent.ID, true)

	buf := &bytes.Buffer{}
	ctx := announceCtx(map[string]string{
		"event": "started",
		"left":  "1024",
	})

	status := announce(ctx, user, st, buf)
	if status != fasthttp.StatusOK {
		t.Fatalf("expected %d, got %d", fasthttp.StatusOK, status)
	}

	if bytes.Contains(buf.Bytes(), []byte("download privileges are disabled")) {
		t.Fatalf("hit-and-run against the announced torrent should carve out the disabled-download gate, got %s", buf.Bytes())
	}
}

// Regression: the same disabled-download user, but the open hit-and-run is
// against a different torrent, must still be rejected.
func TestAnnounceDisabledDownloadWithHitAndRunOnAnotherTorrent(t *testing.T) {
	st := testStore()
	user, _ := setupAnnounceFixture(st)

	otherHash := swarm.InfoHash{2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2}
	st.AdminUpsertTorrent(2, otherHash, swarm.StatusApproved, false, 100, 100)
	otherTorrent, _ := st.TorrentByInfoHash(otherHash)

	user.CanDownload.Store(false)
	st.AdminSetHitAndRun(user.ID, otherTorrent.ID, true)

	buf := &bytes.Buffer{}
	ctx := announceCtx(map[string]string{
		"event": "started",
		"left":  "1024",
	})

	status := announce(ctx, user, st, buf)
	if status != fasthttp.StatusOK {
		t.Fatalf("expected %d, got %d", fasthttp.StatusOK, status)
	}

	if !bytes.Contains(buf.Bytes(), []byte("download privileges are disabled")) {
		t.Fatalf("expected a disabled-download failure, got %s", buf.Bytes())
	}
}

// Regression: a group at its slot limit still must let a peer that already
// holds a slot on this exact torrent keep re-announcing it.
func TestAnnounceAlreadyLeechingPastSlotLimit(t *testing.T) {
	st := testStore()
	user, torrent := setupAnnounceFixture(st)

	st.AdminUpsertGroup(&swarm.Group{ID: 1, DownloadSlotsLimit: 1})
	user.NumLeeching.Store(1)

	key := swarm.PeerKey{UserID: user.ID, PeerID: testPeerID}
	peer := &swarm.Peer{Key: key, IsVisible: true, IsActive: true}
	torrent.PeersFor(swarm.FamilyV4).Set(key, peer)

	buf := &bytes.Buffer{}
	ctx := announceCtx(map[string]string{
		"event": "started",
		"left":  "1024",
	})

	status := announce(ctx, user, st, buf)
	if status != fasthttp.StatusOK {
		t.Fatalf("expected %d, got %d", fasthttp.StatusOK, status)
	}

	if bytes.Contains(buf.Bytes(), []byte("slot limit")) {
		t.Fatalf("a peer already holding a slot on this torrent should be exempt from the slot limit, got %s", buf.Bytes())
	}
}

// Regression: a different peer of the same at-limit user, with no existing
// slot on this torrent, is still rejected.
func TestAnnounceSlotLimitRejectsNewPeer(t *testing.T) {
	st := testStore()
	user, _ := setupAnnounceFixture(st)

	st.AdminUpsertGroup(&swarm.Group{ID: 1, DownloadSlotsLimit: 1})
	user.NumLeeching.Store(1)

	buf := &bytes.Buffer{}
	ctx := announceCtx(map[string]string{
		"event": "started",
		"left":  "1024",
	})

	status := announce(ctx, user, st, buf)
	if status != fasthttp.StatusOK {
		t.Fatalf("expected %d, got %d", fasthttp.StatusOK, status)
	}

	if !bytes.Contains(buf.Bytes(), []byte("slot limit")) {
		t.Fatalf("expected a slot-limit failure, got %s", buf.Bytes())
	}
}

// Sanity check that a plain well-formed announce round-trips to a success
// response at all, independent of the policy edge cases above.
func TestAnnounceHappyPath(t *testing.T) {
	st := testStore()
	user, _ := setupAnnounceFixture(st)

	buf := &bytes.Buffer{}
	ctx := announceCtx(map[string]string{
		"event": "started",
		"left":  "1024",
	})

	status := announce(ctx, user, st, buf)
	if status != fasthttp.StatusOK {
		t.Fatalf("expected %d, got %d", fasthttp.StatusOK, status)
	}

	if bytes.Contains(buf.Bytes(), []byte("failure reason")) {
		t.Fatalf("expected a successful announce, got %s", buf.Bytes())
	}

	if !bytes.Contains(buf.Bytes(), []byte("interval")) {
		t.Fatalf("expected a bencoded announce response, got %s", buf.Bytes())
	}
}
