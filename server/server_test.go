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

	"unit3d-announce/store"
	"unit3d-announce/util"
)

func testStore() *store.Store {
	return store.New(nil, store.QueueBufferSizes{
		History:      16,
		Peer:         16,
		TorrentDelta: 16,
		UserDelta:    16,
		Unregistered: 16,
	})
}

func testHandler() *httpHandler {
	return &httpHandler{
		st:         testStore(),
		bufferPool: util.NewBufferPool(512),
	}
}

func requestCtx(path string) *fasthttp.RequestCtx {
	ctx := &fasthttp.RequestCtx{}
	ctx.Request.SetRequestURI(path)

	return ctx
}

func TestIsAdminAction(t *testing.T) {
	admin := []string{"config", "stats", "users", "torrents", "groups",
		"blacklist", "featured", "freeleech_token", "personal_freeleech", "hit_and_run"}
	for _, action := range admin {
		if !isAdminAction(action) {
			t.Fatalf("%q should be an admin action", action)
		}
	}

	notAdmin := []string{"announce", "scrape", "metrics", "bogus"}
	for _, action := range notAdmin {
		if isAdminAction(action) {
			t.Fatalf("%q should not be an admin action", action)
		}
	}
}

// checkAdminKey rejects everything when no APIKEY is configured, which is
// the default config this test runs against (no config.json on disk).
func TestCheckAdminKeyRejectsWhenUnconfigured(t *testing.T) {
	if checkAdminKey("anything") {
		t.Fatal("checkAdminKey accepted a key with no APIKEY configured")
	}
}

func TestRespondMalformedRoute(t *testing.T) {
	h := testHandler()
	buf := &bytes.Buffer{}

	status := h.respond(requestCtx("/nope"), buf)
	if status != fasthttp.StatusOK {
		t.Fatalf("expected %d, got %d", fasthttp.StatusOK, status)
	}

	if !bytes.Contains(buf.Bytes(), []byte("failure reason")) {
		t.Fatalf("expected a bencoded failure, got %s", buf.Bytes())
	}
}

func TestRespondInvalidPasskey(t *testing.T) {
	h := testHandler()
	buf := &bytes.Buffer{}

	status := h.respond(requestCtx("/announce/not-a-passkey/announce"), buf)
	if status != fasthttp.StatusOK {
		t.Fatalf("expected %d, got %d", fasthttp.StatusOK, status)
	}

	if !bytes.Contains(buf.Bytes(), []byte("invalid passkey")) {
		t.Fatalf("expected an invalid passkey failure, got %s", buf.Bytes())
	}
}

func TestRespondUnknownPasskey(t *testing.T) {
	h := testHandler()
	buf := &bytes.Buffer{}

	passkey := "00000000000000000000000000000000"[:32]

	status := h.respond(requestCtx("/announce/"+passkey+"/announce"), buf)
	if status != fasthttp.StatusOK {
		t.Fatalf("expected %d, got %d", fasthttp.StatusOK, status)
	}

	if !bytes.Contains(buf.Bytes(), []byte("Passkey not found")) {
		t.Fatalf("expected a passkey-not-found failure, got %s", buf.Bytes())
	}
}

func TestServeHTTPAlive(t *testing.T) {
	h := testHandler()
	ctx := requestCtx("/alive")

	h.ServeHTTP(ctx)

	if ctx.Response.StatusCode() != fasthttp.StatusOK {
		t.Fatalf("expected %d, got %d", fasthttp.StatusOK, ctx.Response.StatusCode())
	}

	if !bytes.Contains(ctx.Response.Body(), []byte("uptime")) {
		t.Fatalf("expected the alive response to contain uptime, got %s", ctx.Response.Body())
	}
}

func TestServeHTTPRejectsAfterTerminate(t *testing.T) {
	h := testHandler()
	h.terminate.Store(true)

	ctx := requestCtx("/alive")
	h.ServeHTTP(ctx)

	if ctx.Response.StatusCode() != fasthttp.StatusServiceUnavailable {
		t.Fatalf("expected %d, got %d", fasthttp.StatusServiceUnavailable, ctx.Response.StatusCode())
	}
}
