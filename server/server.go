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

// Package server terminates the BitTorrent announce/scrape protocol and
// the admin surface over fasthttp, dispatching onto the store/swarm
// packages for everything stateful (§4.4, §4.7).
package server

import (
	"bytes"
	"context"
	"crypto/subtle"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/valyala/fasthttp"

	"unit3d-announce/config"
	"unit3d-announce/log"
	"unit3d-announce/record"
	"unit3d-announce/store"
	"unit3d-announce/swarm"
	"unit3d-announce/util"
)

type httpHandler struct {
	st *store.Store

	bufferPool *util.BufferPool

	requests uint64

	registerer prometheus.Registerer

	terminate atomic.Bool
	waitGroup sync.WaitGroup
}

// respond implements the §6 wire contract: extract the URL key, dispatch
// on the action segment, and always write a 200 with a bencoded body for
// every announce/scrape outcome (BEP-3 — many clients misbehave on 4xx).
func (h *httpHandler) respond(ctx *fasthttp.RequestCtx, buf *bytes.Buffer) int {
	segments := strings.SplitN(strings.TrimPrefix(string(ctx.Path()), "/"), "/", 4)

	if len(segments) < 3 || segments[0] != "announce" {
		writeFailure(buf, newAPIError(parseRejected, "Malformed request - unknown route"))
		return fasthttp.StatusOK
	}

	key, action, rest := segments[1], segments[2], ""
	if len(segments) == 4 {
		rest = segments[3]
	}

	if isAdminAction(action) {
		return h.respondAdmin(ctx, key, action, rest, buf)
	}

	if !swarm.ValidPasskey(key) {
		writeFailure(buf, newAPIError(authRejected, "Malformed request - invalid passkey"))
		return fasthttp.StatusOK
	}

	user, ok := h.st.UserByPasskey(swarm.Passkey(key))
	if !ok {
		writeFailure(buf, newAPIError(notFound, "Passkey not found"))
		return fasthttp.StatusOK
	}

	switch action {
	case "announce":
		return announce(ctx, user, h.st, buf)
	case "scrape":
		return scrape(ctx, user, h.st, buf)
	case "metrics":
		return h.metrics(ctx, h.st, buf)
	default:
		writeFailure(buf, newAPIError(parseRejected, fmt.Sprintf("Unknown action (%s)", action)))
		return fasthttp.StatusOK
	}
}

func isAdminAction(action string) bool {
	switch action {
	case "config", "stats", "users", "torrents", "groups", "blacklist",
		"featured", "freeleech_token", "personal_freeleech", "hit_and_run":
		return true
	default:
		return false
	}
}

func (h *httpHandler) ServeHTTP(ctx *fasthttp.RequestCtx) {
	if h.terminate.Load() {
		ctx.SetStatusCode(fasthttp.StatusServiceUnavailable)
		return
	}

	h.waitGroup.Add(1)
	defer h.waitGroup.Done()

	defer func() {
		if r := recover(); r != nil {
			log.Error.Printf("ServeHTTP panic - %v", r)
			log.WriteStack()

			ctx.SetStatusCode(fasthttp.StatusInternalServerError)
		}
	}()

	buf := h.bufferPool.Take()
	defer h.bufferPool.Give(buf)

	if string(ctx.Path()) == "/alive" {
		status := alive(ctx, h.st, buf)
		ctx.SetStatusCode(status)
		ctx.SetBody(buf.Bytes())

		return
	}

	status := h.respond(ctx, buf)

	ctx.Response.Header.Set("Content-Type", "text/plain")
	ctx.SetStatusCode(status)
	ctx.SetBody(buf.Bytes())

	atomic.AddUint64(&h.requests, 1)
}

// checkAdminKey implements §4.7's APIKEY guard with a constant-time
// comparison — passkeys already get a cheap length+charset check, but the
// admin key protects destructive cache mutations and is worth the extra
// care against timing side channels.
func checkAdminKey(key string) bool {
	cfg := config.Current()
	if cfg.APIKey == "" {
		return false
	}

	return subtle.ConstantTimeCompare([]byte(key), []byte(cfg.APIKey)) == 1
}

var listener net.Listener

func Listen(ctx context.Context, st *store.Store, registerer prometheus.Registerer) error {
	h := &httpHandler{
		st:         st,
		bufferPool: util.NewBufferPool(1500),
		registerer: registerer,
	}

	handlerInstance = h

	record.Init()

	cfg := config.Current()

	server := &fasthttp.Server{
		Handler:     h.ServeHTTP,
		ReadTimeout: 20 * time.Second,
	}

	var err error

	switch {
	case cfg.ListeningUnixSocket != "":
		listener, err = net.Listen("unix", cfg.ListeningUnixSocket)
	default:
		addr := cfg.ListeningIPAddress + ":" + strconv.Itoa(cfg.ListeningPort)
		listener, err = net.Listen("tcp", addr)
	}

	if err != nil {
		return err
	}

	log.Info.Printf("Ready and accepting new connections on %s", listener.Addr())

	go func() {
		<-ctx.Done()
		Stop()
	}()

	if err := server.Serve(listener); err != nil && !h.terminate.Load() {
		return err
	}

	h.waitGroup.Wait()

	log.Info.Println("Now closed and not accepting any new connections")

	return nil
}

var handlerInstance *httpHandler

// Stop closes the listener so Serve returns, then lets in-flight requests
// (tracked by waitGroup) finish before Listen returns (§6 "exit codes").
func Stop() {
	if handlerInstance != nil {
		handlerInstance.terminate.Store(true)
	}

	if listener != nil {
		_ = listener.Close()
	}
}
