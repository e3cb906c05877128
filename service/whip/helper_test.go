// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package whip

import (
	"fmt"
	"sync"
	"testing"

	"github.com/mattermost/whipd/service/perf"

	"github.com/mattermost/mattermost/server/public/shared/mlog"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/require"
)

// fakeEngine is an in-memory Engine whose routers, transports and producers
// record every call and cascade closure notifications synchronously, the
// way a real engine collapses a transport when its dtls association dies.
type fakeEngine struct {
	mut      sync.Mutex
	routers  map[uint64]*fakeRouter
	identity NetworkIdentity
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		routers:  map[uint64]*fakeRouter{},
		identity: NetworkIdentity{LocalAddress: "10.1.1.45"},
	}
}

func (e *fakeEngine) addRouter(channelID uint64) *fakeRouter {
	e.mut.Lock()
	defer e.mut.Unlock()
	r := &fakeRouter{channelID: channelID}
	e.routers[channelID] = r
	return r
}

func (e *fakeEngine) RoutingContext(channelID uint64) (Router, bool) {
	e.mut.Lock()
	defer e.mut.Unlock()
	r, ok := e.routers[channelID]
	return r, ok
}

func (e *fakeEngine) NetworkIdentity() NetworkIdentity {
	return e.identity
}

type fakeRouter struct {
	mut       sync.Mutex
	channelID uint64

	transports []*fakeTransport
	streams    []*fakeStream

	closed    bool
	closedCBs []func()

	failTransport        bool
	failInject           bool
	transportFailConnect bool
	transportFailProduce map[TrackKind]bool
}

func (r *fakeRouter) CreateTransport() (Transport, error) {
	r.mut.Lock()
	defer r.mut.Unlock()
	if r.failTransport {
		return nil, fmt.Errorf("out of ports")
	}
	t := &fakeTransport{
		ice: ICEParams{Ufrag: "testufrag", Pwd: "testpwd"},
		fingerprints: []webrtc.DTLSFingerprint{
			{Algorithm: "sha-256", Value: "AA:BB:CC"},
		},
		port:        8443,
		failConnect: r.transportFailConnect,
		failProduce: r.transportFailProduce,
	}
	r.transports = append(r.transports, t)
	return t, nil
}

func (r *fakeRouter) InjectStream(info StreamInfo) (StreamHandle, error) {
	r.mut.Lock()
	defer r.mut.Unlock()
	if r.failInject {
		return nil, fmt.Errorf("channel is closing")
	}
	st := &fakeStream{info: info}
	r.streams = append(r.streams, st)
	return st, nil
}

func (r *fakeRouter) OnceClosed(cb func()) {
	r.mut.Lock()
	if r.closed {
		r.mut.Unlock()
		cb()
		return
	}
	r.closedCBs = append(r.closedCBs, cb)
	r.mut.Unlock()
}

// close simulates the routing context shutting down, notifying observers
// synchronously.
func (r *fakeRouter) close() {
	r.mut.Lock()
	if r.closed {
		r.mut.Unlock()
		return
	}
	r.closed = true
	cbs := r.closedCBs
	r.closedCBs = nil
	r.mut.Unlock()

	for _, cb := range cbs {
		cb()
	}
}

type fakeTransport struct {
	mut          sync.Mutex
	ice          ICEParams
	fingerprints []webrtc.DTLSFingerprint
	port         int

	security  SecurityParams
	connected bool
	producers []*fakeProducer

	closeCalls int
	closedCBs  []func()

	failConnect bool
	failProduce map[TrackKind]bool
}

func (t *fakeTransport) ICECredentials() ICEParams {
	return t.ice
}

func (t *fakeTransport) Fingerprints() []webrtc.DTLSFingerprint {
	return t.fingerprints
}

func (t *fakeTransport) ListenPort() int {
	return t.port
}

func (t *fakeTransport) Connect(params SecurityParams) error {
	t.mut.Lock()
	defer t.mut.Unlock()
	if t.failConnect {
		return fmt.Errorf("handshake failed")
	}
	t.security = params
	t.connected = true
	return nil
}

func (t *fakeTransport) Produce(kind TrackKind, params MediaParams) (Producer, error) {
	t.mut.Lock()
	defer t.mut.Unlock()
	if t.failProduce[kind] {
		return nil, fmt.Errorf("unsupported codec")
	}
	p := &fakeProducer{kind: kind, params: params}
	t.producers = append(t.producers, p)
	return p, nil
}

func (t *fakeTransport) Close() error {
	t.mut.Lock()
	t.closeCalls++
	cbs := t.closedCBs
	t.closedCBs = nil
	t.mut.Unlock()

	// Closing the transport collapses its producers.
	for _, p := range t.producers {
		p.close()
	}
	for _, cb := range cbs {
		cb()
	}
	return nil
}

func (t *fakeTransport) OnceClosed(cb func()) {
	t.mut.Lock()
	if t.closeCalls > 0 {
		t.mut.Unlock()
		cb()
		return
	}
	t.closedCBs = append(t.closedCBs, cb)
	t.mut.Unlock()
}

type fakeProducer struct {
	mut    sync.Mutex
	kind   TrackKind
	params MediaParams

	stats    RawTrackStats
	hasStats bool

	// closeCalls counts Close invocations; closed tracks whether the
	// producer is gone for whatever reason (a transport collapse closes
	// its producers without a Close call).
	closeCalls int
	closed     bool
	closedCBs  []func()
}

func (p *fakeProducer) Kind() TrackKind {
	return p.kind
}

func (p *fakeProducer) Close() error {
	p.mut.Lock()
	p.closeCalls++
	p.mut.Unlock()
	p.close()
	return nil
}

func (p *fakeProducer) close() {
	p.mut.Lock()
	if p.closed {
		p.mut.Unlock()
		return
	}
	p.closed = true
	cbs := p.closedCBs
	p.closedCBs = nil
	p.mut.Unlock()

	for _, cb := range cbs {
		cb()
	}
}

func (p *fakeProducer) Stats() (RawTrackStats, bool) {
	p.mut.Lock()
	defer p.mut.Unlock()
	return p.stats, p.hasStats
}

func (p *fakeProducer) setStats(stats RawTrackStats) {
	p.mut.Lock()
	defer p.mut.Unlock()
	p.stats = stats
	p.hasStats = true
}

func (p *fakeProducer) OnceClosed(cb func()) {
	p.mut.Lock()
	if p.closed {
		p.mut.Unlock()
		cb()
		return
	}
	p.closedCBs = append(p.closedCBs, cb)
	p.mut.Unlock()
}

type fakeStream struct {
	mut         sync.Mutex
	info        StreamInfo
	removeCalls int
}

func (st *fakeStream) Remove() error {
	st.mut.Lock()
	defer st.mut.Unlock()
	st.removeCalls++
	return nil
}

func setupServer(t *testing.T, cfg ServerConfig) (*Server, *fakeEngine, func()) {
	t.Helper()

	log, err := mlog.NewLogger()
	require.NoError(t, err)

	metrics := perf.NewMetrics("whipd", nil)

	engine := newFakeEngine()

	s, err := NewServer(cfg, log, metrics, engine, nil)
	require.NoError(t, err)
	require.NotNil(t, s)

	err = s.Start()
	require.NoError(t, err)

	teardown := func() {
		err := s.Stop()
		require.NoError(t, err)
		err = log.Shutdown()
		require.NoError(t, err)
	}

	return s, engine, teardown
}

const testOffer = "v=0\r\n" +
	"o=- 4611731400430051336 2 IN IP4 127.0.0.1\r\n" +
	"s=-\r\n" +
	"t=0 0\r\n" +
	"a=group:BUNDLE 0 1\r\n" +
	"a=fingerprint:sha-256 11:22:33:44:55:66:77:88:99:AA:BB:CC:DD:EE:FF:00:11:22:33:44:55:66:77:88:99:AA:BB:CC:DD:EE:FF:00\r\n" +
	"a=ice-ufrag:offerufrag\r\n" +
	"a=ice-pwd:offerpwd\r\n" +
	"m=audio 9 UDP/TLS/RTP/SAVPF 111\r\n" +
	"c=IN IP4 0.0.0.0\r\n" +
	"a=mid:0\r\n" +
	"a=setup:actpass\r\n" +
	"a=sendonly\r\n" +
	"a=rtcp-mux\r\n" +
	"a=rtpmap:111 opus/48000/2\r\n" +
	"a=fmtp:111 minptime=10;useinbandfec=1\r\n" +
	"a=extmap:1 urn:ietf:params:rtp-hdrext:ssrc-audio-level\r\n" +
	"a=ssrc:1001 cname:senderA\r\n" +
	"m=video 9 UDP/TLS/RTP/SAVPF 96\r\n" +
	"c=IN IP4 0.0.0.0\r\n" +
	"a=mid:1\r\n" +
	"a=setup:actpass\r\n" +
	"a=sendonly\r\n" +
	"a=rtcp-mux\r\n" +
	"a=rtcp-rsize\r\n" +
	"a=rtpmap:96 VP8/90000\r\n" +
	"a=rtcp-fb:96 nack\r\n" +
	"a=rtcp-fb:96 nack pli\r\n" +
	"a=rtcp-fb:96 ccm fir\r\n" +
	"a=ssrc:2002 cname:senderA\r\n"
