// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package service

import (
	"fmt"
	"net"
	"os"
	"sync"
	"testing"

	"github.com/mattermost/whipd/logger"
	"github.com/mattermost/whipd/service/api"
	"github.com/mattermost/whipd/service/auth"
	"github.com/mattermost/whipd/service/whip"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/require"
)

// testEngine is a minimal in-memory media engine with a routing context
// for every channel.
type testEngine struct{}

func (e *testEngine) RoutingContext(_ uint64) (whip.Router, bool) {
	return &testRouter{}, true
}

func (e *testEngine) NetworkIdentity() whip.NetworkIdentity {
	return whip.NetworkIdentity{LocalAddress: "127.0.0.1"}
}

type testRouter struct{}

func (r *testRouter) CreateTransport() (whip.Transport, error) {
	return &testTransport{}, nil
}

func (r *testRouter) InjectStream(_ whip.StreamInfo) (whip.StreamHandle, error) {
	return &testStream{}, nil
}

func (r *testRouter) OnceClosed(_ func()) {}

type testTransport struct{}

func (t *testTransport) ICECredentials() whip.ICEParams {
	return whip.ICEParams{Ufrag: "testufrag", Pwd: "testpwd"}
}

func (t *testTransport) Fingerprints() []webrtc.DTLSFingerprint {
	return []webrtc.DTLSFingerprint{{Algorithm: "sha-256", Value: "AA:BB:CC"}}
}

func (t *testTransport) ListenPort() int {
	return 8443
}

func (t *testTransport) Connect(_ whip.SecurityParams) error {
	return nil
}

func (t *testTransport) Produce(kind whip.TrackKind, _ whip.MediaParams) (whip.Producer, error) {
	return &testProducer{kind: kind}, nil
}

func (t *testTransport) Close() error {
	return nil
}

func (t *testTransport) OnceClosed(_ func()) {}

type testProducer struct {
	mut  sync.Mutex
	kind whip.TrackKind
}

func (p *testProducer) Kind() whip.TrackKind {
	return p.kind
}

func (p *testProducer) Close() error {
	return nil
}

func (p *testProducer) Stats() (whip.RawTrackStats, bool) {
	p.mut.Lock()
	defer p.mut.Unlock()
	return whip.RawTrackStats{
		MimeType:   fmt.Sprintf("%s/test", p.kind),
		BitrateBps: 64_000,
	}, true
}

func (p *testProducer) OnceClosed(_ func()) {}

type testStream struct{}

func (st *testStream) Remove() error {
	return nil
}

type TestHelper struct {
	srvc   *Service
	cfg    Config
	tb     testing.TB
	apiURL string
	dbDir  string
}

func SetupTestHelper(tb testing.TB) *TestHelper {
	tb.Helper()

	dbDir, err := os.MkdirTemp("", "db")
	require.NoError(tb, err)

	th := &TestHelper{
		cfg: Config{
			API: APIConfig{
				HTTP: api.Config{
					ListenAddress: ":0",
				},
				Admin: AdminConfig{
					Enable:    true,
					SecretKey: "admin_secret_key",
					KeyCache: auth.KeyCacheConfig{
						ExpirationMinutes: 1440,
					},
				},
			},
			Store: StoreConfig{
				DataSource: dbDir,
			},
			Logger: logger.Config{
				EnableConsole: true,
				ConsoleLevel:  "ERROR",
			},
		},
		tb:    tb,
		dbDir: dbDir,
	}

	th.srvc, err = New(th.cfg, WithEngine(&testEngine{}))
	require.NoError(th.tb, err)
	require.NotNil(th.tb, th.srvc)

	err = th.srvc.Start()
	require.NoError(th.tb, err)

	_, port, err := net.SplitHostPort(th.srvc.apiServer.Addr())
	require.NoError(th.tb, err)
	th.apiURL = "http://localhost:" + port

	return th
}

func (th *TestHelper) Teardown() {
	err := th.srvc.Stop()
	require.NoError(th.tb, err)

	err = os.RemoveAll(th.dbDir)
	require.NoError(th.tb, err)
}
