//go:build integration

package integration

import (
	"encoding/json"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"os"
	"strings"
	"time"

	qt "github.com/frankban/quicktest"
	"github.com/gorilla/sessions"
	votes "github.com/jhchabran/tabloid-votes"
	"github.com/jhchabran/tabloid-votes/authentication/fake_auth"
	"github.com/jhchabran/tabloid-votes/keylock"
	"github.com/jhchabran/tabloid-votes/pgstore"
	"github.com/jhchabran/tabloid-votes/policy"
	"github.com/jhchabran/tabloid-votes/ranking"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

func dbString() string {
	if v := os.Getenv("VOTES_TEST_DATABASE_URL"); v != "" {
		return v
	}
	return "user=postgres dbname=votes_test sslmode=disable password=postgres host=127.0.0.1"
}

func truncateDatabase(db *sqlx.DB) {
	db.MustExec("TRUNCATE TABLE submission_votes, comment_votes, comments, submissions RESTART IDENTITY CASCADE;")
}

// testingLogWriter is an output target for zerolog which will print on the testing logger.
type testingLogWriter struct {
	c *qt.C
}

// Write outputs on the passed bytes on the test logger
func (l *testingLogWriter) Write(p []byte) (n int, err error) {
	str := string(p[0 : len(p)-1]) // drop the final \n
	l.c.Log(str)
	return len(p), nil
}

// A struct to hold the server and its components.
// Provides a few helpers for convenience.
type testContext struct {
	c          *qt.C
	server     *votes.Server
	testServer *httptest.Server
	pgStore    *pgstore.PGStore
	registry   *prometheus.Registry
}

// newTestContext creates a server instance backed by the test database, with
// every policy rule enabled.
func newTestContext(c *qt.C) *testContext {
	tc := testContext{c: c}

	w := testingLogWriter{c}
	output := zerolog.ConsoleWriter{Out: &w, NoColor: true}
	logger := zerolog.New(output)

	tc.pgStore = pgstore.New(dbString(), logger)
	c.Assert(tc.pgStore.Connect(), qt.IsNil, qt.Commentf("couldn't connect to the test database"))
	c.Assert(tc.pgStore.Migrate(), qt.IsNil)

	rate, err := policy.NewRateRule(600, 100, 100)
	c.Assert(err, qt.IsNil)
	engine := policy.NewEngine(logger,
		policy.NewDownvoteRule("nodownvotes"),
		&policy.OriginRule{Store: tc.pgStore},
		&policy.QuotaRule{Store: tc.pgStore, Max: 2, Window: time.Hour},
		rate,
	)

	tc.registry = prometheus.NewRegistry()
	ledger := votes.NewLedger(tc.pgStore, logger,
		votes.WithLocks(keylock.New(8)),
		votes.WithPolicyGate(engine),
		votes.WithReRanker(ranking.NewReranker(tc.pgStore, ranking.DefaultGravity, ranking.DefaultTimebaseInHours)),
		votes.WithMetrics(votes.NewMetrics(tc.registry)),
	)

	sessionStore := sessions.NewCookieStore([]byte("test"))
	fakeAuth := fake_auth.New(sessionStore, logger)

	tc.server = votes.NewServer(
		votes.ServerConfig{OriginSalt: "test", TrustProxy: true},
		logger,
		tc.pgStore,
		ledger,
		fakeAuth,
		tc.registry,
	)
	tc.testServer = httptest.NewServer(tc.server)

	fakeAuth.SetServerURL(tc.testServer.URL)

	return &tc
}

// url returns an url to the test server based on the given path
func (tc *testContext) url(path string) string {
	return tc.testServer.URL + path
}

// prepareServer boots up the server and sets up its teardown for the current test
func (tc *testContext) prepareServer() {
	tc.c.Assert(tc.server.Prepare(), qt.IsNil, qt.Commentf("couldn't prepare the server"))
	tc.c.Cleanup(func() {
		// kill the server
		tc.testServer.Close()

		// restore the db to its pristine state
		truncateDatabase(tc.pgStore.DB())
		tc.pgStore.Close()
	})
}

func (tc *testContext) newHTTPClient() *http.Client {
	jar, err := cookiejar.New(nil)
	tc.c.Assert(err, qt.IsNil)

	return &http.Client{
		Jar: jar,
		// the fake provider sends users back to the index, which the api doesn't serve
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if req.URL.Path == "/" {
				return http.ErrUseLastResponse
			}
			return nil
		},
	}
}

// newAuthenticatedClient logs in a new fake user. Fake logins are numbered
// from one, in the order clients are created.
func (tc *testContext) newAuthenticatedClient() *http.Client {
	client := tc.newHTTPClient()
	resp, err := client.Get(tc.url("/oauth/start"))
	tc.c.Assert(err, qt.IsNil)
	defer resp.Body.Close()
	tc.c.Assert(resp.StatusCode, qt.Equals, http.StatusFound)
	return client
}

type voteResponse struct {
	Status    string          `json:"status"`
	State     int             `json:"state"`
	Delta     int64           `json:"delta"`
	Aggregate votes.Aggregate `json:"aggregate"`
	Owner     string          `json:"owner"`
	Message   string          `json:"message"`
}

// vote posts body to path, from origin, and decodes the outcome when the
// request succeeded.
func (tc *testContext) vote(client *http.Client, path string, origin string, body string) (int, *voteResponse) {
	req, err := http.NewRequest(http.MethodPost, tc.url(path), strings.NewReader(body))
	tc.c.Assert(err, qt.IsNil)
	req.Header.Set("Content-Type", "application/json")
	if origin != "" {
		req.Header.Set("X-Forwarded-For", origin)
	}

	resp, err := client.Do(req)
	tc.c.Assert(err, qt.IsNil)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return resp.StatusCode, nil
	}

	var out voteResponse
	tc.c.Assert(json.NewDecoder(resp.Body).Decode(&out), qt.IsNil)
	return resp.StatusCode, &out
}
