// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Patronly Contributors

//go:build integration

package auth_test

import (
	"encoding/json"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/patronly/patronly/internal/auth"
)

type client struct {
	srv  *httptest.Server
	http *http.Client
}

func newClient(srv *httptest.Server) *client {
	jar, err := cookiejar.New(nil)
	Expect(err).NotTo(HaveOccurred())
	return &client{srv: srv, http: &http.Client{Jar: jar}}
}

func (c *client) postCredentials(path, email, password string) (*http.Response, map[string]any) {
	body := `{"email":"` + email + `","password":"` + password + `"}`
	req, err := http.NewRequestWithContext(env.ctx, http.MethodPost, c.srv.URL+path, strings.NewReader(body))
	Expect(err).NotTo(HaveOccurred())
	req.Header.Set("Content-Type", "application/json")
	return c.do(req)
}

func (c *client) send(method, path string) (*http.Response, map[string]any) {
	req, err := http.NewRequestWithContext(env.ctx, method, c.srv.URL+path, nil)
	Expect(err).NotTo(HaveOccurred())
	return c.do(req)
}

func (c *client) do(req *http.Request) (*http.Response, map[string]any) {
	resp, err := c.http.Do(req)
	Expect(err).NotTo(HaveOccurred())
	defer resp.Body.Close()

	var body map[string]any
	Expect(json.NewDecoder(resp.Body).Decode(&body)).To(Succeed())
	return resp, body
}

func (c *client) sessionToken() string {
	u, err := url.Parse(c.srv.URL)
	Expect(err).NotTo(HaveOccurred())
	for _, ck := range c.http.Jar.Cookies(u) {
		if ck.Name == auth.SessionCookieName {
			return ck.Value
		}
	}
	return ""
}

func (c *client) setSessionToken(token string) {
	u, err := url.Parse(c.srv.URL)
	Expect(err).NotTo(HaveOccurred())
	c.http.Jar.SetCookies(u, []*http.Cookie{{Name: auth.SessionCookieName, Value: token, Path: "/"}})
}

func uniqueEmail(prefix string) string {
	return prefix + "-" + uuid.NewString()[:8] + "@example.com"
}

var _ = Describe("HTTP auth flow", func() {
	var srv *httptest.Server

	BeforeEach(func() {
		srv = env.newServer()
	})

	It("runs signup, validate, signout and rejects the spent token", func() {
		c := newClient(srv)
		email := uniqueEmail("alice")

		resp, body := c.postCredentials("/auth/signup", email, "correct horse")
		Expect(resp.StatusCode).To(Equal(http.StatusCreated))
		Expect(body["message"]).To(Equal("account created"))
		token := c.sessionToken()
		Expect(token).To(HaveLen(auth.SessionTokenLength))

		resp, body = c.send(http.MethodGet, "/auth/validate")
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		Expect(body["message"]).To(Equal("session valid"))

		resp, body = c.send(http.MethodGet, "/users/me")
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		Expect(body["email"]).To(Equal(email))
		Expect(body).NotTo(HaveKey("password_digest"))

		resp, _ = c.send(http.MethodPost, "/auth/signout")
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		Expect(c.sessionToken()).To(BeEmpty(), "Max-Age=0 removes the cookie")

		resp, body = c.send(http.MethodGet, "/auth/validate")
		Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
		Expect(body["error"]).To(Equal("missing session token"))

		c.setSessionToken(token)
		resp, body = c.send(http.MethodGet, "/auth/validate")
		Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
		Expect(body["error"]).To(Equal("invalid or expired session token"))
	})

	It("maps duplicate, wrong password and unknown account failures", func() {
		c := newClient(srv)
		email := uniqueEmail("bob")

		resp, _ := c.postCredentials("/auth/signup", email, "pw")
		Expect(resp.StatusCode).To(Equal(http.StatusCreated))

		resp, body := c.postCredentials("/auth/signup", strings.ToUpper(email[:3])+email[3:], "other")
		Expect(resp.StatusCode).To(Equal(http.StatusConflict))
		Expect(body["error"]).To(Equal("account already exists"))

		resp, body = c.postCredentials("/auth/signin", email, "nope")
		Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
		Expect(body["error"]).To(Equal("incorrect password"))

		resp, body = c.postCredentials("/auth/signin", uniqueEmail("nobody"), "pw")
		Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		Expect(body["error"]).To(Equal("account not found"))

		resp, _ = c.postCredentials("/auth/signin", email, "pw")
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
	})

	It("keeps independent sessions per signin", func() {
		email := uniqueEmail("carol")
		first := newClient(srv)
		resp, _ := first.postCredentials("/auth/signup", email, "pw")
		Expect(resp.StatusCode).To(Equal(http.StatusCreated))

		second := newClient(srv)
		resp, _ = second.postCredentials("/auth/signin", email, "pw")
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		Expect(second.sessionToken()).NotTo(Equal(first.sessionToken()))

		resp, _ = first.send(http.MethodPost, "/auth/signout")
		Expect(resp.StatusCode).To(Equal(http.StatusOK))

		resp, _ = second.send(http.MethodGet, "/auth/validate")
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
	})

	It("creates exactly one account under concurrent duplicate signups", func() {
		email := uniqueEmail("race")
		const attempts = 8

		var wg sync.WaitGroup
		statuses := make(chan int, attempts)
		for range attempts {
			wg.Add(1)
			go func() {
				defer GinkgoRecover()
				defer wg.Done()
				resp, _ := newClient(srv).postCredentials("/auth/signup", email, "pw")
				statuses <- resp.StatusCode
			}()
		}
		wg.Wait()
		close(statuses)

		counts := map[int]int{}
		for s := range statuses {
			counts[s]++
		}
		Expect(counts[http.StatusCreated]).To(Equal(1))
		Expect(counts[http.StatusConflict]).To(Equal(attempts - 1))
	})
})

var _ = Describe("Session expiry", func() {
	It("rejects sessions past their TTL and reaps them", func() {
		srv := env.newServer(auth.WithSessionTTL(time.Second))
		c := newClient(srv)

		resp, _ := c.postCredentials("/auth/signup", uniqueEmail("dave"), "pw")
		Expect(resp.StatusCode).To(Equal(http.StatusCreated))
		token := c.sessionToken()

		Eventually(func() int {
			c.setSessionToken(token)
			resp, _ := c.send(http.MethodGet, "/auth/validate")
			return resp.StatusCode
		}).WithTimeout(5 * time.Second).WithPolling(200 * time.Millisecond).
			Should(Equal(http.StatusUnauthorized))

		reaper, err := auth.NewExpiryReaper(auth.DefaultReaperConfig(), env.Sessions)
		Expect(err).NotTo(HaveOccurred())
		deleted, err := reaper.RunOnce(env.ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(deleted).To(BeNumerically(">=", 1))

		var remaining int
		Expect(env.pool.QueryRow(env.ctx,
			`SELECT COUNT(*) FROM sessions WHERE expires_at <= NOW()`).Scan(&remaining)).To(Succeed())
		Expect(remaining).To(BeZero())
	})
})
