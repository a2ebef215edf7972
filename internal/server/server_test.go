package server

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"github.com/desertthunder/mesakiosk/internal/shared"
)

func tokenServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if r.Form.Get("code") != "good-code" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			io.WriteString(w, `{"error":"invalid_grant"}`)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"access_token":"access","token_type":"Bearer","refresh_token":"refresh","expires_in":3600}`)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(tokenURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     "client",
		ClientSecret: "secret",
		RedirectURL:  "http://127.0.0.1:3000/callback",
		Endpoint: oauth2.Endpoint{
			AuthURL:   "https://accounts.example.com/authorize",
			TokenURL:  tokenURL,
			AuthStyle: oauth2.AuthStyleInHeader,
		},
	}
}

func TestOAuthHandler(t *testing.T) {
	logger := shared.NewLogger(io.Discard)
	conf := testConfig(tokenServer(t).URL)

	tests := []struct {
		name    string
		query   string
		status  int
		wantErr bool
	}{
		{name: "success", query: "state=s1&code=good-code", status: http.StatusOK},
		{name: "state mismatch", query: "state=other&code=good-code", status: http.StatusBadRequest, wantErr: true},
		{name: "denied", query: "state=s1&error=access_denied", status: http.StatusBadRequest, wantErr: true},
		{name: "exchange fails", query: "state=s1&code=bad", status: http.StatusBadGateway, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewOAuthHandler(conf, "s1", logger)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/callback?"+tt.query, nil))

			if rec.Code != tt.status {
				t.Errorf("expected status %d, got %d", tt.status, rec.Code)
			}

			result := <-h.Result()
			if tt.wantErr {
				if result.Error() == nil {
					t.Error("expected an error result")
				}
				return
			}
			if result.Error() != nil || result.Token.AccessToken != "access" || result.Token.RefreshToken != "refresh" {
				t.Errorf("unexpected result %+v, %v", result.Token, result.Error())
			}
			if !strings.Contains(rec.Body.String(), "Authorization Successful") {
				t.Errorf("unexpected body %s", rec.Body.String())
			}
		})
	}

	t.Run("state mismatch wraps sentinel", func(t *testing.T) {
		h := NewOAuthHandler(conf, "s1", logger)
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/callback?state=x", nil))
		if result := <-h.Result(); !errors.Is(result.Error(), ErrInvalidState) {
			t.Errorf("expected ErrInvalidState, got %v", result.Error())
		}
	})

	t.Run("second callback rejected", func(t *testing.T) {
		h := NewOAuthHandler(conf, "s1", logger)
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/callback?state=s1&code=good-code", nil))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/callback?state=s1&code=good-code", nil))
		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400 on replay, got %d", rec.Code)
		}
	})
}

func TestBasicRouter(t *testing.T) {
	r := NewBasicRouter()
	var order []string
	mw := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, req)
			})
		}
	}
	r.Use(mw("outer"), mw("inner"))
	r.Handle(http.MethodGet, "/ping", http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		io.WriteString(w, "pong")
	}))

	t.Run("middleware order", func(t *testing.T) {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))
		if rec.Body.String() != "pong" {
			t.Errorf("unexpected body %q", rec.Body.String())
		}
		if len(order) != 2 || order[0] != "outer" || order[1] != "inner" {
			t.Errorf("unexpected order %v", order)
		}
	})

	t.Run("method filter", func(t *testing.T) {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/ping", nil))
		if rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("expected 405, got %d", rec.Code)
		}
	})

	t.Run("recoverer", func(t *testing.T) {
		rr := NewBasicRouter()
		rr.Use(Recoverer(shared.NewLogger(io.Discard)))
		rr.Handle(http.MethodGet, "/boom", http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			panic("boom")
		}))
		rec := httptest.NewRecorder()
		rr.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))
		if rec.Code != http.StatusInternalServerError {
			t.Errorf("expected 500, got %d", rec.Code)
		}
	})
}

func TestAuthorize(t *testing.T) {
	conf := testConfig(tokenServer(t).URL)
	logger := shared.NewLogger(io.Discard)

	listen := func(t *testing.T) net.Listener {
		t.Helper()
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			t.Fatalf("listen: %v", err)
		}
		return ln
	}

	t.Run("completes on callback", func(t *testing.T) {
		ln := listen(t)
		open := func(authURL string) error {
			u, err := url.Parse(authURL)
			if err != nil {
				return err
			}
			if u.Query().Get("show_dialog") != "true" {
				t.Errorf("expected auth params in %s", authURL)
			}
			state := u.Query().Get("state")
			go func() {
				resp, err := http.Get("http://" + ln.Addr().String() + "/callback?code=good-code&state=" + url.QueryEscape(state))
				if err != nil {
					t.Errorf("callback: %v", err)
					return
				}
				resp.Body.Close()
			}()
			return nil
		}

		tok, err := Authorize(context.Background(), FlowOptions{
			Config:     conf,
			Listener:   ln,
			AuthParams: []oauth2.AuthCodeOption{oauth2.SetAuthURLParam("show_dialog", "true")},
			Open:       open,
			Timeout:    5 * time.Second,
			Logger:     logger,
		})
		if err != nil {
			t.Fatalf("Authorize: %v", err)
		}
		if tok.AccessToken != "access" {
			t.Errorf("unexpected token %+v", tok)
		}
	})

	t.Run("times out", func(t *testing.T) {
		_, err := Authorize(context.Background(), FlowOptions{
			Config:   conf,
			Listener: listen(t),
			Open:     func(string) error { return errors.New("no browser") },
			Timeout:  20 * time.Millisecond,
			Logger:   logger,
		})
		if !errors.Is(err, shared.ErrTimeout) {
			t.Errorf("expected ErrTimeout, got %v", err)
		}
	})

	t.Run("cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := Authorize(ctx, FlowOptions{
			Config:   conf,
			Listener: listen(t),
			Open:     func(string) error { return nil },
			Logger:   logger,
		})
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	})

	t.Run("missing config", func(t *testing.T) {
		if _, err := Authorize(context.Background(), FlowOptions{}); !errors.Is(err, shared.ErrMissingConfig) {
			t.Errorf("expected ErrMissingConfig, got %v", err)
		}
	})
}
