package remote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestSubmitSendsMultipartPayload(t *testing.T) {
	t.Parallel()

	var gotReferer string
	var gotDoc map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotReferer = r.Header.Get("Referer")
		if err := r.ParseMultipartForm(1 << 16); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		_ = json.Unmarshal([]byte(r.FormValue("data")), &gotDoc)
		_, _ = w.Write([]byte(`{"code":200,"message":"ok"}`))
	}))
	defer srv.Close()

	c := New(Config{URL: srv.URL, Referer: "https://example.test/"})
	resp, err := c.Submit(context.Background(), Credentials{Primary: "12345678", Secondary: "2020A"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if gotReferer != "https://example.test/" {
		t.Fatalf("referer = %q", gotReferer)
	}
	if gotDoc["t1_dni"] != "12345678" || gotDoc["t1_codigo"] != "2020A" {
		t.Fatalf("doc = %v", gotDoc)
	}
	for _, k := range []string{"t1_id", "t1_estado", "t3_periodos_t3_id"} {
		v, ok := gotDoc[k]
		if !ok || v != nil {
			t.Fatalf("%s = %v (present=%v), want null", k, v, ok)
		}
	}
	if !resp.HasCode || resp.Code != 200 || resp.SoftFailure {
		t.Fatalf("resp = %+v", resp)
	}
}

func TestSubmitFlagsSentinelCode(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"code":500,"message":"full"}`))
	}))
	defer srv.Close()

	resp, err := New(Config{URL: srv.URL}).Submit(context.Background(), Credentials{})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if !resp.SoftFailure {
		t.Fatalf("expected soft failure, got %+v", resp)
	}
}

func TestSubmitNon2xxIsError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream down"))
	}))
	defer srv.Close()

	_, err := New(Config{URL: srv.URL}).Submit(context.Background(), Credentials{})
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("err = %v, want *StatusError", err)
	}
	if se.StatusCode != http.StatusBadGateway || !strings.Contains(se.Error(), "upstream down") {
		t.Fatalf("status error = %v", se)
	}
}

func TestParseResponseNonJSONBody(t *testing.T) {
	t.Parallel()

	r := parseResponse(200, []byte("plain text"), 500)
	if r.HasCode || r.SoftFailure {
		t.Fatalf("r = %+v", r)
	}
	if string(r.Body) != `"plain text"` {
		t.Fatalf("body = %s", r.Body)
	}
}

func TestApplyDefaults(t *testing.T) {
	t.Parallel()

	c := New(Config{})
	cfg := c.Config()
	if cfg.URL != DefaultURL || cfg.ErrorCode != DefaultErrorCode {
		t.Fatalf("cfg = %+v", cfg)
	}
}
