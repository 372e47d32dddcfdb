package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sugawarayuuta/sonnet"

	"voltscope/control"
	"voltscope/monitor"
	"voltscope/ring"
	"voltscope/stream"
	"voltscope/types"
	"voltscope/ws"
)

// ==============================================================================
// TEST HELPERS
// ==============================================================================

type fixture struct {
	srv    *Server
	http   *httptest.Server
	writer *ring.Writer[types.Sample]
	flags  *control.Flags
	wsURL  string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	buf := ring.New(256, types.Sample{})
	w, _ := buf.TakeWriter()
	r, _ := buf.TakeReader()
	flags := control.New(time.Millisecond)

	srv, err := New(Config{
		WSAddrs: []string{"127.0.0.1:43822"},
		WSPath:  "/ws",
		Session: stream.Config{
			FrameSamples:   7,
			WriteTimeout:   time.Second,
			IdlePoll:       time.Millisecond,
			MaxClientFrame: 256,
		},
	}, r, flags, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	hs := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		flags.Shutdown()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
		hs.Close()
	})
	return &fixture{
		srv:    srv,
		http:   hs,
		writer: w,
		flags:  flags,
		wsURL:  "ws" + strings.TrimPrefix(hs.URL, "http") + "/ws",
	}
}

func (f *fixture) appendRange(t *testing.T, from, to int) {
	t.Helper()
	for i := from; i < to; i++ {
		if err := f.writer.Append(types.Sample{Voltage: float64(i) / 100, Second: float64(i)}); err != nil {
			t.Fatal(err)
		}
	}
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	c, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	c.SetReadDeadline(time.Now().Add(5 * time.Second))
	return c
}

// readSamples reads binary messages until n samples arrived.
func readSamples(t *testing.T, c *websocket.Conn, n int) []types.Sample {
	t.Helper()
	var got []types.Sample
	for len(got) < n {
		mt, data, err := c.ReadMessage()
		if err != nil {
			t.Fatalf("after %d samples: %v", len(got), err)
		}
		if mt != websocket.BinaryMessage || len(data)%types.SampleSize != 0 {
			t.Fatalf("message type %d with %d bytes", mt, len(data))
		}
		got = append(got, types.FromBytes(data)...)
	}
	return got
}

func expectClose(t *testing.T, c *websocket.Conn, code int) {
	t.Helper()
	for {
		_, _, err := c.ReadMessage()
		if err == nil {
			continue
		}
		var ce *websocket.CloseError
		if !errors.As(err, &ce) || ce.Code != code {
			t.Fatalf("ReadMessage() = %v, want close %d", err, code)
		}
		return
	}
}

func waitReader(t *testing.T, s *Server) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !s.ReaderAvailable() {
		if time.Now().After(deadline) {
			t.Fatal("reader handle not returned")
		}
		time.Sleep(time.Millisecond)
	}
}

// ==============================================================================
// STREAMING
// ==============================================================================

func TestStreamDeliversSamplesInOrder(t *testing.T) {
	f := newFixture(t)
	f.appendRange(t, 0, 100)

	c := dial(t, f.wsURL)
	defer c.Close()

	got := readSamples(t, c, 100)
	for i, s := range got[:100] {
		if s.Second != float64(i) || s.Voltage != float64(i)/100 {
			t.Fatalf("sample %d = %+v", i, s)
		}
	}

	f.appendRange(t, 100, 110)
	more := readSamples(t, c, 10)
	if more[0].Second != 100 || more[9].Second != 109 {
		t.Fatalf("follow-up samples %+v", more)
	}
}

func TestSecondClientGetsTryAgainLater(t *testing.T) {
	f := newFixture(t)
	f.appendRange(t, 0, 7)

	first := dial(t, f.wsURL)
	defer first.Close()
	readSamples(t, first, 7)

	second := dial(t, f.wsURL)
	defer second.Close()
	expectClose(t, second, ws.CloseTryAgain)
}

func TestReaderReturnedAfterClientCloses(t *testing.T) {
	f := newFixture(t)
	f.appendRange(t, 0, 14)

	first := dial(t, f.wsURL)
	readSamples(t, first, 14)
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := first.WriteMessage(websocket.CloseMessage, msg); err != nil {
		t.Fatal(err)
	}
	expectClose(t, first, websocket.CloseNormalClosure)
	first.Close()

	waitReader(t, f.srv)
	f.appendRange(t, 14, 21)

	next := dial(t, f.wsURL)
	defer next.Close()
	got := readSamples(t, next, 7)
	if got[0].Second != 14 {
		t.Fatalf("next session starts at %+v, want second 14", got[0])
	}
}

func TestShutdownSendsGoingAway(t *testing.T) {
	f := newFixture(t)
	c := dial(t, f.wsURL)
	defer c.Close()

	f.appendRange(t, 0, 7)
	readSamples(t, c, 7)

	f.flags.Shutdown()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := f.srv.Shutdown(ctx); err != nil {
		t.Fatal(err)
	}
	expectClose(t, c, websocket.CloseGoingAway)
}

// ==============================================================================
// PAGE & STATUS
// ==============================================================================

func TestIndexPage(t *testing.T) {
	f := newFixture(t)

	resp, err := http.Get(f.http.URL + "/")
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	page := string(body)
	if !strings.Contains(page, `data-ws-port="43822"`) || !strings.Contains(page, `data-ws-path="/ws"`) {
		t.Fatal("page does not carry the stream endpoint")
	}
	if !strings.Contains(resp.Header.Get("Content-Type"), "text/html") {
		t.Fatalf("content type %q", resp.Header.Get("Content-Type"))
	}
}

func TestRouteErrors(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		name   string
		method string
		path   string
		want   int
	}{
		{"unknown_path", http.MethodGet, "/favicon.ico", http.StatusNotFound},
		{"post_index", http.MethodPost, "/", http.StatusMethodNotAllowed},
		{"post_status", http.MethodPost, "/status", http.StatusMethodNotAllowed},
		{"plain_get_on_stream", http.MethodGet, "/ws", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, _ := http.NewRequest(tt.method, f.http.URL+tt.path, nil)
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatal(err)
			}
			resp.Body.Close()
			if resp.StatusCode != tt.want {
				t.Fatalf("status %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}
	if !f.srv.ReaderAvailable() {
		t.Fatal("failed upgrade kept the reader")
	}
}

func TestStatusReportsCounters(t *testing.T) {
	f := newFixture(t)
	f.appendRange(t, 0, 21)
	c := dial(t, f.wsURL)
	readSamples(t, c, 21)
	c.Close()

	// Counters are updated right after the write returns.
	deadline := time.Now().Add(5 * time.Second)
	for {
		resp, err := http.Get(f.http.URL + "/status")
		if err != nil {
			t.Fatal(err)
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		var snap monitor.Snapshot
		if err := sonnet.Unmarshal(body, &snap); err != nil {
			t.Fatal(err)
		}
		if snap.Sessions == 1 && snap.Streamed >= 21 {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("status = %+v", snap)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestStatusUsesMonitor(t *testing.T) {
	buf := ring.New(8, types.Sample{})
	r, _ := buf.TakeReader()
	srv, err := New(Config{WSAddrs: []string{":43822"}}, r, control.New(time.Millisecond), nil,
		func() monitor.Snapshot { return monitor.Snapshot{Missed: 42} })
	if err != nil {
		t.Fatal(err)
	}

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	if !strings.Contains(rec.Body.String(), `"missed":42`) {
		t.Fatalf("body %s", rec.Body.String())
	}
}

func TestNewRejectsBadAddress(t *testing.T) {
	buf := ring.New(8, types.Sample{})
	r, _ := buf.TakeReader()
	if _, err := New(Config{WSAddrs: []string{"no-port"}}, r, control.New(0), nil, nil); err == nil {
		t.Fatal("address without port accepted")
	}
}

// ==============================================================================
// LISTENERS
// ==============================================================================

func TestStartServesEveryAddress(t *testing.T) {
	buf := ring.New(8, types.Sample{})
	r, _ := buf.TakeReader()
	flags := control.New(time.Millisecond)
	srv, err := New(Config{
		HTTPAddrs: []string{"127.0.0.1:0"},
		WSAddrs:   []string{"127.0.0.1:0"},
	}, r, flags, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := srv.Start(); err != nil {
		t.Fatal(err)
	}
	defer func() {
		flags.Shutdown()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}()

	// Identical addresses are bound once.
	addrs := srv.Addrs()
	if len(addrs) != 1 {
		t.Fatalf("Addrs() = %v", addrs)
	}
	resp, err := http.Get("http://" + addrs[0].String() + "/")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
}
