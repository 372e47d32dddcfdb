package stream

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"voltscope/control"
	"voltscope/ring"
	"voltscope/types"
	"voltscope/ws"
)

// ==============================================================================
// TEST HELPERS
// ==============================================================================

func sample(i int) types.Sample {
	return types.Sample{Voltage: float64(i) / 10, Second: float64(i)}
}

func newRing(t *testing.T, capacity, fill int) (*ring.Buffer[types.Sample], *ring.Writer[types.Sample], *ring.Reader[types.Sample]) {
	t.Helper()
	buf := ring.New(capacity, types.Sample{})
	w, _ := buf.TakeWriter()
	r, _ := buf.TakeReader()
	for i := 0; i < fill; i++ {
		if err := w.Append(sample(i)); err != nil {
			t.Fatal(err)
		}
	}
	return buf, w, r
}

func testConfig() Config {
	return Config{
		FrameSamples:   7,
		WriteTimeout:   time.Second,
		IdlePoll:       time.Millisecond,
		MaxClientFrame: 256,
	}
}

// maskedFrame builds a browser→server frame.
func maskedFrame(opcode byte, payload []byte) []byte {
	key := [4]byte{9, 8, 7, 6}
	frame := []byte{0x80 | opcode, 0x80 | byte(len(payload))}
	frame = append(frame, key[:]...)
	for i, b := range payload {
		frame = append(frame, b^key[i&3])
	}
	return frame
}

// readServerFrame parses one unmasked server frame.
func readServerFrame(r io.Reader) (byte, []byte, error) {
	var hdr [10]byte
	if _, err := io.ReadFull(r, hdr[:2]); err != nil {
		return 0, nil, err
	}
	n := uint64(hdr[1] & 0x7F)
	switch n {
	case 126:
		if _, err := io.ReadFull(r, hdr[2:4]); err != nil {
			return 0, nil, err
		}
		n = uint64(binary.BigEndian.Uint16(hdr[2:4]))
	case 127:
		if _, err := io.ReadFull(r, hdr[2:10]); err != nil {
			return 0, nil, err
		}
		n = binary.BigEndian.Uint64(hdr[2:10])
	}
	payload := make([]byte, n)
	_, err := io.ReadFull(r, payload)
	return hdr[0], payload, err
}

// failingConn accepts writeCap bytes, then fails; reads block until Close.
type failingConn struct {
	net.Conn
	mu       sync.Mutex
	written  int
	writeCap int
	closed   chan struct{}
	once     sync.Once
}

func newFailingConn(writeCap int) *failingConn {
	return &failingConn{writeCap: writeCap, closed: make(chan struct{})}
}

func (c *failingConn) Read(b []byte) (int, error) {
	<-c.closed
	return 0, io.EOF
}

func (c *failingConn) Write(b []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	room := c.writeCap - c.written
	if room < len(b) {
		if room < 0 {
			room = 0
		}
		c.written += room
		return room, errors.New("broken pipe")
	}
	c.written += len(b)
	return len(b), nil
}

func (c *failingConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *failingConn) SetWriteDeadline(time.Time) error { return nil }

// ==============================================================================
// STREAMING
// ==============================================================================

func TestSessionStreamsInOrder(t *testing.T) {
	buf, _, r := newRing(t, 64, 50)
	server, client := net.Pipe()
	defer client.Close()
	defer server.Close()

	flags := control.New(time.Millisecond)
	counters := &Counters{}
	sess := NewSession(server, r, testConfig(), flags, counters)

	errc := make(chan error, 1)
	go func() { errc <- sess.Run(context.Background()) }()

	client.SetDeadline(time.Now().Add(5 * time.Second))
	var got []types.Sample
	for len(got) < 50 {
		op, payload, err := readServerFrame(client)
		if err != nil {
			t.Fatal(err)
		}
		if op != 0x82 {
			t.Fatalf("opcode byte %#x, want 0x82", op)
		}
		if len(payload) > 7*types.SampleSize || len(payload)%types.SampleSize != 0 {
			t.Fatalf("frame payload of %d bytes", len(payload))
		}
		got = append(got, types.FromBytes(payload)...)
	}
	for i, s := range got {
		if s != sample(i) {
			t.Fatalf("sample %d = %+v, want %+v", i, s, sample(i))
		}
	}

	if _, err := client.Write(maskedFrame(ws.OpClose, []byte{0x03, 0xE8})); err != nil {
		t.Fatal(err)
	}
	op, payload, err := readServerFrame(client)
	if err != nil || op != 0x88 || binary.BigEndian.Uint16(payload) != ws.CloseNormal {
		t.Fatalf("close reply: op=%#x payload=% x err=%v", op, payload, err)
	}

	select {
	case err := <-errc:
		if err != nil {
			t.Fatalf("Run = %v, want nil after client close", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("session did not end after client close")
	}

	if buf.EntryCount() != 0 {
		t.Fatalf("%d samples left in ring", buf.EntryCount())
	}
	snap := counters.Snapshot()
	if snap.Samples != 50 || snap.Bytes != 50*16 || snap.Sessions != 1 || snap.Active != 0 {
		t.Fatalf("counters = %+v", snap)
	}
	if snap.Frames < 8 {
		t.Fatalf("frames = %d, want at least 8", snap.Frames)
	}
}

func TestSessionHonoursReserve(t *testing.T) {
	buf, _, r := newRing(t, 64, 10)
	server, client := net.Pipe()
	defer client.Close()
	defer server.Close()

	cfg := testConfig()
	cfg.Reserve = 3
	sess := NewSession(server, r, cfg, control.New(time.Millisecond), nil)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- sess.Run(ctx) }()

	client.SetDeadline(time.Now().Add(5 * time.Second))
	var got []types.Sample
	for len(got) < 7 {
		_, payload, err := readServerFrame(client)
		if err != nil {
			t.Fatal(err)
		}
		got = append(got, types.FromBytes(payload)...)
	}

	cancel()
	select {
	case err := <-errc:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Run = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("session ignored cancellation")
	}
	if len(got) != 7 || buf.EntryCount() != 3 {
		t.Fatalf("sent %d, left %d; want 7 and 3", len(got), buf.EntryCount())
	}
}

func TestSessionAnswersPing(t *testing.T) {
	_, _, r := newRing(t, 16, 0)
	server, client := net.Pipe()
	defer client.Close()
	defer server.Close()

	sess := NewSession(server, r, testConfig(), control.New(time.Millisecond), nil)
	go sess.Run(context.Background())

	client.SetDeadline(time.Now().Add(5 * time.Second))
	if _, err := client.Write(maskedFrame(ws.OpPing, []byte("beat"))); err != nil {
		t.Fatal(err)
	}
	op, payload, err := readServerFrame(client)
	if err != nil || op != 0x8A || string(payload) != "beat" {
		t.Fatalf("pong: op=%#x payload=%q err=%v", op, payload, err)
	}
}

func TestSessionShutdownSendsGoingAway(t *testing.T) {
	_, _, r := newRing(t, 16, 0)
	server, client := net.Pipe()
	defer client.Close()
	defer server.Close()

	flags := control.New(time.Millisecond)
	sess := NewSession(server, r, testConfig(), flags, nil)
	errc := make(chan error, 1)
	go func() { errc <- sess.Run(context.Background()) }()

	flags.Shutdown()
	client.SetDeadline(time.Now().Add(5 * time.Second))
	op, payload, err := readServerFrame(client)
	if err != nil || op != 0x88 || binary.BigEndian.Uint16(payload) != ws.CloseGoingAway {
		t.Fatalf("close: op=%#x payload=% x err=%v", op, payload, err)
	}
	if err := <-errc; err != nil {
		t.Fatalf("Run = %v after shutdown", err)
	}
}

// ==============================================================================
// FAILURE HANDLING
// ==============================================================================

func TestSessionFailedWriteKeepsUndelivered(t *testing.T) {
	buf, _, r := newRing(t, 64, 21)

	// Two complete 7-sample frames (2+112 bytes each) and part of a third.
	conn := newFailingConn(2*114 + 10)
	defer conn.Close()

	counters := &Counters{}
	sess := NewSession(conn, r, testConfig(), control.New(time.Millisecond), counters)
	err := sess.Run(context.Background())
	if err == nil {
		t.Fatal("Run succeeded on a failing transport")
	}

	if got := buf.EntryCount(); got != 7 {
		t.Fatalf("EntryCount() = %d, want 7 undelivered samples", got)
	}
	if snap := counters.Snapshot(); snap.Samples != 14 || snap.Frames != 2 {
		t.Fatalf("counters = %+v", snap)
	}

	// The next reader starts at the first undelivered sample.
	bt := r.ReadBatch(0)
	first, _ := bt.Entries()
	if first[0] != sample(14) {
		t.Fatalf("next batch starts at %+v, want sample 14", first[0])
	}
	bt.Release()
}

func TestSessionClientReadErrorEndsSession(t *testing.T) {
	_, _, r := newRing(t, 16, 0)
	server, client := net.Pipe()
	defer server.Close()

	sess := NewSession(server, r, testConfig(), control.New(time.Millisecond), nil)
	errc := make(chan error, 1)
	go func() { errc <- sess.Run(context.Background()) }()

	// Unmasked frames are a protocol violation.
	client.SetDeadline(time.Now().Add(5 * time.Second))
	if _, err := client.Write([]byte{0x82, 0}); err != nil {
		t.Fatal(err)
	}
	select {
	case err := <-errc:
		if !errors.Is(err, ws.ErrUnmasked) {
			t.Fatalf("Run = %v, want ErrUnmasked", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("session survived a protocol error")
	}
	client.Close()
}
