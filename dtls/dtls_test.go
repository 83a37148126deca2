package dtls

import "testing"

func TestPipeConnPushThenReadReturnsExactBytes(t *testing.T) {
	p := newPipeConn()
	p.push([]byte("hello"))

	buf := make([]byte, 3)
	n, err := p.Read(buf)
	if err != nil || n != 3 || string(buf[:n]) != "hel" {
		t.Fatalf("first Read = %q n=%d err=%v", buf[:n], n, err)
	}
	n, err = p.Read(buf)
	if err != nil || n != 2 || string(buf[:n]) != "lo" {
		t.Fatalf("second Read = %q n=%d err=%v", buf[:n], n, err)
	}
}

func TestPipeConnWriteThenDrain(t *testing.T) {
	p := newPipeConn()
	if _, err := p.Write([]byte("abc")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, err := p.Write([]byte("def")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got := p.drain()
	if string(got) != "abcdef" {
		t.Fatalf("drain() = %q want abcdef", got)
	}
	if p.drain() != nil {
		t.Fatalf("second drain should be empty")
	}
}

func TestPipeConnCloseUnblocksRead(t *testing.T) {
	p := newPipeConn()
	done := make(chan error, 1)
	go func() {
		_, err := p.Read(make([]byte, 4))
		done <- err
	}()
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := <-done; err == nil {
		t.Fatalf("expected Read to report an error after Close")
	}
}
