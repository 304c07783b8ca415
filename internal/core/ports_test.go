package core

import (
	"net"
	"testing"
)

func TestResolvePort_PreferredFree(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	got, err := ResolvePort("127.0.0.1", port)
	if err != nil {
		t.Fatalf("ResolvePort failed: %v", err)
	}
	if got != port {
		t.Errorf("Expected preferred port %d, got %d", port, got)
	}
}

func TestResolvePort_PreferredTaken(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}
	defer ln.Close()
	port := ln.Addr().(*net.TCPAddr).Port

	if IsPortAvailable("127.0.0.1", port) {
		t.Fatal("Expected bound port to be unavailable")
	}

	got, err := ResolvePort("127.0.0.1", port)
	if err != nil {
		t.Fatalf("ResolvePort failed: %v", err)
	}
	if got == port || got < DynamicPortStart || got > DynamicPortEnd {
		t.Errorf("Expected a dynamic port, got %d", got)
	}
}
