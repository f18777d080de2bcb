package rpc

import "testing"

func TestDirectoryDialCachesClientPerHost(t *testing.T) {
	d := NewHTTPDirectory("")

	r1, err := d.Dial("node-a:8080")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	r2, err := d.Dial("node-a:8080")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if r1 != r2 {
		t.Fatalf("expected repeated dials of the same host to return the cached client")
	}
	if r1.HostID() != "node-a:8080" {
		t.Fatalf("expected HostID to echo the dialed host, got %s", r1.HostID())
	}
}

func TestDirectoryDialDistinctHostsGetDistinctClients(t *testing.T) {
	d := NewHTTPDirectory("https")

	r1, _ := d.Dial("node-a:8080")
	r2, _ := d.Dial("node-b:8080")
	if r1 == r2 {
		t.Fatalf("expected distinct hosts to get distinct clients")
	}
}
