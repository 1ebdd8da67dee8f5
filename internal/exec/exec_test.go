package exec

import (
	"context"
	"testing"
)

func TestFakeChannel_RecordsRuns(t *testing.T) {
	ch := NewFakeChannel()

	out, err := ch.Run(context.Background(), "worker1", "ovs-vsctl show")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if out == "" {
		t.Error("expected non-empty output from default handler")
	}

	runs := ch.Runs()
	if len(runs) != 1 {
		t.Fatalf("len(runs) = %d, want 1", len(runs))
	}
	if runs[0].Host != "worker1" || runs[0].Cmd != "ovs-vsctl show" {
		t.Errorf("recorded run = %+v, want host=worker1 cmd='ovs-vsctl show'", runs[0])
	}
}

func TestFakeChannel_Fail(t *testing.T) {
	ch := NewFakeChannel()
	ch.Fail("central1", context.Canceled)

	if _, err := ch.Run(context.Background(), "central1", "ovn-nbctl show"); err == nil {
		t.Fatal("expected an error for the failing host")
	}

	if _, err := ch.Run(context.Background(), "worker1", "ovn-nbctl show"); err != nil {
		t.Errorf("expected other hosts to keep succeeding, got %v", err)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.User != "root" {
		t.Errorf("User = %q, want root", cfg.User)
	}
	if cfg.Port != 22 {
		t.Errorf("Port = %d, want 22", cfg.Port)
	}
}

func TestNewSSHChannel_MissingKeyFile(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PrivateKeyPath = "/nonexistent/key"
	if _, err := NewSSHChannel(cfg); err == nil {
		t.Error("expected an error when the private key file does not exist")
	}
}
