package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/p2pclouds/powledger/consensus"
	"github.com/p2pclouds/powledger/crypto"
	"github.com/p2pclouds/powledger/protocol/params"
)

func runCLI(t *testing.T, args ...string) string {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	if err := cmd.Execute(); err != nil {
		t.Fatalf("%v: %v", args, err)
	}
	return out.String()
}

func TestCLI_Version(t *testing.T) {
	if out := runCLI(t, "version"); !strings.Contains(out, Version) {
		t.Fatalf("version output %q", out)
	}
}

func TestCLI_GenesisFollowsNetworkFlag(t *testing.T) {
	out := runCLI(t, "genesis", "--network", "regtest")
	want := consensus.GenesisBlock(&params.RegTestParams).BlockHash().String()
	if !strings.Contains(out, want) || !strings.Contains(out, "207fffff") {
		t.Fatalf("genesis output %q missing %s", out, want)
	}
}

func TestCLI_Address(t *testing.T) {
	out := strings.TrimSpace(runCLI(t, "address", "--network", "regtest", "02"+strings.Repeat("11", 32)))
	if _, err := crypto.DecodeAddress(out, params.RegTestParams.AddressVersion); err != nil {
		t.Fatalf("address output %q: %v", out, err)
	}

	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"address", "zz"})
	if err := cmd.Execute(); err == nil {
		t.Fatalf("bad public key accepted")
	}
}
