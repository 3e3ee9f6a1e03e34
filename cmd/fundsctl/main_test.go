package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestPayoutsPrintsTable(t *testing.T) {
	var out bytes.Buffer
	err := runPayouts([]string{"-price", "100", "-deposit", "10", "-dr-fee", "100", "-outcome", "revoked"}, &out)
	if err != nil {
		t.Fatalf("payouts: %v", err)
	}
	text := out.String()
	for _, want := range []string{"outcome revoked", "escrowed 210", "buyer", "dr_fee_refund", "total"} {
		if !strings.Contains(text, want) {
			t.Fatalf("output missing %q:\n%s", want, text)
		}
	}
}

func TestPayoutsRejectsUnknownOutcome(t *testing.T) {
	if err := runPayouts([]string{"-outcome", "lost"}, &bytes.Buffer{}); err == nil {
		t.Fatalf("expected unknown outcome error")
	}
}

const scenario = `accounts:
  - name: seller
    kind: seller
    wallet: "0x0000000000000000000000000000000000001001"
mints:
  - wallet: seller
    token: "0x00000000000000000000000000000000000000e2"
    amount: "10"
  - wallet: "0x0000000000000000000000000000000000001002"
    token: "0x00000000000000000000000000000000000000e2"
    amount: "100"
steps:
  - op: deposit
    account: seller
    token: "0x00000000000000000000000000000000000000e2"
    amount: "10"
  - op: offer
    name: o1
    seller: seller
    token: "0x00000000000000000000000000000000000000e2"
    price: "100"
    deposit: "10"
  - op: commit
    name: ex1
    offer: o1
    to: "0x0000000000000000000000000000000000001002"
  - op: commit
    name: ex2
    offer: o1
    to: "0x0000000000000000000000000000000000001002"
    expectError: true
  - op: release
    exchange: ex1
    outcome: completed
  - op: withdraw
    account: seller
`

func TestSimulateRunsScenario(t *testing.T) {
	dir := t.TempDir()
	scenarioPath := filepath.Join(dir, "scenario.yaml")
	if err := os.WriteFile(scenarioPath, []byte(scenario), 0o644); err != nil {
		t.Fatalf("write scenario: %v", err)
	}
	var out bytes.Buffer
	err := runSimulate([]string{"-config", filepath.Join(dir, "funds.toml"), "-scenario", scenarioPath}, &out)
	if err != nil {
		t.Fatalf("simulate: %v", err)
	}
	text := out.String()
	for _, want := range []string{"exchange ex1 committed", "rejected as expected", "outcome completed", "state root 0x"} {
		if !strings.Contains(text, want) {
			t.Fatalf("output missing %q:\n%s", want, text)
		}
	}
}

func TestSimulateRequiresScenario(t *testing.T) {
	if err := runSimulate([]string{"-config", filepath.Join(t.TempDir(), "funds.toml")}, &bytes.Buffer{}); err == nil {
		t.Fatalf("expected missing scenario error")
	}
}
