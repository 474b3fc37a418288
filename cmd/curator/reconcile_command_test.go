package main

import "testing"

func TestReconcileWithCleanLedger(t *testing.T) {
	env := setupCLITestEnv(t)
	if _, _, err := runCLI(t, env.configPath, "registry", "init"); err != nil {
		t.Fatalf("registry init: %v", err)
	}

	out, _, err := runCLI(t, env.configPath, "reconcile")
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	requireContains(t, out, "no runs awaiting reconciliation")
}
