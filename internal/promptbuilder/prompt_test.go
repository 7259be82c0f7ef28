/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package promptbuilder_test

import (
	"testing"

	"chainguard.dev/appident/internal/promptbuilder"
)

func TestBindAndBuild(t *testing.T) {
	t.Parallel()
	p, err := promptbuilder.NewPrompt("Identify the application for {{repo_path}} in org {{org}}.")
	if err != nil {
		t.Fatalf("NewPrompt: %v", err)
	}

	p, err = p.BindString("repo_path", "/src/petclinic")
	if err != nil {
		t.Fatalf("BindString: %v", err)
	}
	p, err = p.BindString("org", "acme")
	if err != nil {
		t.Fatalf("BindString: %v", err)
	}

	got, err := p.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	want := "Identify the application for /src/petclinic in org acme."
	if got != want {
		t.Fatalf("Build() = %q, want %q", got, want)
	}
}

func TestBuildFailsWhileUnbound(t *testing.T) {
	t.Parallel()
	p, err := promptbuilder.NewPrompt("path: {{repo_path}}")
	if err != nil {
		t.Fatalf("NewPrompt: %v", err)
	}
	if _, err := p.Build(); err == nil {
		t.Fatal("Build should fail with an unbound placeholder")
	}
}

func TestBindIsImmutable(t *testing.T) {
	t.Parallel()
	base, err := promptbuilder.NewPrompt("path: {{repo_path}}")
	if err != nil {
		t.Fatalf("NewPrompt: %v", err)
	}
	if _, err := base.BindString("repo_path", "/a"); err != nil {
		t.Fatalf("BindString: %v", err)
	}
	// The original prompt remains unbound.
	if _, err := base.Build(); err == nil {
		t.Fatal("binding should not mutate the receiver")
	}
}

func TestBindErrors(t *testing.T) {
	t.Parallel()
	p, err := promptbuilder.NewPrompt("path: {{repo_path}}")
	if err != nil {
		t.Fatalf("NewPrompt: %v", err)
	}
	if _, err := p.BindString("nope", "x"); err == nil {
		t.Fatal("binding an unknown placeholder should fail")
	}
	p, err = p.BindString("repo_path", "/a")
	if err != nil {
		t.Fatalf("BindString: %v", err)
	}
	if _, err := p.BindString("repo_path", "/b"); err == nil {
		t.Fatal("double binding should fail")
	}
}

func TestBindJSON(t *testing.T) {
	t.Parallel()
	p, err := promptbuilder.NewPrompt("catalog: {{tools}}")
	if err != nil {
		t.Fatalf("NewPrompt: %v", err)
	}
	p, err = p.BindJSON("tools", []string{"fs__list_directory"})
	if err != nil {
		t.Fatalf("BindJSON: %v", err)
	}
	got, err := p.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if got != `catalog: ["fs__list_directory"]` {
		t.Fatalf("unexpected render: %q", got)
	}
}
