package policy

import "testing"

func TestResolve_DenyWins(t *testing.T) {
	r := NewResolver()
	eff := r.Resolve(
		&Rules{Allow: []string{"*"}},
		&Rules{Deny: []string{"bash"}},
	)

	if eff.IsAllowed("bash") {
		t.Error("deny must win over wildcard allow")
	}
	if !eff.IsAllowed("read_file") {
		t.Error("undenied tool should pass through wildcard")
	}
}

func TestResolve_EmptyAllowMeansNothing(t *testing.T) {
	r := NewResolver()
	eff := r.Resolve(&Rules{Allow: []string{}})

	if eff.IsAllowed("read_file") {
		t.Error("empty allow set should permit nothing")
	}
}

func TestResolve_NoLayersPermitsNothing(t *testing.T) {
	r := NewResolver()
	eff := r.Resolve()

	if eff.IsAllowed("read_file") {
		t.Error("unset allow should permit nothing")
	}
}

func TestResolve_GroupExpansion(t *testing.T) {
	r := NewResolver()
	eff := r.Resolve(&Rules{Allow: []string{"group:fs_read"}})

	if !eff.IsAllowed("read_file") {
		t.Error("group:fs_read should expand to read_file")
	}
	if eff.IsAllowed("write_file") {
		t.Error("write_file is not part of fs_read")
	}
}

func TestResolve_BindingReplacesWildcard(t *testing.T) {
	r := NewResolver()
	eff := r.Resolve(
		&Rules{Allow: []string{"*"}},             // global
		&Rules{Allow: []string{"*"}},             // agent
		&Rules{Allow: []string{"memory_search"}}, // binding
	)

	if !eff.IsAllowed("memory_search") {
		t.Error("binding allow should be honored")
	}
	if eff.IsAllowed("bash") {
		t.Error("binding explicit set must replace the agent wildcard")
	}
}

func TestResolve_BindingIntersectsExplicitSet(t *testing.T) {
	r := NewResolver()
	eff := r.Resolve(
		&Rules{Allow: []string{"*"}},
		&Rules{Allow: []string{"read_file", "bash"}},
		&Rules{Allow: []string{"bash", "write_file"}},
	)

	if !eff.IsAllowed("bash") {
		t.Error("bash is in both sets and should survive")
	}
	if eff.IsAllowed("read_file") {
		t.Error("read_file was narrowed away by the binding")
	}
	if eff.IsAllowed("write_file") {
		t.Error("binding cannot widen beyond the agent set")
	}
}

func TestResolve_WildcardCannotWiden(t *testing.T) {
	r := NewResolver()
	eff := r.Resolve(
		&Rules{Allow: []string{"read_file"}},
		&Rules{Allow: []string{"*"}},
	)

	if !eff.IsAllowed("read_file") {
		t.Error("read_file should remain allowed")
	}
	if eff.IsAllowed("bash") {
		t.Error("a later wildcard must not widen an explicit set")
	}
}

func TestResolve_NilAllowInherits(t *testing.T) {
	r := NewResolver()
	eff := r.Resolve(
		&Rules{Allow: []string{"read_file"}},
		&Rules{Deny: []string{"write_file"}}, // no allow specified
	)

	if !eff.IsAllowed("read_file") {
		t.Error("layer without allow should inherit the previous set")
	}
}

func TestFilter_PreservesOrder(t *testing.T) {
	r := NewResolver()
	eff := r.Resolve(&Rules{Allow: []string{"b", "a"}, Deny: []string{"c"}})

	got := eff.Filter([]string{"a", "b", "c", "d"})
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("expected [a b], got %v", got)
	}
}

func TestDefineGroup_Override(t *testing.T) {
	r := NewResolver()
	r.DefineGroup("custom", []string{"x", "y"})
	eff := r.Resolve(&Rules{Allow: []string{"group:custom"}})

	if !eff.IsAllowed("x") || !eff.IsAllowed("y") {
		t.Error("custom group members should be allowed")
	}
}
