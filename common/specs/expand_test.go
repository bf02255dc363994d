package specs

import (
	"testing"
)

func TestExpandGroupInheritsEnvAndCwd(t *testing.T) {
	group := &JobGroup{
		Ident: "g",
		Cwd:   "/work",
		Env:   map[string]string{"STAGE": "first", "SHARED": "parent"},
		Jobs: []Spec{
			&Job{Ident: "A", Command: "echo", Env: map[string]string{"SHARED": "child"}},
		},
	}

	expansions, expandErr := ExpandChildren(group)
	if expandErr != nil {
		t.Fatal("expand failed unexpectedly: ", expandErr)
	}
	if len(expansions) != 1 {
		t.Fatalf("expected 1 expansion, got %d", len(expansions))
	}

	child := expansions[0].Spec.(*Job)
	if child.Cwd != "/work" {
		t.Errorf("expected inherited cwd /work, got '%s'", child.Cwd)
	}
	if child.Env["STAGE"] != "first" {
		t.Error("expected parent environment to propagate")
	}
	if child.Env["SHARED"] != "child" {
		t.Error("expected child environment to override the parent's")
	}
}

func TestExpandArrayProducesIndexedChildren(t *testing.T) {
	array := &JobArray{
		Ident:   "arr",
		Repeats: 3,
		Env:     map[string]string{},
		Jobs: []Spec{
			&Job{Ident: "c", Command: "echo", Args: []string{"$GATOR_ARRAY_INDEX"}, Env: map[string]string{}},
		},
	}

	expansions, expandErr := ExpandChildren(array)
	if expandErr != nil {
		t.Fatal("expand failed unexpectedly: ", expandErr)
	}
	if len(expansions) != 3 {
		t.Fatalf("expected 3 expansions, got %d", len(expansions))
	}

	expected := []string{"c_0", "c_1", "c_2"}
	for index, expansion := range expansions {
		if expansion.Ident != expected[index] {
			t.Errorf("expected ident '%s', got '%s'", expected[index], expansion.Ident)
		}
		env := expansion.Spec.Environment()
		if env[ENV_ARRAY_INDEX] != []string{"0", "1", "2"}[index] {
			t.Errorf("expected array index %d, got '%s'", index, env[ENV_ARRAY_INDEX])
		}
	}
}

func TestExpandArrayRewritesDependencies(t *testing.T) {
	array := &JobArray{
		Ident:   "arr",
		Repeats: 2,
		Env:     map[string]string{},
		Jobs: []Spec{
			&Job{Ident: "A", Command: "echo", Env: map[string]string{}},
			&Job{Ident: "B", Command: "echo", Env: map[string]string{}, OnPass: []string{"A"}},
		},
	}

	expansions, expandErr := ExpandChildren(array)
	if expandErr != nil {
		t.Fatal("expand failed unexpectedly: ", expandErr)
	}

	for _, expansion := range expansions {
		if expansion.Ident != "B_0" && expansion.Ident != "B_1" {
			continue
		}
		_, onPass, _ := expansion.Spec.Dependencies()
		if len(onPass) != 2 || onPass[0] != "A_0" || onPass[1] != "A_1" {
			t.Errorf("expected on_pass [A_0 A_1] for %s, got %v", expansion.Ident, onPass)
		}
	}
}

func TestExpandSingleRepeatMatchesGroup(t *testing.T) {
	array := &JobArray{
		Ident:   "arr",
		Repeats: 1,
		Env:     map[string]string{},
		Jobs: []Spec{
			&Job{Ident: "c", Command: "echo", Env: map[string]string{}},
		},
	}

	expansions, expandErr := ExpandChildren(array)
	if expandErr != nil {
		t.Fatal("expand failed unexpectedly: ", expandErr)
	}
	if len(expansions) != 1 {
		t.Fatalf("expected 1 expansion, got %d", len(expansions))
	}
	if expansions[0].Ident != "c" {
		t.Errorf("expected unsuffixed ident 'c', got '%s'", expansions[0].Ident)
	}
	if _, found := expansions[0].Spec.Environment()[ENV_ARRAY_INDEX]; found {
		t.Error("expected no array index for a single repeat")
	}
}

func TestExpandVarsResolvesFromEnvironment(t *testing.T) {
	env := map[string]string{"GATOR_ARRAY_INDEX": "2", "NAME": "gator"}

	expanded := ExpandVars("$GATOR_ARRAY_INDEX", env)
	if expanded != "2" {
		t.Errorf("expected '2', got '%s'", expanded)
	}
	expanded = ExpandVars("hello ${NAME}!", env)
	if expanded != "hello gator!" {
		t.Errorf("expected 'hello gator!', got '%s'", expanded)
	}
}
