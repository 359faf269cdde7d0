package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestReadProperties(t *testing.T) {
	text := `# comment
! also a comment

a=1
b = two words
c: 3
d 4
e=
f=line one \
    continued
g=tab\there
h=trailing\\
u=Straße
x=${a}
frontend.host=localhost
`
	path := filepath.Join(t.TempDir(), "test.properties")
	if err := os.WriteFile(path, []byte(text), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	props, err := readProperties(path)
	if err != nil {
		t.Fatalf("readProperties failed: %v", err)
	}

	want := map[string]string{
		"a": "1",
		"b": "two words",
		"c": "3",
		"d": "4",
		"e": "",
		"f": "line one continued",
		"g": "tab\there",
		"h": `trailing\`,
		"u": "Straße",
		"x": "${a}",
	}
	for k, v := range want {
		if props[k] != v {
			t.Errorf("props[%q] = %q, want %q", k, props[k], v)
		}
	}

	frontend, ok := props["frontend"].(map[string]interface{})
	if !ok || frontend["host"] != "localhost" {
		t.Errorf("frontend = %v", props["frontend"])
	}
}

func TestReadPropertiesMissingFile(t *testing.T) {
	if _, err := readProperties(filepath.Join(t.TempDir(), "missing.properties")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestNestProperties(t *testing.T) {
	nested := nestProperties(map[string]string{
		"profileName":   "x",
		"frontend.host": "localhost",
		"frontend.port": "1",
	})

	frontend, ok := nested["frontend"].(map[string]interface{})
	if !ok {
		t.Fatalf("frontend is %T, want nested map", nested["frontend"])
	}
	if frontend["host"] != "localhost" || frontend["port"] != "1" {
		t.Errorf("frontend = %v", frontend)
	}
	if nested["profileName"] != "x" {
		t.Errorf("profileName = %v", nested["profileName"])
	}
}
