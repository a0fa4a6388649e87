package sunsafe

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func writePolicy(t *testing.T, text string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "policy.yaml")
	if err := os.WriteFile(path, []byte(text), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadPolicyDefaults(t *testing.T) {
	got, err := LoadPolicy(writePolicy(t, "exclusion_radius: 25\nmin_el: 18\n"))
	if err != nil {
		t.Fatal(err)
	}
	want := DefaultPolicy()
	want.ExclusionRadius = 25
	want.MinEl = 18
	if diff := cmp.Diff(got, want); diff != "" {
		t.Errorf("unexpected policy: got(-)/want(+):\n%s", diff)
	}
}

func TestLoadPolicyRejectsUnknownKeys(t *testing.T) {
	_, err := LoadPolicy(writePolicy(t, "exclusion_radius: 25\nexclusion_radios: 30\n"))
	if err == nil {
		t.Error("misspelled policy key accepted")
	}
}

func TestLoadPolicyRejectsBadValues(t *testing.T) {
	for _, text := range []string{
		"min_el: 50\nmax_el: 40\n",
		"exclusion_radius: -1\n",
		"min_az: 400\nmax_az: 300\n",
		"min_sun_time: -10\n",
	} {
		if _, err := LoadPolicy(writePolicy(t, text)); err == nil {
			t.Errorf("policy %q accepted", text)
		}
	}
}

func TestLoadPolicyMissingFile(t *testing.T) {
	if _, err := LoadPolicy(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("missing file accepted")
	}
}
