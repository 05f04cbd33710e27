package skills

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/cladehq/clade/internal/config"
	"github.com/cladehq/clade/internal/store"
)

func installSkill(t *testing.T, home config.Home, status, name string) {
	t.Helper()
	dir := home.SkillDir(status, name)
	if err := os.MkdirAll(dir, 0700); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "SKILL.md"), []byte("# "+name+"\n"), 0600); err != nil {
		t.Fatal(err)
	}
}

func newTestSync(t *testing.T) (*store.Store, config.Home) {
	t.Helper()
	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "clade.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })
	return st, config.HomeAt(dir)
}

func TestSyncRegistersAndAutoApproves(t *testing.T) {
	st, home := newTestSync(t)
	ctx := context.Background()

	installSkill(t, home, "active", "weather")
	installSkill(t, home, "pending", "deploy")
	installSkill(t, home, "pending", "scratch")
	installSkill(t, home, "disabled", "legacy")

	cfg := config.SkillsConfig{AutoApprove: []string{"deploy"}}
	if err := Sync(ctx, st, home, cfg, nil); err != nil {
		t.Fatalf("sync: %v", err)
	}

	want := map[string]store.SkillStatus{
		"weather": store.SkillActive,
		"deploy":  store.SkillActive, // promoted
		"scratch": store.SkillPending,
		"legacy":  store.SkillDisabled,
	}
	for name, status := range want {
		sk, err := st.GetSkill(ctx, name)
		if err != nil {
			t.Fatalf("get %s: %v", name, err)
		}
		if sk.Status != status {
			t.Errorf("%s status = %s, want %s", name, sk.Status, status)
		}
	}

	// Promotion moved the directory out of pending.
	if _, err := os.Stat(home.SkillDir("pending", "deploy")); !os.IsNotExist(err) {
		t.Error("deploy still under pending/")
	}
	if _, err := os.Stat(filepath.Join(home.SkillDir("active", "deploy"), "SKILL.md")); err != nil {
		t.Errorf("deploy not under active/: %v", err)
	}
}

func TestSyncSkipsReservedAndDropsOrphans(t *testing.T) {
	st, home := newTestSync(t)
	ctx := context.Background()

	installSkill(t, home, "pending", "memory") // reserved built-in name
	if err := st.CreateSkill(ctx, store.Skill{Name: "gone", Path: "skills/active/gone"}); err != nil {
		t.Fatal(err)
	}

	if err := Sync(ctx, st, home, config.SkillsConfig{}, nil); err != nil {
		t.Fatalf("sync: %v", err)
	}

	if _, err := st.GetSkill(ctx, "memory"); err == nil {
		t.Error("reserved name was registered")
	}
	if _, err := st.GetSkill(ctx, "gone"); err == nil {
		t.Error("orphaned row survived sync")
	}
}

func TestSyncIsIdempotent(t *testing.T) {
	st, home := newTestSync(t)
	ctx := context.Background()

	installSkill(t, home, "active", "weather")
	for i := 0; i < 2; i++ {
		if err := Sync(ctx, st, home, config.SkillsConfig{}, nil); err != nil {
			t.Fatalf("sync #%d: %v", i+1, err)
		}
	}
	all, err := st.ListSkills(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 1 {
		t.Fatalf("rows = %d, want 1", len(all))
	}
}
