// Package skills reconciles the on-disk skill layout with the store.
// Skills are installed by dropping a directory with a SKILL.md under
// skills/pending/; Sync registers them and applies auto-approval.
package skills

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/cladehq/clade/internal/config"
	"github.com/cladehq/clade/internal/store"
	"github.com/cladehq/clade/internal/tools"
)

var statuses = []store.SkillStatus{store.SkillActive, store.SkillPending, store.SkillDisabled}

// Sync walks skills/{active,pending,disabled}/ and reconciles the rows:
// new directories are registered under their bucket's status, pending
// skills named in skills.autoApprove are promoted (directory move plus
// row update). Reserved built-in names are skipped. Disk is the source
// of truth for existence; rows without a directory are removed.
func Sync(ctx context.Context, st *store.Store, home config.Home, cfg config.SkillsConfig, log *slog.Logger) error {
	if log == nil {
		log = slog.Default()
	}
	approve := make(map[string]bool, len(cfg.AutoApprove))
	for _, name := range cfg.AutoApprove {
		approve[name] = true
	}

	seen := map[string]bool{}
	for _, status := range statuses {
		entries, err := os.ReadDir(home.SkillStatusDir(string(status)))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return fmt.Errorf("scan skills/%s: %w", status, err)
		}
		for _, e := range entries {
			if !e.IsDir() {
				continue
			}
			name := e.Name()
			if seen[name] {
				log.Warn("skill present in more than one status bucket", "skill", name, "kept", status)
				continue
			}
			seen[name] = true
			if tools.IsBuiltin(name) {
				log.Warn("skill name is reserved for a built-in server, ignoring", "skill", name)
				continue
			}
			if err := reconcile(ctx, st, home, name, status, approve[name], log); err != nil {
				return err
			}
		}
	}

	// Rows whose directory disappeared.
	rows, err := st.ListSkills(ctx, "")
	if err != nil {
		return err
	}
	for _, sk := range rows {
		if seen[sk.Name] {
			continue
		}
		if err := st.DeleteSkill(ctx, sk.Name); err != nil {
			log.Warn("removing orphaned skill row failed", "skill", sk.Name, "error", err)
		} else {
			log.Info("skill removed from disk, row dropped", "skill", sk.Name)
		}
	}
	return nil
}

func reconcile(ctx context.Context, st *store.Store, home config.Home, name string, status store.SkillStatus, autoApprove bool, log *slog.Logger) error {
	if status == store.SkillPending && autoApprove {
		if err := promote(home, name); err != nil {
			return fmt.Errorf("promote skill %s: %w", name, err)
		}
		status = store.SkillActive
		log.Info("skill auto-approved", "skill", name)
	}

	existing, err := st.GetSkill(ctx, name)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return st.CreateSkill(ctx, store.Skill{
			Name:   name,
			Status: status,
			Path:   home.SkillDir(string(status), name),
		})
	case err != nil:
		return err
	}
	if existing.Status != status {
		// The directory location wins over the stored status. Rewrite the
		// row so the path column follows the bucket.
		if err := st.DeleteSkill(ctx, name); err != nil {
			return err
		}
		return st.CreateSkill(ctx, store.Skill{
			Name:      name,
			Status:    status,
			Path:      home.SkillDir(string(status), name),
			Config:    existing.Config,
			CreatedAt: existing.CreatedAt,
		})
	}
	return nil
}

// promote moves a skill directory from pending to active.
func promote(home config.Home, name string) error {
	dst := home.SkillDir(string(store.SkillActive), name)
	if err := os.MkdirAll(filepath.Dir(dst), 0700); err != nil {
		return err
	}
	return os.Rename(home.SkillDir(string(store.SkillPending), name), dst)
}
