package app

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/cobra"
)

func TestFlagOverrides(t *testing.T) {
	cmd := &cobra.Command{Use: "test", RunE: func(*cobra.Command, []string) error { return nil }}
	addDomainFlags(cmd)
	addOutputFlags(cmd)
	cmd.Flags().Bool("prune", false, "")
	cmd.Flags().Bool("compress", false, "")
	cmd.Flags().String("level", "", "")

	if err := cmd.ParseFlags([]string{"-d", "vm1,vm2", "--output", "/backups", "--prune", "--level", "full"}); err != nil {
		t.Fatal(err)
	}

	got, err := flagOverrides(cmd)
	if err != nil {
		t.Fatalf("flagOverrides() error = %v", err)
	}
	want := map[string]any{
		"domains":      []string{"vm1", "vm2"},
		"output":       "/backups",
		"prune":        true,
		"backup.level": "full",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("overrides mismatch (-want +got):\n%s", diff)
	}
}
