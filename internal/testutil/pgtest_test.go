package testutil

import "testing"

func TestPGTestSkipsWithoutDatabase(t *testing.T) {
	t.Setenv("POSTGRES_URL", "")
	t.Setenv("PGTEST_CONTAINER", "")

	var skipped bool
	t.Run("inner", func(t *testing.T) {
		defer func() { skipped = t.Skipped() }()
		db, cleanup := PGTest(t)
		defer cleanup()
		_ = db
	})
	if !skipped {
		t.Fatal("PGTest must skip when POSTGRES_URL is unset and no container was requested")
	}
}
