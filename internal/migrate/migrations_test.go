package migrate_test

import (
	"testing"

	"maincontrol/internal/db"
	"maincontrol/internal/migrate"
)

func TestMigrateIsIdempotent(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer conn.Close()

	if v, err := migrate.Version(conn); err != nil || v != 0 {
		t.Fatalf("fresh version = %d, %v", v, err)
	}
	for i := 0; i < 2; i++ {
		if err := migrate.Migrate(conn); err != nil {
			t.Fatalf("migrate pass %d: %v", i, err)
		}
	}
	latest, err := migrate.Latest()
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	v, err := migrate.Version(conn)
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if v != latest || latest < 2 {
		t.Fatalf("version %d, latest %d", v, latest)
	}
	if _, err := conn.Exec(`INSERT INTO work_orders(id,order_number,region,status,created_at,updated_at) VALUES ('a','WO-1','PENINSULA','pending','x','x')`); err != nil {
		t.Fatalf("work_orders table missing: %v", err)
	}
}
