package core

import (
	"testing"
	"time"
)

// waitHealth polls db.Health until cond holds or a second passes.
func waitHealth(t *testing.T, db *DB, cond func(HealthStatus) bool) HealthStatus {
	t.Helper()

	deadline := time.Now().Add(time.Second)
	for {
		st, ok := db.Health()
		if ok && cond(st) {
			return st
		}
		if time.Now().After(deadline) {
			t.Fatalf("Health condition not reached, last status: %+v (ok=%v)", st, ok)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// TestHealthCheck_Reports tests that background pings record a healthy pool.
func TestHealthCheck_Reports(t *testing.T) {
	db := newTestDB(t, WithHealthCheck(10*time.Millisecond))

	st := waitHealth(t, db, func(st HealthStatus) bool { return st.Healthy })
	if st.Err != nil {
		t.Errorf("Healthy status must not carry an error, got %v", st.Err)
	}
	if st.CheckedAt.IsZero() {
		t.Error("Last check time should not be zero")
	}

	// queries keep working while the monitor shares the single connection
	seedUsers(t, db, 3)
	count, err := db.Model(&testUser{}).Count()
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if count != 3 {
		t.Errorf("Expected 3 users, got %d", count)
	}
}

// TestHealthCheck_DetectsLostPool tests that a closed pool turns the status unhealthy.
func TestHealthCheck_DetectsLostPool(t *testing.T) {
	sqlDB := openMemory(t)
	db, err := WrapDB(sqlDB, "sqlite", WithHealthCheck(10*time.Millisecond))
	if err != nil {
		t.Fatalf("WrapDB failed: %v", err)
	}
	defer db.Close()

	waitHealth(t, db, func(st HealthStatus) bool { return st.Healthy })

	_ = sqlDB.Close()
	st := waitHealth(t, db, func(st HealthStatus) bool { return !st.Healthy })
	if st.Err == nil {
		t.Error("Unhealthy status must carry the ping error")
	}
}

// TestHealthCheck_Disabled tests that Health reports nothing without the option.
func TestHealthCheck_Disabled(t *testing.T) {
	db := newTestDB(t)

	if _, ok := db.Health(); ok {
		t.Error("Health must not report without WithHealthCheck")
	}
}

// TestHealthCheck_CloseStops tests that Close ends the loop without hanging.
func TestHealthCheck_CloseStops(t *testing.T) {
	db, err := Connect("sqlite::memory:", WithHealthCheck(5*time.Millisecond))
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	waitHealth(t, db, func(HealthStatus) bool { return true })

	done := make(chan error, 1)
	go func() { done <- db.Close() }()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Close failed: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Close hung waiting for the health check")
	}

	// a second Close is harmless
	if err := db.Close(); err != nil {
		t.Errorf("Second Close failed: %v", err)
	}
}
