package integration_test

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	allocationsapp "linkband-cloud/internal/allocations/application"
	allocations "linkband-cloud/internal/allocations/domain"
	allocationsrepo "linkband-cloud/internal/allocations/infrastructure/postgres"
	devices "linkband-cloud/internal/devices/domain"
	devicesrepo "linkband-cloud/internal/devices/infrastructure/postgres"
	organizations "linkband-cloud/internal/organizations/domain"
	organizationsrepo "linkband-cloud/internal/organizations/infrastructure/postgres"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func TestAllocationLifecycle_Postgres(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	orgRepo := organizationsrepo.NewOrganizationRepository(db)
	deviceRepo := devicesrepo.NewDeviceRepository(db)
	allocationRepo := allocationsrepo.NewAllocationRepository(db)

	org := &organizations.Organization{
		ID:     "org_it_A",
		Name:   "Integration Org",
		Status: organizations.StatusActive,
	}
	if err := orgRepo.Save(ctx, org); err != nil {
		t.Fatalf("save organization: %v", err)
	}

	device := &devices.Device{
		ID:            "LXB-20240601-901",
		SerialNumber:  "SN-IT-901",
		DeviceType:    devices.TypeLinkBand2,
		Status:        devices.StatusInventory,
		BatteryHealth: 100,
	}
	if err := deviceRepo.Save(ctx, device); err != nil {
		t.Fatalf("save device: %v", err)
	}

	service, err := allocationsapp.NewService(db, orgRepo, nil)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	allocation, err := service.Allocate(ctx, allocationsapp.AllocationRequest{
		DeviceID:           device.ID,
		OrganizationID:     org.ID,
		AllocationType:     "RENTAL",
		RentalStartDate:    time.Date(2024, time.June, 1, 0, 0, 0, 0, time.UTC),
		RentalPeriodMonths: 6,
		MonthlyFee:         30000,
	})
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}

	stored, err := deviceRepo.Get(ctx, device.ID)
	if err != nil {
		t.Fatalf("get device: %v", err)
	}
	if stored.Status != devices.StatusAllocated {
		t.Fatalf("expected ALLOCATED, got %s", stored.Status)
	}
	if stored.CurrentAllocationID != allocation.ID {
		t.Fatalf("expected current allocation %s, got %s", allocation.ID, stored.CurrentAllocationID)
	}

	if err := service.AssignUser(ctx, allocation.ID, "user-1", "Park", "Room 101"); err != nil {
		t.Fatalf("assign user: %v", err)
	}
	stored, err = deviceRepo.Get(ctx, device.ID)
	if err != nil {
		t.Fatalf("get device: %v", err)
	}
	if stored.Status != devices.StatusInUse {
		t.Fatalf("expected IN_USE after assignment, got %s", stored.Status)
	}

	if err := service.Terminate(ctx, allocation.ID, "integration teardown"); err != nil {
		t.Fatalf("terminate: %v", err)
	}
	ended, err := allocationRepo.Get(ctx, allocation.ID)
	if err != nil {
		t.Fatalf("get allocation: %v", err)
	}
	if ended.Status != allocations.StatusTerminated {
		t.Fatalf("expected TERMINATED, got %s", ended.Status)
	}
	active, err := allocationRepo.FindActiveByDevice(ctx, device.ID)
	if err != nil {
		t.Fatalf("find active: %v", err)
	}
	if active != nil {
		t.Fatalf("expected no active allocation, got %s", active.ID)
	}
}

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv("PG_DSN")
	if dsn == "" {
		t.Skip("PG_DSN not set")
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	for _, table := range []string{"organizations", "device_master", "device_allocations"} {
		if !tableExists(db, table) {
			t.Skipf("missing table %s; run migrations", table)
		}
	}

	ctx := context.Background()
	_, _ = db.ExecContext(ctx, "DELETE FROM device_allocations")
	_, _ = db.ExecContext(ctx, "DELETE FROM device_master")
	_, _ = db.ExecContext(ctx, "DELETE FROM organizations")
	return db
}

func tableExists(db *sql.DB, table string) bool {
	var exists bool
	err := db.QueryRow(`
SELECT EXISTS (
	SELECT 1
	FROM information_schema.tables
	WHERE table_schema = 'public' AND table_name = $1
)`, table).Scan(&exists)
	if err != nil {
		return false
	}
	return exists
}
