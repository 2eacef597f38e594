package orchestrator

import (
	"testing"
	"time"

	"github.com/offsitehq/fieldsync/internal/config"
	"github.com/offsitehq/fieldsync/internal/conflict"
	"github.com/offsitehq/fieldsync/internal/events"
	"github.com/offsitehq/fieldsync/internal/localstore"
	"github.com/offsitehq/fieldsync/internal/models"
	"github.com/offsitehq/fieldsync/internal/remote"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.StorageRoot = t.TempDir()
	cfg.DeviceID = "device-test"
	cfg.MaxRetries = 2
	cfg.RetryDelay = time.Millisecond
	return cfg
}

func newTestOrchestrator(t *testing.T, cfg *config.Config) (*Orchestrator, *localstore.LocalStore, *remote.MemoryEndpoint) {
	t.Helper()
	store, err := localstore.New(cfg.StorageRoot, cfg.MaxQueueSize, cfg.MaxStorageBytes)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	endpoint := remote.NewMemoryEndpoint()
	resolver := conflict.NewResolver(cfg.DefaultStrategy)
	return New(cfg, store, resolver, endpoint), store, endpoint
}

func TestSaveReadYourWritesOffline(t *testing.T) {
	o, _, _ := newTestOrchestrator(t, testConfig(t))

	payload := []byte(`{"title":"Crack in slab"}`)
	if err := o.Save("Issue", "issue-1", payload, "field-user", "proj-1"); err != nil {
		t.Fatalf("Save should succeed offline: %v", err)
	}

	got, ok := o.Get("Issue", "issue-1")
	if !ok {
		t.Fatal("Get should see the write immediately")
	}
	if string(got) != string(payload) {
		t.Errorf("Expected %s, got %s", payload, got)
	}
}

func TestSaveIncrementsVersionByOne(t *testing.T) {
	o, _, _ := newTestOrchestrator(t, testConfig(t))
	key := models.NewEntityKey("Issue", "issue-1")

	if v := o.EntityVersion(key); v != 0 {
		t.Errorf("Unwritten entity should be version 0, got %d", v)
	}
	o.Save("Issue", "issue-1", []byte(`{"v":1}`), "u", "p")
	if v := o.EntityVersion(key); v != 1 {
		t.Errorf("Expected version 1, got %d", v)
	}
	o.Save("Issue", "issue-1", []byte(`{"v":2}`), "u", "p")
	if v := o.EntityVersion(key); v != 2 {
		t.Errorf("Expected version 2, got %d", v)
	}
}

func TestSaveQueuesCreateThenUpdate(t *testing.T) {
	o, _, _ := newTestOrchestrator(t, testConfig(t))

	o.Save("Issue", "issue-1", []byte(`{"v":1}`), "field-user", "proj-1")
	o.Save("Issue", "issue-1", []byte(`{"v":2}`), "field-user", "proj-1")

	pending := o.GetPendingChanges()
	if len(pending) != 2 {
		t.Fatalf("Expected 2 pending changes, got %d", len(pending))
	}
	if pending[0].Operation != models.OperationCreate {
		t.Errorf("First write should be a create, got %s", pending[0].Operation)
	}
	if pending[1].Operation != models.OperationUpdate {
		t.Errorf("Second write should be an update, got %s", pending[1].Operation)
	}
	if pending[0].Version != 1 || pending[1].Version != 2 {
		t.Errorf("Unexpected versions: %d, %d", pending[0].Version, pending[1].Version)
	}
	if pending[0].DeviceID != "device-test" {
		t.Errorf("Change should carry the device id, got %q", pending[0].DeviceID)
	}
	if pending[0].ContentHash == "" {
		t.Error("Change should carry a content hash")
	}
}

func TestDeleteQueuesDeleteChange(t *testing.T) {
	o, _, _ := newTestOrchestrator(t, testConfig(t))

	o.Save("Issue", "issue-1", []byte(`{"v":1}`), "u", "p")
	if err := o.Delete("Issue", "issue-1", "u"); err != nil {
		t.Fatalf("Delete should succeed: %v", err)
	}

	if _, ok := o.Get("Issue", "issue-1"); ok {
		t.Error("Deleted entity should be gone locally")
	}

	pending := o.GetPendingChanges()
	if len(pending) != 2 {
		t.Fatalf("Expected 2 pending changes, got %d", len(pending))
	}
	if pending[1].Operation != models.OperationDelete {
		t.Errorf("Expected delete change, got %s", pending[1].Operation)
	}
	if pending[1].Version != 2 {
		t.Errorf("Delete should bump version, got %d", pending[1].Version)
	}
}

func TestPriorityTypesQueueFirst(t *testing.T) {
	o, _, _ := newTestOrchestrator(t, testConfig(t))

	o.Save("Photo", "photo-1", []byte(`{"v":1}`), "u", "p")
	o.Save("Issue", "issue-1", []byte(`{"v":1}`), "u", "p")

	pending := o.GetPendingChanges()
	if len(pending) != 2 {
		t.Fatalf("Expected 2 pending changes, got %d", len(pending))
	}
	if pending[0].EntityType != "Issue" {
		t.Errorf("Priority type should queue first, got %s", pending[0].EntityType)
	}
	if pending[0].Priority != 0 || pending[1].Priority != 1 {
		t.Errorf("Unexpected priorities: %d, %d", pending[0].Priority, pending[1].Priority)
	}
}

func TestDeviceIDGeneratedWhenUnset(t *testing.T) {
	cfg := testConfig(t)
	cfg.DeviceID = ""
	o, _, _ := newTestOrchestrator(t, cfg)
	if o.DeviceID() == "" {
		t.Error("Orchestrator should generate a device id")
	}
}

func TestSetOnlineEmitsConnectivityEvent(t *testing.T) {
	o, _, _ := newTestOrchestrator(t, testConfig(t))

	got := make(chan events.Event, 4)
	unsubscribe := o.Events().Subscribe(func(ev events.Event) {
		if ev.Type == events.TypeConnectivityChanged {
			got <- ev
		}
	})
	defer unsubscribe()

	o.SetOnline(true)

	select {
	case ev := <-got:
		if online, _ := ev.Data["online"].(bool); !online {
			t.Errorf("Expected online=true in event data, got %v", ev.Data)
		}
	case <-time.After(time.Second):
		t.Fatal("Timed out waiting for connectivity event")
	}

	if !o.IsOnline() {
		t.Error("Orchestrator should report online")
	}

	// Repeating the same state emits nothing
	o.SetOnline(true)
	select {
	case <-got:
		t.Error("No-op transition should not emit an event")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestManualResolveAppliesPayloadLocally(t *testing.T) {
	cfg := testConfig(t)
	cfg.DefaultStrategy = models.ResolutionManual
	o, store, _ := newTestOrchestrator(t, cfg)

	// Park a conflict the way a pull would
	local := &models.Change{
		ID: "c1", EntityType: "Issue", EntityID: "issue-1",
		Payload:     []byte(`{"title":"local"}`),
		ContentHash: models.HashPayload([]byte(`{"title":"local"}`)),
		Version:     1,
	}
	server := &models.ServerChange{
		ID: "s1", EntityType: "Issue", EntityID: "issue-1",
		Payload:     []byte(`{"title":"server"}`),
		ContentHash: models.HashPayload([]byte(`{"title":"server"}`)),
		Version:     3,
	}
	conf := o.Resolver().Detect(local, server)
	if conf == nil {
		t.Fatal("Expected a conflict")
	}
	o.Resolver().Resolve(conf, models.ResolutionManual)

	final := []byte(`{"title":"operator pick"}`)
	if err := o.ManualResolve(conf.ID, final, "supervisor"); err != nil {
		t.Fatalf("ManualResolve should succeed: %v", err)
	}

	got, ok := store.Retrieve(models.NewEntityKey("Issue", "issue-1"))
	if !ok || string(got) != string(final) {
		t.Errorf("Resolved payload should be applied locally, got %s", got)
	}
	if v := o.EntityVersion(models.NewEntityKey("Issue", "issue-1")); v != 3 {
		t.Errorf("Version should advance to the server version, got %d", v)
	}
	if len(o.Resolver().GetUnresolved()) != 0 {
		t.Error("Conflict should leave the unresolved table")
	}
}
