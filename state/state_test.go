package state

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/dhcgn/parcelscan/classify"
	"github.com/dhcgn/parcelscan/model"
)

var fixedNow = func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) }

func samplePurchase(id, tracking string) model.Purchase {
	meta := model.MessageMeta{ID: id, From: "UPS <pkginfo@ups.com>", Subject: "UPS Update"}
	addr := model.Address{Line1: "144 QUIGLEY BLVD", Line2: "STE 9", City: "NEW CASTLE", State: "DE", Zipcode: "19720"}
	return classify.NewAssembler(nil).Assemble(meta, tracking, addr)
}

func fileOptions(t *testing.T, persist bool) Options {
	return Options{Persist: persist, RunID: "run-1", Logger: zaptest.NewLogger(t), Now: fixedNow}
}

func TestMemoryLedgerIdempotence(t *testing.T) {
	l := NewMemoryLedger()

	added, err := l.AppendSuccess(samplePurchase("m1", "1Z1"))
	require.NoError(t, err)
	assert.True(t, added)

	added, err = l.AppendSuccess(samplePurchase("m1", "1Z1"))
	require.NoError(t, err)
	assert.False(t, added)

	// Same message, different tracking number is a distinct purchase.
	added, err = l.AppendSuccess(samplePurchase("m1", "1Z2"))
	require.NoError(t, err)
	assert.True(t, added)

	added, err = l.AppendError(model.MessageMeta{ID: "m2"})
	require.NoError(t, err)
	assert.True(t, added)
	added, err = l.AppendError(model.MessageMeta{ID: "m2", Subject: "other"})
	require.NoError(t, err)
	assert.False(t, added)

	assert.True(t, l.Contains("m1"))
	assert.True(t, l.Contains("m2"))
	assert.False(t, l.Contains("m3"))
	assert.False(t, l.Contains(""))
	assert.Equal(t, Snapshot{Purchases: 2, Failures: 1}, l.Snapshot())
}

func TestFileLedgerRoundTrip(t *testing.T) {
	dir := t.TempDir()

	l, err := NewFileLedger(dir, fileOptions(t, true))
	require.NoError(t, err)

	_, err = l.AppendSuccess(samplePurchase("m1", "1Z1"))
	require.NoError(t, err)
	_, err = l.AppendSuccess(samplePurchase("m2", "TBA9"))
	require.NoError(t, err)
	_, err = l.AppendError(model.MessageMeta{ID: "m3", Subject: "FedEx shipment"})
	require.NoError(t, err)
	require.NoError(t, l.Close())

	reopened, err := NewFileLedger(dir, fileOptions(t, true))
	require.NoError(t, err)
	defer reopened.Close()

	assert.Zero(t, reopened.Corrupt())
	assert.True(t, reopened.Contains("m1"))
	assert.True(t, reopened.Contains("m3"))

	recs, err := reopened.LoadAll()
	require.NoError(t, err)
	require.Len(t, recs.Purchases, 2)
	assert.Equal(t, "1Z1", recs.Purchases[0].TrackingNumber)
	assert.Equal(t, "TBA9", recs.Purchases[1].TrackingNumber)
	assert.Equal(t, model.CarrierAmazon, recs.Purchases[1].Carrier)
	assert.Equal(t, model.CarrierUPS, recs.Purchases[1].SenderCarrier)
	assert.Equal(t, model.OrgA, recs.Purchases[0].Organization)
	require.Len(t, recs.Failures, 1)
	assert.Equal(t, "FedEx shipment", recs.Failures[0].Subject)

	added, err := reopened.AppendSuccess(samplePurchase("m1", "1Z1"))
	require.NoError(t, err)
	assert.False(t, added)
}

func TestFileLedgerWritesRunMetadata(t *testing.T) {
	dir := t.TempDir()
	l, err := NewFileLedger(dir, fileOptions(t, true))
	require.NoError(t, err)

	_, err = l.AppendSuccess(samplePurchase("m1", "1Z1"))
	require.NoError(t, err)

	// Appends are durable before Close.
	data, err := os.ReadFile(filepath.Join(dir, PurchasesFile))
	require.NoError(t, err)
	line := strings.TrimSpace(string(data))
	assert.Contains(t, line, `"run_id":"run-1"`)
	assert.Contains(t, line, `"recorded_at":"2024-03-01T12:00:00Z"`)
	assert.Contains(t, line, `"tracking_number":"1Z1"`)
	require.NoError(t, l.Close())
}

func TestFileLedgerRecomputesDerivedFields(t *testing.T) {
	dir := t.TempDir()
	stale := `{"message":{"id":"m1","from":"auto-reply@amazon.com"},"tracking_number":"1Z77","address":{"line1":"9 MAIN ST","line2":"APT 1","city":"X","state":"NY","zipcode":"10001"},"carrier":"FedEx","organization":"OrgB"}` + "\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, PurchasesFile), []byte(stale), 0o600))

	l, err := NewFileLedger(dir, fileOptions(t, false))
	require.NoError(t, err)

	recs, err := l.LoadAll()
	require.NoError(t, err)
	require.Len(t, recs.Purchases, 1)
	p := recs.Purchases[0]
	assert.Equal(t, model.CarrierUPS, p.Carrier)
	assert.Equal(t, model.CarrierAmazon, p.SenderCarrier)
	assert.Equal(t, model.OrgD, p.Organization)
}

func TestFileLedgerCorruptLines(t *testing.T) {
	dir := t.TempDir()
	purchases := strings.Join([]string{
		`{"message":{"id":"m1"},"tracking_number":"1Z1","address":{}}`,
		`{not json`,
		``,
		`{"message":{},"tracking_number":"1Z2"}`,
		`{"message":{"id":"m4"},"tracking_number":"1Z4","address":{}}`,
		`{"message":{"id":"m5"},"tracking`,
	}, "\n")
	failures := "{\"message\":{\"id\":\"e1\"}}\n[1,2,3]\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, PurchasesFile), []byte(purchases), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ErrorsFile), []byte(failures), 0o600))

	l, err := NewFileLedger(dir, fileOptions(t, true))
	require.NoError(t, err)

	assert.Equal(t, 4, l.Corrupt())
	assert.True(t, l.Contains("m1"))
	assert.True(t, l.Contains("m4"))
	assert.False(t, l.Contains("m5"))
	assert.True(t, l.Contains("e1"))

	// A record appended after a truncated line is still readable.
	_, err = l.AppendSuccess(samplePurchase("m6", "1Z6"))
	require.NoError(t, err)
	require.NoError(t, l.Close())

	reopened, err := NewFileLedger(dir, fileOptions(t, false))
	require.NoError(t, err)
	assert.True(t, reopened.Contains("m6"))
	assert.Equal(t, 4, reopened.Corrupt())
}

func TestFileLedgerMissingFiles(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "fresh", "state")

	l, err := NewFileLedger(dir, fileOptions(t, false))
	require.NoError(t, err)
	recs, err := l.LoadAll()
	require.NoError(t, err)
	assert.Empty(t, recs.Purchases)
	assert.Empty(t, recs.Failures)
	require.NoError(t, l.Close())

	_, err = os.Stat(dir)
	assert.True(t, os.IsNotExist(err), "dry run must not create the state directory")
}

func TestFileLedgerDryRun(t *testing.T) {
	dir := t.TempDir()

	l, err := NewFileLedger(dir, fileOptions(t, false))
	require.NoError(t, err)
	added, err := l.AppendSuccess(samplePurchase("m1", "1Z1"))
	require.NoError(t, err)
	assert.True(t, added)
	assert.True(t, l.Contains("m1"))
	require.NoError(t, l.Close())

	_, err = os.Stat(filepath.Join(dir, PurchasesFile))
	assert.True(t, os.IsNotExist(err))
}

func TestNewFileLedgerEmptyDir(t *testing.T) {
	_, err := NewFileLedger("  ", Options{})
	assert.Error(t, err)
}

func TestOpenBackends(t *testing.T) {
	dir := t.TempDir()

	l, err := Open(BackendFile, dir, fileOptions(t, true))
	require.NoError(t, err)
	assert.IsType(t, &FileLedger{}, l)
	require.NoError(t, l.Close())

	l, err = Open("SQLite", dir, fileOptions(t, true))
	require.NoError(t, err)
	assert.IsType(t, &SQLiteLedger{}, l)
	require.NoError(t, l.Close())

	_, err = Open("postgres", dir, Options{})
	assert.ErrorContains(t, err, "unknown ledger backend")
}
