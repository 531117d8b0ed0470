package quote

import (
	"context"
	"errors"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time {
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}

func newTestService(t *testing.T) (*Service, *testClock) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&Quote{}, &QuoteView{}, &NumberSequence{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}

	clock := &testClock{now: time.Date(2026, time.June, 1, 9, 0, 0, 0, time.UTC)}
	service, err := NewService(ServiceConfig{
		Database:   db,
		Clock:      clock.Now,
		IDProvider: NewUUIDProvider(),
		AppBaseURL: "https://app.example.com",
	})
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	return service, clock
}

func lineItem(productID int64, unitPrice string, quantity int64) LineItem {
	price, _ := decimal.NewFromString(unitPrice)
	return LineItem{
		ProductID: productID,
		Name:      "Test Product",
		UnitPrice: price,
		Quantity:  quantity,
	}
}

func mustCreate(t *testing.T, service *Service, items ...LineItem) *Quote {
	t.Helper()
	record, err := service.Create(context.Background(), CreateRequest{
		CustomerName:  "Acme",
		CustomerEmail: "buyer@acme.example",
		LineItems:     items,
		CreatedByID:   "user-1",
		CreatedByName: "Ana Silva",
	})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	return record
}

func mustGenerateLink(t *testing.T, service *Service, id string) *LinkIssue {
	t.Helper()
	issue, err := service.GenerateSignatureLink(context.Background(), id)
	if err != nil {
		t.Fatalf("generate link failed: %v", err)
	}
	return issue
}

func TestCreateRecomputesTotal(t *testing.T) {
	service, _ := newTestService(t)

	record := mustCreate(t, service, lineItem(1, "100.00", 3))

	if !record.TotalPrice.Equal(decimal.RequireFromString("300.00")) {
		t.Fatalf("expected total 300.00, got %s", record.TotalPrice)
	}
	if record.Status != StatusDraft {
		t.Fatalf("expected draft status, got %s", record.Status)
	}
	if record.QuoteNumber != "QT-2026-000001" {
		t.Fatalf("unexpected quote number %q", record.QuoteNumber)
	}
}

func TestCreateHonorsExplicitSubtotals(t *testing.T) {
	service, _ := newTestService(t)

	withFinishing := lineItem(1, "100.00", 2)
	withFinishing.Subtotal = decimal.RequireFromString("230.00")

	record := mustCreate(t, service, withFinishing, lineItem(2, "10.00", 1))
	if !record.TotalPrice.Equal(decimal.RequireFromString("240.00")) {
		t.Fatalf("expected total 240.00, got %s", record.TotalPrice)
	}
}

func TestCreateSequentialQuoteNumbers(t *testing.T) {
	service, _ := newTestService(t)

	first := mustCreate(t, service, lineItem(1, "10.00", 1))
	second := mustCreate(t, service, lineItem(1, "10.00", 1))

	if first.QuoteNumber == second.QuoteNumber {
		t.Fatalf("expected distinct quote numbers")
	}
	if second.QuoteNumber != "QT-2026-000002" {
		t.Fatalf("expected sequential number, got %q", second.QuoteNumber)
	}
}

func TestCreateValidation(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()

	_, err := service.Create(ctx, CreateRequest{LineItems: []LineItem{lineItem(1, "10.00", 1)}})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error for missing name, got %v", err)
	}

	_, err = service.Create(ctx, CreateRequest{CustomerName: "Acme"})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error for missing items, got %v", err)
	}
}

func TestGenerateLinkTransitionsToSent(t *testing.T) {
	service, clock := newTestService(t)

	record := mustCreate(t, service, lineItem(1, "50.00", 1))
	issue := mustGenerateLink(t, service, record.ID)

	if issue.Token == "" {
		t.Fatalf("expected a token")
	}
	if issue.SignatureLink != "https://app.example.com/sign/"+issue.Token {
		t.Fatalf("unexpected link %q", issue.SignatureLink)
	}
	if !issue.ExpiresAt.Equal(clock.Now().Add(7 * 24 * time.Hour)) {
		t.Fatalf("expected expiry seven days out, got %v", issue.ExpiresAt)
	}
	if issue.Version != 1 {
		t.Fatalf("expected first link version 1, got %d", issue.Version)
	}

	stored, err := service.Get(context.Background(), record.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if stored.Status != StatusSent {
		t.Fatalf("expected sent status, got %s", stored.Status)
	}
	if stored.SignatureToken == nil || *stored.SignatureToken != issue.Token {
		t.Fatalf("expected stored token to match issue")
	}
}

func TestGenerateLinkMonotonicVersions(t *testing.T) {
	service, _ := newTestService(t)

	record := mustCreate(t, service, lineItem(1, "50.00", 1))

	seen := map[string]bool{}
	for expected := int64(1); expected <= 3; expected++ {
		issue := mustGenerateLink(t, service, record.ID)
		if issue.Version != expected {
			t.Fatalf("expected version %d, got %d", expected, issue.Version)
		}
		if seen[issue.Token] {
			t.Fatalf("token %q reissued", issue.Token)
		}
		seen[issue.Token] = true
	}
}

func TestGenerateLinkRefusedForApprovedQuote(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()

	record := mustCreate(t, service, lineItem(1, "50.00", 1))
	issue := mustGenerateLink(t, service, record.ID)
	if _, err := service.ConfirmByToken(ctx, issue.Token, SignatureData{IP: "10.0.0.1"}); err != nil {
		t.Fatalf("confirm failed: %v", err)
	}

	if _, err := service.GenerateSignatureLink(ctx, record.ID); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("expected invalid status, got %v", err)
	}
}

func TestUpdateWhileSentInvalidatesLink(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()

	record := mustCreate(t, service, lineItem(1, "50.00", 1))
	mustGenerateLink(t, service, record.ID)

	newName := "Acme Industries"
	updated, err := service.Update(ctx, record.ID, UpdateRequest{CustomerName: &newName})
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}

	if updated.Status != StatusDraft {
		t.Fatalf("expected edit to revert to draft, got %s", updated.Status)
	}
	if updated.SignatureToken != nil {
		t.Fatalf("expected signature token to be nulled")
	}
	if updated.ExpiresAt != nil {
		t.Fatalf("expected expiry to be nulled")
	}
	if updated.CustomerName != "Acme Industries" {
		t.Fatalf("expected name update to apply")
	}
}

func TestUpdateRecomputesTotalWhenItemsChange(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()

	record := mustCreate(t, service, lineItem(1, "50.00", 1))

	items := []LineItem{lineItem(1, "50.00", 2), lineItem(2, "25.00", 4)}
	updated, err := service.Update(ctx, record.ID, UpdateRequest{LineItems: &items})
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if !updated.TotalPrice.Equal(decimal.RequireFromString("200.00")) {
		t.Fatalf("expected recomputed total 200.00, got %s", updated.TotalPrice)
	}

	empty := []LineItem{}
	if _, err := service.Update(ctx, record.ID, UpdateRequest{LineItems: &empty}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error for empty items, got %v", err)
	}
}

func TestRegenerateLinkOnlyAfterExpiry(t *testing.T) {
	service, clock := newTestService(t)
	ctx := context.Background()

	record := mustCreate(t, service, lineItem(1, "50.00", 1))

	if _, err := service.RegenerateLink(ctx, record.ID); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("expected invalid status for draft, got %v", err)
	}

	first := mustGenerateLink(t, service, record.ID)

	if _, err := service.RegenerateLink(ctx, record.ID); !errors.Is(err, ErrLinkStillValid) {
		t.Fatalf("expected link still valid, got %v", err)
	}

	clock.Advance(8 * 24 * time.Hour)
	reissued, err := service.RegenerateLink(ctx, record.ID)
	if err != nil {
		t.Fatalf("regenerate failed: %v", err)
	}
	if reissued.Token == first.Token {
		t.Fatalf("expected a fresh token")
	}
	if reissued.Version != first.Version+1 {
		t.Fatalf("expected version bump, got %d after %d", reissued.Version, first.Version)
	}
}

func TestConfirmByTokenSucceedsAtMostOnce(t *testing.T) {
	service, clock := newTestService(t)
	ctx := context.Background()

	record := mustCreate(t, service, lineItem(1, "100.00", 3))
	issue := mustGenerateLink(t, service, record.ID)

	evidence := SignatureData{
		IP:        "203.0.113.5",
		UserAgent: "Mozilla/5.0",
	}
	signed, err := service.ConfirmByToken(ctx, issue.Token, evidence)
	if err != nil {
		t.Fatalf("confirm failed: %v", err)
	}
	if signed.Status != StatusApproved {
		t.Fatalf("expected approved, got %s", signed.Status)
	}
	if signed.SignedAt == nil || !signed.SignedAt.Equal(clock.Now()) {
		t.Fatalf("expected signedAt %v, got %v", clock.Now(), signed.SignedAt)
	}

	stored, err := signed.SignatureEvidence()
	if err != nil {
		t.Fatalf("decode evidence failed: %v", err)
	}
	if stored == nil || stored.IP != "203.0.113.5" {
		t.Fatalf("expected evidence to be persisted, got %#v", stored)
	}

	if _, err := service.ConfirmByToken(ctx, issue.Token, evidence); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("second confirm must fail with invalid status, got %v", err)
	}
	if _, err := service.RejectByToken(ctx, issue.Token, "changed my mind"); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("reject after confirm must fail with invalid status, got %v", err)
	}
}

func TestConfirmAndRejectAfterExpiry(t *testing.T) {
	service, clock := newTestService(t)
	ctx := context.Background()

	record := mustCreate(t, service, lineItem(1, "10.00", 1))
	issue := mustGenerateLink(t, service, record.ID)

	clock.Advance(8 * 24 * time.Hour)

	if _, err := service.ConfirmByToken(ctx, issue.Token, SignatureData{}); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected expired on confirm, got %v", err)
	}
	if _, err := service.RejectByToken(ctx, issue.Token, ""); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected expired on reject, got %v", err)
	}
}

func TestConfirmUnknownToken(t *testing.T) {
	service, _ := newTestService(t)
	if _, err := service.ConfirmByToken(context.Background(), "no-such-token", SignatureData{}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestRejectByTokenStoresReason(t *testing.T) {
	service, clock := newTestService(t)
	ctx := context.Background()

	record := mustCreate(t, service, lineItem(1, "10.00", 1))
	issue := mustGenerateLink(t, service, record.ID)

	rejected, err := service.RejectByToken(ctx, issue.Token, "price too high")
	if err != nil {
		t.Fatalf("reject failed: %v", err)
	}
	if rejected.Status != StatusRejected {
		t.Fatalf("expected rejected, got %s", rejected.Status)
	}
	if rejected.RejectedAt == nil || !rejected.RejectedAt.Equal(clock.Now()) {
		t.Fatalf("expected rejectedAt to be set")
	}
	if rejected.RejectionReason != "price too high" {
		t.Fatalf("unexpected reason %q", rejected.RejectionReason)
	}
}

func TestRecordViewAndListViews(t *testing.T) {
	service, clock := newTestService(t)
	ctx := context.Background()

	record := mustCreate(t, service, lineItem(1, "10.00", 1))

	if err := service.RecordView(ctx, record.ID, "198.51.100.1", "agent-a", nil); err != nil {
		t.Fatalf("record view failed: %v", err)
	}
	clock.Advance(time.Minute)
	latitude := 38.72
	if err := service.RecordView(ctx, record.ID, "198.51.100.2", "agent-b", &Geolocation{Latitude: &latitude, City: "Lisboa"}); err != nil {
		t.Fatalf("record view failed: %v", err)
	}

	views, err := service.ListViews(ctx, record.ID)
	if err != nil {
		t.Fatalf("list views failed: %v", err)
	}
	if len(views) != 2 {
		t.Fatalf("expected two views, got %d", len(views))
	}
	// most recent first.
	if views[0].IPAddress != "198.51.100.2" {
		t.Fatalf("expected newest view first, got %q", views[0].IPAddress)
	}
	geo, err := views[0].Geo()
	if err != nil {
		t.Fatalf("decode geo failed: %v", err)
	}
	if geo == nil || geo.City != "Lisboa" {
		t.Fatalf("expected decoded geolocation, got %#v", geo)
	}
}

func TestListFiltersAndViewCounts(t *testing.T) {
	service, clock := newTestService(t)
	ctx := context.Background()

	first := mustCreate(t, service, lineItem(1, "10.00", 1))
	clock.Advance(time.Hour)
	second := mustCreate(t, service, lineItem(1, "20.00", 1))
	mustGenerateLink(t, service, second.ID)

	if err := service.RecordView(ctx, second.ID, "198.51.100.9", "agent", nil); err != nil {
		t.Fatalf("record view failed: %v", err)
	}

	all, err := service.List(ctx, ListFilters{})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected two quotes, got %d", len(all))
	}
	if all[0].ID != second.ID {
		t.Fatalf("expected newest first")
	}
	if all[0].ViewCount != 1 || all[1].ViewCount != 0 {
		t.Fatalf("unexpected view counts: %d, %d", all[0].ViewCount, all[1].ViewCount)
	}

	sent := StatusSent
	filtered, err := service.List(ctx, ListFilters{Status: &sent})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(filtered) != 1 || filtered[0].ID != second.ID {
		t.Fatalf("expected only the sent quote")
	}

	byNumber, err := service.List(ctx, ListFilters{Search: first.QuoteNumber})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(byNumber) != 1 || byNumber[0].ID != first.ID {
		t.Fatalf("expected search by quote number to match")
	}
}

func TestDeleteRemovesQuoteAndViews(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()

	record := mustCreate(t, service, lineItem(1, "10.00", 1))
	if err := service.RecordView(ctx, record.ID, "198.51.100.1", "agent", nil); err != nil {
		t.Fatalf("record view failed: %v", err)
	}

	if err := service.Delete(ctx, record.ID); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, err := service.Get(ctx, record.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected quote to be gone, got %v", err)
	}
	views, err := service.ListViews(ctx, record.ID)
	if err != nil {
		t.Fatalf("list views failed: %v", err)
	}
	if len(views) != 0 {
		t.Fatalf("expected view trail to be removed")
	}
}

func TestDeleteConvertedQuoteForbidden(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()

	record := mustCreate(t, service, lineItem(1, "10.00", 1))
	if _, err := service.MarkConverted(ctx, record.ID, "order-77"); err != nil {
		t.Fatalf("mark converted failed: %v", err)
	}

	if err := service.Delete(ctx, record.ID); !errors.Is(err, ErrConverted) {
		t.Fatalf("expected converted guard, got %v", err)
	}
	if _, err := service.MarkConverted(ctx, record.ID, "order-78"); !errors.Is(err, ErrConverted) {
		t.Fatalf("expected second conversion to fail, got %v", err)
	}

	name := "New Name"
	if _, err := service.Update(ctx, record.ID, UpdateRequest{CustomerName: &name}); !errors.Is(err, ErrConverted) {
		t.Fatalf("expected converted quote to refuse edits, got %v", err)
	}
}
