package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
	"golang.org/x/crypto/bcrypt"

	"pharmapos/internal/domain"
	"pharmapos/internal/pricing"
	"pharmapos/internal/store"
	"pharmapos/internal/store/memory"
)

var fixedNow = time.Date(2026, 3, 7, 14, 30, 0, 0, time.UTC)

func newTestService(t *testing.T) (*Service, *memory.Store) {
	t.Helper()
	repo := memory.New()
	repo.SetClock(func() time.Time { return fixedNow })
	svc := New(repo, zaptest.NewLogger(t), t.TempDir())
	svc.SetClock(func() time.Time { return fixedNow })
	return svc, repo
}

func addUser(t *testing.T, repo *memory.Store, username string, password string, role string) *domain.User {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	user, err := repo.CreateUser(context.Background(), domain.User{
		Username:     username,
		PasswordHash: string(hash),
		Role:         role,
		Active:       true,
	})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	return user
}

func loginAdmin(t *testing.T, svc *Service, repo *memory.Store) *Session {
	t.Helper()
	addUser(t, repo, "admin", "admin-pass", domain.RoleAdmin)
	sess, err := svc.Login(context.Background(), "admin", "admin-pass")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	return sess
}

func addMedicine(t *testing.T, repo *memory.Store, name string, packs int, upp int, packPrice int64) *domain.Medicine {
	t.Helper()
	m, err := repo.CreateMedicine(context.Background(), domain.Medicine{
		Name:           name,
		Expiry:         time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC),
		StockPacks:     packs,
		UnitsPerPack:   upp,
		PackPriceCents: packPrice,
		UnitPriceCents: pricing.UnitPriceCents(packPrice, upp),
		Supplier:       "Medline",
	})
	if err != nil {
		t.Fatalf("create medicine: %v", err)
	}
	return m
}

func stockOf(t *testing.T, repo *memory.Store, id int64) int {
	t.Helper()
	m, err := repo.GetMedicine(context.Background(), id)
	if err != nil {
		t.Fatalf("get medicine: %v", err)
	}
	return m.StockPacks
}

func TestCheckoutTwoLinesRendersReceiptTotal(t *testing.T) {
	svc, repo := newTestService(t)
	sess := loginAdmin(t, svc, repo)
	ctx := context.Background()

	para := addMedicine(t, repo, "Paracetamol", 10, 10, 500)
	ibu := addMedicine(t, repo, "Ibuprofen", 10, 10, 1200)

	if _, err := svc.AddLine(ctx, sess, para.ID, domain.UnitPack, 2); err != nil {
		t.Fatalf("add paracetamol: %v", err)
	}
	if _, err := svc.AddLine(ctx, sess, ibu.ID, domain.UnitUnit, 3); err != nil {
		t.Fatalf("add ibuprofen: %v", err)
	}

	result, err := svc.Checkout(ctx, sess)
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if result.GrandTotalCents != 1360 {
		t.Fatalf("expected grand total 1360, got %d", result.GrandTotalCents)
	}
	if len(result.SaleIDs) != 2 {
		t.Fatalf("expected 2 sale ids, got %v", result.SaleIDs)
	}
	if result.Cashier != "admin" {
		t.Fatalf("expected cashier admin, got %s", result.Cashier)
	}
	if !strings.Contains(result.Receipt, "Total:") || !strings.Contains(result.Receipt, "13.60") {
		t.Fatalf("receipt missing total:\n%s", result.Receipt)
	}
	if !strings.Contains(result.Receipt, "Paracetamol") || !strings.Contains(result.Receipt, "Ibuprofen") {
		t.Fatalf("receipt missing lines:\n%s", result.Receipt)
	}
	if !strings.Contains(result.Receipt, "Date: 07-03-2026") {
		t.Fatalf("receipt missing date:\n%s", result.Receipt)
	}

	if got := stockOf(t, repo, para.ID); got != 8 {
		t.Fatalf("expected paracetamol 8 packs, got %d", got)
	}
	if got := stockOf(t, repo, ibu.ID); got != 9 {
		t.Fatalf("expected ibuprofen 9 packs (97 units), got %d", got)
	}
	if view := svc.CartView(sess); len(view.Lines) != 0 || view.GrandTotalCents != 0 {
		t.Fatalf("expected cart cleared after checkout, got %+v", view)
	}
}

func TestSellingUnitsTruncatesPartialPack(t *testing.T) {
	svc, repo := newTestService(t)
	sess := loginAdmin(t, svc, repo)
	ctx := context.Background()
	m := addMedicine(t, repo, "Amoxicillin", 10, 10, 2500)

	line, err := svc.AddLine(ctx, sess, m.ID, domain.UnitUnit, 15)
	if err != nil {
		t.Fatalf("add line: %v", err)
	}
	if line.UnitPriceCents != 250 {
		t.Fatalf("expected unit price 250, got %d", line.UnitPriceCents)
	}
	if _, err := svc.Checkout(ctx, sess); err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if got := stockOf(t, repo, m.ID); got != 8 {
		t.Fatalf("expected 8 packs after selling 15 units, got %d", got)
	}
}

func TestAddLineErrors(t *testing.T) {
	svc, repo := newTestService(t)
	sess := loginAdmin(t, svc, repo)
	ctx := context.Background()
	m := addMedicine(t, repo, "Cetirizine", 2, 10, 900)

	if _, err := svc.AddLine(ctx, sess, 999, domain.UnitPack, 1); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := svc.AddLine(ctx, sess, m.ID, domain.UnitPack, 0); !errors.Is(err, store.ErrInvalidQuantity) {
		t.Fatalf("expected invalid quantity, got %v", err)
	}
	if _, err := svc.AddLine(ctx, sess, m.ID, domain.UnitPack, -1); !errors.Is(err, store.ErrInvalidQuantity) {
		t.Fatalf("expected invalid quantity for negative, got %v", err)
	}
	if _, err := svc.AddLine(ctx, sess, m.ID, domain.SaleUnit("Box"), 1); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected validation error for unknown unit, got %v", err)
	}
	_, err := svc.AddLine(ctx, sess, m.ID, domain.UnitUnit, 21)
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}
	if !strings.Contains(err.Error(), "20") {
		t.Fatalf("expected message to name available amount, got %v", err)
	}
}

func TestAddLineBoundaryAtRemainingStock(t *testing.T) {
	svc, repo := newTestService(t)
	sess := loginAdmin(t, svc, repo)
	ctx := context.Background()
	m := addMedicine(t, repo, "Paracetamol", 3, 10, 500)

	if _, err := svc.AddLine(ctx, sess, m.ID, domain.UnitPack, 3); err != nil {
		t.Fatalf("expected exact remaining stock to succeed: %v", err)
	}
	other := NewSession(sess.User)
	if _, err := svc.AddLine(ctx, other, m.ID, domain.UnitPack, 4); !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected remaining+1 to fail, got %v", err)
	}
}

func TestRepeatedAddsValidateIndependentlyButCheckoutIsCumulative(t *testing.T) {
	svc, repo := newTestService(t)
	sess := loginAdmin(t, svc, repo)
	ctx := context.Background()
	m := addMedicine(t, repo, "Paracetamol", 2, 10, 500)

	if _, err := svc.AddLine(ctx, sess, m.ID, domain.UnitPack, 2); err != nil {
		t.Fatalf("first add: %v", err)
	}
	line, err := svc.AddLine(ctx, sess, m.ID, domain.UnitPack, 2)
	if err != nil {
		t.Fatalf("second add: %v", err)
	}
	if line.Qty != 4 || line.TotalCents != 2000 {
		t.Fatalf("expected merged line of 4 packs, got %+v", line)
	}

	if _, err := svc.Checkout(ctx, sess); !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected checkout to reject 4 packs against 2, got %v", err)
	}
	if got := stockOf(t, repo, m.ID); got != 2 {
		t.Fatalf("expected stock untouched, got %d", got)
	}
	if len(svc.CartView(sess).Lines) != 1 {
		t.Fatalf("expected cart kept after failed checkout")
	}
}

func TestCheckoutRollsBackEveryLineOnFailure(t *testing.T) {
	svc, repo := newTestService(t)
	sess := loginAdmin(t, svc, repo)
	ctx := context.Background()
	a := addMedicine(t, repo, "Amoxicillin", 5, 10, 1000)
	b := addMedicine(t, repo, "Cetirizine", 5, 10, 900)

	if _, err := svc.AddLine(ctx, sess, a.ID, domain.UnitPack, 2); err != nil {
		t.Fatalf("add a: %v", err)
	}
	if _, err := svc.AddLine(ctx, sess, b.ID, domain.UnitPack, 4); err != nil {
		t.Fatalf("add b: %v", err)
	}
	if _, err := repo.AdjustStock(ctx, b.ID, -3); err != nil {
		t.Fatalf("adjust: %v", err)
	}

	if _, err := svc.Checkout(ctx, sess); !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}
	if got := stockOf(t, repo, a.ID); got != 5 {
		t.Fatalf("expected first line rolled back, stock %d", got)
	}
	sales, err := svc.FindSales(ctx, "")
	if err != nil {
		t.Fatalf("find sales: %v", err)
	}
	if len(sales) != 0 {
		t.Fatalf("expected no sales persisted, got %d", len(sales))
	}
}

func TestCheckoutErrors(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()
	m := addMedicine(t, repo, "Paracetamol", 5, 10, 500)

	sess := loginAdmin(t, svc, repo)
	if _, err := svc.Checkout(ctx, sess); !errors.Is(err, store.ErrEmptyCart) {
		t.Fatalf("expected empty cart, got %v", err)
	}

	anon := NewSession(nil)
	if _, err := svc.AddLine(ctx, anon, m.ID, domain.UnitPack, 1); err != nil {
		t.Fatalf("anonymous add: %v", err)
	}
	if _, err := svc.Checkout(ctx, anon); !errors.Is(err, store.ErrUnauthenticated) {
		t.Fatalf("expected unauthenticated, got %v", err)
	}
	if _, err := svc.Checkout(ctx, nil); !errors.Is(err, store.ErrUnauthenticated) {
		t.Fatalf("expected unauthenticated for nil session, got %v", err)
	}
}

func TestPriceIsSnapshottedAtAddTime(t *testing.T) {
	svc, repo := newTestService(t)
	sess := loginAdmin(t, svc, repo)
	ctx := context.Background()
	m := addMedicine(t, repo, "Paracetamol", 10, 10, 500)

	if _, err := svc.AddLine(ctx, sess, m.ID, domain.UnitPack, 1); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := svc.UpdateMedicine(ctx, m.ID, domain.MedicineInput{
		Name: m.Name, Expiry: "2027-01-01", StockPacks: 10, UnitsPerPack: 10, PackPriceCents: 700, Supplier: "Medline",
	}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if _, err := svc.AddLine(ctx, sess, m.ID, domain.UnitPack, 1); err != nil {
		t.Fatalf("add after price change: %v", err)
	}

	view := svc.CartView(sess)
	if len(view.Lines) != 2 {
		t.Fatalf("expected differing prices on separate lines, got %+v", view.Lines)
	}
	if view.Lines[0].UnitPriceCents != 500 || view.Lines[1].UnitPriceCents != 700 {
		t.Fatalf("unexpected prices %+v", view.Lines)
	}
	if view.GrandTotalCents != 1200 {
		t.Fatalf("expected 1200, got %d", view.GrandTotalCents)
	}
}

func TestRemoveAndClearCart(t *testing.T) {
	svc, repo := newTestService(t)
	sess := loginAdmin(t, svc, repo)
	ctx := context.Background()
	m := addMedicine(t, repo, "Paracetamol", 10, 10, 500)

	line, err := svc.AddLine(ctx, sess, m.ID, domain.UnitPack, 1)
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := svc.RemoveLine(sess, line.LineID+100); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := svc.RemoveLine(sess, line.LineID); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := svc.AddLine(ctx, sess, m.ID, domain.UnitUnit, 3); err != nil {
		t.Fatalf("add: %v", err)
	}
	svc.ClearCart(sess)
	if len(svc.CartView(sess).Lines) != 0 {
		t.Fatalf("expected empty cart")
	}
}

func TestProcessReturnRefundsAndCreditsStock(t *testing.T) {
	svc, repo := newTestService(t)
	sess := loginAdmin(t, svc, repo)
	ctx := context.Background()
	m := addMedicine(t, repo, "Ibuprofen", 10, 1, 120)

	if _, err := svc.AddLine(ctx, sess, m.ID, domain.UnitUnit, 5); err != nil {
		t.Fatalf("add: %v", err)
	}
	result, err := svc.Checkout(ctx, sess)
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if got := stockOf(t, repo, m.ID); got != 5 {
		t.Fatalf("expected 5 after sale, got %d", got)
	}

	conf, err := svc.ProcessReturn(ctx, sess, domain.ReturnRequest{SaleID: result.SaleIDs[0], Qty: 3, Reason: " wrong item "})
	if err != nil {
		t.Fatalf("return: %v", err)
	}
	if conf.RefundedCents != 360 {
		t.Fatalf("expected refund 360, got %d", conf.RefundedCents)
	}
	if conf.Unit != domain.UnitUnit || conf.MedicineName != "Ibuprofen" || conf.Qty != 3 {
		t.Fatalf("unexpected confirmation %+v", conf)
	}
	if !strings.Contains(conf.Text, "Refunded Amount: $3.60") {
		t.Fatalf("unexpected slip:\n%s", conf.Text)
	}
	if got := stockOf(t, repo, m.ID); got != 8 {
		t.Fatalf("expected 3 units credited back, got %d", got)
	}
}

func TestReturnSlipUsesRecordedTimestamp(t *testing.T) {
	svc, repo := newTestService(t)
	sess := loginAdmin(t, svc, repo)
	ctx := context.Background()
	m := addMedicine(t, repo, "Ibuprofen", 10, 1, 120)

	if _, err := svc.AddLine(ctx, sess, m.ID, domain.UnitUnit, 2); err != nil {
		t.Fatalf("add: %v", err)
	}
	result, err := svc.Checkout(ctx, sess)
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}

	tick := fixedNow
	svc.SetClock(func() time.Time {
		tick = tick.Add(time.Minute)
		return tick
	})

	conf, err := svc.ProcessReturn(ctx, sess, domain.ReturnRequest{SaleID: result.SaleIDs[0], Qty: 1})
	if err != nil {
		t.Fatalf("return: %v", err)
	}
	returns, err := repo.ListReturns(ctx, fixedNow.Add(-time.Hour), fixedNow.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("list returns: %v", err)
	}
	if len(returns) != 1 {
		t.Fatalf("expected one return, got %d", len(returns))
	}
	if !conf.CreatedAt.Equal(returns[0].CreatedAt) {
		t.Fatalf("confirmation time %v differs from recorded %v", conf.CreatedAt, returns[0].CreatedAt)
	}
}

func TestProcessReturnErrors(t *testing.T) {
	svc, repo := newTestService(t)
	sess := loginAdmin(t, svc, repo)
	ctx := context.Background()
	m := addMedicine(t, repo, "Ibuprofen", 10, 10, 1200)

	if _, err := svc.AddLine(ctx, sess, m.ID, domain.UnitUnit, 5); err != nil {
		t.Fatalf("add: %v", err)
	}
	result, err := svc.Checkout(ctx, sess)
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	saleID := result.SaleIDs[0]

	if _, err := svc.ProcessReturn(ctx, sess, domain.ReturnRequest{SaleID: saleID, Qty: 6}); !errors.Is(err, store.ErrExceedsSold) {
		t.Fatalf("expected exceeds sold, got %v", err)
	}
	if _, err := svc.ProcessReturn(ctx, sess, domain.ReturnRequest{SaleID: saleID, Qty: 0}); !errors.Is(err, store.ErrInvalidQuantity) {
		t.Fatalf("expected invalid quantity, got %v", err)
	}
	if _, err := svc.ProcessReturn(ctx, sess, domain.ReturnRequest{SaleID: 9999, Qty: 1}); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := svc.ProcessReturn(ctx, NewSession(nil), domain.ReturnRequest{SaleID: saleID, Qty: 1}); !errors.Is(err, store.ErrUnauthenticated) {
		t.Fatalf("expected unauthenticated, got %v", err)
	}
}

// Partial returns are each checked against the original sale quantity, so
// two of them can together exceed it. This pins the current behaviour.
func TestPartialReturnsAreNotCheckedCumulatively(t *testing.T) {
	svc, repo := newTestService(t)
	sess := loginAdmin(t, svc, repo)
	ctx := context.Background()
	m := addMedicine(t, repo, "Ibuprofen", 10, 1, 120)

	if _, err := svc.AddLine(ctx, sess, m.ID, domain.UnitUnit, 5); err != nil {
		t.Fatalf("add: %v", err)
	}
	result, err := svc.Checkout(ctx, sess)
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	saleID := result.SaleIDs[0]

	for i := 0; i < 2; i++ {
		if _, err := svc.ProcessReturn(ctx, sess, domain.ReturnRequest{SaleID: saleID, Qty: 3}); err != nil {
			t.Fatalf("return %d: %v", i+1, err)
		}
	}
	returned, err := svc.ReturnedQty(ctx, saleID)
	if err != nil {
		t.Fatalf("returned qty: %v", err)
	}
	if returned != 6 {
		t.Fatalf("expected 6 returned against a sale of 5, got %d", returned)
	}
}

func TestSellThenReturnRoundTrip(t *testing.T) {
	cases := []struct {
		name      string
		qty       int
		wantAfter int
	}{
		{name: "partial pack loses truncated units", qty: 15, wantAfter: 9},
		{name: "whole packs restore fully", qty: 20, wantAfter: 10},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc, repo := newTestService(t)
			sess := loginAdmin(t, svc, repo)
			ctx := context.Background()
			m := addMedicine(t, repo, "Paracetamol", 10, 10, 500)

			if _, err := svc.AddLine(ctx, sess, m.ID, domain.UnitUnit, tc.qty); err != nil {
				t.Fatalf("add: %v", err)
			}
			result, err := svc.Checkout(ctx, sess)
			if err != nil {
				t.Fatalf("checkout: %v", err)
			}
			if _, err := svc.ProcessReturn(ctx, sess, domain.ReturnRequest{SaleID: result.SaleIDs[0], Qty: tc.qty}); err != nil {
				t.Fatalf("return: %v", err)
			}
			if got := stockOf(t, repo, m.ID); got != tc.wantAfter {
				t.Fatalf("expected %d packs, got %d", tc.wantAfter, got)
			}
		})
	}
}

func TestFindSalesByIDAndText(t *testing.T) {
	svc, repo := newTestService(t)
	sess := loginAdmin(t, svc, repo)
	ctx := context.Background()
	para := addMedicine(t, repo, "Paracetamol", 10, 10, 500)
	ibu := addMedicine(t, repo, "Ibuprofen", 10, 10, 1200)

	for _, id := range []int64{para.ID, ibu.ID} {
		if _, err := svc.AddLine(ctx, sess, id, domain.UnitPack, 1); err != nil {
			t.Fatalf("add: %v", err)
		}
		if _, err := svc.Checkout(ctx, sess); err != nil {
			t.Fatalf("checkout: %v", err)
		}
	}

	byText, err := svc.FindSales(ctx, "PARA")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(byText) != 1 || byText[0].MedicineName != "Paracetamol" {
		t.Fatalf("unexpected text matches %+v", byText)
	}
	byID, err := svc.FindSales(ctx, "2")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(byID) != 1 || byID[0].ID != 2 {
		t.Fatalf("unexpected id matches %+v", byID)
	}
	all, err := svc.FindSales(ctx, "")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(all) != 2 || all[0].ID != 2 {
		t.Fatalf("expected newest first, got %+v", all)
	}
	if all[0].Cashier != "admin" {
		t.Fatalf("expected cashier on sale view, got %q", all[0].Cashier)
	}
}

func TestMedicineValidationAndDerivedPrice(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	invalid := []domain.MedicineInput{
		{Expiry: "2027-01-01", Supplier: "X"},
		{Name: "A", Supplier: "X"},
		{Name: "A", Expiry: "2027-01-01"},
		{Name: "A", Expiry: "01/01/2027", Supplier: "X"},
		{Name: "A", Expiry: "2027-01-01", Supplier: "X", StockPacks: -1},
		{Name: "A", Expiry: "2027-01-01", Supplier: "X", PackPriceCents: -1},
	}
	for i, req := range invalid {
		if _, err := svc.CreateMedicine(ctx, req); !errors.Is(err, store.ErrValidation) {
			t.Fatalf("case %d: expected validation error, got %v", i, err)
		}
	}

	created, err := svc.CreateMedicine(ctx, domain.MedicineInput{
		Name: " Amoxicillin ", Expiry: "2027-01-01", StockPacks: 4, UnitsPerPack: 3, PackPriceCents: 1000, Supplier: "PharmaCo",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.Name != "Amoxicillin" || created.UnitPriceCents != 333 {
		t.Fatalf("unexpected medicine %+v", created)
	}

	degenerate, err := svc.CreateMedicine(ctx, domain.MedicineInput{
		Name: "Loose", Expiry: "2027-01-01", UnitsPerPack: -2, PackPriceCents: 1000, Supplier: "X",
	})
	if err != nil {
		t.Fatalf("create degenerate: %v", err)
	}
	if degenerate.UnitPriceCents != 0 {
		t.Fatalf("expected unit price 0 for invalid units per pack, got %d", degenerate.UnitPriceCents)
	}
}

func TestDeleteMedicineWithSalesIsRejected(t *testing.T) {
	svc, repo := newTestService(t)
	sess := loginAdmin(t, svc, repo)
	ctx := context.Background()
	m := addMedicine(t, repo, "Paracetamol", 10, 10, 500)

	if _, err := svc.AddLine(ctx, sess, m.ID, domain.UnitPack, 1); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := svc.Checkout(ctx, sess); err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if err := svc.DeleteMedicine(ctx, m.ID); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}

	unsold := addMedicine(t, repo, "Unsold", 1, 1, 100)
	if err := svc.DeleteMedicine(ctx, unsold.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
}

func TestAuthenticate(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()
	addUser(t, repo, "pharma", "secret-1", domain.RolePharmacist)

	user, err := svc.Authenticate(ctx, " PHARMA ", "secret-1")
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if user.Role != domain.RolePharmacist {
		t.Fatalf("unexpected role %s", user.Role)
	}
	if _, err := svc.Authenticate(ctx, "pharma", "wrong"); !errors.Is(err, store.ErrUnauthenticated) {
		t.Fatalf("expected unauthenticated, got %v", err)
	}
	if _, err := svc.Authenticate(ctx, "ghost", "secret-1"); !errors.Is(err, store.ErrUnauthenticated) {
		t.Fatalf("expected unauthenticated for unknown user, got %v", err)
	}

	if _, err := repo.CreateUser(ctx, domain.User{Username: "sleepy", PasswordHash: "$2a$inactive", Role: domain.RoleCashier}); err != nil {
		t.Fatalf("create inactive: %v", err)
	}
	if _, err := svc.Authenticate(ctx, "sleepy", "whatever"); !errors.Is(err, store.ErrUnauthenticated) {
		t.Fatalf("expected inactive account rejected, got %v", err)
	}
}

func TestAuthenticateUpgradesLegacyPassword(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()
	if _, err := repo.CreateUser(ctx, domain.User{Username: "oldtimer", PasswordHash: "plain-pass", Role: domain.RoleCashier, Active: true}); err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := svc.Authenticate(ctx, "oldtimer", "plain-pass"); err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	stored, err := repo.GetUserByUsername(ctx, "oldtimer")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !isPasswordHash(stored.PasswordHash) {
		t.Fatalf("expected password upgraded to bcrypt")
	}
	if _, err := svc.Authenticate(ctx, "oldtimer", "plain-pass"); err != nil {
		t.Fatalf("authenticate after upgrade: %v", err)
	}
}

func TestCreateUserValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	invalid := []domain.UserCreateRequest{
		{Username: "abc", Password: "secret-1", Role: domain.RoleCashier},
		{Username: "has space", Password: "secret-1", Role: domain.RoleCashier},
		{Username: "valid", Password: "short", Role: domain.RoleCashier},
		{Username: "valid", Password: "secret-1", Role: "Owner"},
	}
	for i, req := range invalid {
		if _, err := svc.CreateUser(ctx, req); !errors.Is(err, store.ErrValidation) {
			t.Fatalf("case %d: expected validation error, got %v", i, err)
		}
	}

	created, err := svc.CreateUser(ctx, domain.UserCreateRequest{Username: "Cashier1", Password: "secret-1", Role: domain.RoleCashier})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.Username != "cashier1" || created.PasswordHash == "secret-1" {
		t.Fatalf("unexpected user %+v", created)
	}
	if _, err := svc.CreateUser(ctx, domain.UserCreateRequest{Username: "cashier1", Password: "secret-2", Role: domain.RoleCashier}); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected duplicate rejected, got %v", err)
	}
	if _, err := svc.Login(ctx, "cashier1", "secret-1"); err != nil {
		t.Fatalf("login as new user: %v", err)
	}
}

func TestSettingsFlowIntoReceipt(t *testing.T) {
	svc, repo := newTestService(t)
	sess := loginAdmin(t, svc, repo)
	ctx := context.Background()
	m := addMedicine(t, repo, "Paracetamol", 10, 10, 500)

	if _, err := svc.SaveSettings(ctx, domain.Settings{PharmacyName: "  "}); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := svc.SaveSettings(ctx, domain.Settings{
		PharmacyName:    "Good Health",
		PharmacyAddress: "1 High St",
		PharmacyPhone:   "555-0100",
		ReceiptHeader:   "Get well soon",
		ReceiptFooter:   "Keep receipt",
	}); err != nil {
		t.Fatalf("save settings: %v", err)
	}

	if _, err := svc.AddLine(ctx, sess, m.ID, domain.UnitPack, 1); err != nil {
		t.Fatalf("add: %v", err)
	}
	result, err := svc.Checkout(ctx, sess)
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	for _, want := range []string{"Good Health", "1 High St", "Get well soon", "Keep receipt"} {
		if !strings.Contains(result.Receipt, want) {
			t.Fatalf("receipt missing %q:\n%s", want, result.Receipt)
		}
	}
}

func TestDashboardAndReports(t *testing.T) {
	svc, repo := newTestService(t)
	sess := loginAdmin(t, svc, repo)
	ctx := context.Background()

	low := addMedicine(t, repo, "Low", 5, 10, 500)
	addMedicine(t, repo, "Plenty", 50, 10, 500)
	expired, err := repo.CreateMedicine(ctx, domain.Medicine{
		Name: "Old", Expiry: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), StockPacks: 20, UnitsPerPack: 2, PackPriceCents: 100, Supplier: "X",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := svc.AddLine(ctx, sess, low.ID, domain.UnitPack, 2); err != nil {
		t.Fatalf("add: %v", err)
	}
	result, err := svc.Checkout(ctx, sess)
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}

	stats, err := svc.Dashboard(ctx)
	if err != nil {
		t.Fatalf("dashboard: %v", err)
	}
	if stats.TotalMedicines != 3 || stats.LowStock != 1 || stats.ExpiryAlerts != 1 || stats.TodaySalesCents != 1000 {
		t.Fatalf("unexpected stats %+v", stats)
	}

	daily, err := svc.DailySales(ctx, "2026-03-01", "2026-03-07")
	if err != nil {
		t.Fatalf("daily: %v", err)
	}
	if len(daily.Rows) != 1 || daily.Rows[0].Period != "2026-03-07" || daily.TotalCents != 1000 {
		t.Fatalf("unexpected daily report %+v", daily)
	}
	monthly, err := svc.MonthlySales(ctx, "2026-01-01", "2026-03-31")
	if err != nil {
		t.Fatalf("monthly: %v", err)
	}
	if len(monthly.Rows) != 1 || monthly.Rows[0].Period != "2026-03" {
		t.Fatalf("unexpected monthly report %+v", monthly)
	}
	if _, err := svc.DailySales(ctx, "2026-03-08", "2026-03-01"); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected reversed range rejected, got %v", err)
	}
	if _, err := svc.DailySales(ctx, "March", ""); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected bad date rejected, got %v", err)
	}

	summary, err := svc.StockSummary(ctx)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	for _, row := range summary {
		if row.MedicineID == expired.ID && row.TotalUnits != 40 {
			t.Fatalf("expected 40 total units, got %d", row.TotalUnits)
		}
	}

	expiredList, err := svc.ExpiredMedicines(ctx)
	if err != nil {
		t.Fatalf("expired: %v", err)
	}
	if len(expiredList) != 1 || expiredList[0].ID != expired.ID {
		t.Fatalf("unexpected expired list %+v", expiredList)
	}

	if _, err := svc.ProcessReturn(ctx, sess, domain.ReturnRequest{SaleID: result.SaleIDs[0], Qty: 1}); err != nil {
		t.Fatalf("return: %v", err)
	}
	returns, err := svc.ReturnsReport(ctx, "", "")
	if err != nil {
		t.Fatalf("returns report: %v", err)
	}
	if len(returns.Rows) != 1 || returns.RefundedCents != 500 {
		t.Fatalf("unexpected returns report %+v", returns)
	}
}

func TestImportMedicinesCSV(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	input := strings.Join([]string{
		"name,batch,expiry,stock_packs,units_per_pack,pack_price,supplier",
		"Paracetamol,PCM-1,2027-01-01,10,10,5.00,Medline",
		"Broken,,not-a-date,1,1,1.00,Medline",
		"Ibuprofen,,2027-02-01,4,10,$12.00,Medline",
		"Short,row",
	}, "\n")

	result, err := svc.ImportMedicinesCSV(ctx, strings.NewReader(input))
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if result.Imported != 2 || result.Skipped != 2 {
		t.Fatalf("unexpected result %+v", result)
	}

	items, err := repo.SearchMedicines(ctx, "ibuprofen")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(items) != 1 || items[0].PackPriceCents != 1200 || items[0].UnitPriceCents != 120 {
		t.Fatalf("unexpected imported medicine %+v", items)
	}
}

func TestBackupRequiresFileStorage(t *testing.T) {
	svc, _ := newTestService(t)
	if _, err := svc.Backup(context.Background()); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected validation error for memory storage, got %v", err)
	}
}

// fileBackupStore mimics a file-backed repository whose backup refuses to
// overwrite an existing file.
type fileBackupStore struct {
	*memory.Store
}

func (f fileBackupStore) Backup(_ context.Context, destPath string) error {
	file, err := os.OpenFile(destPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("%w: %w", store.ErrPersistence, err)
	}
	return file.Close()
}

func TestBackupTwiceInSameSecondWritesDistinctFiles(t *testing.T) {
	repo := memory.New()
	dir := t.TempDir()
	svc := New(fileBackupStore{Store: repo}, zaptest.NewLogger(t), dir)
	svc.SetClock(func() time.Time { return fixedNow })
	ctx := context.Background()

	first, err := svc.Backup(ctx)
	if err != nil {
		t.Fatalf("first backup: %v", err)
	}
	second, err := svc.Backup(ctx)
	if err != nil {
		t.Fatalf("second backup: %v", err)
	}
	if first.Path == second.Path {
		t.Fatalf("expected distinct backup paths, both were %s", first.Path)
	}
	if filepath.Base(first.Path) != "pharmacy_backup_20260307_143000.db" {
		t.Fatalf("unexpected first backup name %s", first.Path)
	}
	if filepath.Base(second.Path) != "pharmacy_backup_20260307_143000_2.db" {
		t.Fatalf("unexpected second backup name %s", second.Path)
	}
}

func TestAuditTrailRecordsActor(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := WithActor(context.Background(), domain.Actor{Username: "admin", Role: domain.RoleAdmin})

	if _, err := svc.CreateMedicine(ctx, domain.MedicineInput{
		Name: "Paracetamol", Expiry: "2027-01-01", StockPacks: 1, UnitsPerPack: 10, PackPriceCents: 500, Supplier: "Medline",
	}); err != nil {
		t.Fatalf("create: %v", err)
	}

	logs, err := svc.ListAuditLogs(ctx, "2026-03-07", 10)
	if err != nil {
		t.Fatalf("audit logs: %v", err)
	}
	if len(logs) != 1 || logs[0].Action != "medicine_create" || logs[0].ActorUsername != "admin" {
		t.Fatalf("unexpected audit logs %+v", logs)
	}
}
