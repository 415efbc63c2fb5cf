package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/magnusk/alliancevault/internal/model"
)

// openTestStore opens a fresh embedded store in a temp directory and
// registers cleanup.
func openTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := OpenEmbedded(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("opening test store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

// ---------------------------------------------------------------------------
// members
// ---------------------------------------------------------------------------

func TestMembers_UpsertGetRoundTrip(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	m := &model.Member{
		ID:           123456789,
		Nickname:     "FrostyOne",
		FurnaceLevel: 42,
		Crystals:     7,
		RefineLevel:  3,
		Alliance:     "ICE",
		Active:       true,
	}
	if err := st.Members().Upsert(ctx, m); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, err := st.Members().Get(ctx, 123456789)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil {
		t.Fatal("get returned nil for existing member")
	}
	if got.Nickname != "FrostyOne" || got.FurnaceLevel != 42 || got.Crystals != 7 ||
		got.RefineLevel != 3 || got.Alliance != "ICE" || !got.Active {
		t.Errorf("round-trip mismatch: %+v", got)
	}
	if !got.UpdatedAt.Equal(m.UpdatedAt) {
		t.Errorf("UpdatedAt = %v, want %v", got.UpdatedAt, m.UpdatedAt)
	}
}

func TestMembers_UpsertIsIdempotent(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	m := &model.Member{ID: 111222333, Nickname: "Dup", Active: true}
	if err := st.Members().Upsert(ctx, m); err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	if err := st.Members().Upsert(ctx, m); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	all, err := st.Members().List(ctx, MemberFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 1 {
		t.Errorf("len(all) = %d, want 1 (upsert must not duplicate)", len(all))
	}
}

func TestMembers_UpsertReplacesFields(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	if err := st.Members().Upsert(ctx, &model.Member{ID: 1, Nickname: "Old", FurnaceLevel: 10, Active: true}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := st.Members().Upsert(ctx, &model.Member{ID: 1, Nickname: "New", FurnaceLevel: 11, Active: false}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, err := st.Members().Get(ctx, 1)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Nickname != "New" || got.FurnaceLevel != 11 || got.Active {
		t.Errorf("second upsert did not win: %+v", got)
	}
}

func TestMembers_GetMissingReturnsNil(t *testing.T) {
	st := openTestStore(t)

	got, err := st.Members().Get(context.Background(), 999)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil for missing member, got %+v", got)
	}
}

func TestMembers_DeleteMissingReturnsNotFound(t *testing.T) {
	st := openTestStore(t)

	err := st.Members().Delete(context.Background(), 42)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMembers_ListFilters(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	seed := []*model.Member{
		{ID: 1, Nickname: "a", Alliance: "ICE", Active: true},
		{ID: 2, Nickname: "b", Alliance: "ICE", Active: false},
		{ID: 3, Nickname: "c", Alliance: "FIR", Active: true},
	}
	for _, m := range seed {
		if err := st.Members().Upsert(ctx, m); err != nil {
			t.Fatalf("seeding member %d: %v", m.ID, err)
		}
	}

	ice, err := st.Members().List(ctx, MemberFilter{Alliance: "ICE"})
	if err != nil {
		t.Fatalf("list ICE: %v", err)
	}
	if len(ice) != 2 {
		t.Errorf("ICE members = %d, want 2", len(ice))
	}

	activeIce, err := st.Members().List(ctx, MemberFilter{Alliance: "ICE", ActiveOnly: true})
	if err != nil {
		t.Fatalf("list active ICE: %v", err)
	}
	if len(activeIce) != 1 || activeIce[0].ID != 1 {
		t.Errorf("active ICE members = %+v, want just ID 1", activeIce)
	}
}

func TestMembers_ListInsertionOrder(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	// Insert out of ID order; List must return insertion order, not key order.
	for _, id := range []int64{300, 100, 200} {
		if err := st.Members().Upsert(ctx, &model.Member{ID: id, Active: true}); err != nil {
			t.Fatalf("seeding member %d: %v", id, err)
		}
	}

	all, err := st.Members().List(ctx, MemberFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	want := []int64{300, 100, 200}
	if len(all) != len(want) {
		t.Fatalf("len(all) = %d, want %d", len(all), len(want))
	}
	for i, m := range all {
		if m.ID != want[i] {
			t.Errorf("all[%d].ID = %d, want %d", i, m.ID, want[i])
		}
	}
}

// ---------------------------------------------------------------------------
// gift codes
// ---------------------------------------------------------------------------

func TestGiftCodes_UpsertNormalizesCode(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	gc := &model.GiftCode{Code: "  ABC123  ", Date: "2024-01-01"}
	if err := st.GiftCodes().Upsert(ctx, gc); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if gc.Code != "abc123" {
		t.Errorf("Code after upsert = %q, want normalized %q", gc.Code, "abc123")
	}

	// Lookups normalize too, so any casing finds the same record.
	for _, lookup := range []string{"abc123", "ABC123", " AbC123 "} {
		got, err := st.GiftCodes().Get(ctx, lookup)
		if err != nil {
			t.Fatalf("get %q: %v", lookup, err)
		}
		if got == nil {
			t.Fatalf("get %q returned nil", lookup)
		}
		if got.Code != "abc123" {
			t.Errorf("get %q returned code %q", lookup, got.Code)
		}
	}
}

func TestGiftCodes_CaseVariantsAreOneRecord(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	if err := st.GiftCodes().Upsert(ctx, &model.GiftCode{Code: "ABC123", Date: "2024-01-01"}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := st.GiftCodes().Upsert(ctx, &model.GiftCode{Code: "abc123", Date: "2024-01-02"}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	all, err := st.GiftCodes().List(ctx, CodeFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("len(all) = %d, want 1", len(all))
	}
	if all[0].Code != "abc123" {
		t.Errorf("persisted code = %q, want %q", all[0].Code, "abc123")
	}
}

func TestGiftCodes_UpsertDefaultsToPending(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	if err := st.GiftCodes().Upsert(ctx, &model.GiftCode{Code: "fresh1"}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	got, err := st.GiftCodes().Get(ctx, "fresh1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != model.StatusPending {
		t.Errorf("Status = %s, want %s", got.Status, model.StatusPending)
	}
}

func TestGiftCodes_UpsertRejectsEmptyCode(t *testing.T) {
	st := openTestStore(t)

	err := st.GiftCodes().Upsert(context.Background(), &model.GiftCode{Code: "   "})
	if err == nil {
		t.Fatal("expected error for whitespace-only code, got nil")
	}
}

func TestGiftCodes_SetStatusWalksTheMachine(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	if err := st.GiftCodes().Upsert(ctx, &model.GiftCode{Code: "walk1"}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	if err := st.GiftCodes().SetStatus(ctx, "walk1", model.StatusValid); err != nil {
		t.Fatalf("pending to valid: %v", err)
	}
	if err := st.GiftCodes().SetStatus(ctx, "walk1", model.StatusRedeemed); err != nil {
		t.Fatalf("valid to redeemed: %v", err)
	}

	got, err := st.GiftCodes().Get(ctx, "walk1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != model.StatusRedeemed {
		t.Errorf("Status = %s, want %s", got.Status, model.StatusRedeemed)
	}
}

func TestGiftCodes_SetStatusInvalidIsTerminal(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	if err := st.GiftCodes().Upsert(ctx, &model.GiftCode{Code: "dead1"}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := st.GiftCodes().SetStatus(ctx, "dead1", model.StatusInvalid); err != nil {
		t.Fatalf("pending to invalid: %v", err)
	}

	for _, next := range []model.Status{model.StatusValid, model.StatusRedeemed, model.StatusPending} {
		err := st.GiftCodes().SetStatus(ctx, "dead1", next)
		if !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("invalid to %s: expected ErrInvalidTransition, got %v", next, err)
		}
	}

	// The record must be untouched by the rejected attempts.
	got, err := st.GiftCodes().Get(ctx, "dead1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != model.StatusInvalid {
		t.Errorf("Status = %s, want %s after rejected transitions", got.Status, model.StatusInvalid)
	}
}

func TestGiftCodes_SetStatusSameStatusIsNoop(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	if err := st.GiftCodes().Upsert(ctx, &model.GiftCode{Code: "same1"}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := st.GiftCodes().SetStatus(ctx, "same1", model.StatusPending); err != nil {
		t.Errorf("same-status call should succeed, got %v", err)
	}
}

func TestGiftCodes_SetStatusMissingReturnsNotFound(t *testing.T) {
	st := openTestStore(t)

	err := st.GiftCodes().SetStatus(context.Background(), "ghost", model.StatusValid)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestGiftCodes_ListByStatus(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	for _, code := range []string{"p1", "p2", "v1"} {
		if err := st.GiftCodes().Upsert(ctx, &model.GiftCode{Code: code}); err != nil {
			t.Fatalf("seeding %q: %v", code, err)
		}
	}
	if err := st.GiftCodes().SetStatus(ctx, "v1", model.StatusValid); err != nil {
		t.Fatalf("set status: %v", err)
	}

	pending, err := st.GiftCodes().List(ctx, CodeFilter{Status: model.StatusPending})
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 2 {
		t.Errorf("pending codes = %d, want 2", len(pending))
	}

	valid, err := st.GiftCodes().List(ctx, CodeFilter{Status: model.StatusValid})
	if err != nil {
		t.Fatalf("list valid: %v", err)
	}
	if len(valid) != 1 || valid[0].Code != "v1" {
		t.Errorf("valid codes = %+v, want just v1", valid)
	}
}

func TestGiftCodes_DeleteMissingReturnsNotFound(t *testing.T) {
	st := openTestStore(t)

	err := st.GiftCodes().Delete(context.Background(), "nope")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

// ---------------------------------------------------------------------------
// reminders
// ---------------------------------------------------------------------------

func TestReminders_UpsertGetRoundTrip(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	r := &model.Reminder{
		Owner:     "user-1",
		At:        time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Seq:       0,
		ChannelID: "chan-9",
		GuildID:   "guild-7",
		Message:   "gather for the bear trap",
		Mention:   "@everyone",
		Recurring: true,
		Every:     24 * time.Hour,
		CreatedAt: created,
	}
	if err := st.Reminders().Upsert(ctx, r); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, err := st.Reminders().Get(ctx, r.Key())
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil {
		t.Fatal("get returned nil for existing reminder")
	}
	if got.Owner != r.Owner || !got.At.Equal(r.At) || got.Seq != r.Seq ||
		got.ChannelID != r.ChannelID || got.GuildID != r.GuildID ||
		got.Message != r.Message || got.Mention != r.Mention ||
		got.Recurring != r.Recurring || got.Every != r.Every {
		t.Errorf("round-trip mismatch: %+v", got)
	}
	if !got.CreatedAt.Equal(created) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, created)
	}
	if got.Key() != r.Key() {
		t.Errorf("Key() = %q, want %q", got.Key(), r.Key())
	}
}

func TestReminders_SameIdentityDeduplicates(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	first := &model.Reminder{Owner: "u", At: at, Seq: 0, Message: "original"}
	if err := st.Reminders().Upsert(ctx, first); err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	again := &model.Reminder{Owner: "u", At: at, Seq: 0, Message: "edited"}
	if err := st.Reminders().Upsert(ctx, again); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	all, err := st.Reminders().List(ctx, ReminderFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("len(all) = %d, want 1", len(all))
	}
	if all[0].Message != "edited" {
		t.Errorf("Message = %q, want %q (last write wins)", all[0].Message, "edited")
	}
}

func TestReminders_SeqSeparatesSameInstant(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for seq := range 2 {
		r := &model.Reminder{Owner: "u", At: at, Seq: seq, Message: "m"}
		if err := st.Reminders().Upsert(ctx, r); err != nil {
			t.Fatalf("upsert seq %d: %v", seq, err)
		}
	}

	all, err := st.Reminders().List(ctx, ReminderFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("len(all) = %d, want 2", len(all))
	}
}

func TestReminders_DueBeforeFilter(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, at := range []time.Time{base, base.Add(time.Hour), base.Add(2 * time.Hour)} {
		r := &model.Reminder{Owner: "u", At: at, Seq: i, Message: "m"}
		if err := st.Reminders().Upsert(ctx, r); err != nil {
			t.Fatalf("upsert %d: %v", i, err)
		}
	}

	due, err := st.Reminders().List(ctx, ReminderFilter{DueBefore: base.Add(time.Hour)})
	if err != nil {
		t.Fatalf("list due: %v", err)
	}
	if len(due) != 2 {
		t.Errorf("due reminders = %d, want 2 (bound is inclusive)", len(due))
	}
}

func TestReminders_OwnerFilter(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for _, owner := range []string{"alice", "bob", "alice"} {
		r := &model.Reminder{Owner: owner, At: at, Seq: len(owner)}
		if err := st.Reminders().Upsert(ctx, r); err != nil {
			t.Fatalf("upsert for %s: %v", owner, err)
		}
	}

	// alice's two reminders share (owner, at, seq) and collapse to one.
	mine, err := st.Reminders().List(ctx, ReminderFilter{Owner: "alice"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(mine) != 1 {
		t.Errorf("alice reminders = %d, want 1", len(mine))
	}
}

func TestReminders_DeleteMissingReturnsNotFound(t *testing.T) {
	st := openTestStore(t)

	err := st.Reminders().Delete(context.Background(), "ghost|0|0")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestReminders_DeleteRemoves(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	r := &model.Reminder{Owner: "u", At: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	if err := st.Reminders().Upsert(ctx, r); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := st.Reminders().Delete(ctx, r.Key()); err != nil {
		t.Fatalf("delete: %v", err)
	}

	got, err := st.Reminders().Get(ctx, r.Key())
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil after delete, got %+v", got)
	}
}

// ---------------------------------------------------------------------------
// redemptions
// ---------------------------------------------------------------------------

func TestRedemptions_UpsertGetRoundTrip(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	r := &model.Redemption{MemberID: 42, Code: "WOS2024", Status: "redeemed"}
	if err := st.Redemptions().Upsert(ctx, r); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, err := st.Redemptions().Get(ctx, 42, "wos2024")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil {
		t.Fatal("get returned nil for existing redemption")
	}
	if got.MemberID != 42 || got.Code != "wos2024" || got.Status != "redeemed" {
		t.Errorf("round-trip mismatch: %+v", got)
	}
}

func TestRedemptions_LastWriteWinsOnStatus(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	if err := st.Redemptions().Upsert(ctx, &model.Redemption{MemberID: 1, Code: "c1", Status: "failed"}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := st.Redemptions().Upsert(ctx, &model.Redemption{MemberID: 1, Code: "c1", Status: "redeemed"}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	all, err := st.Redemptions().List(ctx, RedemptionFilter{MemberID: 1})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("len(all) = %d, want 1", len(all))
	}
	if all[0].Status != "redeemed" {
		t.Errorf("Status = %q, want %q", all[0].Status, "redeemed")
	}
}

func TestRedemptions_PairsAreDistinct(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	seed := []*model.Redemption{
		{MemberID: 1, Code: "c1", Status: "redeemed"},
		{MemberID: 1, Code: "c2", Status: "redeemed"},
		{MemberID: 2, Code: "c1", Status: "failed"},
	}
	for _, r := range seed {
		if err := st.Redemptions().Upsert(ctx, r); err != nil {
			t.Fatalf("seeding %d/%s: %v", r.MemberID, r.Code, err)
		}
	}

	byMember, err := st.Redemptions().List(ctx, RedemptionFilter{MemberID: 1})
	if err != nil {
		t.Fatalf("list member 1: %v", err)
	}
	if len(byMember) != 2 {
		t.Errorf("member 1 redemptions = %d, want 2", len(byMember))
	}

	byCode, err := st.Redemptions().List(ctx, RedemptionFilter{Code: "c1"})
	if err != nil {
		t.Fatalf("list code c1: %v", err)
	}
	if len(byCode) != 2 {
		t.Errorf("c1 redemptions = %d, want 2", len(byCode))
	}
}

func TestRedemptions_DeleteMissingReturnsNotFound(t *testing.T) {
	st := openTestStore(t)

	err := st.Redemptions().Delete(context.Background(), 9, "none")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
