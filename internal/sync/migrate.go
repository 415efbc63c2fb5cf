package sync

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/magnusk/alliancevault/internal/model"
	"github.com/magnusk/alliancevault/internal/store"
)

// Migrator copies every persisted entity from one backend into another. It
// is the one-time promotion path for moving an embedded data set into the
// durable store once a connection string becomes available. The copy goes
// through ordinary upserts, so re-running a migration is harmless.
type Migrator struct {
	src    *store.Store
	dst    *store.Store
	log    *slog.Logger
	reader io.Reader // for confirmation prompt (os.Stdin in production)
	writer io.Writer // for plan output (os.Stdout in production)
	dryRun bool
}

// NewMigrator creates a Migrator copying src into dst. With dryRun set, Run
// prints the copy plan and writes nothing. reader and writer control the
// confirmation prompt I/O.
func NewMigrator(src, dst *store.Store, logger *slog.Logger, reader io.Reader, writer io.Writer, dryRun bool) *Migrator {
	return &Migrator{
		src:    src,
		dst:    dst,
		log:    logger,
		reader: reader,
		writer: writer,
		dryRun: dryRun,
	}
}

// plan holds everything the migration would copy, listed up front so the
// printed summary and the copy loop agree on the same snapshot.
type plan struct {
	members     []*model.Member
	codes       []*model.GiftCode
	reminders   []*model.Reminder
	redemptions []*model.Redemption
}

func (p *plan) total() int {
	return len(p.members) + len(p.codes) + len(p.reminders) + len(p.redemptions)
}

// Run lists the source data set, prints the copy plan, and (with user
// confirmation) copies every record into the destination. Returns true if
// the copy was executed, false on dry run or cancellation.
func (m *Migrator) Run(ctx context.Context) (bool, error) {
	p, err := m.load(ctx)
	if err != nil {
		return false, err
	}

	m.printPlan(p)

	if m.dryRun {
		_, _ = fmt.Fprintln(m.writer, "Dry run: nothing was written.")
		return false, nil
	}

	if !m.confirm() {
		m.log.Info("migration cancelled by user")
		return false, nil
	}

	if err := m.execute(ctx, p); err != nil {
		return false, fmt.Errorf("executing migration: %w", err)
	}

	m.log.Info("migration complete",
		"members", len(p.members),
		"gift_codes", len(p.codes),
		"reminders", len(p.reminders),
		"redemptions", len(p.redemptions),
	)
	return true, nil
}

// load reads the full source data set.
func (m *Migrator) load(ctx context.Context) (*plan, error) {
	var p plan
	var err error

	if p.members, err = m.src.Members().List(ctx, store.MemberFilter{}); err != nil {
		return nil, fmt.Errorf("listing members: %w", err)
	}
	if p.codes, err = m.src.GiftCodes().List(ctx, store.CodeFilter{}); err != nil {
		return nil, fmt.Errorf("listing gift codes: %w", err)
	}
	if p.reminders, err = m.src.Reminders().List(ctx, store.ReminderFilter{}); err != nil {
		return nil, fmt.Errorf("listing reminders: %w", err)
	}
	if p.redemptions, err = m.src.Redemptions().List(ctx, store.RedemptionFilter{}); err != nil {
		return nil, fmt.Errorf("listing redemptions: %w", err)
	}
	return &p, nil
}

// printPlan writes a human-readable summary of what the migration will copy.
func (m *Migrator) printPlan(p *plan) {
	_, _ = fmt.Fprintf(m.writer, "\n--- Migration Plan (%s → %s) ---\n\n", m.src.Mode(), m.dst.Mode())
	_, _ = fmt.Fprintf(m.writer, "  Members:     %d\n", len(p.members))
	_, _ = fmt.Fprintf(m.writer, "  Gift codes:  %d\n", len(p.codes))
	_, _ = fmt.Fprintf(m.writer, "  Reminders:   %d\n", len(p.reminders))
	_, _ = fmt.Fprintf(m.writer, "  Redemptions: %d\n", len(p.redemptions))
	_, _ = fmt.Fprintf(m.writer, "\nTotal: %d records\n", p.total())
}

// confirm reads a y/n response from the reader.
func (m *Migrator) confirm() bool {
	_, _ = fmt.Fprintf(m.writer, "Proceed with migration? [y/N] ")
	scanner := bufio.NewScanner(m.reader)
	if scanner.Scan() {
		answer := strings.TrimSpace(strings.ToLower(scanner.Text()))
		return answer == "y" || answer == "yes"
	}
	return false
}

// execute copies the plan into the destination. A failed record aborts the
// run; upserts are idempotent, so a rerun picks up where this one stopped.
func (m *Migrator) execute(ctx context.Context, p *plan) error {
	for _, mem := range p.members {
		if err := m.dst.Members().Upsert(ctx, mem); err != nil {
			return fmt.Errorf("copying member %d: %w", mem.ID, err)
		}
		m.log.Debug("copied member", "id", mem.ID, "nickname", mem.Nickname)
	}

	for _, gc := range p.codes {
		if err := m.dst.GiftCodes().Upsert(ctx, gc); err != nil {
			return fmt.Errorf("copying gift code %q: %w", gc.Code, err)
		}
		m.log.Debug("copied gift code", "code", gc.Code, "status", gc.Status)
	}

	for _, r := range p.reminders {
		if err := m.dst.Reminders().Upsert(ctx, r); err != nil {
			return fmt.Errorf("copying reminder %q: %w", r.Key(), err)
		}
		m.log.Debug("copied reminder", "key", r.Key())
	}

	for _, r := range p.redemptions {
		if err := m.dst.Redemptions().Upsert(ctx, r); err != nil {
			return fmt.Errorf("copying redemption %d/%s: %w", r.MemberID, r.Code, err)
		}
		m.log.Debug("copied redemption", "member", r.MemberID, "code", r.Code)
	}

	return nil
}
