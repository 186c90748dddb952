package locker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"

	"locker-kiosk-backend/internal/hardware"
	"locker-kiosk-backend/internal/logging"
	"locker-kiosk-backend/internal/metrics"
	"locker-kiosk-backend/internal/model"
	"locker-kiosk-backend/internal/parse"
)

// Store is the persistence the table needs.
type Store interface {
	Load(ctx context.Context) ([]model.LockerRecord, error)
	Save(ctx context.Context, records []model.LockerRecord) error
	ReplaceAll(ctx context.Context, records []model.LockerRecord) error
	AppendHistory(ctx context.Context, entry model.ReservationHistory) error
}

// Hardware is the locker controller as seen by the table.
type Hardware interface {
	FetchAllStatuses(ctx context.Context) (map[int]model.HardwareState, error)
	OpenLocker(ctx context.Context, channel int) error
	PollUntilLocked(ctx context.Context, channel int) error
	Log(ctx context.Context, message string)
}

// Notifier delivers pickup codes and collection receipts to assignees.
type Notifier interface {
	// SendPickupNotification reports whether the code reached the assignee.
	SendPickupNotification(ctx context.Context, contact string, lockerID int, code string) bool
	// DispatchReceipt queues a "package collected" message.
	DispatchReceipt(contact string, lockerID int)
}

type nopNotifier struct{}

func (nopNotifier) SendPickupNotification(context.Context, string, int, string) bool { return false }
func (nopNotifier) DispatchReceipt(string, int)                                       {}

// Result is the outcome of a reconciliation, or the current table state.
type Result struct {
	Degraded bool     `json:"degraded"`
	Warnings []string `json:"warnings,omitempty"`
	Lockers  []View   `json:"lockers"`
}

// Reservation is returned by Reserve. When Notified is false the caller
// must show the code to the operator instead.
type Reservation struct {
	LockerID int    `json:"lockerId"`
	Contact  string `json:"contact"`
	Code     string `json:"pickupCode"`
	Notified bool   `json:"notified"`
}

// Option configures a Table.
type Option func(*Table)

// WithNotifier sets the notification collaborator.
func WithNotifier(n Notifier) Option {
	return func(t *Table) { t.notifier = n }
}

// WithClock replaces time.Now for reservation timestamps and codes.
func WithClock(now func() time.Time) Option {
	return func(t *Table) { t.now = now }
}

// WithCodeGenerator replaces the pickup code generator.
func WithCodeGenerator(g *CodeGenerator) Option {
	return func(t *Table) { t.codes = g }
}

// WithPickupRetention sets how long finished pickups stay queryable.
func WithPickupRetention(d time.Duration) Option {
	return func(t *Table) { t.retention = d }
}

// Table is the merged locker view shared by every request. All reads and
// mutations go through mu; hardware calls are made outside it.
type Table struct {
	store    Store
	hw       Hardware
	notifier Notifier
	codes    *CodeGenerator
	now      func() time.Time
	logger   zerolog.Logger

	retention time.Duration
	pickups   *cache.Cache

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	views    []View
	hwStates map[int]model.HardwareState
	degraded bool
	warnings []string
	active   map[int]*Pickup
	closed   bool
	// dirty is set when a completed pickup could not be persisted; the
	// in-memory records are then newer than the store's.
	dirty bool
}

// NewTable creates an empty table. Call Reconcile to populate it.
func NewTable(store Store, hw Hardware, opts ...Option) *Table {
	ctx, cancel := context.WithCancel(context.Background())
	t := &Table{
		store:     store,
		hw:        hw,
		notifier:  nopNotifier{},
		now:       time.Now,
		logger:    logging.WithComponent("locker"),
		retention: 15 * time.Minute,
		ctx:       ctx,
		cancel:    cancel,
		views:     []View{},
		active:    make(map[int]*Pickup),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.codes == nil {
		t.codes = NewCodeGenerator(t.now)
	}
	t.pickups = cache.New(t.retention, 2*t.retention)
	return t
}

// Reconcile rebuilds the table from the stored records and a fresh hardware
// snapshot and persists the result. When the controller cannot be reached
// it installs the stored records verbatim with every state UNKNOWN and
// reports Degraded instead of failing. Only a store read failure is
// returned as an error.
func (t *Table) Reconcile(ctx context.Context) (Result, error) {
	statuses, fetchErr := t.hw.FetchAllStatuses(ctx)

	t.mu.Lock()
	defer t.mu.Unlock()

	var records []model.LockerRecord
	if t.dirty {
		records = t.recordsLocked()
		t.logger.Warn().Msg("store is behind the table, reconciling from memory")
	} else {
		var err error
		records, err = t.store.Load(ctx)
		if err != nil {
			metrics.ReconciliationsTotal.WithLabelValues("error").Inc()
			return Result{}, fmt.Errorf("failed to load locker records: %w", err)
		}
	}

	if fetchErr != nil {
		t.logger.Warn().Err(fetchErr).Int("records", len(records)).Msg("hardware unavailable, using last known state")
		t.views = unverified(records)
		t.hwStates = nil
		t.degraded = true
		t.warnings = []string{fmt.Sprintf("hardware status unavailable, showing last saved state: %v", fetchErr)}
		t.markActiveLocked()
		metrics.ReconciliationsTotal.WithLabelValues("degraded").Inc()
		metrics.SetDegraded(true)
		t.publishLocked()
		return t.resultLocked(), nil
	}

	views, sanitised := Merge(records, statuses)
	t.views = views
	t.hwStates = statuses
	t.degraded = false
	t.warnings = nil
	t.markActiveLocked()
	if len(sanitised) > 0 {
		t.logger.Warn().Ints("locker_ids", sanitised).Msg("invalid records reset to vacant")
		t.warnings = append(t.warnings, fmt.Sprintf("records for lockers %v were invalid and have been reset", sanitised))
	}

	if err := t.store.Save(ctx, t.recordsLocked()); err != nil {
		t.logger.Error().Err(err).Msg("failed to persist reconciled records")
		t.warnings = append(t.warnings, fmt.Sprintf("reconciled state could not be saved: %v", err))
	} else {
		t.dirty = false
	}

	t.logger.Info().Int("lockers", len(t.views)).Int("hardware_channels", len(statuses)).Msg("reconciliation complete")
	metrics.ReconciliationsTotal.WithLabelValues("ok").Inc()
	metrics.SetDegraded(false)
	t.publishLocked()
	return t.resultLocked(), nil
}

// Snapshot returns a copy of the current table.
func (t *Table) Snapshot() Result {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.resultLocked()
}

// Degraded reports whether the table is showing unverified state.
func (t *Table) Degraded() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.degraded
}

// FindAvailable returns the unoccupied lockers.
func (t *Table) FindAvailable() []View {
	t.mu.Lock()
	defer t.mu.Unlock()

	available := []View{}
	for _, v := range t.views {
		if !v.Occupied {
			available = append(available, v.clone())
		}
	}
	return available
}

// Records returns the software records, in id order.
func (t *Table) Records() []model.LockerRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.recordsLocked()
}

// Reserve assigns a vacant locker to contact and issues a pickup code. The
// record is persisted before the assignee is notified.
func (t *Table) Reserve(ctx context.Context, id int, contact string) (Reservation, error) {
	normalized, err := parse.Contact(contact)
	if err != nil {
		return Reservation{}, fmt.Errorf("%w: %w", ErrInvalidContact, err)
	}

	t.mu.Lock()
	idx := t.indexLocked(id)
	if idx < 0 {
		t.mu.Unlock()
		return Reservation{}, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	if t.views[idx].Occupied {
		t.mu.Unlock()
		return Reservation{}, fmt.Errorf("%w: %d", ErrAlreadyOccupied, id)
	}

	code := t.codes.Next(t.codeTakenLocked)
	record, err := model.NewOccupiedRecord(id, normalized, code, t.now().UTC())
	if err != nil {
		t.mu.Unlock()
		return Reservation{}, err
	}

	prev := t.views[idx]
	t.views[idx].LockerRecord = record
	t.views[idx].Phase = PhaseReserved
	if err := t.store.Save(ctx, t.recordsLocked()); err != nil {
		t.views[idx] = prev
		t.mu.Unlock()
		t.logger.Error().Err(err).Int("locker_id", id).Msg("failed to persist reservation")
		return Reservation{}, fmt.Errorf("failed to persist reservation: %w", err)
	}
	t.dirty = false
	t.publishLocked()
	t.mu.Unlock()

	t.logger.Info().Int("locker_id", id).Msg("locker reserved")
	notified := t.notifier.SendPickupNotification(ctx, normalized, id, code)
	return Reservation{LockerID: id, Contact: normalized, Code: code, Notified: notified}, nil
}

// Redeem opens the locker holding code and starts waiting for its door to
// close. Occupancy is only cleared once the controller confirms LOCKED; a
// failed open or an abandoned pickup leaves the reservation in place.
func (t *Table) Redeem(ctx context.Context, rawCode string) (*Pickup, error) {
	code, err := parse.PickupCode(rawCode)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCode, err)
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, context.Canceled
	}
	idx := -1
	for i, v := range t.views {
		if v.Occupied && v.Code() == code {
			idx = i
			break
		}
	}
	if idx < 0 {
		t.mu.Unlock()
		return nil, ErrInvalidCode
	}
	view := t.views[idx].clone()
	if _, busy := t.active[view.ID]; busy {
		t.mu.Unlock()
		return nil, fmt.Errorf("%w: %d", ErrPickupInProgress, view.ID)
	}

	p := newPickup(t.ctx, uuid.NewString(), view.ID, view.Contact(), code, t.now().UTC())
	t.active[view.ID] = p
	t.pickups.Set(p.ID, p, cache.NoExpiration)
	t.mu.Unlock()

	logger := logging.WithLocker("locker", view.ID).With().Str("pickup_id", p.ID).Logger()

	if err := t.hw.OpenLocker(ctx, view.ID); err != nil {
		t.mu.Lock()
		if t.active[view.ID] == p {
			delete(t.active, view.ID)
		}
		t.mu.Unlock()
		t.settle(p, PickupOpenFailed, err)
		logger.Warn().Err(err).Msg("open command failed, reservation kept")
		return nil, err
	}

	t.mu.Lock()
	if t.active[view.ID] != p {
		// Released while the door was opening.
		t.mu.Unlock()
		logger.Info().Msg("locker released during open")
		return p, nil
	}
	if t.closed {
		delete(t.active, view.ID)
		t.mu.Unlock()
		t.settle(p, PickupCancelled, context.Canceled)
		return p, nil
	}
	p.setStatus(PickupAwaiting)
	t.markActiveLocked()
	t.publishLocked()
	t.wg.Add(1)
	t.mu.Unlock()

	logger.Info().Msg("locker opened, waiting for door to close")
	go t.awaitClose(p)
	return p, nil
}

func (t *Table) awaitClose(p *Pickup) {
	defer t.wg.Done()

	timer := metrics.NewTimer()
	logger := logging.WithLocker("locker", p.LockerID).With().Str("pickup_id", p.ID).Logger()
	pollErr := t.hw.PollUntilLocked(p.ctx, p.LockerID)

	t.mu.Lock()
	if t.active[p.LockerID] != p {
		t.mu.Unlock()
		return
	}
	delete(t.active, p.LockerID)
	idx := t.indexLocked(p.LockerID)

	if pollErr != nil {
		if idx >= 0 {
			t.views[idx].Phase = phaseOf(t.views[idx].LockerRecord)
		}
		t.publishLocked()
		t.mu.Unlock()

		status := PickupCancelled
		if errors.Is(pollErr, hardware.ErrPollTimeout) {
			status = PickupTimedOut
		}
		logger.Info().Err(pollErr).Str("status", string(status)).Msg("stopped waiting for door, reservation kept")
		t.settle(p, status, pollErr)
		return
	}

	var reservedAt time.Time
	if idx >= 0 {
		if r := t.views[idx].ReservedAt; r != nil {
			reservedAt = *r
		}
		t.views[idx].LockerRecord = model.NewVacantRecord(p.LockerID)
		t.views[idx].HardwareState = model.HardwareLocked
		t.views[idx].Phase = PhaseAvailable
		if err := t.store.Save(context.Background(), t.recordsLocked()); err != nil {
			t.dirty = true
			logger.Error().Err(err).Msg("failed to persist cleared locker, will retry on next reconcile")
		} else {
			t.dirty = false
		}
	}
	t.publishLocked()
	t.mu.Unlock()

	metrics.DoorCloseWait.Observe(timer.Duration().Seconds())
	logger.Info().Msg("door closed, package collected")

	if reservedAt.IsZero() {
		reservedAt = p.StartedAt
	}
	t.archive(p.LockerID, p.contact, p.code, model.OutcomePickedUp, reservedAt)
	t.hw.Log(context.Background(), fmt.Sprintf("Package collected from locker %d", p.LockerID))
	t.notifier.DispatchReceipt(p.contact, p.LockerID)
	t.settle(p, PickupCompleted, nil)
}

// Pickup looks up a pickup by id. Finished pickups are kept for a while.
func (t *Table) Pickup(id string) (*Pickup, bool) {
	v, ok := t.pickups.Get(id)
	if !ok {
		return nil, false
	}
	return v.(*Pickup), true
}

// Release clears a locker regardless of its hardware state and ends any
// pickup waiting on it.
func (t *Table) Release(ctx context.Context, id int) error {
	t.mu.Lock()
	idx := t.indexLocked(id)
	if idx < 0 {
		t.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrNotFound, id)
	}

	p := t.active[id]
	delete(t.active, id)

	prev := t.views[idx]
	t.views[idx].LockerRecord = model.NewVacantRecord(id)
	t.views[idx].Phase = PhaseAvailable
	if err := t.store.Save(ctx, t.recordsLocked()); err != nil {
		t.views[idx] = prev
		t.views[idx].Phase = phaseOf(prev.LockerRecord)
		t.publishLocked()
		t.mu.Unlock()
		if p != nil {
			t.settle(p, PickupCancelled, context.Canceled)
		}
		t.logger.Error().Err(err).Int("locker_id", id).Msg("failed to persist release")
		return fmt.Errorf("failed to persist release: %w", err)
	}
	t.dirty = false
	t.publishLocked()
	t.mu.Unlock()

	if p != nil {
		t.settle(p, PickupCancelled, ErrReleased)
	}
	if prev.Occupied {
		start := t.now().UTC()
		if prev.ReservedAt != nil {
			start = *prev.ReservedAt
		}
		t.archive(id, prev.Contact(), prev.Code(), model.OutcomeReleased, start)
	}
	t.logger.Info().Int("locker_id", id).Bool("was_occupied", prev.Occupied).Msg("locker released")
	return nil
}

// OpenForMaintenance opens a door without touching its reservation.
func (t *Table) OpenForMaintenance(ctx context.Context, id int) error {
	t.mu.Lock()
	found := t.indexLocked(id) >= 0
	t.mu.Unlock()
	if !found {
		return fmt.Errorf("%w: %d", ErrNotFound, id)
	}

	if err := t.hw.OpenLocker(ctx, id); err != nil {
		return err
	}
	t.logger.Info().Int("locker_id", id).Msg("locker opened for maintenance")
	t.hw.Log(ctx, fmt.Sprintf("Locker %d opened for maintenance", id))
	return nil
}

// Import replaces every stored record and rebuilds the table against the
// last hardware snapshot. Pickup codes are stored in the form Redeem
// accepts, so a code that cannot be typed at the kiosk rejects the whole
// set. It is refused while any pickup is waiting.
func (t *Table) Import(ctx context.Context, records []model.LockerRecord) error {
	records, err := normalizeCodes(records)
	if err != nil {
		return err
	}
	if err := model.ValidateSet(records); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.active) > 0 {
		return ErrPickupInProgress
	}
	if err := t.store.ReplaceAll(ctx, records); err != nil {
		return fmt.Errorf("failed to import locker records: %w", err)
	}
	t.dirty = false

	if t.hwStates == nil {
		t.views = unverified(records)
	} else {
		t.views, _ = Merge(records, t.hwStates)
	}
	t.publishLocked()
	t.logger.Info().Int("records", len(records)).Msg("locker records imported")
	return nil
}

// Close cancels every waiting pickup and waits for their pollers to exit.
// Reservations are left as they are.
func (t *Table) Close() {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()

	t.cancel()
	t.wg.Wait()
}

func (t *Table) settle(p *Pickup, status PickupStatus, err error) {
	if p.finish(status, err) {
		t.pickups.Set(p.ID, p, cache.DefaultExpiration)
		metrics.PickupsTotal.WithLabelValues(string(status)).Inc()
	}
}

func (t *Table) archive(id int, contact, code, outcome string, start time.Time) {
	entry := model.ReservationHistory{
		LockerID:        id,
		AssigneeContact: contact,
		PickupCode:      code,
		Outcome:         outcome,
		PeriodStart:     start,
		PeriodEnd:       t.now().UTC(),
	}
	if err := t.store.AppendHistory(context.Background(), entry); err != nil {
		t.logger.Warn().Err(err).Int("locker_id", id).Msg("failed to archive reservation")
	}
}

func (t *Table) indexLocked(id int) int {
	for i, v := range t.views {
		if v.ID == id {
			return i
		}
	}
	return -1
}

func (t *Table) codeTakenLocked(code string) bool {
	for _, v := range t.views {
		if v.Occupied && v.Code() == code {
			return true
		}
	}
	return false
}

func (t *Table) recordsLocked() []model.LockerRecord {
	records := make([]model.LockerRecord, len(t.views))
	for i, v := range t.views {
		records[i] = v.LockerRecord.Clone()
	}
	return records
}

func (t *Table) resultLocked() Result {
	lockers := make([]View, len(t.views))
	for i, v := range t.views {
		lockers[i] = v.clone()
	}
	var warnings []string
	if len(t.warnings) > 0 {
		warnings = append(warnings, t.warnings...)
	}
	return Result{Degraded: t.degraded, Warnings: warnings, Lockers: lockers}
}

// markActiveLocked flags lockers whose door is open and awaiting pickup.
func (t *Table) markActiveLocked() {
	for i := range t.views {
		if p, ok := t.active[t.views[i].ID]; ok && p.Status() == PickupAwaiting && t.views[i].Occupied {
			t.views[i].Phase = PhaseOpenAwaitingPickup
		}
	}
}

func (t *Table) publishLocked() {
	counts := map[Phase]int{PhaseAvailable: 0, PhaseReserved: 0, PhaseOpenAwaitingPickup: 0}
	for _, v := range t.views {
		counts[v.Phase]++
	}
	for phase, n := range counts {
		metrics.LockersByPhase.WithLabelValues(string(phase)).Set(float64(n))
	}
}
