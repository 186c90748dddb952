package locker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"locker-kiosk-backend/internal/hardware"
	"locker-kiosk-backend/internal/model"
)

// fakeStore is an in-memory Store with injectable failures.
type fakeStore struct {
	mu         sync.Mutex
	records    []model.LockerRecord
	history    []model.ReservationHistory
	saves      int
	loadErr    error
	saveErr    error
	replaceErr error
}

func (s *fakeStore) Load(ctx context.Context) ([]model.LockerRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	out := make([]model.LockerRecord, len(s.records))
	for i, r := range s.records {
		out[i] = r.Clone()
	}
	return out, nil
}

func (s *fakeStore) Save(ctx context.Context, records []model.LockerRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saves++
	s.records = records
	return nil
}

func (s *fakeStore) ReplaceAll(ctx context.Context, records []model.LockerRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.replaceErr != nil {
		return s.replaceErr
	}
	s.records = records
	return nil
}

func (s *fakeStore) AppendHistory(ctx context.Context, entry model.ReservationHistory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, entry)
	return nil
}

func (s *fakeStore) stored() []model.LockerRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records
}

func (s *fakeStore) archived() []model.ReservationHistory {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.ReservationHistory(nil), s.history...)
}

func (s *fakeStore) saveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

// fakeHardware answers from fixed statuses. PollUntilLocked blocks until
// the test closes the door or the context ends.
type fakeHardware struct {
	mu       sync.Mutex
	statuses map[int]model.HardwareState
	fetchErr error
	openErr  error
	pollErr  error
	opened   []int
	logs     []string
	doors    map[int]chan struct{}
	polling  chan int
}

func newFakeHardware(statuses map[int]model.HardwareState) *fakeHardware {
	return &fakeHardware{
		statuses: statuses,
		doors:    make(map[int]chan struct{}),
		polling:  make(chan int, 8),
	}
}

func (h *fakeHardware) FetchAllStatuses(ctx context.Context) (map[int]model.HardwareState, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.fetchErr != nil {
		return nil, h.fetchErr
	}
	out := make(map[int]model.HardwareState, len(h.statuses))
	for k, v := range h.statuses {
		out[k] = v
	}
	return out, nil
}

func (h *fakeHardware) OpenLocker(ctx context.Context, channel int) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.openErr != nil {
		return h.openErr
	}
	h.opened = append(h.opened, channel)
	return nil
}

func (h *fakeHardware) door(channel int) chan struct{} {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch, ok := h.doors[channel]
	if !ok {
		ch = make(chan struct{})
		h.doors[channel] = ch
	}
	return ch
}

func (h *fakeHardware) closeDoor(channel int) {
	close(h.door(channel))
}

func (h *fakeHardware) PollUntilLocked(ctx context.Context, channel int) error {
	h.mu.Lock()
	pollErr := h.pollErr
	h.mu.Unlock()
	h.polling <- channel
	if pollErr != nil {
		return pollErr
	}
	select {
	case <-h.door(channel):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *fakeHardware) Log(ctx context.Context, message string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.logs = append(h.logs, message)
}

func (h *fakeHardware) logLines() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.logs...)
}

type fakeNotifier struct {
	mu       sync.Mutex
	deliver  bool
	sent     []string
	receipts chan int
}

func newFakeNotifier(deliver bool) *fakeNotifier {
	return &fakeNotifier{deliver: deliver, receipts: make(chan int, 8)}
}

func (n *fakeNotifier) SendPickupNotification(ctx context.Context, contact string, lockerID int, code string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, fmt.Sprintf("%s:%d:%s", contact, lockerID, code))
	return n.deliver
}

func (n *fakeNotifier) DispatchReceipt(contact string, lockerID int) {
	n.receipts <- lockerID
}

func allLocked(ids ...int) map[int]model.HardwareState {
	m := make(map[int]model.HardwareState, len(ids))
	for _, id := range ids {
		m[id] = model.HardwareLocked
	}
	return m
}

func newReconciledTable(t *testing.T, st *fakeStore, hw *fakeHardware, opts ...Option) *Table {
	t.Helper()
	table := NewTable(st, hw, opts...)
	t.Cleanup(table.Close)
	_, err := table.Reconcile(context.Background())
	require.NoError(t, err)
	return table
}

func viewOf(t *testing.T, table *Table, id int) View {
	t.Helper()
	for _, v := range table.Snapshot().Lockers {
		if v.ID == id {
			return v
		}
	}
	t.Fatalf("locker %d not in table", id)
	return View{}
}

func waitDone(t *testing.T, p *Pickup) PickupStatus {
	t.Helper()
	select {
	case <-p.Done():
		return p.Status()
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for pickup to finish")
		return ""
	}
}

func TestTable_ReconcilePersistsMergedState(t *testing.T) {
	st := &fakeStore{records: []model.LockerRecord{occupiedRecord(t, 1, "a@x.com", "PKG1")}}
	hw := newFakeHardware(map[int]model.HardwareState{1: model.HardwareUnlocked, 2: model.HardwareLocked})

	table := NewTable(st, hw)
	defer table.Close()

	result, err := table.Reconcile(context.Background())
	require.NoError(t, err)
	assert.False(t, result.Degraded)
	assert.Empty(t, result.Warnings)
	require.Len(t, result.Lockers, 2)
	assert.True(t, result.Lockers[0].Occupied)
	assert.Equal(t, model.HardwareUnlocked, result.Lockers[0].HardwareState)
	assert.False(t, result.Lockers[1].Occupied)

	stored := st.stored()
	require.Len(t, stored, 2)
	assert.Equal(t, "PKG1", stored[0].Code())
	assert.Equal(t, 2, stored[1].ID)
}

func TestTable_ReconcileDegraded(t *testing.T) {
	records := []model.LockerRecord{occupiedRecord(t, 1, "a@x.com", "PKG1"), model.NewVacantRecord(2)}
	st := &fakeStore{records: records}
	hw := newFakeHardware(nil)
	hw.fetchErr = fmt.Errorf("%w: connection refused", hardware.ErrUnreachable)

	table := NewTable(st, hw)
	defer table.Close()

	result, err := table.Reconcile(context.Background())
	require.NoError(t, err)
	assert.True(t, result.Degraded)
	assert.True(t, table.Degraded())
	require.Len(t, result.Warnings, 1)
	assert.Contains(t, result.Warnings[0], "hardware status unavailable")

	require.Len(t, result.Lockers, 2)
	for i, v := range result.Lockers {
		assert.Equal(t, records[i], v.LockerRecord)
		assert.Equal(t, model.HardwareUnknown, v.HardwareState)
	}
	assert.Equal(t, 0, st.saveCount(), "degraded reconciliation must not persist")

	// Recovery clears the flag.
	hw.mu.Lock()
	hw.fetchErr = nil
	hw.statuses = allLocked(1, 2)
	hw.mu.Unlock()
	result, err = table.Reconcile(context.Background())
	require.NoError(t, err)
	assert.False(t, result.Degraded)
	assert.Equal(t, model.HardwareLocked, result.Lockers[0].HardwareState)
}

func TestTable_ReconcileStoreFailure(t *testing.T) {
	st := &fakeStore{loadErr: errors.New("disk gone")}
	table := NewTable(st, newFakeHardware(allLocked(1)))
	defer table.Close()

	_, err := table.Reconcile(context.Background())
	assert.Error(t, err)
}

func TestTable_ReconcileSaveFailureIsWarning(t *testing.T) {
	st := &fakeStore{saveErr: errors.New("read-only")}
	table := NewTable(st, newFakeHardware(allLocked(1, 2)))
	defer table.Close()

	result, err := table.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Len(t, result.Lockers, 2)
	require.Len(t, result.Warnings, 1)
	assert.Contains(t, result.Warnings[0], "could not be saved")
}

func TestTable_FindAvailable(t *testing.T) {
	st := &fakeStore{records: []model.LockerRecord{occupiedRecord(t, 2, "b@x.com", "PKG2")}}
	table := newReconciledTable(t, st, newFakeHardware(allLocked(1, 2, 3)))

	available := table.FindAvailable()
	require.Len(t, available, 2)
	assert.Equal(t, 1, available[0].ID)
	assert.Equal(t, 3, available[1].ID)
}

func TestTable_Reserve(t *testing.T) {
	st := &fakeStore{}
	notifier := newFakeNotifier(true)
	table := newReconciledTable(t, st, newFakeHardware(allLocked(1, 2, 3)), WithNotifier(notifier))

	res, err := table.Reserve(context.Background(), 3, "  B@Y.com ")
	require.NoError(t, err)
	assert.Equal(t, 3, res.LockerID)
	assert.Equal(t, "b@y.com", res.Contact)
	assert.Regexp(t, `^PKG[0-9A-Z]+$`, res.Code)
	assert.True(t, res.Notified)
	assert.Equal(t, []string{fmt.Sprintf("b@y.com:3:%s", res.Code)}, notifier.sent)

	v := viewOf(t, table, 3)
	assert.True(t, v.Occupied)
	assert.Equal(t, PhaseReserved, v.Phase)
	assert.NotNil(t, v.ReservedAt)
	assert.Equal(t, res.Code, st.stored()[2].Code())

	_, err = table.Reserve(context.Background(), 3, "c@y.com")
	assert.ErrorIs(t, err, ErrAlreadyOccupied)

	other, err := table.Reserve(context.Background(), 1, "c@y.com")
	require.NoError(t, err)
	assert.NotEqual(t, res.Code, other.Code)
}

func TestTable_ReserveErrors(t *testing.T) {
	table := newReconciledTable(t, &fakeStore{}, newFakeHardware(allLocked(1)))

	_, err := table.Reserve(context.Background(), 42, "a@x.com")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = table.Reserve(context.Background(), 1, "not-an-email")
	assert.ErrorIs(t, err, ErrInvalidContact)
	assert.False(t, viewOf(t, table, 1).Occupied)
}

func TestTable_ReserveWithoutNotifierFallsBack(t *testing.T) {
	table := newReconciledTable(t, &fakeStore{}, newFakeHardware(allLocked(1)))

	res, err := table.Reserve(context.Background(), 1, "a@x.com")
	require.NoError(t, err)
	assert.False(t, res.Notified)
	assert.NotEmpty(t, res.Code)
}

func TestTable_ReserveRollsBackOnSaveFailure(t *testing.T) {
	st := &fakeStore{}
	notifier := newFakeNotifier(true)
	table := newReconciledTable(t, st, newFakeHardware(allLocked(1)), WithNotifier(notifier))

	st.mu.Lock()
	st.saveErr = errors.New("disk full")
	st.mu.Unlock()

	_, err := table.Reserve(context.Background(), 1, "a@x.com")
	assert.Error(t, err)
	assert.False(t, viewOf(t, table, 1).Occupied)
	assert.Empty(t, notifier.sent)
}

func TestTable_RedeemInvalidCodeMutatesNothing(t *testing.T) {
	st := &fakeStore{records: []model.LockerRecord{occupiedRecord(t, 1, "a@x.com", "PKG1")}}
	hw := newFakeHardware(allLocked(1, 2))
	table := newReconciledTable(t, st, hw)
	before := table.Snapshot()
	saves := st.saveCount()

	for _, code := range []string{"PKG2", "", "!!", "pkg"} {
		p, err := table.Redeem(context.Background(), code)
		assert.Nil(t, p)
		assert.ErrorIs(t, err, ErrInvalidCode, code)
	}

	assert.Equal(t, before, table.Snapshot())
	assert.Equal(t, saves, st.saveCount())
	assert.Empty(t, hw.opened)
}

func TestTable_RedeemOpenFailureKeepsReservation(t *testing.T) {
	st := &fakeStore{records: []model.LockerRecord{occupiedRecord(t, 1, "a@x.com", "PKG1")}}
	hw := newFakeHardware(allLocked(1))
	hw.openErr = &hardware.CommandError{Channel: 1, Reason: "Failed to communicate with controller."}
	table := newReconciledTable(t, st, hw)

	p, err := table.Redeem(context.Background(), "PKG1")
	assert.Nil(t, p)
	assert.ErrorIs(t, err, hardware.ErrCommandFailed)

	v := viewOf(t, table, 1)
	assert.True(t, v.Occupied)
	assert.Equal(t, PhaseReserved, v.Phase)

	// The customer can retry once the controller recovers.
	hw.mu.Lock()
	hw.openErr = nil
	hw.mu.Unlock()
	p, err = table.Redeem(context.Background(), "PKG1")
	require.NoError(t, err)
	assert.Equal(t, 1, p.LockerID)
}

func TestTable_RedeemCompletesOnDoorClose(t *testing.T) {
	st := &fakeStore{records: []model.LockerRecord{occupiedRecord(t, 1, "a@x.com", "PKG1")}}
	hw := newFakeHardware(map[int]model.HardwareState{1: model.HardwareLocked})
	notifier := newFakeNotifier(true)
	table := newReconciledTable(t, st, hw, WithNotifier(notifier))

	p, err := table.Redeem(context.Background(), "  pkg1 ")
	require.NoError(t, err)
	assert.Equal(t, []int{1}, hw.opened)
	<-hw.polling

	v := viewOf(t, table, 1)
	assert.True(t, v.Occupied, "occupancy must survive until the door closes")
	assert.Equal(t, PhaseOpenAwaitingPickup, v.Phase)
	assert.Equal(t, PickupAwaiting, p.Status())

	got, ok := table.Pickup(p.ID)
	require.True(t, ok)
	assert.Same(t, p, got)

	hw.closeDoor(1)
	assert.Equal(t, PickupCompleted, waitDone(t, p))
	assert.NoError(t, p.Err())

	v = viewOf(t, table, 1)
	assert.False(t, v.Occupied)
	assert.Nil(t, v.PickupCode)
	assert.Equal(t, PhaseAvailable, v.Phase)
	assert.False(t, st.stored()[0].Occupied)

	history := st.archived()
	require.Len(t, history, 1)
	assert.Equal(t, model.OutcomePickedUp, history[0].Outcome)
	assert.Equal(t, "a@x.com", history[0].AssigneeContact)
	assert.Equal(t, "PKG1", history[0].PickupCode)

	assert.Equal(t, []string{"Package collected from locker 1"}, hw.logLines())
	assert.Equal(t, 1, <-notifier.receipts)

	_, err = table.Redeem(context.Background(), "PKG1")
	assert.ErrorIs(t, err, ErrInvalidCode)
}

func TestTable_RedeemWhileWaiting(t *testing.T) {
	st := &fakeStore{records: []model.LockerRecord{occupiedRecord(t, 1, "a@x.com", "PKG1")}}
	hw := newFakeHardware(allLocked(1))
	table := newReconciledTable(t, st, hw)

	_, err := table.Redeem(context.Background(), "PKG1")
	require.NoError(t, err)

	_, err = table.Redeem(context.Background(), "PKG1")
	assert.ErrorIs(t, err, ErrPickupInProgress)
}

func TestTable_PickupCancelKeepsReservation(t *testing.T) {
	st := &fakeStore{records: []model.LockerRecord{occupiedRecord(t, 1, "a@x.com", "PKG1")}}
	hw := newFakeHardware(allLocked(1))
	table := newReconciledTable(t, st, hw)

	p, err := table.Redeem(context.Background(), "PKG1")
	require.NoError(t, err)
	<-hw.polling

	p.Cancel()
	assert.Equal(t, PickupCancelled, waitDone(t, p))
	assert.ErrorIs(t, p.Err(), context.Canceled)

	v := viewOf(t, table, 1)
	assert.True(t, v.Occupied)
	assert.Equal(t, PhaseReserved, v.Phase)
	assert.Empty(t, st.archived())

	// A fresh redemption is allowed after cancelling.
	_, err = table.Redeem(context.Background(), "PKG1")
	assert.NoError(t, err)
}

func TestTable_PickupTimeoutKeepsReservation(t *testing.T) {
	st := &fakeStore{records: []model.LockerRecord{occupiedRecord(t, 1, "a@x.com", "PKG1")}}
	hw := newFakeHardware(allLocked(1))
	hw.pollErr = fmt.Errorf("%w: locker 1", hardware.ErrPollTimeout)
	table := newReconciledTable(t, st, hw)

	p, err := table.Redeem(context.Background(), "PKG1")
	require.NoError(t, err)

	assert.Equal(t, PickupTimedOut, waitDone(t, p))
	assert.ErrorIs(t, p.Err(), hardware.ErrPollTimeout)
	assert.True(t, viewOf(t, table, 1).Occupied)
	assert.Equal(t, PhaseReserved, viewOf(t, table, 1).Phase)
}

func TestTable_ReleaseDuringPickup(t *testing.T) {
	st := &fakeStore{records: []model.LockerRecord{occupiedRecord(t, 1, "a@x.com", "PKG1")}}
	hw := newFakeHardware(allLocked(1))
	table := newReconciledTable(t, st, hw)

	p, err := table.Redeem(context.Background(), "PKG1")
	require.NoError(t, err)
	<-hw.polling

	require.NoError(t, table.Release(context.Background(), 1))
	assert.Equal(t, PickupCancelled, waitDone(t, p))
	assert.ErrorIs(t, p.Err(), ErrReleased)

	v := viewOf(t, table, 1)
	assert.False(t, v.Occupied)
	assert.Equal(t, PhaseAvailable, v.Phase)

	history := st.archived()
	require.Len(t, history, 1)
	assert.Equal(t, model.OutcomeReleased, history[0].Outcome)
}

func TestTable_Release(t *testing.T) {
	st := &fakeStore{records: []model.LockerRecord{occupiedRecord(t, 1, "a@x.com", "PKG1")}}
	table := newReconciledTable(t, st, newFakeHardware(map[int]model.HardwareState{1: model.HardwareUnlocked, 2: model.HardwareLocked}))

	require.NoError(t, table.Release(context.Background(), 1))
	assert.False(t, viewOf(t, table, 1).Occupied)
	assert.False(t, st.stored()[0].Occupied)

	// Releasing a vacant locker succeeds and archives nothing new.
	require.NoError(t, table.Release(context.Background(), 2))
	assert.Len(t, st.archived(), 1)

	assert.ErrorIs(t, table.Release(context.Background(), 99), ErrNotFound)

	// Released lockers can be reserved again.
	_, err := table.Reserve(context.Background(), 1, "b@x.com")
	assert.NoError(t, err)
}

func TestTable_OpenForMaintenance(t *testing.T) {
	st := &fakeStore{records: []model.LockerRecord{occupiedRecord(t, 1, "a@x.com", "PKG1")}}
	hw := newFakeHardware(allLocked(1))
	table := newReconciledTable(t, st, hw)

	require.NoError(t, table.OpenForMaintenance(context.Background(), 1))
	assert.Equal(t, []int{1}, hw.opened)
	assert.True(t, viewOf(t, table, 1).Occupied)
	assert.Equal(t, []string{"Locker 1 opened for maintenance"}, hw.logLines())

	assert.ErrorIs(t, table.OpenForMaintenance(context.Background(), 7), ErrNotFound)
}

func TestTable_Import(t *testing.T) {
	st := &fakeStore{}
	hw := newFakeHardware(allLocked(1, 2))
	table := newReconciledTable(t, st, hw)

	err := table.Import(context.Background(), []model.LockerRecord{
		occupiedRecord(t, 1, "a@x.com", "DUP"),
		occupiedRecord(t, 2, "b@x.com", "DUP"),
	})
	assert.ErrorIs(t, err, model.ErrInvalidRecord)
	assert.False(t, viewOf(t, table, 1).Occupied)

	require.NoError(t, table.Import(context.Background(), []model.LockerRecord{
		occupiedRecord(t, 2, "b@x.com", "PKG2"),
	}))
	result := table.Snapshot()
	require.Len(t, result.Lockers, 2)
	assert.False(t, result.Lockers[0].Occupied)
	assert.True(t, result.Lockers[1].Occupied)
	assert.Equal(t, model.HardwareLocked, result.Lockers[1].HardwareState)
	assert.Len(t, table.Records(), 2)

	_, err = table.Redeem(context.Background(), "PKG2")
	require.NoError(t, err)
	assert.ErrorIs(t, table.Import(context.Background(), nil), ErrPickupInProgress)
}

func TestTable_ImportNormalisesCodes(t *testing.T) {
	testCases := []struct {
		name    string
		records []model.LockerRecord
		wantErr error
		redeem  string
		wantID  int
	}{
		{
			name:    "hyphenated code",
			records: []model.LockerRecord{occupiedRecord(t, 1, "a@x.com", "PKG-001")},
			redeem:  "pkg-001",
			wantID:  1,
		},
		{
			name:    "lower case code",
			records: []model.LockerRecord{occupiedRecord(t, 2, "b@x.com", "pkg123")},
			redeem:  "PKG123",
			wantID:  2,
		},
		{
			name:    "code with inner space",
			records: []model.LockerRecord{occupiedRecord(t, 1, "a@x.com", "PKG 77")},
			redeem:  "PKG77",
			wantID:  1,
		},
		{
			name:    "too short to type",
			records: []model.LockerRecord{occupiedRecord(t, 1, "a@x.com", "AB")},
			wantErr: model.ErrInvalidRecord,
		},
		{
			name: "codes differing only in case",
			records: []model.LockerRecord{
				occupiedRecord(t, 1, "a@x.com", "abc1"),
				occupiedRecord(t, 2, "b@x.com", "ABC1"),
			},
			wantErr: model.ErrInvalidRecord,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			st := &fakeStore{}
			hw := newFakeHardware(allLocked(1, 2))
			table := newReconciledTable(t, st, hw)

			err := table.Import(context.Background(), tc.records)
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
				assert.Empty(t, st.stored()[0].PickupCode)
				return
			}
			require.NoError(t, err)

			p, err := table.Redeem(context.Background(), tc.redeem)
			require.NoError(t, err)
			assert.Equal(t, tc.wantID, p.LockerID)
			assert.Equal(t, []int{tc.wantID}, hw.opened)
		})
	}
}

func TestTable_CompletedPickupSurvivesFailedSave(t *testing.T) {
	st := &fakeStore{records: []model.LockerRecord{occupiedRecord(t, 1, "a@x.com", "PKG1")}}
	hw := newFakeHardware(allLocked(1))
	table := newReconciledTable(t, st, hw)

	p, err := table.Redeem(context.Background(), "PKG1")
	require.NoError(t, err)
	<-hw.polling

	st.mu.Lock()
	st.saveErr = errors.New("disk full")
	st.mu.Unlock()

	hw.closeDoor(1)
	assert.Equal(t, PickupCompleted, waitDone(t, p))
	assert.False(t, viewOf(t, table, 1).Occupied)
	assert.True(t, st.stored()[0].Occupied, "store still holds the stale reservation")

	// The table stays ahead of the store while saves keep failing.
	result, err := table.Reconcile(context.Background())
	require.NoError(t, err)
	assert.False(t, viewOf(t, table, 1).Occupied)
	assert.NotEmpty(t, result.Warnings)

	st.mu.Lock()
	st.saveErr = nil
	st.mu.Unlock()

	_, err = table.Reconcile(context.Background())
	require.NoError(t, err)
	assert.False(t, viewOf(t, table, 1).Occupied)
	assert.False(t, st.stored()[0].Occupied)
	assert.Nil(t, st.stored()[0].PickupCode)

	_, err = table.Redeem(context.Background(), "PKG1")
	assert.ErrorIs(t, err, ErrInvalidCode)

	// Once saved, the store is the source again.
	st.mu.Lock()
	st.records = []model.LockerRecord{occupiedRecord(t, 1, "b@x.com", "PKG9")}
	st.mu.Unlock()
	_, err = table.Reconcile(context.Background())
	require.NoError(t, err)
	assert.True(t, viewOf(t, table, 1).Occupied)
}

func TestTable_CloseCancelsPickups(t *testing.T) {
	st := &fakeStore{records: []model.LockerRecord{occupiedRecord(t, 1, "a@x.com", "PKG1")}}
	hw := newFakeHardware(allLocked(1))
	table := NewTable(st, hw)
	_, err := table.Reconcile(context.Background())
	require.NoError(t, err)

	p, err := table.Redeem(context.Background(), "PKG1")
	require.NoError(t, err)
	<-hw.polling

	table.Close()
	assert.Equal(t, PickupCancelled, waitDone(t, p))
	assert.True(t, st.stored()[0].Occupied)

	_, err = table.Redeem(context.Background(), "PKG1")
	assert.ErrorIs(t, err, context.Canceled)
}
