package locker

import (
	"fmt"
	"sort"

	"locker-kiosk-backend/internal/logging"
	"locker-kiosk-backend/internal/model"
	"locker-kiosk-backend/internal/parse"
)

// Phase is the per-locker business state derived from the record and any
// waiting pickup.
type Phase string

const (
	PhaseAvailable          Phase = "available"
	PhaseReserved           Phase = "reserved"
	PhaseOpenAwaitingPickup Phase = "open_awaiting_pickup"
)

// View is the merged, in-memory picture of one locker. Only the embedded
// record is ever persisted.
type View struct {
	model.LockerRecord
	HardwareState model.HardwareState `json:"hardwareState"`
	Phase         Phase               `json:"phase"`
}

func (v View) clone() View {
	v.LockerRecord = v.LockerRecord.Clone()
	return v
}

func phaseOf(r model.LockerRecord) Phase {
	if r.Occupied {
		return PhaseReserved
	}
	return PhaseAvailable
}

// Merge joins persisted records with a hardware snapshot. Occupancy always
// comes from the record; the hardware state is carried for display only.
//
// Channels reported by hardware but missing from records come out vacant
// with their reported state. Records whose id the controller did not report
// are kept with an UNKNOWN state. Records that break the occupancy invariant,
// repeat an id, or reuse an occupied pickup code are replaced with a vacant
// entry and their ids are returned as sanitised. Pickup codes are
// normalised the way Redeem reads them; a code that cannot be normalised
// makes its record invalid.
func Merge(records []model.LockerRecord, statuses map[int]model.HardwareState) (views []View, sanitised []int) {
	byID := make(map[int]model.LockerRecord, len(records))
	codes := make(map[string]struct{}, len(records))
	for _, r := range records {
		if _, dup := byID[r.ID]; dup {
			sanitised = append(sanitised, r.ID)
			continue
		}
		r = r.Clone()
		if err := r.Validate(); err != nil {
			if r.ID > 0 {
				byID[r.ID] = model.NewVacantRecord(r.ID)
			}
			sanitised = append(sanitised, r.ID)
			continue
		}
		if r.Occupied {
			code, err := parse.PickupCode(r.Code())
			_, dup := codes[code]
			if err != nil || dup {
				byID[r.ID] = model.NewVacantRecord(r.ID)
				sanitised = append(sanitised, r.ID)
				continue
			}
			*r.PickupCode = code
			codes[code] = struct{}{}
		}
		byID[r.ID] = r
	}

	for channel := range statuses {
		if channel <= 0 {
			logger := logging.WithComponent("locker")
			logger.Warn().Int("channel", channel).
				Str("state", string(statuses[channel])).Msg("ignoring hardware channel with non-positive id")
			continue
		}
		if _, ok := byID[channel]; !ok {
			byID[channel] = model.NewVacantRecord(channel)
		}
	}

	views = make([]View, 0, len(byID))
	for id, r := range byID {
		state, ok := statuses[id]
		if !ok {
			state = model.HardwareUnknown
		}
		views = append(views, View{LockerRecord: r, HardwareState: state, Phase: phaseOf(r)})
	}
	sort.Slice(views, func(i, j int) bool { return views[i].ID < views[j].ID })
	return views, sanitised
}

// unverified is the degraded rendition of a record set: every record kept
// verbatim and every hardware state UNKNOWN.
func unverified(records []model.LockerRecord) []View {
	views := make([]View, len(records))
	for i, r := range records {
		views[i] = View{LockerRecord: r.Clone(), HardwareState: model.HardwareUnknown, Phase: phaseOf(r)}
	}
	sort.Slice(views, func(i, j int) bool { return views[i].ID < views[j].ID })
	return views
}

// normalizeCodes returns a copy of records with every pickup code in the
// form Redeem looks it up by.
func normalizeCodes(records []model.LockerRecord) ([]model.LockerRecord, error) {
	out := make([]model.LockerRecord, len(records))
	for i, r := range records {
		r = r.Clone()
		if r.PickupCode != nil {
			code, err := parse.PickupCode(*r.PickupCode)
			if err != nil {
				return nil, fmt.Errorf("%w: locker %d: %w", model.ErrInvalidRecord, r.ID, err)
			}
			*r.PickupCode = code
		}
		out[i] = r
	}
	return out, nil
}
