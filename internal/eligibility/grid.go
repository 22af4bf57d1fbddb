package eligibility

import (
	"context"
	"fmt"
	"sort"
	"time"

	"wasch-booking-backend/internal/model"
)

// Grid is a snapshot of WhyNotBookable over machines x users x times, built
// for one rendering pass. It is not safe for concurrent use and must be
// rebuilt after any booking, cancellation or rebooking.
type Grid struct {
	Machines []int
	Users    []string
	Times    []time.Time

	machineReasons map[int]Reason
	userReasons    map[string]Reason
	taken          map[cell]struct{}
	scheduled      map[int64]struct{}
	times          map[int64]struct{}
}

type cell struct {
	machine int
	at      int64
}

// Prefetch evaluates every combination of the given users, times and
// machines with a fixed number of queries. Nil times default to the current
// horizon and nil machines to every known machine.
func (e *Evaluator) Prefetch(ctx context.Context, usernames []string, times []time.Time, machines []int) (*Grid, error) {
	now := e.cal.Now()
	if times == nil {
		times = e.cal.ScheduledSlots(now)
	}

	known, err := e.store.ListMachines(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list machines: %w", err)
	}
	byNumber := make(map[int]*model.Machine, len(known))
	for i := range known {
		byNumber[known[i].Number] = &known[i]
	}
	if machines == nil {
		machines = make([]int, 0, len(known))
		for _, m := range known {
			machines = append(machines, m.Number)
		}
	}

	g := &Grid{
		Machines:       machines,
		Users:          usernames,
		Times:          times,
		machineReasons: make(map[int]Reason, len(machines)),
		userReasons:    make(map[string]Reason, len(usernames)),
		taken:          make(map[cell]struct{}),
		scheduled:      make(map[int64]struct{}),
		times:          make(map[int64]struct{}, len(times)),
	}

	var available []int
	for _, n := range machines {
		r := MachineReason(byNumber[n])
		g.machineReasons[n] = r
		if r == None {
			available = append(available, n)
		}
	}

	if err := e.prefetchUsers(ctx, g, usernames); err != nil {
		return nil, err
	}

	for _, t := range e.cal.ScheduledSlots(now) {
		g.scheduled[t.UnixNano()] = struct{}{}
	}
	for _, t := range times {
		g.times[t.UnixNano()] = struct{}{}
	}

	if len(available) > 0 && len(times) > 0 {
		sorted := append([]time.Time(nil), times...)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i].Before(sorted[j]) })
		active, err := e.store.ActiveAppointmentsBetween(ctx, available, sorted[0], sorted[len(sorted)-1])
		if err != nil {
			return nil, fmt.Errorf("failed to load appointments: %w", err)
		}
		for _, a := range active {
			g.taken[cell{machine: a.MachineNumber, at: a.Time.UnixNano()}] = struct{}{}
		}
	}
	return g, nil
}

func (e *Evaluator) prefetchUsers(ctx context.Context, g *Grid, usernames []string) error {
	users, err := e.store.ListUsers(ctx, usernames)
	if err != nil {
		return fmt.Errorf("failed to list users: %w", err)
	}
	byName := make(map[string]*model.WashUser, len(users))
	for i := range users {
		byName[users[i].Username] = &users[i]
	}

	var rationed []string
	for _, name := range usernames {
		u := byName[name]
		r := UserReason(u)
		g.userReasons[name] = r
		if r == None && u.Status != model.StatusGod {
			rationed = append(rationed, name)
		}
	}
	if len(rationed) == 0 {
		return nil
	}

	ration, err := e.params.Ration(ctx)
	if err != nil {
		return err
	}
	from, to := e.RationPeriod()
	counts, err := e.store.CountActiveAppointments(ctx, rationed, from, to)
	if err != nil {
		return fmt.Errorf("failed to count appointments: %w", err)
	}
	for _, name := range rationed {
		if ration-counts[name] < 1 {
			g.userReasons[name] = RationExhausted
		}
	}
	return nil
}

// Reason returns the cached WhyNotBookable result. ok is false for a
// combination outside the prefetched dimensions.
func (g *Grid) Reason(machine int, username string, t time.Time) (r Reason, ok bool) {
	mr, okM := g.machineReasons[machine]
	ur, okU := g.userReasons[username]
	_, okT := g.times[t.UnixNano()]
	if !okM || !okU || !okT {
		return None, false
	}
	switch {
	case mr != None:
		return mr, true
	case ur != None:
		return ur, true
	}
	if _, taken := g.taken[cell{machine: machine, at: t.UnixNano()}]; taken {
		return AppointmentTaken, true
	}
	if _, scheduled := g.scheduled[t.UnixNano()]; !scheduled {
		return UnsupportedTime, true
	}
	return None, true
}

// Bookable reports whether the cached reason is None.
func (g *Grid) Bookable(machine int, username string, t time.Time) bool {
	r, ok := g.Reason(machine, username, t)
	return ok && r == None
}
