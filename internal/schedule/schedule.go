// Package schedule loads the three scenario feeds: traffic, connectivity and
// active windows. Every feed is a CSV file with an optional header row; times
// are seconds from the scenario epoch.
package schedule

import (
	"cmp"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/signalsfoundry/leo-swarm-router/core"
	"github.com/signalsfoundry/leo-swarm-router/model"
)

// Feeds names the feed files. Connectivity may be empty, in which case no
// link events are scheduled.
type Feeds struct {
	Traffic       string
	Connectivity  string
	ActiveWindows string
}

// Schedule is the parsed scenario, keyed by node address and sorted by time.
type Schedule struct {
	Traffic      map[model.Address][]model.TrafficUnit
	Headings     []model.HeadingRecord
	Connectivity map[model.Address][]model.ConnectivityEvent
	Windows      map[model.Address]model.ActiveWindow
}

// Load reads all feeds.
func Load(feeds Feeds, epoch time.Time) (*Schedule, error) {
	s := &Schedule{
		Traffic:      make(map[model.Address][]model.TrafficUnit),
		Connectivity: make(map[model.Address][]model.ConnectivityEvent),
		Windows:      make(map[model.Address]model.ActiveWindow),
	}

	err := readFile(feeds.Traffic, func(r io.Reader) error {
		var err error
		s.Traffic, s.Headings, err = ParseTraffic(r, epoch)
		return err
	})
	if err != nil {
		return nil, err
	}

	if feeds.Connectivity != "" {
		err = readFile(feeds.Connectivity, func(r io.Reader) error {
			var err error
			s.Connectivity, err = ParseConnectivity(r, epoch)
			return err
		})
		if err != nil {
			return nil, err
		}
	}

	err = readFile(feeds.ActiveWindows, func(r io.Reader) error {
		var err error
		s.Windows, err = ParseActiveWindows(r, epoch)
		return err
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Apply registers windows and headings with the tracker.
func (s *Schedule) Apply(tracker *core.ActivityTracker) error {
	addrs := make([]model.Address, 0, len(s.Windows))
	for addr := range s.Windows {
		addrs = append(addrs, addr)
	}
	slices.Sort(addrs)
	for _, addr := range addrs {
		if err := tracker.SetWindow(addr, s.Windows[addr]); err != nil {
			return err
		}
	}
	for _, rec := range s.Headings {
		tracker.RecordHeading(rec)
	}
	return nil
}

func readFile(path string, parse func(io.Reader) error) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open feed: %w", err)
	}
	defer f.Close()
	if err := parse(f); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

// ParseTraffic reads rows of address,time,north,amount. Every row becomes a
// heading record; rows with a positive amount also become traffic units.
func ParseTraffic(r io.Reader, epoch time.Time) (map[model.Address][]model.TrafficUnit, []model.HeadingRecord, error) {
	rows, err := readRows(r, 4)
	if err != nil {
		return nil, nil, err
	}

	traffic := make(map[model.Address][]model.TrafficUnit)
	var headings []model.HeadingRecord
	for _, row := range rows {
		addr, err := parseAddress(row.fields[0])
		if err != nil {
			return nil, nil, row.errorf("address: %w", err)
		}
		at, err := parseTime(row.fields[1], epoch)
		if err != nil {
			return nil, nil, row.errorf("time: %w", err)
		}
		north, err := strconv.ParseBool(row.fields[2])
		if err != nil {
			return nil, nil, row.errorf("north: %w", err)
		}
		amount, err := strconv.Atoi(row.fields[3])
		if err != nil {
			return nil, nil, row.errorf("amount: %w", err)
		}

		headings = append(headings, model.HeadingRecord{Address: addr, At: at, MovingNorth: north})
		if amount > 0 {
			traffic[addr] = append(traffic[addr], model.TrafficUnit{At: at, MovingNorth: north, Amount: amount})
		}
	}

	for addr := range traffic {
		slices.SortStableFunc(traffic[addr], func(a, b model.TrafficUnit) int {
			return a.At.Compare(b.At)
		})
	}
	slices.SortStableFunc(headings, func(a, b model.HeadingRecord) int {
		return a.At.Compare(b.At)
	})
	return traffic, headings, nil
}

// ParseConnectivity reads rows of start,stop,to,from,ascending. A row is an
// event for both endpoints, each seeing the other as peer.
func ParseConnectivity(r io.Reader, epoch time.Time) (map[model.Address][]model.ConnectivityEvent, error) {
	rows, err := readRows(r, 5)
	if err != nil {
		return nil, err
	}

	out := make(map[model.Address][]model.ConnectivityEvent)
	for _, row := range rows {
		start, err := parseTime(row.fields[0], epoch)
		if err != nil {
			return nil, row.errorf("start: %w", err)
		}
		stop, err := parseTime(row.fields[1], epoch)
		if err != nil {
			return nil, row.errorf("stop: %w", err)
		}
		if stop.Before(start) {
			return nil, row.errorf("stop before start")
		}
		to, err := parseAddress(row.fields[2])
		if err != nil {
			return nil, row.errorf("to: %w", err)
		}
		from, err := parseAddress(row.fields[3])
		if err != nil {
			return nil, row.errorf("from: %w", err)
		}
		ascending, err := parseFlag(row.fields[4])
		if err != nil {
			return nil, row.errorf("ascending: %w", err)
		}
		if to == from {
			return nil, row.errorf("link from %d to itself", to)
		}

		out[to] = append(out[to], model.ConnectivityEvent{Connect: start, Disconnect: stop, Peer: from, Ascending: ascending})
		out[from] = append(out[from], model.ConnectivityEvent{Connect: start, Disconnect: stop, Peer: to, Ascending: ascending})
	}

	for addr := range out {
		slices.SortStableFunc(out[addr], func(a, b model.ConnectivityEvent) int {
			if c := a.Connect.Compare(b.Connect); c != 0 {
				return c
			}
			if c := a.Disconnect.Compare(b.Disconnect); c != 0 {
				return c
			}
			return cmp.Compare(a.Peer, b.Peer)
		})
	}
	return out, nil
}

// ParseActiveWindows reads rows of status,address,time where status is START
// or STOP. Every address needs exactly one of each.
func ParseActiveWindows(r io.Reader, epoch time.Time) (map[model.Address]model.ActiveWindow, error) {
	rows, err := readRows(r, 3)
	if err != nil {
		return nil, err
	}

	type bounds struct {
		start, stop       time.Time
		hasStart, hasStop bool
	}
	seen := make(map[model.Address]*bounds)
	var order []model.Address

	for _, row := range rows {
		addr, err := parseAddress(row.fields[1])
		if err != nil {
			return nil, row.errorf("address: %w", err)
		}
		at, err := parseTime(row.fields[2], epoch)
		if err != nil {
			return nil, row.errorf("time: %w", err)
		}
		b, ok := seen[addr]
		if !ok {
			b = &bounds{}
			seen[addr] = b
			order = append(order, addr)
		}
		switch strings.ToUpper(row.fields[0]) {
		case "START":
			if b.hasStart {
				return nil, row.errorf("duplicate START for %d", addr)
			}
			b.start, b.hasStart = at, true
		case "STOP":
			if b.hasStop {
				return nil, row.errorf("duplicate STOP for %d", addr)
			}
			b.stop, b.hasStop = at, true
		default:
			return nil, row.errorf("unknown status %q", row.fields[0])
		}
	}

	out := make(map[model.Address]model.ActiveWindow, len(seen))
	for _, addr := range order {
		b := seen[addr]
		if !b.hasStart || !b.hasStop {
			return nil, fmt.Errorf("%w: window of %d needs START and STOP", core.ErrMalformedSchedule, addr)
		}
		if b.stop.Before(b.start) {
			return nil, fmt.Errorf("%w: window of %d stops before it starts", core.ErrMalformedSchedule, addr)
		}
		out[addr] = model.ActiveWindow{Start: b.start, End: b.stop}
	}
	return out, nil
}

type csvRow struct {
	line   int
	fields []string
}

func (r csvRow) errorf(format string, args ...any) error {
	return fmt.Errorf("%w: line %d: "+format, append([]any{core.ErrMalformedSchedule, r.line}, args...)...)
}

// readRows returns the data rows of a CSV feed. The first row is dropped as
// a header only when none of its fields is numeric, so a malformed first
// data row is still reported.
func readRows(r io.Reader, fields int) ([]csvRow, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = fields
	cr.TrimLeadingSpace = true
	cr.ReuseRecord = false

	var rows []csvRow
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %w", core.ErrMalformedSchedule, err)
		}
		line, _ := cr.FieldPos(0)
		for i := range rec {
			rec[i] = strings.TrimSpace(rec[i])
		}
		if len(rows) == 0 && line == 1 && isHeader(rec) {
			continue
		}
		rows = append(rows, csvRow{line: line, fields: rec})
	}
	return rows, nil
}

func isHeader(rec []string) bool {
	for _, f := range rec {
		if _, err := strconv.ParseFloat(f, 64); err == nil {
			return false
		}
	}
	return true
}

func parseAddress(s string) (model.Address, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	addr := model.Address(n)
	if addr.Group() < 1 || addr.Position() < 1 {
		return 0, fmt.Errorf("%d is not a group*100+position address", n)
	}
	return addr, nil
}

func parseTime(s string, epoch time.Time) (time.Time, error) {
	sec, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return time.Time{}, err
	}
	if sec < 0 || math.IsNaN(sec) || math.IsInf(sec, 0) {
		return time.Time{}, fmt.Errorf("invalid offset %q", s)
	}
	return epoch.Add(time.Duration(sec * float64(time.Second))), nil
}

func parseFlag(s string) (bool, error) {
	if n, err := strconv.Atoi(s); err == nil {
		return n != 0, nil
	}
	return strconv.ParseBool(s)
}
