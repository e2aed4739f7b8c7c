package month

import (
	"fmt"
	"iter"
	"strconv"
	"strings"
	"time"
)

const (
	filePrefix = "FICHIER_"
	fileExt    = ".xlsx"
)

// portalNames are the month names as the DGI portal spells them: French, uppercase, no accents.
var portalNames = [...]string{
	time.January:   "JANVIER",
	time.February:  "FEVRIER",
	time.March:     "MARS",
	time.April:     "AVRIL",
	time.May:       "MAI",
	time.June:      "JUIN",
	time.July:      "JUILLET",
	time.August:    "AOUT",
	time.September: "SEPTEMBRE",
	time.October:   "OCTOBRE",
	time.November:  "NOVEMBRE",
	time.December:  "DECEMBRE",
}

// Key identifies one publication cycle.
type Key struct {
	Year  int
	Month time.Month
}

// New returns the Key for the given year and month. Out of range months are
// normalised the same way time.Date does it.
func New(year int, m time.Month) Key {
	return FromTime(time.Date(year, m, 1, 0, 0, 0, 0, time.UTC))
}

// FromTime returns the Key of the month t falls in, in t's location.
func FromTime(t time.Time) Key {
	return Key{Year: t.Year(), Month: t.Month()}
}

func (k Key) index() int {
	return k.Year*12 + int(k.Month) - 1
}

func fromIndex(i int) Key {
	return Key{Year: i / 12, Month: time.Month(i%12 + 1)}
}

// AddMonths returns the Key n months after k (before k when n is negative).
func (k Key) AddMonths(n int) Key {
	return fromIndex(k.index() + n)
}

// Compare returns -1, 0 or +1 depending on whether k is before, equal to or after o.
func (k Key) Compare(o Key) int {
	switch {
	case k.index() < o.index():
		return -1
	case k.index() > o.index():
		return 1
	default:
		return 0
	}
}

func (k Key) Before(o Key) bool {
	return k.Compare(o) < 0
}

func (k Key) After(o Key) bool {
	return k.Compare(o) > 0
}

// String formats the key as YYYY-MM.
func (k Key) String() string {
	return fmt.Sprintf("%04d-%02d", k.Year, int(k.Month))
}

// PortalName is the month name used in the portal's file names.
func (k Key) PortalName() string {
	return portalNames[k.Month]
}

// Filename is the canonical destination name, e.g. FICHIER_MARS_2026.xlsx.
func (k Key) Filename() string {
	return filePrefix + k.PortalName() + "_" + strconv.Itoa(k.Year) + fileExt
}

// FirstDay returns midnight of the first day of the month in loc.
func (k Key) FirstDay(loc *time.Location) time.Time {
	return time.Date(k.Year, k.Month, 1, 0, 0, 0, 0, loc)
}

// EndOfMonth returns midnight of the last day of the month in loc.
func (k Key) EndOfMonth(loc *time.Location) time.Time {
	return time.Date(k.Year, k.Month+1, 0, 0, 0, 0, 0, loc)
}

// ParseFilename is the inverse of Key.Filename. Names that do not follow the
// canonical scheme report ok=false.
func ParseFilename(name string) (Key, bool) {
	if !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileExt) {
		return Key{}, false
	}

	parts := strings.Split(strings.TrimSuffix(strings.TrimPrefix(name, filePrefix), fileExt), "_")
	if len(parts) != 2 {
		return Key{}, false
	}

	year, err := strconv.Atoi(parts[1])
	if err != nil || len(parts[1]) != 4 {
		return Key{}, false
	}

	for m := time.January; m <= time.December; m++ {
		if portalNames[m] == parts[0] {
			return Key{Year: year, Month: m}, true
		}
	}

	return Key{}, false
}

// Seq yields every key from from to to inclusive, oldest first. It yields
// nothing when to is before from.
func Seq(from, to Key) iter.Seq[Key] {
	return func(yield func(Key) bool) {
		for i := from.index(); i <= to.index(); i++ {
			if !yield(fromIndex(i)) {
				return
			}
		}
	}
}

// Backward yields every key from to down to from inclusive, newest first.
func Backward(from, to Key) iter.Seq[Key] {
	return func(yield func(Key) bool) {
		for i := to.index(); i >= from.index(); i-- {
			if !yield(fromIndex(i)) {
				return
			}
		}
	}
}

// Window returns the oldest and newest keys of a retention window of the
// given number of years ending in the month of now. Negative years count as 0.
func Window(now time.Time, years int) (from, to Key) {
	years = max(years, 0)
	to = FromTime(now)

	return to.AddMonths(-12 * years), to
}

// Enumerate returns the 12*years+1 keys of the retention window ending at now,
// oldest first.
func Enumerate(now time.Time, years int) []Key {
	from, to := Window(now, years)

	keys := make([]Key, 0, 12*max(years, 0)+1)
	for k := range Seq(from, to) {
		keys = append(keys, k)
	}

	return keys
}

// Cutoff returns midnight of the same calendar day the given number of years
// before now, in now's location. The day is clamped to the last day of the
// target month, so 29 February maps to 28 February instead of 1 March.
func Cutoff(now time.Time, years int) time.Time {
	target := New(now.Year()-years, now.Month())

	day := now.Day()
	if last := target.EndOfMonth(now.Location()).Day(); day > last {
		day = last
	}

	return time.Date(target.Year, target.Month, day, 0, 0, 0, 0, now.Location())
}
