// Package simlog collects structured movement events for headless runs,
// tests and telemetry.
package simlog

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Garsondee/squad-formation/internal/movement"
)

// Entry is one recorded event.
type Entry struct {
	Tick     int
	Time     time.Duration
	Unit     string  // unit id, or "--" for global events
	Category string  // phase, lock, command, nav, binding, role, squad
	Key      string  // specific event name within the category
	Value    string  // human-readable detail
	NumVal   float64 // optional numeric value for threshold checks
}

// String formats the entry as a fixed-width log line.
//
//	[T=042] a1       phase     binding          to_leader → to_formation
func (e Entry) String() string {
	return fmt.Sprintf("[T=%03d] %-8s %-9s %-16s %s",
		e.Tick, e.Unit, e.Category, e.Key, e.Value)
}

// Log is an unbounded, machine-readable event log. It implements
// movement.Recorder and is safe for concurrent use.
type Log struct {
	mu      sync.Mutex
	entries []Entry
	verbose bool
}

// New creates a Log. If verbose is true, AddVerbose entries are kept too.
func New(verbose bool) *Log {
	return &Log{verbose: verbose}
}

// Record stores a unit event.
func (l *Log) Record(e movement.Event) {
	l.append(Entry{
		Tick:     e.Tick,
		Time:     e.Time,
		Unit:     e.Unit,
		Category: e.Category,
		Key:      e.Key,
		Value:    e.Value,
		NumVal:   e.NumVal,
	})
}

// Add records a new entry.
func (l *Log) Add(tick int, unit, category, key, value string, numVal float64) {
	l.append(Entry{
		Tick:     tick,
		Unit:     unit,
		Category: category,
		Key:      key,
		Value:    value,
		NumVal:   numVal,
	})
}

// AddVerbose records an entry only when verbose mode is on.
func (l *Log) AddVerbose(tick int, unit, category, key, value string, numVal float64) {
	if !l.verbose {
		return
	}
	l.Add(tick, unit, category, key, value, numVal)
}

// Verbose reports whether per-tick detail is kept.
func (l *Log) Verbose() bool { return l.verbose }

func (l *Log) append(e Entry) {
	l.mu.Lock()
	l.entries = append(l.entries, e)
	l.mu.Unlock()
}

// Len returns the number of entries.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Entries returns a snapshot of all recorded entries.
func (l *Log) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Since returns entries recorded after the first n, for incremental readers.
func (l *Log) Since(n int) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	if n >= len(l.entries) {
		return nil
	}
	out := make([]Entry, len(l.entries)-n)
	copy(out, l.entries[n:])
	return out
}

// Reset drops every entry.
func (l *Log) Reset() {
	l.mu.Lock()
	l.entries = nil
	l.mu.Unlock()
}

func (l *Log) filter(keep func(Entry) bool) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Entry
	for _, e := range l.entries {
		if keep(e) {
			out = append(out, e)
		}
	}
	return out
}

// Filter returns entries matching the given category and/or key.
// Pass empty string to match any value for that field.
func (l *Log) Filter(category, key string) []Entry {
	return l.filter(func(e Entry) bool {
		return (category == "" || e.Category == category) && (key == "" || e.Key == key)
	})
}

// FilterUnit returns entries for a specific unit.
func (l *Log) FilterUnit(id string) []Entry {
	return l.filter(func(e Entry) bool { return e.Unit == id })
}

// FilterTickRange returns entries within [fromTick, toTick] inclusive.
func (l *Log) FilterTickRange(fromTick, toTick int) []Entry {
	return l.filter(func(e Entry) bool { return e.Tick >= fromTick && e.Tick <= toTick })
}

// CountCategory returns how many entries match the given category and key.
func (l *Log) CountCategory(category, key string) int {
	return len(l.Filter(category, key))
}

// LastOf returns the most recent entry matching category+key, or false if none.
func (l *Log) LastOf(category, key string) (Entry, bool) {
	entries := l.Filter(category, key)
	if len(entries) == 0 {
		return Entry{}, false
	}
	return entries[len(entries)-1], true
}

// HasEntry returns true if at least one entry matches category, key, and value substring.
func (l *Log) HasEntry(category, key, valueSubstr string) bool {
	return len(l.filter(func(e Entry) bool {
		return (category == "" || e.Category == category) &&
			(key == "" || e.Key == key) &&
			(valueSubstr == "" || strings.Contains(e.Value, valueSubstr))
	})) > 0
}

// Format returns the full log as a single string for t.Log output.
func (l *Log) Format() string {
	return format(l.Entries())
}

// FormatRange returns a log string filtered to a tick range.
func (l *Log) FormatRange(fromTick, toTick int) string {
	return format(l.FilterTickRange(fromTick, toTick))
}

func format(entries []Entry) string {
	var sb strings.Builder
	for _, e := range entries {
		sb.WriteString(e.String())
		sb.WriteByte('\n')
	}
	return sb.String()
}
