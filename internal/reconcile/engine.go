// Package reconcile matches scanned barcodes against the line items of an
// order during packing. It performs no I/O; callers persist Progress.
package reconcile

import "strings"

type Outcome int

const (
	// Ignored is returned for blank input.
	Ignored Outcome = iota
	Accepted
	AlreadyComplete
	UnknownItem
)

func (o Outcome) String() string {
	switch o {
	case Accepted:
		return "accepted"
	case AlreadyComplete:
		return "already_complete"
	case UnknownItem:
		return "unknown_item"
	default:
		return "ignored"
	}
}

// Tone is how a station should present the outcome to the operator.
func (o Outcome) Tone() string {
	switch o {
	case Accepted:
		return "success"
	case AlreadyComplete:
		return "warning"
	case UnknownItem:
		return "error"
	default:
		return "none"
	}
}

func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// Item is one line to be packed. Items without a barcode are scanned by ID.
type Item struct {
	ID       string
	Name     string
	Barcode  string
	Required int
}

func (i Item) scanCode() string {
	if i.Barcode != "" {
		return i.Barcode
	}
	return i.ID
}

type ScanResult struct {
	Outcome  Outcome `json:"outcome"`
	Tone     string  `json:"tone"`
	Barcode  string  `json:"barcode"`
	ItemID   string  `json:"item_id,omitempty"`
	ItemName string  `json:"item_name,omitempty"`
	Scanned  int     `json:"scanned"`
	Required int     `json:"required"`
}

type LineStatus struct {
	ItemID   string `json:"item_id"`
	Name     string `json:"name"`
	Barcode  string `json:"barcode"`
	Scanned  int    `json:"scanned"`
	Required int    `json:"required"`
	Complete bool   `json:"complete"`
}

// Engine is not safe for concurrent use; scans for one order are applied one
// at a time in submission order.
type Engine struct {
	items   []Item
	byCode  map[string]int
	scanned []int
}

// New builds an engine for items, seeding counts from progress. Progress
// entries for unknown items are dropped and counts are clamped to
// [0, Required].
func New(items []Item, progress map[string]int) *Engine {
	e := &Engine{
		items:   append([]Item(nil), items...),
		byCode:  make(map[string]int, len(items)),
		scanned: make([]int, len(items)),
	}

	for idx, item := range e.items {
		code := item.scanCode()
		if _, taken := e.byCode[code]; !taken {
			e.byCode[code] = idx
		}

		n := progress[item.ID]
		if n < 0 {
			n = 0
		}
		if n > item.Required {
			n = item.Required
		}
		e.scanned[idx] = n
	}

	return e
}

// Submit applies one scan.
func (e *Engine) Submit(raw string) ScanResult {
	code := strings.TrimSpace(raw)
	if code == "" {
		return ScanResult{Outcome: Ignored, Tone: Ignored.Tone()}
	}

	idx, ok := e.byCode[code]
	if !ok {
		return ScanResult{Outcome: UnknownItem, Tone: UnknownItem.Tone(), Barcode: code}
	}

	item := e.items[idx]
	result := ScanResult{
		Barcode:  code,
		ItemID:   item.ID,
		ItemName: item.Name,
		Required: item.Required,
	}

	if e.scanned[idx] >= item.Required {
		result.Outcome = AlreadyComplete
		result.Tone = AlreadyComplete.Tone()
		result.Scanned = e.scanned[idx]
		return result
	}

	e.scanned[idx]++
	result.Outcome = Accepted
	result.Tone = Accepted.Tone()
	result.Scanned = e.scanned[idx]
	return result
}

// IsFullyScanned compares total scanned against total required. Per-item
// counts never exceed their requirement, so equal totals imply every line is
// complete.
func (e *Engine) IsFullyScanned() bool {
	return e.Remaining() == 0
}

func (e *Engine) Remaining() int {
	remaining := 0
	for idx, item := range e.items {
		remaining += item.Required - e.scanned[idx]
	}
	return remaining
}

// Next returns the first incomplete item in order sequence. It is a hint for
// the station display; items may be scanned in any order.
func (e *Engine) Next() (Item, bool) {
	for idx, item := range e.items {
		if e.scanned[idx] < item.Required {
			return item, true
		}
	}
	return Item{}, false
}

// Progress returns a copy of the per-item counts keyed by item ID.
func (e *Engine) Progress() map[string]int {
	out := make(map[string]int, len(e.items))
	for idx, item := range e.items {
		out[item.ID] = e.scanned[idx]
	}
	return out
}

func (e *Engine) Lines() []LineStatus {
	lines := make([]LineStatus, len(e.items))
	for idx, item := range e.items {
		lines[idx] = LineStatus{
			ItemID:   item.ID,
			Name:     item.Name,
			Barcode:  item.scanCode(),
			Scanned:  e.scanned[idx],
			Required: item.Required,
			Complete: e.scanned[idx] >= item.Required,
		}
	}
	return lines
}
