package packing

import (
	"sync"

	"github.com/google/uuid"
	"github.com/safar/handloom-fulfillment/internal/models"
	"github.com/safar/handloom-fulfillment/internal/reconcile"
)

// Run is one in-progress packing of an order.
type Run struct {
	OrderID int64

	mu      sync.Mutex
	session *models.PackingSession
	engine  *reconcile.Engine
}

func newRun(order *models.Order, session *models.PackingSession) *Run {
	var progress map[string]int
	if session != nil {
		progress = session.ScanProgress
	}
	return &Run{
		OrderID: order.ID,
		session: session,
		engine:  reconcile.New(Items(order), progress),
	}
}

// Items converts the order's line snapshots into reconciliation items.
func Items(order *models.Order) []reconcile.Item {
	items := make([]reconcile.Item, len(order.Items))
	for i, line := range order.Items {
		items[i] = reconcile.Item{
			ID:       line.Key(),
			Name:     line.Name,
			Barcode:  line.Barcode,
			Required: line.Quantity,
		}
	}
	return items
}

type ScanReport struct {
	reconcile.ScanResult
	FullyScanned bool `json:"fully_scanned"`
	Remaining    int  `json:"remaining"`
	// Persisted is false when the scan was applied in memory only.
	Persisted bool `json:"persisted"`
}

type View struct {
	OrderID      int64                  `json:"order_id"`
	SessionID    *uuid.UUID             `json:"session_id,omitempty"`
	Lines        []reconcile.LineStatus `json:"lines"`
	Remaining    int                    `json:"remaining"`
	FullyScanned bool                   `json:"fully_scanned"`
	NextItemID   string                 `json:"next_item_id,omitempty"`
}

func (r *Run) View() View {
	r.mu.Lock()
	defer r.mu.Unlock()

	v := View{
		OrderID:      r.OrderID,
		Lines:        r.engine.Lines(),
		Remaining:    r.engine.Remaining(),
		FullyScanned: r.engine.IsFullyScanned(),
	}
	if r.session != nil {
		id := r.session.ID
		v.SessionID = &id
	}
	if next, ok := r.engine.Next(); ok {
		v.NextItemID = next.ID
	}
	return v
}

func (r *Run) FullyScanned() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.engine.IsFullyScanned()
}

func (r *Run) Progress() map[string]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.engine.Progress()
}

// Session returns the persisted session backing the run, if any.
func (r *Run) Session() *models.PackingSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.session
}

// Registry holds the runs currently open in this process, one per order.
type Registry struct {
	mu   sync.Mutex
	runs map[int64]*Run
}

func NewRegistry() *Registry {
	return &Registry{runs: make(map[int64]*Run)}
}

func (r *Registry) Get(orderID int64) (*Run, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.runs[orderID]
	return run, ok
}

// GetOrOpen returns the open run for orderID or stores the one built by open.
// open runs without the registry lock held; when two callers race, the run
// stored first wins.
func (r *Registry) GetOrOpen(orderID int64, open func() *Run) *Run {
	if run, ok := r.Get(orderID); ok {
		return run
	}

	run := open()

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.runs[orderID]; ok {
		return existing
	}
	r.runs[orderID] = run
	return run
}

func (r *Registry) Remove(orderID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.runs, orderID)
}
