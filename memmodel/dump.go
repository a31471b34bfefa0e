package memmodel

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jedib0t/go-pretty/v6/table"
)

// LevelTrace is a verbosity level between Debug and Info, used for
// per-schedule-step diagnostics that are too frequent for Info but useful
// when chasing a scheduling anomaly.
const LevelTrace slog.Level = slog.LevelDebug + 2

// DumpState renders a snapshot of HBM/SPAD occupancy and register-bank
// contents as two tables, in the teacher's PrintState style.
func (m *Model) DumpState() string {
	out := fmt.Sprintf("==== memory model @ hbm %d/%d words, spad %d/%d words ====\n",
		m.HBM.CapacityWords()-m.HBM.CurrentCapacityWords(), m.HBM.CapacityWords(),
		m.SPAD.CapacityWords()-m.SPAD.CurrentCapacityWords(), m.SPAD.CapacityWords())

	regTable := table.NewWriter()
	regTable.SetTitle("Register banks")
	regTable.AppendHeader(table.Row{"Bank", "Register", "Variable", "Dirty"})
	for _, bank := range m.Banks {
		for _, r := range bank.All() {
			name := "-"
			if v := r.ContainedVariable(); v != nil {
				name = v.Name()
			}
			regTable.AppendRow(table.Row{bank.Index(), r.Name(), name, r.Dirty()})
		}
	}
	out += regTable.Render() + "\n"

	bufTable := table.NewWriter()
	bufTable.SetTitle("Store buffer")
	bufTable.AppendHeader(table.Row{"Order", "Variable", "Dest SPAD addr"})
	for i, name := range m.StoreBuffer.order {
		e := m.StoreBuffer.entries[name]
		bufTable.AppendRow(table.Row{i, e.variable.Name(), e.destSpadAddr})
	}
	out += bufTable.Render()

	return out
}

// LogState emits the model's occupancy counters at LevelTrace, in the
// teacher's structured-slog-attributes style.
func (m *Model) LogState() {
	slog.Log(context.Background(), LevelTrace, "ModelState",
		"hbmFree", m.HBM.CurrentCapacityWords(),
		"spadFree", m.SPAD.CurrentCapacityWords(),
		"storeBufferLen", m.StoreBuffer.Len(),
	)
}
