package txn

import (
	"calico/internal/page"
	"calico/internal/wal"
)

// recover runs crash recovery at open per spec.md §4.6: a redo pass from
// recovery_lsn to the last commit, then an undo pass over full images
// recorded after that commit (mutations of an in-flight, uncommitted
// transaction at crash time).
func (m *Manager) recover(h *page.FileHeader) error {
	reader, err := wal.OpenForward(m.e, m.opts.WalDir, m.opts.BlockSize, 0)
	if err != nil {
		return err
	}
	records, err := reader.AllRecords()
	if err != nil {
		return err
	}

	commitLsn := h.RecoveryLsn
	for _, r := range records {
		if r.Lsn <= h.RecoveryLsn {
			continue
		}
		if r.Type == wal.PayloadCommit {
			commitLsn = r.Lsn
		}
	}

	if err := m.redoPass(records, h.RecoveryLsn, commitLsn); err != nil {
		return err
	}
	if err := m.undoPass(records, commitLsn); err != nil {
		return err
	}

	if err := m.p.ForceFlushAll(); err != nil {
		return err
	}
	if err := m.p.Sync(); err != nil {
		return err
	}

	newH, err := m.p.Header()
	if err != nil {
		return err
	}
	newH.RecoveryLsn = commitLsn
	fr, err := m.p.Acquire(page.RootPageID)
	if err != nil {
		return err
	}
	if err := m.p.Upgrade(fr); err != nil {
		m.p.Release(fr)
		return err
	}
	m.p.WriteHeader(fr, newH)
	m.p.Release(fr)
	return m.p.Sync()
}

// redoPass applies every deltas/full-image record in (fromLsn, toLsn], in
// log order. It does not compare the record's LSN with the target page's
// on-disk LSN: every such record is applied.
func (m *Manager) redoPass(records []wal.Record, fromLsn, toLsn page.Lsn) error {
	for _, r := range records {
		if r.Lsn <= fromLsn || r.Lsn > toLsn {
			continue
		}
		var pageID page.PageID
		var apply func(buf []byte)

		switch r.Type {
		case wal.PayloadFullImage:
			id, image := wal.DecodeFullImage(r.Payload)
			pageID, apply = id, func(buf []byte) { copy(buf, image) }
		case wal.PayloadDeltas:
			id, deltas := wal.DecodeDeltas(r.Payload)
			pageID, apply = id, func(buf []byte) {
				for _, d := range deltas {
					copy(buf[d.Offset:], d.Bytes)
				}
			}
		default:
			continue
		}

		if err := m.applyToPage(pageID, r.Lsn, apply); err != nil {
			return err
		}
	}
	return nil
}

// undoPass applies every full-image record after the last commit,
// restoring pages touched by a transaction that never committed.
func (m *Manager) undoPass(records []wal.Record, afterLsn page.Lsn) error {
	for _, r := range records {
		if r.Lsn <= afterLsn || r.Type != wal.PayloadFullImage {
			continue
		}
		pageID, image := wal.DecodeFullImage(r.Payload)
		if err := m.applyToPage(pageID, r.Lsn, func(buf []byte) { copy(buf, image) }); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) applyToPage(id page.PageID, lsn page.Lsn, apply func(buf []byte)) error {
	fr, err := m.p.Acquire(id)
	if err != nil {
		return err
	}
	defer m.p.Release(fr)
	if err := m.p.Upgrade(fr); err != nil {
		return err
	}
	apply(fr.Data())
	page.SetPageLSN(fr.Data(), lsn)
	m.p.SetFrameLsn(fr, lsn)
	m.p.MarkDirty(fr)
	return nil
}
