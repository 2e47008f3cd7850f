package mmu

import (
	"fmt"
	"io"
)

// Dump pretty-prints every valid leaf translation in l1, in ascending VA order, one line per
// descriptor: the section/supersection leaves held directly in L1, then each attached L2's
// large/small page leaves. It is read-only and safe to call concurrently with other lookups.
func (c *Core) Dump(w io.Writer, l1 *L1Table) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	fmt.Fprintf(w, "L1Table phys:%#010x tte_count:%d l2_count:%d\n", l1.Phys, l1.tteCnt, l1.l2Cnt)

	for idx, e := range l1.entries {
		switch e.typ {
		case EntrySection, EntrySuperSection:
			fmt.Fprintf(w, "  [%04d] %s\n", idx, e.page)
		case EntryTable:
			l2 := findAttached(l1, e.child)
			if l2 == nil {
				fmt.Fprintf(w, "  [%04d] EntryTable: dangling l2 reference\n", idx)
				continue
			}

			fmt.Fprintf(w, "  [%04d] L2Table phys:%#010x tte_count:%d\n", idx, l2.Phys, l2.tteCount)

			for l2idx, le := range l2.entries {
				if le.typ == EntryFault {
					continue
				}

				fmt.Fprintf(w, "    [%04d] %s\n", l2idx, le.page)
			}
		}
	}

	return nil
}
