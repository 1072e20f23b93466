package fault

// Flags is the fault handle's flag set. Bit positions are fixed: they are
// the index into actionTable, so renumbering them changes the table.
type Flags uint8

const (
	FlagShared     Flags = 1 << 0
	FlagModified   Flags = 1 << 1
	FlagNeedWrite  Flags = 1 << 2
	FlagReplicated Flags = 1 << 3
	FlagRemote     Flags = 1 << 4
	// FlagRetry is not part of the action table index; it is set on an
	// in-progress handle to tell a woken local waiter it must redrive.
	FlagRetry Flags = 1 << 5
)

// index returns the 5-bit action table index these flags select.
func (f Flags) index() int {
	return int(f & 0x1F)
}

func (f Flags) has(bit Flags) bool { return f&bit != 0 }

func (f Flags) set(bit Flags) Flags   { return f | bit }
func (f Flags) clear(bit Flags) Flags { return f &^ bit }

// checkMetadata derives SHARED/MODIFIED/REPLICATED from the page's current
// probed state, the way the kernel's check_metadata samples PageShared/
// PageModified/get_replica_opt directly off the page.
func checkMetadata(f Flags, shared, modified, replicated bool) Flags {
	if shared {
		f = f.set(FlagShared)
	} else {
		f = f.clear(FlagShared)
	}
	if modified {
		f = f.set(FlagModified)
	} else {
		f = f.clear(FlagModified)
	}
	if replicated {
		f = f.set(FlagReplicated)
	} else {
		f = f.clear(FlagReplicated)
	}
	return f
}
