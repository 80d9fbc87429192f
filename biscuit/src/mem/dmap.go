package mem

// VUSER is the first user-space pml4 slot in a real x86-64 layout; kept
// only to derive USERMIN below, since pagefault needs a lower bound for
// valid user addresses. Installing the direct map and bootstrapping the
// kernel's own page tables is interrupt-dispatch/bootloader plumbing and
// is out of scope here -- see pagedir for the page-directory model this
// tree actually exercises.
const VUSER int = 0x59

/// USERMIN is the lowest user virtual address.
const USERMIN int = VUSER << 39
