package program

// Load couples a compiled program with the generation the control
// channel assigned to it, for hand-off through a swap cell.
type Load struct {
	Prog       *Program
	Generation uint64
}

// Slot tracks the active program, its load generation, and the run of
// consecutive faulted frames. The generation guards against a stale
// fault report retiring a program that was hot-swapped in after the
// fault occurred. Owned by the render path; not safe for concurrent use.
type Slot struct {
	prog       *Program
	generation uint64
	faults     int
	threshold  int

	// unloaded is set when a program is retired for faulting, so the
	// scheduler can show the fallback color instead of plain blank.
	unloaded bool
}

func NewSlot(threshold int) *Slot {
	if threshold < 1 {
		threshold = 1
	}
	return &Slot{threshold: threshold}
}

// Adopt installs a newly handed-off program under the given generation.
// Resets the fault run and clears any fallback state.
func (s *Slot) Adopt(p *Program, generation uint64) {
	s.prog = p
	s.generation = generation
	s.faults = 0
	s.unloaded = false
}

// Active returns the current program (nil when empty) and its generation.
func (s *Slot) Active() (*Program, uint64) {
	return s.prog, s.generation
}

// Succeeded resets the consecutive-fault run for the given generation.
func (s *Slot) Succeeded(generation uint64) {
	if generation != s.generation {
		return
	}
	s.faults = 0
}

// Faulted records one faulted frame for the given generation and reports
// whether that crossed the threshold and unloaded the program. A report
// for a superseded generation is discarded.
func (s *Slot) Faulted(generation uint64) (unloaded bool) {
	if generation != s.generation || s.prog == nil {
		return false
	}
	s.faults++
	if s.faults < s.threshold {
		return false
	}
	s.prog = nil
	s.faults = 0
	s.unloaded = true
	return true
}

// Unload retires the program for the given generation immediately,
// entering the same fallback state a threshold crossing would.
func (s *Slot) Unload(generation uint64) {
	if generation != s.generation || s.prog == nil {
		return
	}
	s.prog = nil
	s.faults = 0
	s.unloaded = true
}

// FaultRetired reports whether the slot is empty because its last
// program was unloaded for faulting.
func (s *Slot) FaultRetired() bool { return s.unloaded }

// ConsecutiveFaults returns the current fault run length.
func (s *Slot) ConsecutiveFaults() int { return s.faults }
