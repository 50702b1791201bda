package event

// ReferenceMask summarizes which optional attributes an event carries. It is
// stored in the reference_flag column so readers can filter events cheaply
// (e.g. "only events with exceptions") without joining the child tables.
type ReferenceMask uint16

// Reference-mask bits. These values are read by external consumers filtering
// on the reference_flag column and must stay stable across releases.
const (
	// MaskProperties is set when the merged property map is non-empty.
	MaskProperties ReferenceMask = 0x01

	// MaskException is set when the event carries a throwable.
	MaskException ReferenceMask = 0x02

	// MaskCallerData is set when at least one caller frame is available.
	MaskCallerData ReferenceMask = 0x04
)

// ComputeReferenceMask derives the reference mask for an event.
//
// Pure function of the event: same attribute presence always yields the same
// mask. The properties bit reflects the merged map; because merging never
// removes entries, it is equivalent to either source map being non-empty,
// which avoids materializing the merge here.
func ComputeReferenceMask(e *Event) ReferenceMask {
	var mask ReferenceMask
	if len(e.ContextProperties) > 0 || len(e.EventProperties) > 0 {
		mask |= MaskProperties
	}
	if e.HasThrowable() {
		mask |= MaskException
	}
	if e.HasCallerData() {
		mask |= MaskCallerData
	}
	return mask
}
