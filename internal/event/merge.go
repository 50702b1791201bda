package event

// MergeProperties combines the context-scope and event-scope property maps
// into one. Context-scope entries are copied first, then event-scope entries
// overlay them, so the event-scope value wins on key collision.
//
// Either input may be nil. The result is never nil, is freshly allocated on
// every call, and shares no storage with the inputs.
func MergeProperties(contextScope, eventScope map[string]string) map[string]string {
	merged := make(map[string]string, len(contextScope)+len(eventScope))
	for k, v := range contextScope {
		merged[k] = v
	}
	for k, v := range eventScope {
		merged[k] = v
	}
	return merged
}

// MergedProperties returns the merged property map for an event.
func (e *Event) MergedProperties() map[string]string {
	return MergeProperties(e.ContextProperties, e.EventProperties)
}
