package tags

// DisplayOffset is the entry's position in the stream in seconds. It is not clamped:
// a negative value survives so later adjustments keep accumulating from it.
func DisplayOffset(e Entry, s Session) int {
	rel := int(e.CreatedAt.Sub(s.Stream.StartTime).Seconds())
	return rel + s.DefaultOffset + e.OffsetSeconds
}

// DisplaySeconds is DisplayOffset clamped at zero for output.
func DisplaySeconds(e Entry, s Session) int {
	return max(0, DisplayOffset(e, s))
}
