package room

// ShouldBlock reports whether only the password challenge may be shown for s.
func ShouldBlock(s State) bool {
	return s.RequiresPassword && !s.IsAuthenticated
}
