package shared

// SetColorsDisabledForTesting overrides color detection and returns a restore func.
func SetColorsDisabledForTesting(disabled bool) func() {
	previous := colorsDisabled
	colorsDisabled = disabled

	return func() { colorsDisabled = previous }
}
