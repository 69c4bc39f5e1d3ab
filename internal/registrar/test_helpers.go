package registrar

// SetForTest sets the global registrar for testing.
func SetForTest(r Registrar) {
	set(r)
}

// ResetForTest clears the global registrar.
func ResetForTest() {
	set(nil)
}
