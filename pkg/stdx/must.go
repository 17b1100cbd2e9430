package stdx

// Must1 returns v, or panics if err is not nil.
// Use it only where a failure means the program cannot continue, such as wiring at startup.
//
//	s := stdx.Must1(buildSpecification())
func Must1[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}
