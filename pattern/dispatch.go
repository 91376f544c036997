package pattern

// Case pairs a pattern with the handler run when it is the first to match.
type Case[T any] struct {
	Pattern Pattern
	Handler func(value any) T
}

// When builds a Case.
func When[T any](p Pattern, handler func(value any) T) Case[T] {
	return Case[T]{Pattern: p, Handler: handler}
}

// Then builds a Case that yields a constant result.
func Then[T any](p Pattern, result T) Case[T] {
	return Case[T]{Pattern: p, Handler: func(any) T { return result }}
}

// Match evaluates cases in order against value (non-exact) and returns the result
// of the first matching handler. ok is false when no case matched.
func Match[T any](value any, cases ...Case[T]) (result T, ok bool) {
	for _, c := range cases {
		if !Matches(value, c.Pattern, false) {
			continue
		}
		if c.Handler != nil {
			result = c.Handler(value)
		}
		return result, true
	}
	return result, false
}

// Tagged matches an externally tagged union value, e.g. {"ActivateMesh": ...}.
func Tagged(tag string) Pattern {
	return Nested{tag: Wildcard}
}
