package gqlerr

// FormatFunc is a user-supplied transformation applied to every error that
// reaches the client.
type FormatFunc func(*Error) *Error

// Format runs every error through exactly one formatting pass. Without debug,
// wrapped internal causes stay hidden; with debug the cause message is exposed
// under extensions.exception. A user formatter, when given, runs last and may
// drop an error by returning nil.
func Format(errs []*Error, debug bool, user FormatFunc) []*Error {
	out := make([]*Error, 0, len(errs))
	for _, e := range errs {
		f := *e
		if debug && e.cause != nil {
			ext := make(map[string]any, len(e.Extensions)+1)
			for k, v := range e.Extensions {
				ext[k] = v
			}
			ext["exception"] = e.cause.Error()
			f.Extensions = ext
		}
		fe := &f
		if user != nil {
			fe = user(fe)
		}
		if fe != nil {
			out = append(out, fe)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
