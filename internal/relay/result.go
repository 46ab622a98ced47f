package relay

// Result is the outcome of one relay call: either a reply or a failure,
// never both.
type Result struct {
	reply   string
	failure *Failure
}

func replyResult(text string) Result { return Result{reply: text} }

func failureResult(f *Failure) Result { return Result{failure: f} }

// Reply returns the backend's reply text; ok is false for a failure.
func (r Result) Reply() (text string, ok bool) {
	if r.failure != nil {
		return "", false
	}
	return r.reply, true
}

// Failure returns nil for a successful reply.
func (r Result) Failure() *Failure { return r.failure }

// Text is what the user gets to see for this result.
func (r Result) Text() string {
	if r.failure != nil {
		return r.failure.Message
	}
	return r.reply
}
