package channel

import (
	"reflect"

	"github.com/shipclojure/simulflow-go/pkg/frame"
)

// Source names one inbound channel for Select, tagging it so callers can
// tell which port a returned frame arrived on.
type Source struct {
	Port string
	Ch   *Channel
}

// Select waits on all of chs plus done, returning the first frame to
// arrive together with the port name it arrived on. If more than one
// channel is ready in the same scheduling instant, Select favors entries
// earlier in chs — callers pass system-priority sources first so that
// sys-in always wins a simultaneous race over in.
//
// ok is false if done fired, or if every channel in chs is closed and
// drained.
func Select(done <-chan struct{}, chs ...Source) (f frame.Frame, port string, ok bool) {
	if len(chs) == 0 {
		<-done
		return frame.Frame{}, "", false
	}

	// Fast path: give earlier (higher-priority) channels first refusal
	// via a non-blocking poll before falling back to the fair
	// reflect.Select across everything. This realizes "strict priority
	// on every selection" without requiring callers to building
	// two separate waves of channels themselves.
	for _, s := range chs {
		select {
		case v, chOk := <-s.Ch.Raw():
			if !chOk {
				continue
			}
			return v, s.Port, true
		default:
		}
	}

	cases := make([]reflect.SelectCase, 0, len(chs)+1)
	for _, s := range chs {
		cases = append(cases, reflect.SelectCase{
			Dir:  reflect.SelectRecv,
			Chan: reflect.ValueOf(s.Ch.Raw()),
		})
	}
	cases = append(cases, reflect.SelectCase{
		Dir:  reflect.SelectRecv,
		Chan: reflect.ValueOf(done),
	})

	remaining := make([]Source, len(chs))
	copy(remaining, chs)

	for len(cases) > 1 {
		chosen, recv, recvOK := reflect.Select(cases)
		if chosen == len(cases)-1 {
			// done fired.
			return frame.Frame{}, "", false
		}
		if !recvOK {
			// That channel is closed; drop it and keep waiting on the
			// rest.
			cases = append(cases[:chosen], cases[chosen+1:]...)
			remaining = append(remaining[:chosen], remaining[chosen+1:]...)
			continue
		}
		return recv.Interface().(frame.Frame), remaining[chosen].Port, true
	}

	return frame.Frame{}, "", false
}
