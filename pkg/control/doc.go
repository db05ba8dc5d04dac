/*
Package control implements the control surface (C11) of §4.9: a
plain-text, line-oriented protocol served over a Unix domain socket,
exposing inspection and mutation commands over a running initd
instance.

	srv, _ := control.Listen("/run/initd/control.sock")
	go srv.Serve()

	for req := range srv.Requests() {
		req.Reply <- dispatcher.Dispatch(req.Line)
	}

Server only turns bytes into Request values; Dispatcher only turns a
Request's line into a response string. Wiring the two together — the
loop above — belongs to pkg/reactor, which is the one goroutine
allowed to touch the registry, resolver, and supervisor that
Dispatcher holds references to.
*/
package control
